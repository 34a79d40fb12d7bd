// Package exitcodes defines the exit codes used by flakerun.
package exitcodes

// Exit code constants used by flakerun.
//
// * Success (0): the loop completed; individual run failures do not count
// unless the failure policy says so
// * RunFailures (1): the loop completed but the failure policy was violated
// (--fail-on-failures with at least one failed run, or a threshold miss)
// * HarnessError (2): configuration errors and harness-fatal errors
// * Interrupted (130): the session was stopped by SIGINT
const (
	Success      = 0
	RunFailures  = 1
	HarnessError = 2
	Interrupted  = 130
)

// FromSignal returns the conventional shell exit code for a process stopped
// by signal number signo.
func FromSignal(signo int) int {
	if signo <= 0 {
		return Interrupted
	}
	return 128 + signo
}
