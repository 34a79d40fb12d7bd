package metrics

import (
	"fmt"
	"syscall"

	"github.com/behouba/criu-coordinator/internal/session"
)

// DescribeExitCode returns a short human label for a failed run's exit code.
// Shells report a child killed by signal N as 128+N, so those codes are
// labelled with the signal name as well.
func DescribeExitCode(code int) string {
	switch {
	case code == 0:
		return "exit status 0"
	case code == session.SignaledExitCode:
		return "terminated by signal"
	case code > 128 && code < 128+65:
		return fmt.Sprintf("exit status %d (%s)", code, syscall.Signal(code-128))
	default:
		return fmt.Sprintf("exit status %d", code)
	}
}
