//go:build !unix

package runner

import (
	"os/exec"
	"time"
)

// configureProcess keeps the default cancellation, which kills the process.
func configureProcess(cmd *exec.Cmd, grace time.Duration) {
	cmd.WaitDelay = grace
}
