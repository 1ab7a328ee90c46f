//go:build windows

package runner

import (
	"os"
	"os/exec"
)

func forwardedSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

func signalExitCode(*exec.ExitError) (int, bool) {
	return 0, false
}
