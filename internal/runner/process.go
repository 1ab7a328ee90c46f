package runner

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"

	"teemux/internal/render"
)

const (
	maxLineBytes = 4 << 20
	killGrace    = 8 * time.Second
)

type childOptions struct {
	Command []string
	Stdin   io.Reader
	Env     []string
	// OnStart runs after the child has started and before any line is read.
	OnStart func(pid int)
	// OnLine runs for every line, from one goroutine per stream.
	OnLine func(text string, stream render.Stream)
}

// runChild starts the command with piped output, forwards termination
// signals to it, and returns its exit code once both streams are drained.
func runChild(opts childOptions) (int, error) {
	if len(opts.Command) == 0 {
		return 1, errors.New("no command specified")
	}
	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Env = append(os.Environ(), "FORCE_COLOR=1")
	cmd.Env = append(cmd.Env, opts.Env...)
	cmd.Stdin = opts.Stdin

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 1, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 1, err
	}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, forwardedSignals()...)
	defer signal.Stop(sigCh)

	if err := cmd.Start(); err != nil {
		return 127, fmt.Errorf("start %s: %w", opts.Command[0], err)
	}
	if opts.OnStart != nil {
		opts.OnStart(cmd.Process.Pid)
	}

	var pumps errgroup.Group
	pumps.Go(func() error { return pump(stdout, render.StreamStdout, opts.OnLine) })
	pumps.Go(func() error { return pump(stderr, render.StreamStderr, opts.OnLine) })

	pumped := make(chan error, 1)
	go func() { pumped <- pumps.Wait() }()

	var killCh <-chan time.Time
	var killTimer *time.Timer
	defer func() {
		if killTimer != nil {
			killTimer.Stop()
		}
	}()
	for {
		select {
		case sig := <-sigCh:
			_ = cmd.Process.Signal(sig)
			if killTimer == nil {
				killTimer = time.NewTimer(killGrace)
				killCh = killTimer.C
			}
		case <-killCh:
			_ = cmd.Process.Kill()
			killCh = nil
		case perr := <-pumped:
			code, err := exitCode(cmd.Wait())
			if err == nil && perr != nil {
				err = perr
			}
			return code, err
		}
	}
}

func pump(r io.Reader, stream render.Stream, onLine func(string, render.Stream)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		if onLine != nil {
			onLine(sc.Text(), stream)
		}
	}
	err := sc.Err()
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	if err != nil {
		// Keep the pipe flowing so the child never blocks on a full buffer.
		_, _ = io.Copy(io.Discard, r)
	}
	return err
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code, ok := signalExitCode(exitErr); ok {
			return code, nil
		}
		return exitErr.ExitCode(), nil
	}
	return 1, err
}
