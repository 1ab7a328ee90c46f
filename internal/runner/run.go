// Package runner wraps one command: it competes for the shared port, echoes
// the command's output locally and forwards it to whichever process won.
package runner

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"teemux/internal/config"
	"teemux/internal/logserver"
	"teemux/internal/presence"
	"teemux/internal/render"
)

const (
	flushTimeout     = 30 * time.Second
	forceLeaderWait  = time.Second
	serverStopWindow = 3 * time.Second
)

type Options struct {
	Config  config.Config
	Command []string

	Stdin  io.Reader
	Stdout io.Writer

	Presence     presence.Store
	ClientBundle []byte
	Client       *http.Client
	// Logf receives status messages; Warnf receives problems the operator
	// should see.
	Logf  func(format string, args ...any)
	Warnf func(format string, args ...any)
}

func (o *Options) applyDefaults() {
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Client == nil {
		o.Client = &http.Client{}
	}
	if o.Logf == nil {
		o.Logf = func(string, ...any) {}
	}
	if o.Warnf == nil {
		o.Warnf = o.Logf
	}
}

// Name is the label used for the wrapped command.
func Name(cfg config.Config, command []string) string {
	if name := strings.TrimSpace(cfg.Name); name != "" {
		return name
	}
	if len(command) > 0 && strings.TrimSpace(command[0]) != "" {
		return filepath.Base(command[0])
	}
	return "unknown"
}

// Run wraps the command and returns its exit code.
func Run(ctx context.Context, opts Options) (int, error) {
	opts.applyDefaults()
	cfg := opts.Config
	if len(opts.Command) == 0 {
		return 1, errors.New("no command specified")
	}
	dialAddr := cfg.DialAddr()

	if cfg.ForceLeader {
		forceLeader(ctx, opts.Client, dialAddr, opts.Logf)
	}

	server := logserver.New(logserver.Options{
		Addr:         cfg.ListenAddr(),
		Tail:         cfg.Tail,
		ViewerQueue:  cfg.ViewerQueue,
		ClientBundle: opts.ClientBundle,
		Presence:     opts.Presence,
		Logf:         opts.Logf,
	})
	role, err := Elect(ctx, ElectOptions{
		Bind:   server,
		Addr:   dialAddr,
		Client: opts.Client,
		Logf:   opts.Warnf,
	})
	if err != nil {
		return 1, err
	}

	fwd := NewForwarder(ForwarderOptions{
		Name:   Name(cfg, opts.Command),
		Addr:   dialAddr,
		Client: opts.Client,
	})

	if role == RoleServer {
		opts.Logf("aggregating logs on http://%s", cfg.ListenAddr())
		go func() {
			if err := server.Serve(); err != nil {
				opts.Warnf("server stopped: %v", err)
			}
		}()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), serverStopWindow)
			defer cancel()
			_ = server.Stop(stopCtx)
		}()
		fwd.SetReady(true)
	} else {
		go func() {
			ok := WaitForServer(ctx, opts.Client, dialAddr, DefaultWaitAttempts, DefaultProbeTimeout)
			if !ok {
				opts.Warnf("Could not connect to server. Is another instance running?")
			}
			fwd.SetReady(ok)
		}()
	}

	echo := NewEcho(opts.Stdout)
	code, runErr := runChild(childOptions{
		Command: opts.Command,
		Stdin:   opts.Stdin,
		OnStart: func(pid int) {
			fwd.Event(render.EventStart, pid, nil)
		},
		OnLine: func(text string, stream render.Stream) {
			echo.Line(text, stream)
			fwd.Log(text, stream)
		},
	})
	if runErr == nil {
		exit := code
		fwd.Event(render.EventExit, 0, &exit)
	}

	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := fwd.Flush(flushCtx); err != nil {
		opts.Logf("%v", err)
	}
	return code, runErr
}

// forceLeader asks a live occupant to stop and waits briefly for the port to
// free up.
func forceLeader(ctx context.Context, client *http.Client, addr string, logf func(string, ...any)) {
	if !Probe(ctx, client, addr, DefaultProbeTimeout) {
		return
	}
	if err := RequestShutdown(ctx, client, addr); err != nil {
		logf("force leader: shutdown request failed: %v", err)
		return
	}
	deadline := time.Now().Add(forceLeaderWait)
	for time.Now().Before(deadline) {
		if !Probe(ctx, client, addr, DefaultProbeTimeout) {
			return
		}
		if !sleep(ctx, 25*time.Millisecond) {
			return
		}
	}
}

// Serve runs only the aggregation server until ctx ends or a shutdown
// request arrives.
func Serve(ctx context.Context, cfg config.Config, store presence.Store, bundle []byte, logf func(string, ...any)) error {
	server := logserver.New(logserver.Options{
		Addr:         cfg.ListenAddr(),
		Tail:         cfg.Tail,
		ViewerQueue:  cfg.ViewerQueue,
		ClientBundle: bundle,
		Presence:     store,
		Logf:         logf,
	})
	if err := server.Start(); err != nil {
		return &BindError{Err: err}
	}
	select {
	case <-ctx.Done():
	case <-server.Done():
		return nil
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), serverStopWindow)
	defer cancel()
	return server.Stop(stopCtx)
}
