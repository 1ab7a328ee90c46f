package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"syscall"
	"time"
)

type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

const DefaultElectionRetries = 3

// Binder is the part of the aggregation server election needs.
type Binder interface {
	Listen() error
}

// BindError is a bind failure other than the address being in use. It is
// never retried.
type BindError struct {
	Err error
}

func (e *BindError) Error() string { return fmt.Sprintf("bind: %v", e.Err) }
func (e *BindError) Unwrap() error { return e.Err }

type ElectOptions struct {
	Bind Binder
	// Addr is where a live occupant would answer, e.g. "127.0.0.1:8336".
	Addr string

	Retries      int
	ProbeTimeout time.Duration
	// Jitter returns the pause before the next bind attempt.
	Jitter func() time.Duration
	Client *http.Client
	Logf   func(format string, args ...any)
}

func defaultJitter() time.Duration {
	return 50*time.Millisecond + time.Duration(rand.IntN(100))*time.Millisecond
}

// Elect tries to bind the shared port. Winning makes this process the
// server. If the port is taken and its occupant answers a probe, this process
// is a client. An occupant that stays silent is retried with jitter; when the
// retries run out the process continues as a client anyway.
func Elect(ctx context.Context, opts ElectOptions) (Role, error) {
	if opts.Bind == nil {
		return RoleClient, errors.New("elect: no binder")
	}
	retries := opts.Retries
	if retries <= 0 {
		retries = DefaultElectionRetries
	}
	jitter := opts.Jitter
	if jitter == nil {
		jitter = defaultJitter
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	for attempt := 0; attempt < retries; attempt++ {
		err := opts.Bind.Listen()
		if err == nil {
			return RoleServer, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return RoleClient, &BindError{Err: err}
		}
		if Probe(ctx, opts.Client, opts.Addr, opts.ProbeTimeout) {
			return RoleClient, nil
		}
		if !sleep(ctx, jitter()) {
			return RoleClient, ctx.Err()
		}
	}
	logf("port %s is busy but nothing answered after %d attempts; continuing as client", opts.Addr, retries)
	return RoleClient, nil
}
