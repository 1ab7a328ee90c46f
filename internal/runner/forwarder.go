package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"teemux/internal/appinfo"
	"teemux/internal/logbuf"
	"teemux/internal/logserver"
	"teemux/internal/render"
)

const DefaultSendTimeout = time.Second

type outbound struct {
	path string
	body any
}

type ForwarderOptions struct {
	Name string
	// Addr is the server to forward to, e.g. "127.0.0.1:8336".
	Addr        string
	Client      *http.Client
	SendTimeout time.Duration
	Logf        func(format string, args ...any)
}

// Forwarder ships one process's lines and lifecycle events to the server in
// the order they were produced. Items queue until SetReady; a single drain
// goroutine sends them one at a time. Failed sends are dropped.
type Forwarder struct {
	name    string
	baseURL string
	client  *http.Client
	timeout time.Duration
	logf    func(format string, args ...any)

	mu       sync.Mutex
	queue    []outbound
	draining bool
	idle     chan struct{}
	decided  chan struct{}
	ready    bool
	discard  bool
	sent     int
	failed   int
}

func NewForwarder(opts ForwarderOptions) *Forwarder {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Forwarder{
		name:    strings.TrimSpace(opts.Name),
		baseURL: baseURL(opts.Addr),
		client:  client,
		timeout: timeout,
		logf:    logf,
		decided: make(chan struct{}),
	}
}

// SetReady opens the gate when ok, or drops everything queued and all future
// items when not. Only the first call has an effect.
func (f *Forwarder) SetReady(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.decided:
		return
	default:
	}
	close(f.decided)
	if !ok {
		f.discard = true
		f.queue = nil
		return
	}
	f.ready = true
	f.kickLocked()
}

// Log queues one output line stamped with the current time.
func (f *Forwarder) Log(line string, stream render.Stream) {
	ts := logbuf.Now()
	f.enqueue(outbound{path: "/log", body: logserver.LogPayload{
		Name:      f.name,
		Line:      &line,
		Type:      string(stream),
		Timestamp: &ts,
	}})
}

// Event queues a lifecycle event.
func (f *Forwarder) Event(kind render.EventKind, pid int, code *int) {
	ts := logbuf.Now()
	f.enqueue(outbound{path: "/event", body: logserver.EventPayload{
		Name:      f.name,
		Event:     string(kind),
		PID:       pid,
		Code:      code,
		Timestamp: &ts,
	}})
}

func (f *Forwarder) enqueue(item outbound) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.discard {
		return
	}
	f.queue = append(f.queue, item)
	f.kickLocked()
}

func (f *Forwarder) kickLocked() {
	if f.draining || !f.ready || len(f.queue) == 0 {
		return
	}
	f.draining = true
	f.idle = make(chan struct{})
	go f.drain(f.idle)
}

func (f *Forwarder) drain(idle chan struct{}) {
	for {
		f.mu.Lock()
		if len(f.queue) == 0 {
			f.draining = false
			close(idle)
			f.mu.Unlock()
			return
		}
		item := f.queue[0]
		f.queue[0] = outbound{}
		f.queue = f.queue[1:]
		f.mu.Unlock()

		err := f.send(item)

		f.mu.Lock()
		if err != nil {
			f.failed++
		} else {
			f.sent++
		}
		f.mu.Unlock()
		if err != nil {
			f.logf("forward %s failed: %v", item.path, err)
		}
	}
}

func (f *Forwarder) send(item outbound) error {
	data, err := json.Marshal(item.body)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+item.path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", appinfo.UserAgent())
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Flush waits until the readiness decision is made and everything queued so
// far has been sent or dropped.
func (f *Forwarder) Flush(ctx context.Context) error {
	select {
	case <-f.decided:
	case <-ctx.Done():
		return fmt.Errorf("flush: waiting for server: %w", ctx.Err())
	}
	for {
		f.mu.Lock()
		if !f.draining {
			f.mu.Unlock()
			return nil
		}
		idle := f.idle
		f.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return fmt.Errorf("flush: %w", ctx.Err())
		}
	}
}

// Stats returns how many items were delivered and how many failed.
func (f *Forwarder) Stats() (sent, failed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent, f.failed
}
