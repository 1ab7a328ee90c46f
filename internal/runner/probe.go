package runner

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"teemux/internal/appinfo"
)

const (
	DefaultProbeTimeout = 200 * time.Millisecond
	DefaultWaitAttempts = 50

	waitBaseDelay = 10 * time.Millisecond
	waitMaxDelay  = 200 * time.Millisecond
)

func baseURL(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	return "http://" + addr
}

// Probe reports whether something at addr answers an HTTP request within
// timeout. Only the response headers are awaited.
func Probe(ctx context.Context, client *http.Client, addr string, timeout time.Duration) bool {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(addr)+"/", nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", appinfo.UserAgent())
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

// waitDelay is the pause after failed attempt i: 10ms doubling, capped at 200ms.
func waitDelay(i int) time.Duration {
	if i >= 5 {
		return waitMaxDelay
	}
	d := waitBaseDelay << i
	if d > waitMaxDelay {
		d = waitMaxDelay
	}
	return d
}

// WaitForServer probes addr until it answers or attempts run out.
func WaitForServer(ctx context.Context, client *http.Client, addr string, attempts int, probeTimeout time.Duration) bool {
	if attempts <= 0 {
		attempts = DefaultWaitAttempts
	}
	for i := 0; i < attempts; i++ {
		if Probe(ctx, client, addr, probeTimeout) {
			return true
		}
		if !sleep(ctx, waitDelay(i)) {
			return false
		}
	}
	return false
}

// RequestShutdown asks the server at addr to stop.
func RequestShutdown(ctx context.Context, client *http.Client, addr string) error {
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL(addr)+"/shutdown", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// sleep waits for d or ctx, reporting false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C:
		return true
	}
}
