package logserver

import (
	"io"
	"net/http"
	"strings"

	"teemux/internal/logbuf"
	"teemux/internal/render"
	"teemux/internal/sanitize"
)

// isBrowser picks interactive mode from the user agent.
func isBrowser(r *http.Request) bool {
	return strings.Contains(r.UserAgent(), "Mozilla")
}

// handleStream opens a long-lived viewer. Interactive viewers get the page
// bootstrap, a bounded catch-up and then every line as a script directive.
// Plain viewers get the filtered buffer as text and then matching lines.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := modePlain
	if isBrowser(r) {
		mode = modeInteractive
	}
	filter := sanitize.ParseFilter(q.Get("include"), q.Get("exclude"))
	v := newViewer(mode, filter, s.viewerQueue, r.RemoteAddr)

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	var backlog []logbuf.Line
	if mode == modeInteractive {
		backlog = s.buf.Tail(min(s.tail, CatchUpLimit))
	} else {
		backlog = s.buf.Snapshot()
	}
	s.registerLocked(v)
	s.mu.Unlock()
	defer s.unregister(v)

	h := w.Header()
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Content-Type-Options", "nosniff")
	if mode == modeInteractive {
		h.Set("Content-Type", "text/html; charset=utf-8")
	} else {
		h.Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(http.StatusOK)

	if mode == modeInteractive {
		if _, err := io.WriteString(w, s.bootstrap()); err != nil {
			return
		}
	}
	for _, line := range backlog {
		if mode == modePlain && !filter.Match(line.Raw) {
			continue
		}
		if err := writeFrame(w, mode, frame{line: line}); err != nil {
			return
		}
	}
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}
	v.markStreaming()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.done:
			return
		case f := <-v.out:
			if err := writeFrame(w, mode, f); err != nil {
				return
			}
			if err := drain(w, mode, v.out); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// drain writes whatever is already queued without waiting for more.
func drain(w io.Writer, mode viewerMode, out <-chan frame) error {
	for {
		select {
		case f := <-out:
			if err := writeFrame(w, mode, f); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func writeFrame(w io.Writer, mode viewerMode, f frame) error {
	var text string
	switch {
	case mode == modeInteractive && f.clear:
		text = clearDirective
	case mode == modeInteractive:
		text = lineDirective(f.line.HTML, f.line.Raw)
	case f.clear:
		return nil
	default:
		text = render.PlainLine(f.line.Raw)
	}
	_, err := io.WriteString(w, text)
	return err
}
