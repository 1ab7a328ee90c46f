package logserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"teemux/internal/logbuf"
	"teemux/internal/sanitize"
)

const socketWriteTimeout = 5 * time.Second

// SocketFrame is the JSON message sent to /ws viewers.
type SocketFrame struct {
	Type      string  `json:"type"`
	HTML      string  `json:"html,omitempty"`
	Raw       string  `json:"raw,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// handleSocket serves a websocket viewer. It gets the interactive catch-up
// and every later line as JSON; include/exclude narrow the stream when set.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	q := r.URL.Query()
	filter := sanitize.ParseFilter(q.Get("include"), q.Get("exclude"))
	v := newViewer(modeSocket, filter, s.viewerQueue, strings.TrimSpace(r.RemoteAddr))

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	backlog := s.buf.Tail(min(s.tail, CatchUpLimit))
	s.registerLocked(v)
	s.mu.Unlock()
	defer s.unregister(v)

	// Viewers only listen; CloseRead handles control frames and reports
	// disconnects through ctx.
	ctx := conn.CloseRead(r.Context())

	for _, line := range backlog {
		if !v.wants(line) {
			continue
		}
		if err := writeSocket(ctx, conn, frame{line: line}); err != nil {
			return
		}
	}
	v.markStreaming()

	for {
		select {
		case <-ctx.Done():
			return
		case <-v.done:
			_ = conn.Close(websocket.StatusGoingAway, "server stopping")
			return
		case f := <-v.out:
			if err := writeSocket(ctx, conn, f); err != nil {
				return
			}
		}
	}
}

func writeSocket(ctx context.Context, conn *websocket.Conn, f frame) error {
	msg := SocketFrame{Type: "clear"}
	if !f.clear {
		msg = socketLine(f.line)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, socketWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

func socketLine(line logbuf.Line) SocketFrame {
	return SocketFrame{Type: "line", HTML: line.HTML, Raw: line.Raw, Timestamp: line.Timestamp}
}
