package logserver

import (
	"sync"
	"sync/atomic"

	"teemux/internal/logbuf"
	"teemux/internal/sanitize"
)

type viewerMode int

const (
	modePlain viewerMode = iota
	modeInteractive
	modeSocket
)

func (m viewerMode) String() string {
	switch m {
	case modeInteractive:
		return "interactive"
	case modeSocket:
		return "socket"
	default:
		return "plain"
	}
}

type viewerState int32

const (
	stateOpen viewerState = iota
	stateStreaming
	stateClosed
)

// frame is one unit of viewer output: a line, or a reset when clear is set.
type frame struct {
	line  logbuf.Line
	clear bool
}

// viewer is a registered long-lived connection. Its handler goroutine owns
// the connection and drains out; the server only ever enqueues.
type viewer struct {
	mode   viewerMode
	filter sanitize.Filter
	remote string

	out       chan frame
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
}

func newViewer(mode viewerMode, filter sanitize.Filter, queue int, remote string) *viewer {
	if queue <= 0 {
		queue = 1
	}
	return &viewer{
		mode:   mode,
		filter: filter,
		remote: remote,
		out:    make(chan frame, queue),
		done:   make(chan struct{}),
	}
}

// wants reports whether a new line should be sent to this viewer. Interactive
// viewers filter on their side and always get every line.
func (v *viewer) wants(line logbuf.Line) bool {
	switch v.mode {
	case modeInteractive:
		return true
	default:
		return v.filter.Match(line.Raw)
	}
}

// enqueue never blocks. A full queue means the viewer cannot keep up, which
// is handled like a failed write.
func (v *viewer) enqueue(f frame) bool {
	if v.closed() {
		return false
	}
	select {
	case v.out <- f:
		return true
	default:
		return false
	}
}

func (v *viewer) markStreaming() {
	v.state.CompareAndSwap(int32(stateOpen), int32(stateStreaming))
}

func (v *viewer) close() {
	v.closeOnce.Do(func() {
		v.state.Store(int32(stateClosed))
		close(v.done)
	})
}

func (v *viewer) closed() bool {
	return viewerState(v.state.Load()) == stateClosed
}

// The registry methods below must be called with Server.mu held.

func (s *Server) registerLocked(v *viewer) {
	s.viewers[v] = struct{}{}
	s.logf("viewer connected mode=%s remote=%s filter=%s viewers=%d", v.mode, v.remote, v.filter, len(s.viewers))
}

func (s *Server) unregisterLocked(v *viewer) {
	if _, ok := s.viewers[v]; !ok {
		return
	}
	delete(s.viewers, v)
	v.close()
	s.logf("viewer disconnected mode=%s remote=%s viewers=%d", v.mode, v.remote, len(s.viewers))
}

func (s *Server) unregister(v *viewer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unregisterLocked(v)
}

// broadcastLocked fans a stored line out to every viewer that wants it.
func (s *Server) broadcastLocked(line logbuf.Line) {
	for v := range s.viewers {
		if !v.wants(line) {
			continue
		}
		if !v.enqueue(frame{line: line}) {
			s.unregisterLocked(v)
		}
	}
}

// resetLocked tells every markup-rendering viewer to drop its lines. Plain
// viewers get nothing.
func (s *Server) resetLocked() {
	for v := range s.viewers {
		if v.mode == modePlain {
			continue
		}
		if !v.enqueue(frame{clear: true}) {
			s.unregisterLocked(v)
		}
	}
}

// Viewers returns the number of registered viewers.
func (s *Server) Viewers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}
