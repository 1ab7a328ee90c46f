// Package logserver is the aggregation server: it owns the line buffer and
// the viewer registry, renders ingested lines once, and fans them out to
// live viewers.
//
// Buffer mutation and the broadcast that follows it happen under one mutex,
// so every viewer sees lines in buffer order. Viewers are never written to
// while the mutex is held.
package logserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"teemux/internal/logbuf"
	"teemux/internal/mcptools"
	"teemux/internal/presence"
	"teemux/internal/render"
)

const (
	// CatchUpLimit caps how many lines a new interactive viewer is sent.
	CatchUpLimit = 1000
	// SearchLimit caps search results regardless of the requested limit.
	SearchLimit = 1000

	defaultTail        = 1000
	defaultViewerQueue = 4096
	defaultShutdown    = 3 * time.Second
	presenceQueueLen   = 1024
	maxIngestBytes     = 1 << 20
)

type Options struct {
	// Addr is the listen address, e.g. "0.0.0.0:8336". Port 0 picks one.
	Addr string
	// Tail is the buffer capacity. It cannot change after New.
	Tail int
	// ViewerQueue is the per-viewer outbound queue length.
	ViewerQueue int
	// ClientBundle replaces the built-in viewer script when non-empty.
	ClientBundle []byte

	Presence           presence.Store
	PresenceTTLSeconds int
	InstanceID         string

	ShutdownTimeout time.Duration
	// Now returns the timestamp used for injected lines.
	Now  func() float64
	Logf func(format string, args ...any)
}

type Server struct {
	addr            string
	tail            int
	viewerQueue     int
	clientBundle    []byte
	presence        presence.Store
	presenceTTL     int
	instanceID      string
	shutdownTimeout time.Duration
	now             func() float64
	logf            func(format string, args ...any)

	renderer *render.Renderer
	mcp      *mcptools.Handler
	handler  http.Handler

	mu       sync.Mutex
	buf      *logbuf.Buffer
	viewers  map[*viewer]struct{}
	stopping bool

	// presenceQ is closed by Stop under mu; sends happen under mu.
	presenceQ    chan presenceUpdate
	presenceDone chan struct{}

	httpSrv  *http.Server
	ln       net.Listener
	stopOnce sync.Once
	done     chan struct{}
}

type presenceUpdate struct {
	src    presence.Source
	exited bool
}

func New(opts Options) *Server {
	tail := opts.Tail
	if tail <= 0 {
		tail = defaultTail
	}
	queue := opts.ViewerQueue
	if queue <= 0 {
		queue = defaultViewerQueue
	}
	store := opts.Presence
	if store == nil {
		store = presence.NoopStore{}
	}
	ttl := opts.PresenceTTLSeconds
	if ttl <= 0 {
		ttl = 3600
	}
	instanceID := strings.TrimSpace(opts.InstanceID)
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	shutdown := opts.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = defaultShutdown
	}
	now := opts.Now
	if now == nil {
		now = logbuf.Now
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	bundle := opts.ClientBundle
	if len(bundle) == 0 {
		bundle = defaultBundle
	}

	s := &Server{
		addr:            strings.TrimSpace(opts.Addr),
		tail:            tail,
		viewerQueue:     queue,
		clientBundle:    bundle,
		presence:        store,
		presenceTTL:     ttl,
		instanceID:      instanceID,
		shutdownTimeout: shutdown,
		now:             now,
		logf:            logf,
		renderer:        render.NewRenderer(render.NewPalette()),
		buf:             logbuf.New(tail),
		viewers:         make(map[*viewer]struct{}),
		presenceQ:       make(chan presenceUpdate, presenceQueueLen),
		presenceDone:    make(chan struct{}),
		done:            make(chan struct{}),
	}
	go s.presenceLoop()
	s.mcp = mcptools.New(mcptools.Options{
		Snapshot: s.Snapshot,
		Clear:    s.clearBuffer,
		Logf:     logf,
	})
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /ws", s.handleSocket)
	mux.HandleFunc("POST /log", s.handleLog)
	mux.HandleFunc("POST /event", s.handleEvent)
	mux.HandleFunc("POST /inject", s.handleInject)
	mux.HandleFunc("POST /clear", s.handleClear)
	mux.HandleFunc("POST /shutdown", s.handleShutdown)
	mux.Handle("GET /mcp", s.mcp)
	mux.Handle("POST /mcp", s.mcp)
	mux.Handle("DELETE /mcp", s.mcp)
	mux.HandleFunc("GET /", s.handleStream)
	mux.HandleFunc("POST /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Handler serves every endpoint. It is usable without Listen, e.g. under
// httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen binds the configured address. The error is returned unwrapped so
// callers can test for syscall.EADDRINUSE.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Serve blocks serving the bound listener until Stop.
func (s *Server) Serve() error {
	if s.ln == nil {
		return errors.New("logserver: Serve called before Listen")
	}
	err := s.httpSrv.Serve(s.ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Start binds and serves in the background.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.logf("aggregating logs on http://%s", s.ln.Addr())
	go func() {
		if err := s.Serve(); err != nil {
			s.logf("serve failed: %v", err)
			s.Stop(context.Background())
		}
	}()
	return nil
}

// Addr is the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Port is the bound port, or 0 before Listen.
func (s *Server) Port() int {
	if tcp, ok := s.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Done is closed once Stop has finished.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Stop closes every viewer and MCP session, then shuts the HTTP server down.
// It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopping = true
		close(s.presenceQ)
		for v := range s.viewers {
			delete(s.viewers, v)
			v.close()
		}
		s.mu.Unlock()
		_ = s.mcp.Close()

		if s.httpSrv != nil {
			if ctx == nil {
				ctx = context.Background()
			}
			shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
			err = s.httpSrv.Shutdown(shutdownCtx)
			cancel()
			if err != nil {
				_ = s.httpSrv.Close()
			}
		}
		<-s.presenceDone
		close(s.done)
	})
	return err
}

// Snapshot returns the buffer sorted by timestamp.
func (s *Server) Snapshot() []logbuf.Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Snapshot()
}

// Len returns the number of buffered lines.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

// AppendLine renders and stores one line of process output and broadcasts it.
func (s *Server) AppendLine(name, text string, stream render.Stream, ts float64) {
	s.store(s.renderer.Line(name, text, stream), ts)
}

func (s *Server) store(r render.Rendered, ts float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeLocked(r, ts)
}

func (s *Server) storeLocked(r render.Rendered, ts float64) {
	line := logbuf.Line{Text: r.Text, Raw: r.Raw, HTML: r.HTML, Timestamp: ts}
	s.buf.Append(line)
	s.broadcastLocked(line)
}

// appendLifecycle stores an event annotation and queues its presence update
// in the same critical section, so presence follows ingestion order.
func (s *Server) appendLifecycle(src presence.Source, message string, exited bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeLocked(s.renderer.Event(src.Name, message), src.Timestamp)
	s.queuePresenceLocked(presenceUpdate{src: src, exited: exited})
}

// Clear empties the buffer and resets interactive viewers.
func (s *Server) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Clear()
	s.resetLocked()
}

// clearBuffer is the MCP clear: it empties the buffer and leaves viewers alone.
func (s *Server) clearBuffer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Clear()
}

func (s *Server) queuePresenceLocked(u presenceUpdate) {
	if s.stopping {
		return
	}
	select {
	case s.presenceQ <- u:
	default:
		s.logf("presence queue full, dropping %s update for %s", u.src.Event, u.src.Name)
	}
}

// presenceLoop applies presence updates one at a time in queue order until
// Stop closes the queue.
func (s *Server) presenceLoop() {
	defer close(s.presenceDone)
	for u := range s.presenceQ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		var err error
		if u.exited {
			err = s.presence.Delete(ctx, u.src.Name)
		} else {
			err = s.presence.Upsert(ctx, u.src, s.instanceID, s.presenceTTL)
		}
		cancel()
		if err != nil {
			s.logf("presence update for %s failed: %v", u.src.Name, err)
		}
	}
}
