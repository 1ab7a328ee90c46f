// Package mcptools exposes the log buffer to MCP clients over streamable
// HTTP. Each initialize call mints a session; every later request must carry
// its id in the Mcp-Session-Id header.
package mcptools

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"teemux/internal/appinfo"
	"teemux/internal/logbuf"
)

const (
	SessionHeader = "Mcp-Session-Id"

	CodeParseError     = -32700
	CodeInvalidSession = -32000

	maxBodyBytes = 4 << 20
)

type Options struct {
	// Snapshot returns the buffer sorted by timestamp. Required.
	Snapshot func() []logbuf.Line
	// Clear empties the buffer. Required.
	Clear func()

	Name    string
	Version string

	NewSessionID func() string
	Logf         func(format string, args ...any)
}

type session struct {
	transport *mcp.StreamableServerTransport
	conn      *mcp.ServerSession
}

type Handler struct {
	server       *mcp.Server
	snapshot     func() []logbuf.Line
	clear        func()
	newSessionID func() string
	logf         func(format string, args ...any)

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

func New(opts Options) *Handler {
	snapshot := opts.Snapshot
	if snapshot == nil {
		snapshot = func() []logbuf.Line { return nil }
	}
	clearFn := opts.Clear
	if clearFn == nil {
		clearFn = func() {}
	}
	newID := opts.NewSessionID
	if newID == nil {
		newID = uuid.NewString
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = appinfo.Name
	}
	version := strings.TrimSpace(opts.Version)
	if version == "" {
		version = appinfo.Version
	}

	h := &Handler{
		snapshot:     snapshot,
		clear:        clearFn,
		newSessionID: newID,
		logf:         logf,
		sessions:     make(map[string]*session),
	}
	h.server = mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)
	h.registerTools()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.Header.Get(SessionHeader))
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r, id)
	case http.MethodGet:
		sess := h.lookup(id)
		if sess == nil {
			writeError(w, CodeInvalidSession, "Invalid session")
			return
		}
		sess.transport.ServeHTTP(w, r)
	case http.MethodDelete:
		sess := h.lookup(id)
		if sess == nil {
			writeError(w, CodeInvalidSession, "Invalid session")
			return
		}
		h.drop(id)
		_ = sess.conn.Close()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request, id string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || !json.Valid(body) {
		writeError(w, CodeParseError, "Parse error")
		return
	}

	sess := h.lookup(id)
	fresh := false
	if sess == nil {
		if id != "" || !isInitialize(body) {
			writeError(w, CodeInvalidSession, "Invalid session")
			return
		}
		sess, err = h.open(r.Context())
		if err != nil {
			h.logf("mcp: open session failed: %v", err)
			http.Error(w, "session unavailable", http.StatusServiceUnavailable)
			return
		}
		fresh = true
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	sess.transport.ServeHTTP(w, r)

	if fresh && sess.conn.InitializeParams() == nil {
		h.drop(sess.transport.SessionID)
		_ = sess.conn.Close()
	}
}

func (h *Handler) open(ctx context.Context) (*session, error) {
	id := h.newSessionID()
	transport := &mcp.StreamableServerTransport{SessionID: id}
	conn, err := h.server.Connect(ctx, transport, nil)
	if err != nil {
		return nil, err
	}
	sess := &session{transport: transport, conn: conn}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return nil, http.ErrServerClosed
	}
	h.sessions[id] = sess
	h.mu.Unlock()
	h.logf("mcp: session opened id=%s", id)

	go func() {
		_ = conn.Wait()
		h.drop(id)
		h.logf("mcp: session closed id=%s", id)
	}()
	return sess, nil
}

func (h *Handler) lookup(id string) *session {
	if id == "" {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[id]
}

func (h *Handler) drop(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

// Sessions returns the number of live sessions.
func (h *Handler) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close ends every session and rejects new ones.
func (h *Handler) Close() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	h.closed = true
	sessions := make([]*session, 0, len(h.sessions))
	for id, s := range h.sessions {
		sessions = append(sessions, s)
		delete(h.sessions, id)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		_ = s.conn.Close()
	}
	return nil
}

func isInitialize(body []byte) bool {
	var msg struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return false
	}
	return msg.Method == "initialize"
}

type rpcError struct {
	JSONRPC string `json:"jsonrpc"`
	Error   struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	ID any `json:"id"`
}

func writeError(w http.ResponseWriter, code int, message string) {
	var e rpcError
	e.JSONRPC = "2.0"
	e.Error.Code = code
	e.Error.Message = message
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(e)
}
