// Package logservertest starts an aggregation server on a loopback port for
// tests and offers helpers for driving it over HTTP.
package logservertest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"testing"
	"time"

	"teemux/internal/logserver"
)

type Server struct {
	*logserver.Server

	URL  string
	Port int

	t testing.TB
}

// Start runs a server for the life of the test. Options.Addr defaults to an
// ephemeral loopback port.
func Start(t testing.TB, opts logserver.Options) *Server {
	t.Helper()
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	srv := logserver.New(opts)
	if err := srv.Start(); err != nil {
		t.Fatalf("start log server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	port := srv.Port()
	return &Server{
		Server: srv,
		URL:    "http://127.0.0.1:" + strconv.Itoa(port),
		Port:   port,
		t:      t,
	}
}

// Post sends body as JSON (or nothing when body is nil) and returns the status.
func (s *Server) Post(path string, body any) int {
	s.t.Helper()
	var r io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("encode %s body: %v", path, err)
		}
		r = bytes.NewReader(data)
	}
	return s.PostRaw(path, r)
}

func (s *Server) PostRaw(path string, body io.Reader) int {
	s.t.Helper()
	resp, err := http.Post(s.URL+path, "application/json", body)
	if err != nil {
		s.t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func (s *Server) InjectLog(name, message string) {
	s.t.Helper()
	s.Post("/inject", map[string]any{"name": name, "message": message})
}

func (s *Server) InjectEvent(name, event string, pid int) {
	s.t.Helper()
	s.Post("/inject", map[string]any{"name": name, "event": event, "pid": pid})
}

func (s *Server) ClearLogs() {
	s.t.Helper()
	s.Post("/clear", nil)
}

// SearchQuery calls GET /search with the given raw query string.
func (s *Server) SearchQuery(query string) []logserver.SearchResult {
	s.t.Helper()
	url := s.URL + "/search"
	if query != "" {
		url += "?" + query
	}
	resp, err := http.Get(url)
	if err != nil {
		s.t.Fatalf("GET /search: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.t.Fatalf("GET /search status = %d", resp.StatusCode)
	}
	var out []logserver.SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		s.t.Fatalf("decode /search: %v", err)
	}
	return out
}
