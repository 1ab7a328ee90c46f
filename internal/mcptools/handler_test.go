package mcptools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"teemux/internal/logbuf"
)

type fakeBuffer struct {
	mu    sync.Mutex
	lines []logbuf.Line
}

func (b *fakeBuffer) snapshot() []logbuf.Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]logbuf.Line(nil), b.lines...)
}

func (b *fakeBuffer) clear() {
	b.mu.Lock()
	b.lines = nil
	b.mu.Unlock()
}

func newTestHandler(t *testing.T, lines ...string) (*Handler, *fakeBuffer, *httptest.Server) {
	t.Helper()
	buf := &fakeBuffer{}
	for i, raw := range lines {
		buf.lines = append(buf.lines, logbuf.Line{Raw: raw, Timestamp: float64(1000 + i)})
	}
	h := New(Options{Snapshot: buf.snapshot, Clear: buf.clear})
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		_ = h.Close()
		srv.Close()
	})
	return h, buf, srv
}

func connect(t *testing.T, url string) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := mcp.NewClient(&mcp.Implementation{Name: "teemux-test", Version: "dev"}, nil)
	cs, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: url}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callText(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if args == nil {
		args = map[string]any{}
	}
	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	if res.IsError {
		t.Fatalf("call %s returned tool error: %+v", name, res.Content)
	}
	if len(res.Content) != 1 {
		t.Fatalf("call %s: expected one content item, got %d", name, len(res.Content))
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("call %s: expected text content, got %T", name, res.Content[0])
	}
	return text.Text
}

func postRaw(t *testing.T, url, sessionID, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	var out map[string]any
	_ = json.Unmarshal(data, &out)
	return resp.StatusCode, out
}

func errorCode(t *testing.T, payload map[string]any) int {
	t.Helper()
	e, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error object, got %v", payload)
	}
	code, _ := e["code"].(float64)
	return int(code)
}

func TestListTools(t *testing.T) {
	_, _, srv := newTestHandler(t)
	cs := connect(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	want := []string{"clear_logs", "get_logs", "get_process_names", "search_logs"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("tools mismatch (-want +got):\n%s", diff)
	}
}

func TestGetLogsAndSearch(t *testing.T) {
	_, _, srv := newTestHandler(t,
		"[app] starting",
		"[db] ready",
		"[app] [ERR] failed to connect",
		"[app] healthcheck ok",
	)
	cs := connect(t, srv.URL)

	var got []Entry
	if err := json.Unmarshal([]byte(callText(t, cs, "get_logs", nil)), &got); err != nil {
		t.Fatalf("decode get_logs: %v", err)
	}
	if len(got) != 4 || got[0].Raw != "[app] starting" || got[0].Timestamp != 1000 {
		t.Fatalf("unexpected get_logs result: %+v", got)
	}

	got = nil
	text := callText(t, cs, "search_logs", map[string]any{"include": "app", "exclude": "health"})
	if err := json.Unmarshal([]byte(text), &got); err != nil {
		t.Fatalf("decode search_logs: %v", err)
	}
	var raws []string
	for _, e := range got {
		raws = append(raws, e.Raw)
	}
	if diff := cmp.Diff([]string{"[app] starting", "[app] [ERR] failed to connect"}, raws); diff != "" {
		t.Fatalf("search mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(text, "\n  {") {
		t.Fatalf("expected indented JSON, got %q", text)
	}

	got = nil
	if err := json.Unmarshal([]byte(callText(t, cs, "get_logs", map[string]any{"limit": 1})), &got); err != nil {
		t.Fatalf("decode limited: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("limit not applied: %+v", got)
	}
}

func TestProcessNamesAndClear(t *testing.T) {
	_, buf, srv := newTestHandler(t, "[web] a", "[api] b", "[web] c", "orphan")
	cs := connect(t, srv.URL)

	var names []string
	if err := json.Unmarshal([]byte(callText(t, cs, "get_process_names", nil)), &names); err != nil {
		t.Fatalf("decode names: %v", err)
	}
	if diff := cmp.Diff([]string{"api", "web"}, names); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}

	if got := callText(t, cs, "clear_logs", nil); got != ClearedMessage {
		t.Fatalf("clear_logs = %q", got)
	}
	if len(buf.snapshot()) != 0 {
		t.Fatalf("buffer not cleared")
	}
	if got := callText(t, cs, "get_logs", nil); strings.TrimSpace(got) != "[]" {
		t.Fatalf("expected empty array after clear, got %q", got)
	}
}

func TestRejectsRequestsWithoutSession(t *testing.T) {
	_, _, srv := newTestHandler(t)

	status, payload := postRaw(t, srv.URL, "", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if status != http.StatusBadRequest || errorCode(t, payload) != CodeInvalidSession {
		t.Fatalf("status=%d payload=%v", status, payload)
	}

	status, payload = postRaw(t, srv.URL, "made-up", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if status != http.StatusBadRequest || errorCode(t, payload) != CodeInvalidSession {
		t.Fatalf("unknown id: status=%d payload=%v", status, payload)
	}

	status, payload = postRaw(t, srv.URL, "", `{not json`)
	if status != http.StatusBadRequest || errorCode(t, payload) != CodeParseError {
		t.Fatalf("parse error: status=%d payload=%v", status, payload)
	}

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("GET without session status = %d", resp.StatusCode)
	}
}

func TestClosedSessionStaysInvalid(t *testing.T) {
	h, _, srv := newTestHandler(t)
	cs := connect(t, srv.URL)
	id := cs.ID()
	if id == "" {
		t.Fatalf("expected a session id")
	}
	if h.Sessions() != 1 {
		t.Fatalf("Sessions = %d, want 1", h.Sessions())
	}
	if err := cs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.Sessions() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	status, payload := postRaw(t, srv.URL, id, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	if status != http.StatusBadRequest || errorCode(t, payload) != CodeInvalidSession {
		t.Fatalf("reused id: status=%d payload=%v", status, payload)
	}
	status, payload = postRaw(t, srv.URL, id, `{"jsonrpc":"2.0","id":3,"method":"initialize","params":{}}`)
	if status != http.StatusBadRequest || errorCode(t, payload) != CodeInvalidSession {
		t.Fatalf("initialize with dead id: status=%d payload=%v", status, payload)
	}
}

func TestFilterLogsLimits(t *testing.T) {
	lines := make([]logbuf.Line, 0, 1500)
	for i := 0; i < 1500; i++ {
		lines = append(lines, logbuf.Line{Raw: "[app] x", Timestamp: float64(i)})
	}
	if got := len(FilterLogs(lines, LogsInput{})); got != DefaultLimit {
		t.Fatalf("default limit = %d", got)
	}
	if got := len(FilterLogs(lines, LogsInput{Limit: 5000})); got != MaxLimit {
		t.Fatalf("capped limit = %d", got)
	}
	got := FilterLogs(lines, LogsInput{Limit: 2})
	if got[0].Timestamp != 0 || got[1].Timestamp != 1 {
		t.Fatalf("expected earliest entries first: %+v", got)
	}
	if out := FilterLogs(nil, LogsInput{}); out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", out)
	}
}
