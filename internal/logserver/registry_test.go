package logserver

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"teemux/internal/presence"
	"teemux/internal/render"
	"teemux/internal/sanitize"
)

func TestSlowViewerIsDropped(t *testing.T) {
	s := New(Options{})
	slow := newViewer(modePlain, sanitize.Filter{}, 1, "slow")
	fast := newViewer(modePlain, sanitize.Filter{}, 8, "fast")
	s.mu.Lock()
	s.registerLocked(slow)
	s.registerLocked(fast)
	s.mu.Unlock()

	s.AppendLine("app", "one", render.StreamStdout, 1)
	s.AppendLine("app", "two", render.StreamStdout, 2)

	if s.Viewers() != 1 {
		t.Fatalf("Viewers = %d, want 1", s.Viewers())
	}
	select {
	case <-slow.done:
	default:
		t.Fatalf("slow viewer should be closed")
	}
	if !slow.closed() || fast.closed() {
		t.Fatalf("unexpected states slow=%v fast=%v", slow.closed(), fast.closed())
	}
	if len(fast.out) != 2 {
		t.Fatalf("fast viewer queued %d frames, want 2", len(fast.out))
	}
}

func TestBroadcastRespectsMode(t *testing.T) {
	s := New(Options{})
	plain := newViewer(modePlain, sanitize.ParseFilter("error", ""), 8, "plain")
	browser := newViewer(modeInteractive, sanitize.ParseFilter("error", ""), 8, "browser")
	s.mu.Lock()
	s.registerLocked(plain)
	s.registerLocked(browser)
	s.mu.Unlock()

	s.AppendLine("app", "ok", render.StreamStdout, 1)
	s.AppendLine("app", "an error", render.StreamStdout, 2)
	s.Clear()

	if len(plain.out) != 1 {
		t.Fatalf("plain viewer got %d frames, want 1", len(plain.out))
	}
	if len(browser.out) != 3 {
		t.Fatalf("interactive viewer got %d frames, want 3", len(browser.out))
	}
	<-browser.out
	<-browser.out
	if f := <-browser.out; !f.clear {
		t.Fatalf("expected reset frame last")
	}
}

func TestClearBufferLeavesViewersAlone(t *testing.T) {
	s := New(Options{})
	browser := newViewer(modeInteractive, sanitize.Filter{}, 8, "browser")
	s.mu.Lock()
	s.registerLocked(browser)
	s.mu.Unlock()

	s.AppendLine("app", "x", render.StreamStdout, 1)
	<-browser.out
	s.clearBuffer()
	if s.Len() != 0 {
		t.Fatalf("buffer not cleared")
	}
	if len(browser.out) != 0 {
		t.Fatalf("clearBuffer must not notify viewers")
	}
}

func TestViewerStateTransitions(t *testing.T) {
	v := newViewer(modePlain, sanitize.Filter{}, 1, "")
	if viewerState(v.state.Load()) != stateOpen {
		t.Fatalf("new viewer should be open")
	}
	v.markStreaming()
	if viewerState(v.state.Load()) != stateStreaming {
		t.Fatalf("viewer should be streaming")
	}
	v.close()
	v.close()
	v.markStreaming()
	if !v.closed() {
		t.Fatalf("closed viewer must stay closed")
	}
	if v.enqueue(frame{}) {
		t.Fatalf("enqueue on closed viewer should fail")
	}
}

type recordingStore struct {
	mu      sync.Mutex
	upserts []presence.Source
	deletes []string
}

func (r *recordingStore) Upsert(ctx context.Context, src presence.Source, owner string, ttl int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts = append(r.upserts, src)
	return nil
}

func (r *recordingStore) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes = append(r.deletes, name)
	return nil
}

func (r *recordingStore) Close() error { return nil }

func TestEventsPublishPresence(t *testing.T) {
	store := &recordingStore{}
	s := New(Options{Presence: store})
	start, err := s.decodeEvent([]byte(`{"name":"api","event":"start","pid":7,"timestamp":5}`))
	if err != nil {
		t.Fatalf("decode start: %v", err)
	}
	start.apply(s)
	exit, err := s.decodeEvent([]byte(`{"name":"api","event":"exit","pid":7,"code":1,"timestamp":6}`))
	if err != nil {
		t.Fatalf("decode exit: %v", err)
	}
	exit.apply(s)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.upserts) != 1 || store.upserts[0].Name != "api" || store.upserts[0].PID != 7 {
		t.Fatalf("unexpected upserts: %+v", store.upserts)
	}
	if len(store.deletes) != 1 || store.deletes[0] != "api" {
		t.Fatalf("unexpected deletes: %+v", store.deletes)
	}
}

// slowStore applies upserts after a delay and tracks which sources are live.
type slowStore struct {
	mu   sync.Mutex
	ops  []string
	live map[string]bool
}

func (st *slowStore) Upsert(ctx context.Context, src presence.Source, owner string, ttl int) error {
	time.Sleep(50 * time.Millisecond)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.ops = append(st.ops, "upsert "+src.Name)
	st.live[src.Name] = true
	return nil
}

func (st *slowStore) Delete(ctx context.Context, name string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.ops = append(st.ops, "delete "+name)
	delete(st.live, name)
	return nil
}

func (st *slowStore) Close() error { return nil }

func TestPresenceFollowsIngestionOrder(t *testing.T) {
	store := &slowStore{live: map[string]bool{}}
	s := New(Options{Presence: store})
	events := []string{
		`{"name":"app","event":"start","pid":1,"timestamp":1}`,
		`{"name":"app","event":"exit","pid":1,"code":0,"timestamp":2}`,
		`{"name":"web","event":"start","pid":2,"timestamp":3}`,
		`{"name":"web","event":"exit","pid":2,"code":1,"timestamp":4}`,
		`{"name":"web","event":"start","pid":3,"timestamp":5}`,
	}
	for _, raw := range events {
		in, err := s.decodeEvent([]byte(raw))
		if err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		in.apply(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	wantOps := []string{"upsert app", "delete app", "upsert web", "delete web", "upsert web"}
	if diff := cmp.Diff(wantOps, store.ops); diff != "" {
		t.Fatalf("presence ops (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]bool{"web": true}, store.live); diff != "" {
		t.Fatalf("live sources (-want +got):\n%s", diff)
	}
}

func TestPresenceIgnoredAfterStop(t *testing.T) {
	store := &recordingStore{}
	s := New(Options{Presence: store})
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	in, err := s.decodeEvent([]byte(`{"name":"app","event":"start","pid":1,"timestamp":1}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	in.apply(s)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.upserts) != 0 {
		t.Fatalf("upserts after Stop: %+v", store.upserts)
	}
}

func TestDecodeInject(t *testing.T) {
	s := New(Options{Now: func() float64 { return 99 }})
	in, err := s.decodeInject([]byte(`{"name":"app","message":"boom","stream":"stderr"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	line, ok := in.(lineIngest)
	if !ok || line.stream != render.StreamStderr || line.ts != 99 || line.text != "boom" {
		t.Fatalf("unexpected ingest: %#v", in)
	}
	in, err = s.decodeInject([]byte(`{"name":"app","event":"exit"}`))
	if err != nil {
		t.Fatalf("decode exit: %v", err)
	}
	ev, ok := in.(eventIngest)
	if !ok || ev.kind != render.EventExit || ev.code == nil || *ev.code != 0 {
		t.Fatalf("unexpected event ingest: %#v", in)
	}
	if _, err := s.decodeLog([]byte(`{"name":"app","line":"x","timestamp":-1}`)); err == nil {
		t.Fatalf("negative timestamp should be rejected")
	}
}

func TestScriptStringEscapesMarkup(t *testing.T) {
	cases := []struct {
		html, raw string
		want      string
	}{
		{
			html: `<b>x</b>`,
			raw:  `a </script> b`,
			want: `<script>addLine("\u003cb\u003ex\u003c/b\u003e", "a \u003c/script\u003e b")</script>` + "\n",
		},
		{
			html: "x",
			raw:  "<!--<script>",
			want: `<script>addLine("x", "\u003c!--\u003cscript\u003e")</script>` + "\n",
		},
		{
			html: "a &amp; b",
			raw:  "a & b",
			want: `<script>addLine("a \u0026amp; b", "a \u0026 b")</script>` + "\n",
		},
	}
	for _, tc := range cases {
		got := lineDirective(tc.html, tc.raw)
		if got != tc.want {
			t.Fatalf("lineDirective(%q, %q) = %q, want %q", tc.html, tc.raw, got, tc.want)
		}
		body := strings.TrimSuffix(strings.TrimPrefix(got, "<script>"), "</script>\n")
		if strings.ContainsAny(body, "<>&") {
			t.Fatalf("directive body %q contains raw markup", body)
		}
	}
}
