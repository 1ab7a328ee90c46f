package sanitize

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStripColorCodes(t *testing.T) {
	cases := []struct{ in, want string }{
		{"plain", "plain"},
		{"\x1b[36m[app]\x1b[0m hello", "[app] hello"},
		{"\x1b[90m\x1b[33m[db]\x1b[0m \x1b[1;31mboom\x1b[0m", "[db] boom"},
		{"\x1b[38;5;208morange\x1b[0m", "orange"},
		{"\x1b[38;2;10;20;30mrgb\x1b[0m", "rgb"},
	}
	for _, tc := range cases {
		if got := StripColorCodes(tc.in); got != tc.want {
			t.Fatalf("StripColorCodes(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParsePatterns(t *testing.T) {
	got := ParsePatterns(" error , ,warn,  ")
	if diff := cmp.Diff([]string{"error", "warn"}, got); diff != "" {
		t.Fatalf("ParsePatterns mismatch (-want +got):\n%s", diff)
	}
	if got := ParsePatterns("   "); got != nil {
		t.Fatalf("expected nil for blank input, got %v", got)
	}
}

func TestMatchesFilters(t *testing.T) {
	cases := []struct {
		name     string
		text     string
		includes []string
		excludes []string
		want     bool
	}{
		{name: "no filters", text: "anything", want: true},
		{name: "include hit", text: "[app] Error: boom", includes: []string{"error"}, want: true},
		{name: "include miss", text: "[app] ok", includes: []string{"error"}, want: false},
		{name: "any include", text: "[app] warn: disk", includes: []string{"error", "warn"}, want: true},
		{name: "exclude hit", text: "[app] healthcheck ok", excludes: []string{"HEALTH"}, want: false},
		{name: "exclude miss", text: "[app] request", excludes: []string{"health"}, want: true},
		{name: "include and exclude", text: "[api] error health", includes: []string{"error"}, excludes: []string{"health"}, want: false},
		{name: "ansi ignored", text: "\x1b[36m[app]\x1b[0m Hello", includes: []string{"[app] hello"}, want: true},
		{name: "ansi not matched", text: "\x1b[36m[app]\x1b[0m Hello", includes: []string{"36m"}, want: false},
		{name: "glob", text: "[worker] job 42 done", includes: []string{"job*done"}, want: true},
		{name: "glob miss", text: "[worker] job 42 failed", includes: []string{"job*done"}, want: false},
		{name: "glob escapes literal", text: "[a] a.b", includes: []string{"a.b*"}, want: true},
		{name: "glob literal dot", text: "[a] axb", includes: []string{"a.b*"}, want: false},
		{name: "glob exclude", text: "[api] GET /health 200", excludes: []string{"get*health"}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MatchesFilters(tc.text, tc.includes, tc.excludes); got != tc.want {
				t.Fatalf("MatchesFilters(%q, %v, %v) = %v, want %v", tc.text, tc.includes, tc.excludes, got, tc.want)
			}
		})
	}
}

func TestFilterZeroValueMatchesAll(t *testing.T) {
	var f Filter
	if !f.Empty() || !f.Match("x") {
		t.Fatalf("zero filter should match everything")
	}
	if got := f.String(); got != "all" {
		t.Fatalf("zero filter String() = %q", got)
	}
	f = ParseFilter("a, b", "")
	if got := f.String(); got != "include=a,b" {
		t.Fatalf("String() = %q", got)
	}
	f = ParseFilter("api*", " noise ,")
	if got := f.String(); got != "include=api* exclude=noise" {
		t.Fatalf("String() = %q", got)
	}
}

func TestSourceNames(t *testing.T) {
	lines := []string{
		"\x1b[36m[web]\x1b[0m listening",
		"[api] ready",
		"\x1b[90m\x1b[33m[web]\x1b[0m \x1b[90m● started (pid 3)\x1b[0m",
		"no prefix here",
		"[api] [ERR] boom",
	}
	if diff := cmp.Diff([]string{"api", "web"}, SourceNames(lines)); diff != "" {
		t.Fatalf("SourceNames mismatch (-want +got):\n%s", diff)
	}
}
