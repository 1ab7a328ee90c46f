// Package sanitize holds the stateless text helpers shared by the log server,
// the search endpoint and the MCP tools: color stripping and include/exclude
// matching.
package sanitize

import (
	"regexp"
	"sort"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Wildcard is the glob token accepted in include/exclude patterns.
const Wildcard = "*"

// StripColorCodes removes terminal escape sequences from text.
func StripColorCodes(text string) string {
	if !strings.ContainsRune(text, '\x1b') {
		return text
	}
	return ansi.Strip(text)
}

// ParsePatterns splits a comma separated parameter into trimmed, non-empty terms.
func ParsePatterns(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

type pattern struct {
	substr string
	glob   *regexp.Regexp
}

func compilePattern(raw string) pattern {
	if !strings.Contains(raw, Wildcard) {
		return pattern{substr: strings.ToLower(raw)}
	}
	parts := strings.Split(raw, Wildcard)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(strings.ToLower(p))
	}
	return pattern{glob: regexp.MustCompile("(?s)" + strings.Join(parts, ".*"))}
}

func (p pattern) match(lower string) bool {
	if p.glob != nil {
		return p.glob.MatchString(lower)
	}
	return strings.Contains(lower, p.substr)
}

// Filter is a compiled include/exclude predicate. The zero value matches
// every line.
type Filter struct {
	includes []pattern
	excludes []pattern

	rawIncludes []string
	rawExcludes []string
}

// NewFilter compiles include and exclude terms. Empty terms are ignored.
func NewFilter(includes, excludes []string) Filter {
	f := Filter{}
	for _, raw := range includes {
		if raw = strings.TrimSpace(raw); raw != "" {
			f.includes = append(f.includes, compilePattern(raw))
			f.rawIncludes = append(f.rawIncludes, raw)
		}
	}
	for _, raw := range excludes {
		if raw = strings.TrimSpace(raw); raw != "" {
			f.excludes = append(f.excludes, compilePattern(raw))
			f.rawExcludes = append(f.rawExcludes, raw)
		}
	}
	return f
}

// ParseFilter builds a Filter from comma separated include/exclude parameters.
func ParseFilter(include, exclude string) Filter {
	return NewFilter(ParsePatterns(include), ParsePatterns(exclude))
}

// Empty reports whether the filter lets every line through.
func (f Filter) Empty() bool {
	return len(f.includes) == 0 && len(f.excludes) == 0
}

// String renders the filter as "include=a,b exclude=c" for status lines.
func (f Filter) String() string {
	if f.Empty() {
		return "all"
	}
	var parts []string
	if len(f.rawIncludes) > 0 {
		parts = append(parts, "include="+strings.Join(f.rawIncludes, ","))
	}
	if len(f.rawExcludes) > 0 {
		parts = append(parts, "exclude="+strings.Join(f.rawExcludes, ","))
	}
	return strings.Join(parts, " ")
}

// Match reports whether text passes the filter. Any include may match; any
// matching exclude rejects. Comparison is case-insensitive on stripped text.
func (f Filter) Match(text string) bool {
	if f.Empty() {
		return true
	}
	lower := strings.ToLower(StripColorCodes(text))
	if len(f.includes) > 0 {
		ok := false
		for _, p := range f.includes {
			if p.match(lower) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, p := range f.excludes {
		if p.match(lower) {
			return false
		}
	}
	return true
}

// MatchesFilters is the one-shot form of NewFilter(includes, excludes).Match(text).
func MatchesFilters(text string, includes, excludes []string) bool {
	return NewFilter(includes, excludes).Match(text)
}

var sourcePrefix = regexp.MustCompile(`^\[([^\]]+)\]`)

// SourceName returns the process name from a "[name] ..." line.
func SourceName(text string) (string, bool) {
	m := sourcePrefix.FindStringSubmatch(StripColorCodes(text))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// SourceNames returns the sorted distinct process names found in lines.
func SourceNames(lines []string) []string {
	seen := make(map[string]struct{}, 8)
	for _, line := range lines {
		if name, ok := SourceName(line); ok {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
