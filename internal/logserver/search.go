package logserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"teemux/internal/sanitize"
)

// SearchResult is one entry of GET /search.
type SearchResult struct {
	HTML      string  `json:"html"`
	Raw       string  `json:"raw"`
	Timestamp float64 `json:"timestamp"`
}

// Search scans the buffer in timestamp order and stops at limit matches.
// limit is clamped to (0, SearchLimit].
func (s *Server) Search(filter sanitize.Filter, limit int) []SearchResult {
	if limit <= 0 || limit > SearchLimit {
		limit = SearchLimit
	}
	lines := s.Snapshot()
	out := make([]SearchResult, 0, min(limit, len(lines)))
	for _, line := range lines {
		if !filter.Match(line.Raw) {
			continue
		}
		out = append(out, SearchResult{HTML: line.HTML, Raw: line.Raw, Timestamp: line.Timestamp})
		if len(out) >= limit {
			break
		}
	}
	return out
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := SearchLimit
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	results := s.Search(sanitize.ParseFilter(q.Get("include"), q.Get("exclude")), limit)

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Cache-Control", "no-cache")
	h.Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(results)
}
