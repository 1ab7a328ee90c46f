package mcptools

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"teemux/internal/logbuf"
	"teemux/internal/sanitize"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000

	ClearedMessage = "Logs cleared successfully"
)

// Entry is one log line as returned by get_logs and search_logs.
type Entry struct {
	Raw       string  `json:"raw"`
	Timestamp float64 `json:"timestamp"`
}

type LogsInput struct {
	Include string `json:"include,omitempty" jsonschema:"Comma-separated patterns to include"`
	Exclude string `json:"exclude,omitempty" jsonschema:"Comma-separated patterns to exclude"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum number of logs to return"`
}

type NoInput struct{}

func (h *Handler) registerTools() {
	mcp.AddTool(h.server, &mcp.Tool{
		Name:        "get_logs",
		Description: "Get recent logs from buffer",
	}, h.getLogs)
	mcp.AddTool(h.server, &mcp.Tool{
		Name:        "search_logs",
		Description: "Search logs with patterns",
	}, h.getLogs)
	mcp.AddTool(h.server, &mcp.Tool{
		Name:        "clear_logs",
		Description: "Clear the log buffer",
	}, h.clearLogs)
	mcp.AddTool(h.server, &mcp.Tool{
		Name:        "get_process_names",
		Description: "List all process names that have logged",
	}, h.processNames)
}

func (h *Handler) getLogs(ctx context.Context, req *mcp.CallToolRequest, in LogsInput) (*mcp.CallToolResult, any, error) {
	return jsonResult(FilterLogs(h.snapshot(), in))
}

func (h *Handler) clearLogs(ctx context.Context, req *mcp.CallToolRequest, in NoInput) (*mcp.CallToolResult, any, error) {
	h.clear()
	return textResult(ClearedMessage), nil, nil
}

func (h *Handler) processNames(ctx context.Context, req *mcp.CallToolRequest, in NoInput) (*mcp.CallToolResult, any, error) {
	lines := h.snapshot()
	raws := make([]string, 0, len(lines))
	for _, l := range lines {
		raws = append(raws, l.Raw)
	}
	return jsonResult(sanitize.SourceNames(raws))
}

// FilterLogs walks a timestamp-sorted snapshot and stops once the limit is
// reached.
func FilterLogs(lines []logbuf.Line, in LogsInput) []Entry {
	limit := in.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	filter := sanitize.ParseFilter(in.Include, in.Exclude)
	out := make([]Entry, 0, min(limit, len(lines)))
	for _, l := range lines {
		if !filter.Match(l.Raw) {
			continue
		}
		out = append(out, Entry{Raw: l.Raw, Timestamp: l.Timestamp})
		if len(out) >= limit {
			break
		}
	}
	return out
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return textResult(string(data)), nil, nil
}
