package logserver

import (
	_ "embed"
	"encoding/json"
	"strconv"
	"strings"
)

//go:embed assets/viewer.js
var defaultBundle []byte

// bootstrap is the one-time page header sent to an interactive viewer.
func (s *Server) bootstrap() string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n  <meta charset=\"utf-8\">\n  <title>teemux</title>\n</head>\n<body>\n  <div id=\"root\"></div>\n")
	b.WriteString("  <script>const tailSize = Math.min(")
	b.WriteString(strconv.Itoa(s.tail))
	b.WriteString(", ")
	b.WriteString(strconv.Itoa(CatchUpLimit))
	b.WriteString(");</script>\n  <script>")
	b.Write(s.clientBundle)
	b.WriteString("</script>\n")
	return b.String()
}

const clearDirective = "<script>clearLogs()</script>\n"

// lineDirective is the script tag that appends one rendered line.
func lineDirective(html, raw string) string {
	return "<script>addLine(" + scriptString(html) + ", " + scriptString(raw) + ")</script>\n"
}

// scriptString encodes s as a JS string literal. The encoder escapes <, >
// and &, so no markup inside s can end or re-enter the script element.
func scriptString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
