// Package render turns ingested lines into the stored forms the server keeps:
// colorized terminal text, its stripped form and viewer markup.
package render

import (
	"strconv"
	"strings"

	"teemux/internal/sanitize"
)

type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

type EventKind string

const (
	EventStart EventKind = "start"
	EventExit  EventKind = "exit"
)

// ErrorMarker prefixes stderr lines, both on the server and in local echo.
const ErrorMarker = "[ERR]"

// Rendered is a line in every form the server needs. All three fields are
// computed once at ingestion.
type Rendered struct {
	Text string
	Raw  string
	HTML string
}

type Renderer struct {
	palette *Palette
}

func NewRenderer(p *Palette) *Renderer {
	if p == nil {
		p = NewPalette()
	}
	return &Renderer{palette: p}
}

// Line renders one line of a source's output.
func (r *Renderer) Line(name, text string, stream Stream) Rendered {
	color := r.palette.Color(name)
	prefix := color + "[" + name + "]" + Reset + " "
	if stream == StreamStderr {
		prefix += Red + ErrorMarker + Reset + " "
	}
	body, ok := TagJSON(text)
	if !ok {
		body = ANSIToHTML(text)
	}
	full := prefix + text
	return Rendered{
		Text: full,
		Raw:  sanitize.StripColorCodes(full),
		HTML: Linkify(ANSIToHTML(prefix) + body),
	}
}

// Event renders a dimmed lifecycle annotation for a source.
func (r *Renderer) Event(name, message string) Rendered {
	color := r.palette.Color(name)
	full := Dim + color + "[" + name + "]" + Reset + " " + Dim + message + Reset
	return Rendered{
		Text: full,
		Raw:  sanitize.StripColorCodes(full),
		HTML: Linkify(ANSIToHTML(full)),
	}
}

// StartMessage and ExitMessage format lifecycle annotations. A nil code
// renders without one.
func StartMessage(pid int) string {
	return "● started (pid " + strconv.Itoa(pid) + ")"
}

func ExitMessage(code *int) string {
	if code == nil {
		return "○ exited"
	}
	return "○ exited (code " + strconv.Itoa(*code) + ")"
}

// PlainLine is the form written to plain-mode viewers.
func PlainLine(raw string) string {
	return strings.TrimRight(raw, "\r\n") + "\n"
}
