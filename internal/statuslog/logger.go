// Package statuslog writes teemux's own status lines, kept apart from the
// wrapped process output.
package statuslog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

type Kind string

const (
	KindDebug Kind = "DEBUG"
	KindInfo  Kind = "INFO"
	KindWarn  Kind = "WARN"
	KindError Kind = "ERROR"
)

// Prefix starts every terminal status line.
const Prefix = "[teemux]"

type Logger struct {
	mu sync.Mutex

	file io.Writer
	term io.Writer

	termColor bool
	debug     bool
}

type Options struct {
	// File receives every line with a timestamp and kind. Optional.
	File io.Writer
	// Term receives INFO and above as "[teemux] msg". Optional.
	Term io.Writer

	TermColor bool
	// Debug also sends DEBUG lines to Term.
	Debug bool
}

func New(opts Options) *Logger {
	return &Logger{
		file:      opts.File,
		term:      opts.Term,
		termColor: opts.TermColor,
		debug:     opts.Debug,
	}
}

// OpenFile opens path for appending, creating it if needed.
func OpenFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("log file path is empty")
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.file.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func TermColorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	termEnv := strings.TrimSpace(os.Getenv("TERM"))
	if termEnv == "" || termEnv == "dumb" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func (l *Logger) Logf(kind Kind, format string, args ...any) {
	if l == nil {
		return
	}
	l.Log(kind, fmt.Sprintf(format, args...))
}

// Func adapts the logger to the Logf option taken by the other packages.
func (l *Logger) Func(kind Kind) func(format string, args ...any) {
	return func(format string, args ...any) {
		l.Logf(kind, format, args...)
	}
}

func (l *Logger) Log(kind Kind, msg string) {
	if l == nil {
		return
	}
	text := strings.TrimRight(msg, "\n")
	if strings.TrimSpace(text) == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		ts := time.Now().Format("2006-01-02 15:04:05.000")
		_, _ = fmt.Fprintf(l.file, "[%s] [%s] %s\n", ts, strings.TrimSpace(string(kind)), text)
	}
	if l.term == nil || (kind == KindDebug && !l.debug) {
		return
	}
	line := Prefix + " " + text
	if l.termColor {
		line = colorize(kind, line)
	}
	_, _ = io.WriteString(l.term, line+"\n")
}

const (
	ansiReset  = "\x1b[0m"
	ansiDim    = "\x1b[90m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[91m"
)

func colorize(kind Kind, line string) string {
	code := ""
	switch kind {
	case KindDebug, KindInfo:
		code = ansiDim
	case KindWarn:
		code = ansiYellow
	case KindError:
		code = ansiRed
	default:
		return line
	}
	return code + line + ansiReset
}
