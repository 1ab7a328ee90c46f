package runner

import (
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"teemux/internal/render"
)

// Echo prints the wrapped process's output locally, marking stderr lines.
type Echo struct {
	mu     sync.Mutex
	w      io.Writer
	marker string
}

func NewEcho(w io.Writer) *Echo {
	r := lipgloss.NewRenderer(w)
	style := r.NewStyle().Foreground(lipgloss.Color("9"))
	return &Echo{w: w, marker: style.Render(render.ErrorMarker) + " "}
}

func (e *Echo) Line(text string, stream render.Stream) {
	if e == nil || e.w == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if stream == render.StreamStderr {
		_, _ = io.WriteString(e.w, e.marker)
	}
	_, _ = io.WriteString(e.w, text+"\n")
}
