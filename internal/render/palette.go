package render

import "sync"

const (
	Reset = "\x1b[0m"
	Dim   = "\x1b[90m"
	Red   = "\x1b[91m"
)

// Colors is the fixed rotation of per-source name colors.
var Colors = [...]string{
	"\x1b[36m",
	"\x1b[33m",
	"\x1b[32m",
	"\x1b[35m",
	"\x1b[34m",
	"\x1b[91m",
	"\x1b[92m",
	"\x1b[93m",
}

// Palette assigns each source name a color on first use and keeps it for the
// palette's lifetime.
type Palette struct {
	mu     sync.Mutex
	colors map[string]string
	next   int
}

func NewPalette() *Palette {
	return &Palette{colors: make(map[string]string)}
}

func (p *Palette) Color(name string) string {
	if p == nil {
		return Colors[0]
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.colors == nil {
		p.colors = make(map[string]string)
	}
	if c, ok := p.colors[name]; ok {
		return c
	}
	c := Colors[p.next%len(Colors)]
	p.next++
	p.colors[name] = c
	return c
}

// Len returns how many names have been assigned a color.
func (p *Palette) Len() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.colors)
}
