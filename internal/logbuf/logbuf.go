// Package logbuf is the bounded line store behind the aggregation server.
//
// A Buffer is not safe for concurrent use; its owner serializes access.
package logbuf

import (
	"sort"
	"time"
)

// Line is one stored, already rendered line. Timestamp is milliseconds since
// the Unix epoch with sub-millisecond precision.
type Line struct {
	Text      string
	Raw       string
	HTML      string
	Timestamp float64
}

// Now returns the current time in the Line timestamp unit.
func Now() float64 {
	return Millis(time.Now())
}

func Millis(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Millisecond)
}

// Buffer keeps at most Cap lines in arrival order, dropping the oldest on
// overflow. Storage is a fixed ring; nothing is reordered in place.
type Buffer struct {
	lines []Line
	start int
	size  int
}

// New returns a buffer holding up to capacity lines. A non-positive capacity
// is treated as 1.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{lines: make([]Line, capacity)}
}

func (b *Buffer) Cap() int { return len(b.lines) }
func (b *Buffer) Len() int { return b.size }

// Append stores line, evicting the single oldest entry when full. It reports
// whether an entry was evicted.
func (b *Buffer) Append(line Line) (evicted bool) {
	n := len(b.lines)
	if b.size < n {
		b.lines[(b.start+b.size)%n] = line
		b.size++
		return false
	}
	b.lines[b.start] = line
	b.start = (b.start + 1) % n
	return true
}

// Entries returns a copy of the stored lines in arrival order.
func (b *Buffer) Entries() []Line {
	out := make([]Line, b.size)
	n := len(b.lines)
	for i := 0; i < b.size; i++ {
		out[i] = b.lines[(b.start+i)%n]
	}
	return out
}

// Snapshot returns a copy of the stored lines sorted by timestamp. Lines with
// equal timestamps keep arrival order.
func (b *Buffer) Snapshot() []Line {
	out := b.Entries()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// Tail returns the newest k lines of Snapshot.
func (b *Buffer) Tail(k int) []Line {
	out := b.Snapshot()
	if k >= 0 && len(out) > k {
		out = out[len(out)-k:]
	}
	return out
}

func (b *Buffer) Clear() {
	for i := range b.lines {
		b.lines[i] = Line{}
	}
	b.start = 0
	b.size = 0
}
