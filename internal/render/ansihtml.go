package render

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"teemux/internal/sanitize"
)

var sgrPattern = regexp.MustCompile(`\x1b\[([0-9;]*)m`)

var basePalette = [16]string{
	"#000", "#A00", "#0A0", "#A50", "#00A", "#A0A", "#0AA", "#AAA",
	"#555", "#F55", "#5F5", "#FF5", "#55F", "#F5F", "#5FF", "#FFF",
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// EscapeHTML escapes text for use in element content and quoted attributes.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

type sgrState struct {
	fg, bg    string
	bold      bool
	faint     bool
	italic    bool
	underline bool
}

func (s sgrState) style() string {
	var parts []string
	if s.fg != "" {
		parts = append(parts, "color:"+s.fg)
	}
	if s.bg != "" {
		parts = append(parts, "background-color:"+s.bg)
	}
	if s.bold {
		parts = append(parts, "font-weight:bold")
	}
	if s.faint {
		parts = append(parts, "opacity:0.5")
	}
	if s.italic {
		parts = append(parts, "font-style:italic")
	}
	if s.underline {
		parts = append(parts, "text-decoration:underline")
	}
	return strings.Join(parts, ";")
}

// ANSIToHTML converts SGR color sequences into styled spans and escapes the
// remaining text. Escape sequences other than SGR are dropped.
func ANSIToHTML(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 32)
	var st sgrState
	emit := func(seg string) {
		seg = sanitize.StripColorCodes(seg)
		if seg == "" {
			return
		}
		seg = EscapeHTML(seg)
		if style := st.style(); style != "" {
			b.WriteString(`<span style="`)
			b.WriteString(style)
			b.WriteString(`">`)
			b.WriteString(seg)
			b.WriteString("</span>")
			return
		}
		b.WriteString(seg)
	}
	last := 0
	for _, m := range sgrPattern.FindAllStringSubmatchIndex(text, -1) {
		emit(text[last:m[0]])
		st = st.apply(text[m[2]:m[3]])
		last = m[1]
	}
	emit(text[last:])
	return b.String()
}

func (s sgrState) apply(params string) sgrState {
	if params == "" {
		return sgrState{}
	}
	codes := strings.Split(params, ";")
	for i := 0; i < len(codes); i++ {
		n, err := strconv.Atoi(codes[i])
		if err != nil {
			continue
		}
		switch {
		case n == 0:
			s = sgrState{}
		case n == 1:
			s.bold = true
		case n == 2:
			s.faint = true
		case n == 3:
			s.italic = true
		case n == 4:
			s.underline = true
		case n == 22:
			s.bold, s.faint = false, false
		case n == 23:
			s.italic = false
		case n == 24:
			s.underline = false
		case n >= 30 && n <= 37:
			s.fg = basePalette[n-30]
		case n >= 90 && n <= 97:
			s.fg = basePalette[n-90+8]
		case n == 39:
			s.fg = ""
		case n >= 40 && n <= 47:
			s.bg = basePalette[n-40]
		case n >= 100 && n <= 107:
			s.bg = basePalette[n-100+8]
		case n == 49:
			s.bg = ""
		case n == 38 || n == 48:
			color, used := extendedColor(codes[i+1:])
			i += used
			if color == "" {
				continue
			}
			if n == 38 {
				s.fg = color
			} else {
				s.bg = color
			}
		}
	}
	return s
}

// extendedColor decodes the arguments following a 38/48 selector and reports
// how many of them it consumed.
func extendedColor(args []string) (string, int) {
	if len(args) == 0 {
		return "", 0
	}
	switch args[0] {
	case "5":
		if len(args) < 2 {
			return "", len(args)
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 || n > 255 {
			return "", 2
		}
		return xterm256(n), 2
	case "2":
		if len(args) < 4 {
			return "", len(args)
		}
		rgb := [3]int{}
		for i := range rgb {
			v, err := strconv.Atoi(args[1+i])
			if err != nil || v < 0 || v > 255 {
				return "", 4
			}
			rgb[i] = v
		}
		return fmt.Sprintf("#%02x%02x%02x", rgb[0], rgb[1], rgb[2]), 4
	}
	return "", 1
}

func xterm256(n int) string {
	switch {
	case n < 16:
		return basePalette[n]
	case n < 232:
		n -= 16
		level := func(v int) int {
			if v == 0 {
				return 0
			}
			return v*40 + 55
		}
		return fmt.Sprintf("#%02x%02x%02x", level(n/36), level(n/6%6), level(n%6))
	default:
		g := (n-232)*10 + 8
		return fmt.Sprintf("#%02x%02x%02x", g, g, g)
	}
}
