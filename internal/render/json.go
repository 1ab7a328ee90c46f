package render

import (
	"encoding/json"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"

	"teemux/internal/sanitize"
)

// CSS classes used by the viewer for JSON structure.
const (
	ClassJSONKey    = "json-key"
	ClassJSONString = "json-string"
	ClassJSONNumber = "json-number"
	ClassJSONBool   = "json-bool"
)

var jsonLexer = lexers.Get("json")

// TagJSON returns body rendered with JSON structure tagging when its stripped,
// trimmed content is a complete JSON object or array. ok is false otherwise
// and nothing is tagged.
func TagJSON(body string) (html string, ok bool) {
	content := strings.TrimSpace(sanitize.StripColorCodes(body))
	if content == "" || (content[0] != '{' && content[0] != '[') {
		return "", false
	}
	if !json.Valid([]byte(content)) {
		return "", false
	}
	if jsonLexer == nil {
		return "", false
	}
	it, err := jsonLexer.Tokenise(nil, content)
	if err != nil {
		return "", false
	}
	var b strings.Builder
	b.Grow(len(content) * 2)
	for _, tok := range it.Tokens() {
		class := jsonClass(tok.Type)
		value := EscapeHTML(tok.Value)
		if class == "" {
			b.WriteString(value)
			continue
		}
		b.WriteString(`<span class="`)
		b.WriteString(class)
		b.WriteString(`">`)
		b.WriteString(value)
		b.WriteString("</span>")
	}
	return strings.TrimRight(b.String(), "\n"), true
}

func jsonClass(t chroma.TokenType) string {
	switch {
	case t == chroma.NameTag:
		return ClassJSONKey
	case t == chroma.KeywordConstant:
		return ClassJSONBool
	case t.InSubCategory(chroma.LiteralNumber):
		return ClassJSONNumber
	case t.InSubCategory(chroma.LiteralString):
		return ClassJSONString
	}
	return ""
}
