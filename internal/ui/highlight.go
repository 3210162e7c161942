package ui

import (
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Highlighter colors single lines of source for diff display.
type Highlighter struct {
	lexer chroma.Lexer
	style *chroma.Style
}

const highlightStyle = "monokai"

// NewHighlighter picks a lexer from the file name, or returns nil when
// none matches. A nil Highlighter passes lines through unchanged.
func NewHighlighter(path string) *Highlighter {
	lexer := lexers.Match(path)
	if lexer == nil {
		return nil
	}
	// styles.Get falls back to a default style for unknown names.
	return &Highlighter{lexer: chroma.Coalesce(lexer), style: styles.Get(highlightStyle)}
}

// HighlightLine colors line with 24-bit escapes. When bg is set every
// token is painted on that background.
func (h *Highlighter) HighlightLine(line string, bg *[3]int) string {
	if h == nil {
		return line
	}
	tokens, err := h.lexer.Tokenise(nil, line)
	if err != nil {
		return line
	}
	var out strings.Builder
	for tok := tokens(); tok != chroma.EOF; tok = tokens() {
		text := strings.TrimRight(tok.Value, "\n")
		if text == "" {
			continue
		}
		if codes := sgr(h.style.Get(tok.Type), bg); codes != "" {
			out.WriteString("\x1b[" + codes + "m" + text + "\x1b[0m")
			continue
		}
		out.WriteString(text)
	}
	return out.String()
}

// sgr returns the SGR parameters for a style entry.
func sgr(e chroma.StyleEntry, bg *[3]int) string {
	var codes []string
	if bg != nil {
		codes = append(codes, fmt.Sprintf("48;2;%d;%d;%d", bg[0], bg[1], bg[2]))
	}
	if c := e.Colour; c.IsSet() {
		codes = append(codes, fmt.Sprintf("38;2;%d;%d;%d", c.Red(), c.Green(), c.Blue()))
	}
	if e.Bold == chroma.Yes {
		codes = append(codes, "1")
	}
	if e.Italic == chroma.Yes {
		codes = append(codes, "3")
	}
	return strings.Join(codes, ";")
}
