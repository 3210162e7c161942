package ui

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var hunkRe = regexp.MustCompile(`^@@ -(\d+)(?:,\d+)? \+(\d+)(?:,\d+)? @@`)

// RenderDiff formats a unified diff for the terminal with line numbers
// from the new file. With color off the +/- markers carry the meaning.
func RenderDiff(path, diffText string, color bool) string {
	if strings.TrimSpace(diffText) == "" {
		return ""
	}
	var highlighter *Highlighter
	theme := DefaultTheme()
	if color {
		highlighter = NewHighlighter(path)
	}

	lines := strings.Split(strings.TrimRight(diffText, "\n"), "\n")
	width := lineNumberWidth(lines)

	var b strings.Builder
	var newLine, deletionOffset, hunks int
	for _, line := range lines {
		if line == "" || strings.HasPrefix(line, "diff ") ||
			strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ") {
			continue
		}
		content := line[1:]
		switch line[0] {
		case '@':
			if m := hunkRe.FindStringSubmatch(line); m != nil {
				newLine, _ = strconv.Atoi(m[2])
			}
			if hunks > 0 {
				b.WriteString(paint(color, "38;2;100;100;100", strings.Repeat(" ", width)+"  ...") + "\n")
			}
			hunks++
		case '-':
			gutter := fmt.Sprintf("%*d- ", width, newLine+deletionOffset)
			b.WriteString(paint(color, "38;2;160;80;80", gutter) + diffBody(highlighter, content, color, theme.DiffRemoveBg) + "\n")
			deletionOffset++
		case '+':
			deletionOffset = 0
			gutter := fmt.Sprintf("%*d+ ", width, newLine)
			b.WriteString(paint(color, "38;2;80;160;80", gutter) + diffBody(highlighter, content, color, theme.DiffAddBg) + "\n")
			newLine++
		case ' ':
			deletionOffset = 0
			gutter := fmt.Sprintf("%*d  ", width, newLine)
			b.WriteString(paint(color, "38;2;100;100;100", gutter) + highlighter.HighlightLine(content, nil) + "\n")
			newLine++
		default:
			b.WriteString(line + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func diffBody(h *Highlighter, content string, color bool, bg [3]int) string {
	if !color {
		return content
	}
	if h != nil {
		return h.HighlightLine(content, &bg)
	}
	return fmt.Sprintf("\x1b[48;2;%d;%d;%dm%s\x1b[0m", bg[0], bg[1], bg[2], content)
}

func paint(color bool, code, s string) string {
	if !color {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

// lineNumberWidth sizes the gutter from the largest hunk start.
func lineNumberWidth(lines []string) int {
	maxLine := 0
	for _, line := range lines {
		if m := hunkRe.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[2])
			if n > maxLine {
				maxLine = n
			}
		}
	}
	w := len(strconv.Itoa(maxLine + 100))
	if w < 3 {
		w = 3
	}
	return w
}
