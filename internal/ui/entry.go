package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/x-cli-team/x-cli-sub003/internal/chat"
	"github.com/x-cli-team/x-cli-sub003/internal/llm"
)

// maxResultLines caps tool output shown inline; the model sees all of it.
const maxResultLines = 8

// EntryRenderer turns transcript entries into terminal text.
type EntryRenderer struct {
	Styles   *Styles
	Width    int
	Markdown bool
	// Preview describes a tool call in one line; defaults to the tool name.
	Preview func(llm.ToolCall) string
}

// Render formats one entry. Streaming assistant text is left raw so
// partial markdown does not jump around while it grows.
func (r *EntryRenderer) Render(e chat.Entry) string {
	s := r.Styles
	switch e.Kind {
	case chat.KindUser:
		return s.UserMsg.Render(PromptIcon + " " + e.Content)
	case chat.KindAssistant:
		if e.IsError {
			return s.Error.Render(e.Content)
		}
		if r.Markdown && !e.IsStreaming {
			return RenderMarkdown(e.Content, r.width())
		}
		return ansi.Wordwrap(e.Content, r.width(), "")
	case chat.KindToolCall:
		if e.ToolCall == nil {
			return ""
		}
		return s.Muted.Render(PendingIcon+" ") + r.callLabel(e)
	case chat.KindToolResult:
		return r.renderResult(e)
	}
	return ""
}

// RenderAll joins rendered entries with blank lines between them.
func (r *EntryRenderer) RenderAll(entries []chat.Entry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if out := r.Render(e); out != "" {
			parts = append(parts, out)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (r *EntryRenderer) callLabel(e chat.Entry) string {
	if e.ToolCall == nil {
		return ""
	}
	name := r.Styles.ToolName.Render(e.ToolCall.Name)
	preview := e.ToolCall.Name
	if r.Preview != nil {
		preview = r.Preview(*e.ToolCall)
	}
	if preview == "" || preview == e.ToolCall.Name {
		return name
	}
	return name + " " + Truncate(preview, r.width()-ansi.StringWidth(e.ToolCall.Name)-3)
}

func (r *EntryRenderer) renderResult(e chat.Entry) string {
	s := r.Styles
	head := s.FormatResult(!e.IsError, r.callLabel(e))
	body := strings.TrimRight(e.Content, "\n")
	if body == "" {
		return head
	}
	lines := strings.Split(body, "\n")
	if len(lines) > maxResultLines {
		more := len(lines) - maxResultLines
		lines = append(lines[:maxResultLines], fmt.Sprintf("… %d more lines", more))
	}
	for i, line := range lines {
		lines[i] = "  " + Truncate(line, r.width()-2)
	}
	style := s.Muted
	if e.IsError {
		style = s.Error
	}
	return head + "\n" + style.Render(strings.Join(lines, "\n"))
}

func (r *EntryRenderer) width() int {
	if r.Width <= 0 {
		return 80
	}
	return r.Width
}
