package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	xchat "github.com/x-cli-team/x-cli-sub003/internal/chat"
	"github.com/x-cli-team/x-cli-sub003/internal/ui"
)

// renderCache keeps rendered finalized entries so markdown is rendered
// once per entry rather than on every streaming delta.
type renderCache struct {
	entries map[string]cachedEntry
}

type cachedEntry struct {
	kind    xchat.Kind
	content string
	out     string
}

func newRenderCache() *renderCache {
	return &renderCache{entries: make(map[string]cachedEntry)}
}

func (c *renderCache) reset() {
	c.entries = make(map[string]cachedEntry)
}

func (c *renderCache) render(r *ui.EntryRenderer, entries []xchat.Entry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		var out string
		if cached, ok := c.entries[e.ID]; ok && cached.kind == e.Kind && cached.content == e.Content && !e.IsStreaming {
			out = cached.out
		} else {
			out = r.Render(e)
			if !e.IsStreaming {
				c.entries[e.ID] = cachedEntry{kind: e.Kind, content: e.Content, out: out}
			}
		}
		if out != "" {
			parts = append(parts, out)
		}
	}
	return strings.Join(parts, "\n\n")
}

// View renders the model
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if m.prompt != nil {
		b.WriteString(m.renderPrompt())
		b.WriteString("\n")
	}
	b.WriteString(m.renderStatusLine())
	b.WriteString("\n")
	if m.prompt == nil {
		b.WriteString(m.textarea.View())
	}
	return b.String()
}

// layout sizes the viewport to whatever the surrounding chrome leaves.
func (m *Model) layout() {
	if m.width == 0 {
		return
	}
	chrome := lipgloss.Height(m.renderHeader()) + lipgloss.Height(m.renderStatusLine()) + 2
	if m.prompt != nil {
		chrome += lipgloss.Height(m.renderPrompt())
	} else {
		chrome += m.textarea.Height()
	}
	h := m.height - chrome
	if h < 3 {
		h = 3
	}
	m.viewport.Width = m.width
	m.viewport.Height = h
}

func (m *Model) renderHeader() string {
	title := m.styles.Title.Render("x-cli")
	if m.modelName != "" {
		title += m.styles.Muted.Render(" · " + m.modelName)
	}
	return title
}

func (m *Model) renderStatusLine() string {
	if ind, ok := m.indicators[xchat.KeyNotification]; ok && ind.Message != "" {
		style := m.styles.Muted
		switch ind.Level {
		case xchat.LevelError:
			style = m.styles.Error
		case xchat.LevelWarn:
			style = m.styles.Warning
		}
		return style.Render(ui.Truncate(ind.Message, m.width))
	}
	if ind, ok := m.indicators[xchat.KeySpinner]; ok {
		return m.spinner.View() + " " + m.styles.Muted.Render(ind.Message) + m.styles.Footer.Render("  esc to cancel")
	}
	usage := m.ctrl.Usage()
	if usage.InputTokens > 0 || usage.OutputTokens > 0 {
		return m.styles.Footer.Render(fmt.Sprintf("tokens: %d in / %d out", usage.InputTokens, usage.OutputTokens))
	}
	return m.styles.Footer.Render("enter send · ctrl+j newline · ctrl+c quit")
}

func (m *Model) renderPrompt() string {
	d := m.prompt.req.Details
	var body strings.Builder
	body.WriteString(m.styles.Bold.Render("Allow " + d.Tool + "?"))
	body.WriteString("\n")
	switch {
	case d.Command != "":
		body.WriteString("$ " + d.Command)
	case d.Preview != "":
		body.WriteString(d.Preview)
	}
	if d.Diff != "" {
		diff := ui.RenderDiff(d.Path, d.Diff, m.color)
		lines := strings.Split(diff, "\n")
		maxLines := m.height / 2
		if maxLines < 5 {
			maxLines = 5
		}
		if len(lines) > maxLines {
			lines = append(lines[:maxLines], m.styles.Muted.Render(fmt.Sprintf("… %d more lines", len(lines)-maxLines)))
		}
		body.WriteString("\n")
		body.WriteString(strings.Join(lines, "\n"))
	}
	body.WriteString("\n\n")
	body.WriteString(m.styles.Muted.Render("[y] approve  [a] always  [n] reject  [esc] cancel"))

	width := m.width - 4
	if width < 20 {
		width = 20
	}
	return m.styles.PromptBox.Width(width).Render(body.String())
}
