package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
)

// Theme defines the color palette for the UI
type Theme struct {
	Primary   lipgloss.Color // accents, tool names
	Secondary lipgloss.Color // headers, borders
	Success   lipgloss.Color
	Error     lipgloss.Color
	Warning   lipgloss.Color
	Muted     lipgloss.Color
	Text      lipgloss.Color
	Spinner   lipgloss.Color
	UserMsgBg lipgloss.Color

	// Diff line backgrounds as RGB, used by the highlighter.
	DiffAddBg    [3]int
	DiffRemoveBg [3]int
}

// DefaultTheme returns the default color theme (gruvbox)
func DefaultTheme() *Theme {
	return &Theme{
		Primary:      lipgloss.Color("#b8bb26"),
		Secondary:    lipgloss.Color("#83a598"),
		Success:      lipgloss.Color("#b8bb26"),
		Error:        lipgloss.Color("#fb4934"),
		Warning:      lipgloss.Color("#fabd2f"),
		Muted:        lipgloss.Color("#928374"),
		Text:         lipgloss.Color("#ebdbb2"),
		Spinner:      lipgloss.Color("#d3869b"),
		UserMsgBg:    lipgloss.Color("#3c3836"),
		DiffAddBg:    [3]int{30, 50, 30},
		DiffRemoveBg: [3]int{60, 30, 30},
	}
}

// Status indicators
const (
	SuccessIcon = "✓"
	FailIcon    = "✗"
	PendingIcon = "○"
	PromptIcon  = "❯"
)

// Styles holds lipgloss styles bound to one output.
type Styles struct {
	renderer *lipgloss.Renderer
	theme    *Theme

	Title     lipgloss.Style
	Success   lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Muted     lipgloss.Style
	Bold      lipgloss.Style
	ToolName  lipgloss.Style
	UserMsg   lipgloss.Style
	Spinner   lipgloss.Style
	Footer    lipgloss.Style
	PromptBox lipgloss.Style
}

// NewStyles creates styles for w, detecting its color profile.
func NewStyles(w io.Writer) *Styles {
	return NewStylesWithTheme(w, DefaultTheme())
}

// NewStylesWithTheme creates styles for w using theme.
func NewStylesWithTheme(w io.Writer, theme *Theme) *Styles {
	r := lipgloss.NewRenderer(w)

	return &Styles{
		renderer: r,
		theme:    theme,

		Title: r.NewStyle().
			Bold(true).
			Foreground(theme.Text),
		Success: r.NewStyle().Foreground(theme.Success),
		Error:   r.NewStyle().Foreground(theme.Error),
		Warning: r.NewStyle().Foreground(theme.Warning),
		Muted:   r.NewStyle().Foreground(theme.Muted),
		Bold:    r.NewStyle().Bold(true),
		ToolName: r.NewStyle().
			Bold(true).
			Foreground(theme.Primary),
		UserMsg: r.NewStyle().
			Foreground(theme.Text).
			Background(theme.UserMsgBg).
			Padding(0, 1),
		Spinner: r.NewStyle().Foreground(theme.Spinner),
		Footer:  r.NewStyle().Foreground(theme.Muted),
		PromptBox: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(theme.Warning).
			Padding(0, 1),
	}
}

// DefaultStyles returns styles for stderr.
func DefaultStyles() *Styles {
	return NewStyles(os.Stderr)
}

// Theme returns the theme used by these styles
func (s *Styles) Theme() *Theme {
	return s.theme
}

// Plain reports whether the output has no color support.
func (s *Styles) Plain() bool {
	return s.renderer.ColorProfile() == termenv.Ascii
}

// FormatResult returns a styled success/fail result
func (s *Styles) FormatResult(success bool, msg string) string {
	if success {
		return s.Success.Render(SuccessIcon+" ") + msg
	}
	return s.Error.Render(FailIcon+" ") + msg
}

// ColorEnabled reports whether f is a terminal that should get color.
func ColorEnabled(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return termenv.NewOutput(f).ColorProfile() != termenv.Ascii
}

// Truncate shortens s to maxWidth display cells with an ellipsis.
func Truncate(s string, maxWidth int) string {
	if maxWidth <= 0 || runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

// GlamourStyle builds a markdown style from theme.
func GlamourStyle(theme *Theme) ansi.StyleConfig {
	primary := string(theme.Primary)
	secondary := string(theme.Secondary)
	success := string(theme.Success)
	warning := string(theme.Warning)
	muted := string(theme.Muted)
	text := string(theme.Text)

	return ansi.StyleConfig{
		Document: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{Color: &text},
			Margin:         uintPtr(0),
		},
		BlockQuote: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{Color: &warning, Italic: boolPtr(true)},
			Indent:         uintPtr(2),
		},
		List: ansi.StyleList{
			LevelIndent: 2,
			StyleBlock: ansi.StyleBlock{
				StylePrimitive: ansi.StylePrimitive{Color: &text},
			},
		},
		Heading: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{BlockPrefix: "\n", Color: &secondary, Bold: boolPtr(true)},
		},
		H1:            ansi.StyleBlock{StylePrimitive: ansi.StylePrimitive{Prefix: "# "}},
		H2:            ansi.StyleBlock{StylePrimitive: ansi.StylePrimitive{Prefix: "## "}},
		H3:            ansi.StyleBlock{StylePrimitive: ansi.StylePrimitive{Prefix: "### "}},
		Strikethrough: ansi.StylePrimitive{CrossedOut: boolPtr(true)},
		Emph:          ansi.StylePrimitive{Color: &warning, Italic: boolPtr(true)},
		Strong:        ansi.StylePrimitive{Bold: boolPtr(true), Color: &primary},
		HorizontalRule: ansi.StylePrimitive{
			Color:  &muted,
			Format: "\n--------\n",
		},
		Item:        ansi.StylePrimitive{BlockPrefix: "• "},
		Enumeration: ansi.StylePrimitive{BlockPrefix: ". ", Color: &secondary},
		Link:        ansi.StylePrimitive{Color: &secondary, Underline: boolPtr(true)},
		LinkText:    ansi.StylePrimitive{Color: &primary},
		Code: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{Color: &primary},
		},
		CodeBlock: ansi.StyleCodeBlock{
			StyleBlock: ansi.StyleBlock{
				StylePrimitive: ansi.StylePrimitive{Color: &text},
				Margin:         uintPtr(2),
			},
			Chroma: &ansi.Chroma{
				Text:          ansi.StylePrimitive{Color: &text},
				Comment:       ansi.StylePrimitive{Color: &muted},
				Keyword:       ansi.StylePrimitive{Color: &primary},
				KeywordType:   ansi.StylePrimitive{Color: &secondary},
				NameBuiltin:   ansi.StylePrimitive{Color: &secondary},
				NameFunction:  ansi.StylePrimitive{Color: &success},
				LiteralNumber: ansi.StylePrimitive{Color: &secondary},
				LiteralString: ansi.StylePrimitive{Color: &warning},
				GenericDeleted: ansi.StylePrimitive{
					Color: &muted,
				},
				GenericInserted: ansi.StylePrimitive{Color: &success},
			},
		},
		Table: ansi.StyleTable{
			CenterSeparator: stringPtr("┼"),
			ColumnSeparator: stringPtr("│"),
			RowSeparator:    stringPtr("─"),
		},
	}
}

func boolPtr(b bool) *bool {
	return &b
}

func uintPtr(u uint) *uint {
	return &u
}

func stringPtr(s string) *string {
	return &s
}
