// Package chat is the interactive bubbletea front end for a chat.Controller.
package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	xchat "github.com/x-cli-team/x-cli-sub003/internal/chat"
	"github.com/x-cli-team/x-cli-sub003/internal/confirm"
	"github.com/x-cli-team/x-cli-sub003/internal/llm"
	"github.com/x-cli-team/x-cli-sub003/internal/ui"
)

// Options configures the chat model.
type Options struct {
	ModelName string
	// Preview describes a tool call in one line.
	Preview func(llm.ToolCall) string
	Styles  *ui.Styles
	// Color enables colored diffs in confirmation prompts.
	Color bool
	// OnCycleDone is called with the outcome of every submitted cycle.
	OnCycleDone func(error)
}

// Model is the main chat TUI model
type Model struct {
	width  int
	height int

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model
	styles   *ui.Styles
	keyMap   KeyMap
	renderer *ui.EntryRenderer

	ctx       context.Context
	ctrl      *xchat.Controller
	modelName string
	color     bool
	onDone    func(error)

	indicators map[string]xchat.Indicator
	prompt     *confirmRequestMsg
	cache      *renderCache

	ready       bool
	quitting    bool
	unsubscribe func()
}

// transcriptMsg signals that the transcript changed; the view reads a
// fresh snapshot.
type transcriptMsg struct{}

type indicatorsMsg map[string]xchat.Indicator

type cycleDoneMsg struct{ err error }

// New creates the chat model for ctrl.
func New(ctx context.Context, ctrl *xchat.Controller, opts Options) *Model {
	styles := opts.Styles
	if styles == nil {
		styles = ui.DefaultStyles()
	}

	ta := textarea.New()
	ta.Placeholder = "Ask anything... (enter to send, ctrl+j for newline)"
	ta.ShowLineNumbers = false
	ta.Prompt = ui.PromptIcon + " "
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	return &Model{
		viewport:  viewport.New(80, 20),
		textarea:  ta,
		spinner:   sp,
		styles:    styles,
		keyMap:    DefaultKeyMap(),
		ctx:       ctx,
		ctrl:      ctrl,
		modelName: opts.ModelName,
		color:     opts.Color,
		onDone:    opts.OnCycleDone,
		renderer: &ui.EntryRenderer{
			Styles:   styles,
			Width:    80,
			Markdown: true,
			Preview:  opts.Preview,
		},
		indicators: ctrl.Store().Snapshot(),
		cache:      newRenderCache(),
	}
}

// Attach subscribes the model to transcript and indicator changes,
// delivering them through send.
func (m *Model) Attach(send func(tea.Msg)) {
	m.ctrl.Transcript().OnChange(func(xchat.Change) { send(transcriptMsg{}) })
	m.unsubscribe = m.ctrl.Store().Subscribe(func(s map[string]xchat.Indicator) {
		send(indicatorsMsg(s))
	})
}

// Detach removes the indicator subscription.
func (m *Model) Detach() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.textarea.SetWidth(m.width)
		m.renderer.Width = m.width - 2
		m.cache.reset()
		m.layout()
		m.refresh(true)
		m.ready = true
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case transcriptMsg:
		m.refresh(false)
		return m, nil

	case indicatorsMsg:
		m.indicators = msg
		m.layout()
		return m, nil

	case confirmRequestMsg:
		m.prompt = &msg
		m.layout()
		return m, nil

	case confirmDismissMsg:
		if m.prompt != nil && m.prompt.reply == msg.reply {
			m.prompt = nil
			m.layout()
		}
		return m, nil

	case cycleDoneMsg:
		if m.onDone != nil {
			m.onDone(msg.err)
		}
		m.refresh(false)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keyMap.Quit) {
		m.quitting = true
		m.ctrl.Cancel()
		if m.prompt != nil {
			m.answer(confirm.Reject)
		}
		return m, tea.Quit
	}

	if m.prompt != nil {
		switch {
		case key.Matches(msg, m.keyMap.Approve):
			m.answer(confirm.Approve)
		case key.Matches(msg, m.keyMap.ApproveAlways):
			m.answer(confirm.ApproveAlways)
		case key.Matches(msg, m.keyMap.Reject):
			m.answer(confirm.Reject)
		case key.Matches(msg, m.keyMap.Cancel):
			// No reply: the confirmer returns once the cycle context is done.
			m.ctrl.Cancel()
			m.prompt = nil
			m.layout()
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keyMap.Cancel):
		m.ctrl.Cancel()
		return m, nil
	case key.Matches(msg, m.keyMap.PageUp):
		m.viewport.HalfViewUp()
		return m, nil
	case key.Matches(msg, m.keyMap.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	case key.Matches(msg, m.keyMap.Newline):
		m.textarea.InsertString("\n")
		m.layout()
		return m, nil
	case key.Matches(msg, m.keyMap.Send):
		return m, m.send()
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

// send submits the input. While a cycle runs the input is kept and the
// controller's busy error is shown instead.
func (m *Model) send() tea.Cmd {
	text := strings.TrimSpace(m.textarea.Value())
	if text == "" {
		return nil
	}
	done, err := m.ctrl.SubmitAsync(m.ctx, text)
	if err != nil {
		if errors.Is(err, xchat.ErrBusy) {
			m.indicators = withNotification(m.indicators, "Still working; press esc to cancel", xchat.LevelWarn)
		}
		return nil
	}
	m.textarea.Reset()
	m.layout()
	return func() tea.Msg {
		return cycleDoneMsg{err: <-done}
	}
}

func (m *Model) answer(d confirm.Decision) {
	if m.prompt == nil {
		return
	}
	select {
	case m.prompt.reply <- d:
	default:
	}
	m.prompt = nil
	m.layout()
}

// refresh re-renders the transcript, following the tail unless the user
// has scrolled up.
func (m *Model) refresh(force bool) {
	atBottom := m.viewport.AtBottom() || force
	m.viewport.SetContent(m.cache.render(m.renderer, m.ctrl.Transcript().Snapshot()))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func withNotification(in map[string]xchat.Indicator, msg string, level xchat.Level) map[string]xchat.Indicator {
	out := make(map[string]xchat.Indicator, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	out[xchat.KeyNotification] = xchat.Indicator{Kind: xchat.IndicatorNotification, Message: msg, Level: level}
	return out
}

// Run starts the TUI and blocks until the user quits. The controller is
// torn down before Run returns.
func Run(ctx context.Context, ctrl *xchat.Controller, gate *confirm.Gate, opts Options) error {
	m := New(ctx, ctrl, opts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	m.Attach(p.Send)
	if gate != nil {
		gate.SetConfirmer(NewConfirmer(p.Send))
	}
	if err := ctrl.OnStart(ctx); err != nil {
		return err
	}

	_, err := p.Run()
	m.Detach()
	teardownErr := ctrl.OnTeardown()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		err = nil
	}
	if err != nil {
		return err
	}
	return teardownErr
}
