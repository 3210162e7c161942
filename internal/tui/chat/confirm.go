package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/x-cli-team/x-cli-sub003/internal/confirm"
)

// confirmRequestMsg asks the model to show the confirmation prompt.
type confirmRequestMsg struct {
	req   confirm.Request
	reply chan confirm.Decision
}

// confirmDismissMsg removes a prompt whose request was cancelled.
type confirmDismissMsg struct {
	reply chan confirm.Decision
}

// Confirmer routes gate requests into the bubbletea program and waits for
// the user's key press.
type Confirmer struct {
	send func(tea.Msg)
}

var _ confirm.Confirmer = (*Confirmer)(nil)

// NewConfirmer creates a confirmer that delivers prompts with send,
// normally (*tea.Program).Send.
func NewConfirmer(send func(tea.Msg)) *Confirmer {
	return &Confirmer{send: send}
}

func (c *Confirmer) RequestConfirmation(ctx context.Context, req confirm.Request) (confirm.Decision, error) {
	reply := make(chan confirm.Decision, 1)
	c.send(confirmRequestMsg{req: req, reply: reply})
	select {
	case d := <-reply:
		return d, nil
	case <-ctx.Done():
		c.send(confirmDismissMsg{reply: reply})
		return confirm.Reject, ctx.Err()
	}
}
