// Package confirm serializes user confirmation of side-effecting tool calls.
package confirm

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/x-cli-team/x-cli-sub003/internal/llm"
	"github.com/x-cli-team/x-cli-sub003/internal/tools"
)

// ErrClosed is returned by Request after Close.
var ErrClosed = errors.New("confirmation gate closed")

// State is the gate's interaction state.
type State int

const (
	StateIdle State = iota
	StateAwaitingDecision
)

func (s State) String() string {
	if s == StateAwaitingDecision {
		return "awaiting_decision"
	}
	return "idle"
}

// Decision is the user's answer to a confirmation request.
type Decision int

const (
	Reject Decision = iota
	Approve
	// ApproveAlways approves and remembers the operation for the session.
	ApproveAlways
)

func (d Decision) String() string {
	switch d {
	case Approve:
		return "approve"
	case ApproveAlways:
		return "approve_always"
	default:
		return "reject"
	}
}

// Approved reports whether the decision allows the call to run.
func (d Decision) Approved() bool {
	return d == Approve || d == ApproveAlways
}

// Request pairs a tool call with the operation it would perform.
type Request struct {
	Call    llm.ToolCall
	Details tools.ConfirmationDetails
}

// Confirmer asks the user to decide on a request. Implementations should
// return promptly when ctx is done.
type Confirmer interface {
	RequestConfirmation(ctx context.Context, req Request) (Decision, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, req Request) (Decision, error)

func (f ConfirmerFunc) RequestConfirmation(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}

// Options configures a Gate.
type Options struct {
	// RequireConfirmation false auto-approves every request.
	RequireConfirmation bool
	ShellAllow          []string
	Logger              *slog.Logger
}

// Gate allows at most one outstanding confirmation at a time.
type Gate struct {
	// sem is the prompt lock; a channel so waiting honours ctx.
	sem       chan struct{}
	cache     *approvalCache
	allowlist *Allowlist
	require   bool
	logger    *slog.Logger

	mu        sync.Mutex
	confirmer Confirmer
	state     State
	pending   *Request
	listeners []func(State, *Request)
	closed    bool
}

func NewGate(confirmer Confirmer, opts Options) (*Gate, error) {
	allow, err := NewAllowlist(opts.ShellAllow)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		sem:       make(chan struct{}, 1),
		cache:     newApprovalCache(),
		allowlist: allow,
		require:   opts.RequireConfirmation,
		logger:    logger,
		confirmer: confirmer,
	}, nil
}

// SetConfirmer replaces the UI confirmer.
func (g *Gate) SetConfirmer(c Confirmer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmer = c
}

// OnStateChange registers a listener called on every state transition.
func (g *Gate) OnStateChange(fn func(State, *Request)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Pending returns the request awaiting a decision, if any.
func (g *Gate) Pending() *Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return nil
	}
	req := *g.pending
	return &req
}

// Close rejects all future requests.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
}

// Request returns the user's decision for req, consulting the session
// cache and shell allowlist first.
func (g *Gate) Request(ctx context.Context, req Request) (Decision, error) {
	if g.isClosed() {
		return Reject, ErrClosed
	}
	if d, ok := g.decideWithoutPrompt(req); ok {
		return d, nil
	}

	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return Reject, ctx.Err()
	}
	defer func() { <-g.sem }()

	// Recheck now that we hold the prompt lock; an earlier prompt may have
	// answered "always" for this operation.
	if d, ok := g.decideWithoutPrompt(req); ok {
		return d, nil
	}
	if g.isClosed() {
		return Reject, ErrClosed
	}

	g.mu.Lock()
	confirmer := g.confirmer
	g.mu.Unlock()
	if confirmer == nil {
		g.logger.Warn("no confirmer attached, rejecting", "tool", req.Details.Tool, "call_id", req.Call.ID)
		return Reject, nil
	}

	g.setState(StateAwaitingDecision, &req)
	defer g.setState(StateIdle, nil)

	type answer struct {
		d   Decision
		err error
	}
	done := make(chan answer, 1)
	go func() {
		d, err := confirmer.RequestConfirmation(ctx, req)
		done <- answer{d, err}
	}()

	select {
	case <-ctx.Done():
		return Reject, ctx.Err()
	case a := <-done:
		if a.err != nil {
			if ctx.Err() != nil {
				return Reject, ctx.Err()
			}
			return Reject, a.err
		}
		if a.d == ApproveAlways {
			g.cache.add(req.Details.Tool, req.Details.Operation)
		}
		g.logger.Debug("confirmation decided", "tool", req.Details.Tool, "call_id", req.Call.ID, "decision", a.d.String())
		return a.d, nil
	}
}

func (g *Gate) decideWithoutPrompt(req Request) (Decision, bool) {
	if !g.require {
		return Approve, true
	}
	if g.cache.has(req.Details.Tool, req.Details.Operation) {
		return ApproveAlways, true
	}
	if req.Details.Tool == tools.ShellToolName && g.allowlist.Match(req.Details.Command) {
		return Approve, true
	}
	return Reject, false
}

func (g *Gate) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

func (g *Gate) setState(s State, req *Request) {
	g.mu.Lock()
	g.state = s
	g.pending = req
	listeners := append([]func(State, *Request){}, g.listeners...)
	g.mu.Unlock()
	for _, fn := range listeners {
		fn(s, req)
	}
}
