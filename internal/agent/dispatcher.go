package agent

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/x-cli-team/x-cli-sub003/internal/confirm"
	"github.com/x-cli-team/x-cli-sub003/internal/llm"
	"github.com/x-cli-team/x-cli-sub003/internal/tools"
)

// DefaultToolConcurrency bounds how many tools of one batch run at once.
const DefaultToolConcurrency = 4

// Gate decides whether a side-effecting call may run.
type Gate interface {
	Request(ctx context.Context, req confirm.Request) (confirm.Decision, error)
}

// Dispatcher runs one batch of tool calls. Calls that need confirmation are
// gated one at a time in batch order; approved calls run concurrently up to
// the configured limit.
type Dispatcher struct {
	exec   tools.Executor
	pre    tools.Prechecker
	gate   Gate
	limit  int
	logger *slog.Logger
}

// NewDispatcher builds a dispatcher. If exec also implements
// tools.Prechecker, calls are gated before they start. gate may be nil, in
// which case every gated call is rejected.
func NewDispatcher(exec tools.Executor, gate Gate, limit int, logger *slog.Logger) *Dispatcher {
	if limit <= 0 {
		limit = DefaultToolConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{exec: exec, gate: gate, limit: limit, logger: logger}
	if pre, ok := exec.(tools.Prechecker); ok {
		d.pre = pre
	}
	return d
}

// rejected is the result recorded for a call the user declined.
func rejected() tools.Result {
	return tools.Failed(tools.NewToolError(tools.ErrPermissionDenied, "the user rejected this operation"))
}

// Dispatch executes calls and returns their results in batch order.
// onResult is called once per completed call, serialized, in completion
// order. On cancellation the remaining calls are discarded and ctx's error
// is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []llm.ToolCall, onResult func(llm.ToolCall, tools.Result)) ([]tools.Result, error) {
	results := make([]tools.Result, len(calls))
	var mu sync.Mutex
	deliver := func(i int, res tools.Result) {
		mu.Lock()
		defer mu.Unlock()
		results[i] = res
		if onResult != nil {
			onResult(calls[i], res)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.limit)

	for i, call := range calls {
		approved := false
		if d.pre != nil {
			if details, gated := d.pre.Precheck(call); gated {
				decision, err := d.confirm(gctx, call, details)
				if err != nil {
					_ = g.Wait()
					return results, err
				}
				if !decision.Approved() {
					deliver(i, rejected())
					continue
				}
				approved = true
			}
		}

		g.Go(func() error {
			res, err := d.execute(gctx, call, approved)
			if err != nil {
				return err
			}
			deliver(i, res)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

func (d *Dispatcher) execute(ctx context.Context, call llm.ToolCall, approved bool) (tools.Result, error) {
	runCtx := ctx
	if approved {
		runCtx = tools.WithApproval(ctx)
	}
	res, err := d.exec.Execute(runCtx, call)
	if err != nil {
		return tools.Result{}, err
	}
	if !res.RequiresConfirmation {
		return res, nil
	}
	if approved {
		// The executor asked again despite the approval; do not loop.
		d.logger.Warn("tool requested confirmation after approval", "tool", call.Name, "call_id", call.ID)
		return rejected(), nil
	}

	// Late confirmation: the tool only discovered the need while running.
	decision, err := d.confirm(ctx, call, res.Confirmation)
	if err != nil {
		return tools.Result{}, err
	}
	if !decision.Approved() {
		return rejected(), nil
	}
	res, err = d.exec.Execute(tools.WithApproval(ctx), call)
	if err != nil {
		return tools.Result{}, err
	}
	if res.RequiresConfirmation {
		return rejected(), nil
	}
	return res, nil
}

func (d *Dispatcher) confirm(ctx context.Context, call llm.ToolCall, details *tools.ConfirmationDetails) (confirm.Decision, error) {
	if d.gate == nil {
		d.logger.Warn("no confirmation gate, rejecting", "tool", call.Name, "call_id", call.ID)
		return confirm.Reject, nil
	}
	req := confirm.Request{Call: call}
	if details != nil {
		req.Details = *details
	} else {
		req.Details = tools.ConfirmationDetails{Tool: call.Name, Operation: call.Name}
	}
	decision, err := d.gate.Request(ctx, req)
	if err != nil {
		return confirm.Reject, err
	}
	d.logger.Debug("tool call decision", "tool", call.Name, "call_id", call.ID, "decision", decision.String())
	return decision, nil
}
