package agent

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-cli-team/x-cli-sub003/internal/confirm"
	"github.com/x-cli-team/x-cli-sub003/internal/llm"
	"github.com/x-cli-team/x-cli-sub003/internal/testutil"
	"github.com/x-cli-team/x-cli-sub003/internal/tools"
)

func newGate(t *testing.T, fn func(ctx context.Context, req confirm.Request) (confirm.Decision, error)) *confirm.Gate {
	t.Helper()
	g, err := confirm.NewGate(confirm.ConfirmerFunc(fn), confirm.Options{RequireConfirmation: true})
	require.NoError(t, err)
	return g
}

func always(d confirm.Decision) func(context.Context, confirm.Request) (confirm.Decision, error) {
	return func(context.Context, confirm.Request) (confirm.Decision, error) { return d, nil }
}

func registryWith(t *testing.T, ts ...tools.Tool) *tools.Registry {
	t.Helper()
	reg, err := tools.NewRegistry([]string{tools.GlobToolName})
	require.NoError(t, err)
	for _, tool := range ts {
		reg.Register(tool)
	}
	return reg
}

func TestDispatcher_RejectSkipsExecution(t *testing.T) {
	writer := testutil.NewMockToolFunc("mock_write", tools.KindEdit, func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		return tools.OK("written"), nil
	})
	d := NewDispatcher(registryWith(t, writer), newGate(t, always(confirm.Reject)), 2, nil)

	var delivered []string
	results, err := d.Dispatch(context.Background(), []llm.ToolCall{{ID: "c1", Name: "mock_write"}}, func(c llm.ToolCall, r tools.Result) {
		delivered = append(delivered, c.ID)
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "PERMISSION_DENIED")
	assert.Zero(t, writer.Calls())
	assert.Equal(t, []string{"c1"}, delivered)
}

func TestDispatcher_ApprovedCallRuns(t *testing.T) {
	writer := testutil.NewMockToolFunc("mock_write", tools.KindEdit, func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		return tools.OK("written"), nil
	})
	d := NewDispatcher(registryWith(t, writer), newGate(t, always(confirm.Approve)), 2, nil)

	results, err := d.Dispatch(context.Background(), []llm.ToolCall{{ID: "c1", Name: "mock_write"}}, nil)
	require.NoError(t, err)
	assert.True(t, results[0].Success)
	assert.Equal(t, "written", results[0].Output)
	assert.Equal(t, 1, writer.Calls())
}

func TestDispatcher_NilGateRejects(t *testing.T) {
	writer := testutil.NewMockToolFunc("mock_write", tools.KindExecute, func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		return tools.OK("ran"), nil
	})
	d := NewDispatcher(registryWith(t, writer), nil, 1, nil)
	results, err := d.Dispatch(context.Background(), []llm.ToolCall{{ID: "c1", Name: "mock_write"}}, nil)
	require.NoError(t, err)
	assert.False(t, results[0].Success)
	assert.Zero(t, writer.Calls())
}

func TestDispatcher_GatesInBatchOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	gate := newGate(t, func(ctx context.Context, req confirm.Request) (confirm.Decision, error) {
		mu.Lock()
		order = append(order, req.Call.ID)
		mu.Unlock()
		return confirm.Approve, nil
	})
	writer := testutil.NewMockToolFunc("mock_write", tools.KindEdit, func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		return tools.OK("ok"), nil
	})
	d := NewDispatcher(registryWith(t, writer), gate, 4, nil)

	calls := []llm.ToolCall{
		{ID: "a", Name: "mock_write", Arguments: json.RawMessage(`{"n":1}`)},
		{ID: "b", Name: "mock_write", Arguments: json.RawMessage(`{"n":2}`)},
		{ID: "c", Name: "mock_write", Arguments: json.RawMessage(`{"n":3}`)},
	}
	_, err := d.Dispatch(context.Background(), calls, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 3, writer.Calls())
}

func TestDispatcher_BoundsConcurrency(t *testing.T) {
	var active, peak int32
	slow := testutil.NewMockToolFunc("mock_slow", tools.KindRead, func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return tools.OK("done"), nil
	})
	d := NewDispatcher(registryWith(t, slow), nil, 2, nil)

	calls := make([]llm.ToolCall, 6)
	for i := range calls {
		calls[i] = llm.ToolCall{ID: string(rune('a' + i)), Name: "mock_slow"}
	}
	results, err := d.Dispatch(context.Background(), calls, nil)
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Success)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 6, slow.Calls())
}

// lateExecutor needs confirmation only once it has looked at the call.
type lateExecutor struct {
	runs     int32
	approved int32
}

func (e *lateExecutor) Execute(ctx context.Context, call llm.ToolCall) (tools.Result, error) {
	atomic.AddInt32(&e.runs, 1)
	if !tools.HasApproval(ctx) {
		return tools.Result{
			RequiresConfirmation: true,
			Confirmation:         &tools.ConfirmationDetails{Tool: call.Name, Operation: "overwrite"},
		}, nil
	}
	atomic.AddInt32(&e.approved, 1)
	return tools.OK("overwritten"), nil
}

func TestDispatcher_LateConfirmation(t *testing.T) {
	exec := &lateExecutor{}
	var asked int32
	gate := newGate(t, func(ctx context.Context, req confirm.Request) (confirm.Decision, error) {
		atomic.AddInt32(&asked, 1)
		assert.Equal(t, "overwrite", req.Details.Operation)
		return confirm.Approve, nil
	})
	d := NewDispatcher(exec, gate, 1, nil)

	results, err := d.Dispatch(context.Background(), []llm.ToolCall{{ID: "c1", Name: "fs"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "overwritten", results[0].Output)
	assert.EqualValues(t, 1, atomic.LoadInt32(&asked))
	assert.EqualValues(t, 2, atomic.LoadInt32(&exec.runs))
	assert.EqualValues(t, 1, atomic.LoadInt32(&exec.approved))
}

func TestDispatcher_LateConfirmationRejected(t *testing.T) {
	exec := &lateExecutor{}
	d := NewDispatcher(exec, newGate(t, always(confirm.Reject)), 1, nil)

	results, err := d.Dispatch(context.Background(), []llm.ToolCall{{ID: "c1", Name: "fs"}}, nil)
	require.NoError(t, err)
	assert.False(t, results[0].Success)
	assert.Zero(t, atomic.LoadInt32(&exec.approved))
}

func TestDispatcher_CancelDiscardsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gate := newGate(t, func(ctx context.Context, req confirm.Request) (confirm.Decision, error) {
		cancel()
		<-ctx.Done()
		return confirm.Reject, ctx.Err()
	})
	writer := testutil.NewMockToolFunc("mock_write", tools.KindEdit, func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		return tools.OK("ok"), nil
	})
	d := NewDispatcher(registryWith(t, writer), gate, 2, nil)

	calls := []llm.ToolCall{{ID: "a", Name: "mock_write"}, {ID: "b", Name: "mock_write"}}
	_, err := d.Dispatch(ctx, calls, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, writer.Calls())
}
