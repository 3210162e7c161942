package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockTurn is one scripted model response.
type MockTurn struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
	Err       error
	// Delay is applied before the first event; cancellation interrupts it.
	Delay time.Duration
}

// MockProvider replays scripted turns, one per Stream call, and records the
// requests it receives. It is used by tests across the module.
type MockProvider struct {
	name string

	mu       sync.Mutex
	turns    []MockTurn
	next     int
	Requests []Request
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

func (m *MockProvider) Name() string {
	return m.name
}

// AddTurn appends a scripted turn.
func (m *MockProvider) AddTurn(turn MockTurn) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turn)
	return m
}

// AddTextResponse appends a text-only turn.
func (m *MockProvider) AddTextResponse(text string) *MockProvider {
	return m.AddTurn(MockTurn{Text: text, Usage: Usage{InputTokens: 10, OutputTokens: len(text)}})
}

// AddToolCall appends a turn that requests a single tool call.
func (m *MockProvider) AddToolCall(id, name string, args any) *MockProvider {
	raw, _ := json.Marshal(args)
	return m.AddTurn(MockTurn{ToolCalls: []ToolCall{{ID: id, Name: name, Arguments: raw}}})
}

// AddError appends a turn that fails.
func (m *MockProvider) AddError(err error) *MockProvider {
	return m.AddTurn(MockTurn{Err: err})
}

// Reset clears turns and recorded requests.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = nil
	m.next = 0
	m.Requests = nil
}

// RequestCount returns the number of Stream calls so far.
func (m *MockProvider) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// LastRequest returns the most recent request.
func (m *MockProvider) LastRequest() (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return Request{}, false
	}
	return m.Requests[len(m.Requests)-1], true
}

func (m *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	if m.next >= len(m.turns) {
		m.mu.Unlock()
		return nil, fmt.Errorf("mock provider %s: no more scripted turns", m.name)
	}
	turn := m.turns[m.next]
	m.next++
	m.mu.Unlock()

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		if turn.Delay > 0 {
			select {
			case <-time.After(turn.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if turn.Err != nil {
			return turn.Err
		}
		var script []Event
		for _, chunk := range chunkText(turn.Text, 8) {
			script = append(script, Event{Type: EventTextDelta, Text: chunk})
		}
		calls := append([]ToolCall(nil), turn.ToolCalls...)
		for i := range calls {
			script = append(script, Event{Type: EventToolCall, Tool: &calls[i]})
		}
		usage := turn.Usage
		script = append(script, Event{Type: EventUsage, Use: &usage}, Event{Type: EventDone})
		for _, ev := range script {
			if err := emit(ctx, events, ev); err != nil {
				return err
			}
		}
		return nil
	}), nil
}

// chunkText splits text into pieces of at most size runes.
func chunkText(text string, size int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	for runes := []rune(text); len(runes) > 0; {
		n := min(size, len(runes))
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}
