package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func TestBreakerProvider_OpensAfterConsecutiveFailures(t *testing.T) {
	mock := NewMockProvider("mock")
	for i := 0; i < 3; i++ {
		mock.AddError(errors.New("500 internal error"))
	}
	mock.AddTextResponse("unreached")

	p := WrapWithBreaker(mock, BreakerConfig{MaxFailures: 2, Timeout: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		stream, err := p.Stream(context.Background(), Request{})
		if err != nil {
			t.Fatalf("Stream() error = %v", err)
		}
		if _, err := collectEvents(t, stream); err == nil {
			t.Fatalf("attempt %d: expected failure", i)
		}
	}
	if p.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", p.State())
	}

	stream, err := p.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	_, err = collectEvents(t, stream)
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
	if mock.RequestCount() != 2 {
		t.Fatalf("open breaker should not reach provider, got %d requests", mock.RequestCount())
	}
}

func TestBreakerProvider_CancellationDoesNotTrip(t *testing.T) {
	mock := NewMockProvider("mock")
	for i := 0; i < 2; i++ {
		mock.AddTurn(MockTurn{Text: "slow", Delay: time.Second})
	}
	p := WrapWithBreaker(mock, BreakerConfig{MaxFailures: 1, Timeout: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		stream, err := p.Stream(ctx, Request{})
		if err != nil {
			t.Fatalf("Stream() error = %v", err)
		}
		cancel()
		collectEvents(t, stream)
	}
	if p.State() != gobreaker.StateClosed {
		t.Fatalf("state = %v, want closed", p.State())
	}
}
