package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrBreakerOpen is returned when a provider's circuit is open and requests fail fast.
var ErrBreakerOpen = errors.New("provider circuit open")

// Default circuit breaker settings.
const (
	defaultBreakerFailures uint32        = 5
	defaultBreakerTimeout  time.Duration = 30 * time.Second
	defaultBreakerInterval time.Duration = 60 * time.Second
)

// BreakerConfig configures the circuit breaker around a provider.
type BreakerConfig struct {
	MaxFailures uint32
	Timeout     time.Duration
	Interval    time.Duration
}

// BreakerProvider wraps a Provider with circuit breaker protection.
// A request counts as failed when its stream ends with an error; user
// cancellation is never counted.
type BreakerProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// WrapWithBreaker wraps inner with a circuit breaker. Zero config values use defaults.
func WrapWithBreaker(inner Provider, cfg BreakerConfig, logger *slog.Logger) *BreakerProvider {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "llm:" + inner.Name(),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &BreakerProvider{inner: inner, breaker: cb}
}

func (p *BreakerProvider) Name() string {
	return p.inner.Name()
}

// State returns the current breaker state.
func (p *BreakerProvider) State() gobreaker.State {
	return p.breaker.State()
}

func (p *BreakerProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		_, err := p.breaker.Execute(func() (struct{}, error) {
			stream, err := p.inner.Stream(ctx, req)
			if err != nil {
				return struct{}{}, err
			}
			defer stream.Close()
			for {
				event, err := stream.Recv()
				if err != nil {
					if isEOF(err) {
						return struct{}{}, nil
					}
					return struct{}{}, err
				}
				if event.Type == EventError && event.Err != nil {
					return struct{}{}, event.Err
				}
				if err := emit(ctx, events, event); err != nil {
					return struct{}{}, err
				}
			}
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %s", ErrBreakerOpen, p.inner.Name())
		}
		return err
	}), nil
}
