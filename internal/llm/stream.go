package llm

import (
	"context"
	"errors"
	"io"
	"sync"
)

// eventStream adapts a producer goroutine writing to a channel into a Stream.
type eventStream struct {
	events chan Event
	cancel context.CancelFunc

	mu   sync.Mutex
	err  error
	done chan struct{}
}

// newEventStream runs produce in a goroutine and exposes its events as a Stream.
// A non-nil error returned by produce is surfaced as an EventError followed by io.EOF.
func newEventStream(ctx context.Context, produce func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		events: make(chan Event, 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.events)
		if err := produce(ctx, s.events); err != nil {
			if ctx.Err() != nil && err != ctx.Err() {
				err = ctx.Err()
			}
			select {
			case s.events <- Event{Type: EventError, Err: err}:
			case <-ctx.Done():
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
		}
	}()
	return s
}

func (s *eventStream) Recv() (Event, error) {
	ev, ok := <-s.events
	if !ok {
		s.mu.Lock()
		err := s.err
		s.mu.Unlock()
		if err != nil {
			return Event{}, err
		}
		return Event{}, io.EOF
	}
	return ev, nil
}

func (s *eventStream) Close() error {
	s.cancel()
	// Drain so the producer can exit if it is blocked on send.
	go func() {
		for range s.events {
		}
	}()
	<-s.done
	return nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

// emit sends ev unless ctx is cancelled first.
func emit(ctx context.Context, events chan<- Event, ev Event) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
