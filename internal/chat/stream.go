package chat

import (
	"context"
	"io"
	"sync"
)

// chunkStream adapts a producer goroutine into a ChunkStream.
type chunkStream struct {
	chunks chan Chunk
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// NewChunkStream runs produce in a goroutine. Chunks passed to emit are
// delivered in order; emit fails once the stream is closed or ctx is done.
// A non-nil error from produce is returned by Recv after all emitted chunks.
func NewChunkStream(ctx context.Context, produce func(ctx context.Context, emit func(Chunk) error) error) ChunkStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &chunkStream{
		chunks: make(chan Chunk, 32),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	emit := func(c Chunk) error {
		select {
		case s.chunks <- c:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	go func() {
		defer close(s.done)
		defer close(s.chunks)
		if err := produce(ctx, emit); err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()
	return s
}

func (s *chunkStream) Recv() (Chunk, error) {
	c, ok := <-s.chunks
	if ok {
		return c, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

// Close cancels the producer and waits for it to exit.
func (s *chunkStream) Close() error {
	s.cancel()
	go func() {
		for range s.chunks {
		}
	}()
	<-s.done
	return nil
}
