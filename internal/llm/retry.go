package llm

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryConfig retries twice with backoff between 1s and 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// RetryProvider re-issues a request after a transient failure, but only
// while none of its events have reached the caller. Text already shown is
// never replayed.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
}

// WrapWithRetry wraps p; one attempt or fewer returns p unchanged.
func WrapWithRetry(p Provider, config RetryConfig) Provider {
	if config.MaxAttempts <= 1 {
		return p
	}
	return &RetryProvider{inner: p, config: config}
}

func (r *RetryProvider) Name() string {
	return r.inner.Name()
}

func (r *RetryProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		for attempt := 1; ; attempt++ {
			sent, err := r.attempt(ctx, req, events)
			if err == nil {
				return nil
			}
			if sent || attempt >= r.config.MaxAttempts || !isRetryable(err) || ctx.Err() != nil {
				return err
			}

			wait := r.calculateBackoff(attempt, err)
			notice := Event{
				Type:             EventRetry,
				RetryAttempt:     attempt,
				RetryMaxAttempts: r.config.MaxAttempts,
				RetryWaitSecs:    wait.Seconds(),
			}
			if err := emit(ctx, events, notice); err != nil {
				return err
			}

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}), nil
}

// attempt runs one request, relaying its events. sent reports whether any
// event was relayed before it failed.
func (r *RetryProvider) attempt(ctx context.Context, req Request, events chan<- Event) (sent bool, err error) {
	stream, err := r.inner.Stream(ctx, req)
	if err != nil {
		return false, err
	}
	defer stream.Close()

	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}
		// Providers report mid-stream failures (an overloaded error after
		// the 200, say) as error events.
		if ev.Type == EventError && ev.Err != nil {
			return sent, ev.Err
		}
		if err := emit(ctx, events, ev); err != nil {
			return sent, err
		}
		sent = true
	}
}

// statusOf extracts the HTTP status and response headers from provider SDK
// errors. It returns 0 when err carries no status.
func statusOf(err error) (int, http.Header) {
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode, responseHeader(anthropicErr.Response)
	}
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return openaiErr.StatusCode, responseHeader(openaiErr.Response)
	}
	var geminiErr genai.APIError
	if errors.As(err, &geminiErr) {
		return geminiErr.Code, nil
	}
	var geminiErrPtr *genai.APIError
	if errors.As(err, &geminiErrPtr) {
		return geminiErrPtr.Code, nil
	}
	return 0, nil
}

func responseHeader(resp *http.Response) http.Header {
	if resp == nil {
		return nil
	}
	return resp.Header
}

// transientMarkers match failures reported only as text, such as SSE error
// events and wrapped dial errors.
var transientMarkers = []string{
	"429", "rate limit", "too many requests",
	"502", "bad gateway", "503", "service unavailable", "529", "overloaded",
	"connection refused", "connection reset", "timeout", "temporary failure", "no such host",
}

func isRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, ErrBreakerOpen):
		return false
	}

	if code, _ := statusOf(err); code != 0 {
		return code == http.StatusRequestTimeout || code == http.StatusConflict ||
			code == http.StatusTooManyRequests || code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var retryAfterPattern = regexp.MustCompile(`(?i)retry[- ]?after[:\s]+(\d+)`)

// retryAfter reads a server-requested delay from the Retry-After header or,
// failing that, from the error text.
func retryAfter(err error) time.Duration {
	if _, header := statusOf(err); header != nil {
		if v := header.Get("Retry-After"); v != "" {
			if secs, perr := strconv.Atoi(v); perr == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
			if at, perr := http.ParseTime(v); perr == nil {
				if d := time.Until(at); d > 0 {
					return d
				}
			}
		}
	}
	if m := retryAfterPattern.FindStringSubmatch(err.Error()); len(m) > 1 {
		if secs, perr := strconv.Atoi(m[1]); perr == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// calculateBackoff honors a server-requested delay, otherwise doubles the
// base per attempt with +/-25% jitter. Both are capped at MaxBackoff.
func (r *RetryProvider) calculateBackoff(attempt int, err error) time.Duration {
	wait := time.Duration(0)
	if err != nil {
		wait = retryAfter(err)
	}
	if wait == 0 {
		wait = r.config.BaseBackoff << (attempt - 1)
		if wait <= 0 || wait > r.config.MaxBackoff {
			wait = r.config.MaxBackoff
		}
		wait += time.Duration((rand.Float64() - 0.5) * 0.5 * float64(wait))
	}
	return min(wait, r.config.MaxBackoff)
}
