package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("llm request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// emptyContentError is a billed completion with nothing usable in it.
type emptyContentError struct {
	Op           string
	FinishReason string
	Refusal      string
	Snippet      string
}

func (e *emptyContentError) Error() string {
	return fmt.Sprintf("%s: empty content (finish_reason=%q, refusal=%q, response_snippet=%s)",
		e.Op, e.FinishReason, e.Refusal, e.Snippet)
}

// Temporary reports whether err is a failure another attempt could fix:
// rate limits, server errors, empty completions and network timeouts.
func Temporary(err error) bool {
	var (
		emptyErr  *emptyContentError
		statusErr *httpStatusError
		netErr    net.Error
	)
	switch {
	case err == nil:
		return false
	case errors.As(err, &emptyErr):
		return true
	case errors.As(err, &statusErr):
		code := statusErr.StatusCode
		return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	case errors.As(err, &netErr):
		return netErr.Timeout()
	}
	return false
}

// retrySchedule paces the attempts of one completion call. Delays grow
// exponentially from the base delay; a Retry-After header from the provider
// replaces the computed delay. Every delay is capped at the max delay.
type retrySchedule struct {
	attempts int
	maxDelay time.Duration
	exp      *backoff.ExponentialBackOff
}

func (c *Client) newRetrySchedule() *retrySchedule {
	maxDelay := c.retryMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     max(c.retryBaseDelay, 0),
		RandomizationFactor: retryJitter,
		Multiplier:          2,
		MaxInterval:         maxDelay,
	}
	exp.Reset()
	return &retrySchedule{attempts: max(c.retryMaxAttempts, 1), maxDelay: maxDelay, exp: exp}
}

// next returns how long to wait before another attempt, or false when err is
// final.
func (s *retrySchedule) next(ctx context.Context, err error, attempt int) (time.Duration, bool) {
	if err == nil || attempt >= s.attempts || ctx.Err() != nil || !Temporary(err) {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}
	delay := s.exp.NextBackOff()
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
		delay = statusErr.RetryAfter
	}
	return min(max(delay, 0), s.maxDelay), true
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter reads either delta-seconds or an HTTP date.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(max(seconds, 0)) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		return max(time.Until(when), 0)
	}
	return 0
}
