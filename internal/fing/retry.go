package fing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Retry policy defaults.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 1 * time.Second
	DefaultBackoffFactor  = 2.0
	DefaultAttemptTimeout = 30 * time.Second

	// maxBackoff caps the delay between attempts however many are configured.
	maxBackoff = 5 * time.Minute
)

// Decision tells the retry loop what to do after a failed attempt.
type Decision int

const (
	// Retry means the attempt may be repeated after the backoff delay.
	Retry Decision = iota

	// Fatal means the error is returned immediately without further attempts.
	Fatal
)

// String returns "retry" or "fatal".
func (d Decision) String() string {
	if d == Fatal {
		return "fatal"
	}
	return "retry"
}

// Classification is the result of inspecting a failed attempt.
type Classification struct {
	Decision Decision

	// Reason is a short label for logs: "auth", "timeout", "network" or "api".
	Reason string
}

// Classifier maps an attempt error to a Classification.
type Classifier func(err error) Classification

// RetryPolicy bounds and paces repeated attempts of one upstream call.
//
// The zero value is not useful; start from DefaultRetryPolicy and override fields.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// InitialBackoff is the delay after the first failure.
	InitialBackoff time.Duration

	// Factor multiplies the delay after every further failure.
	Factor float64

	// AttemptTimeout bounds each attempt. The attempt's context is cancelled when it expires.
	AttemptTimeout time.Duration

	// Classify decides whether an error is retried. Defaults to ClassifyError.
	Classify Classifier

	// Sleep waits between attempts. Defaults to a context-aware timer; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error

	// Logger receives one line per failed attempt (optional).
	Logger Logger
}

// DefaultRetryPolicy returns 3 attempts, 1s initial backoff doubling each time, 30s per attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		Factor:         DefaultBackoffFactor,
		AttemptTimeout: DefaultAttemptTimeout,
		Classify:       ClassifyError,
		Sleep:          sleepContext,
	}
}

// withDefaults fills unset fields so a partially built policy still behaves.
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Factor < 1 {
		p.Factor = DefaultBackoffFactor
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = DefaultAttemptTimeout
	}
	if p.Classify == nil {
		p.Classify = ClassifyError
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// Delays returns the sleep schedule between attempts: MaxAttempts-1 durations.
func (p RetryPolicy) Delays() []time.Duration {
	p = p.withDefaults()
	schedule := p.schedule()
	delays := make([]time.Duration, 0, p.MaxAttempts-1)
	for i := 1; i < p.MaxAttempts; i++ {
		delays = append(delays, schedule.NextBackOff())
	}
	return delays
}

// schedule builds a jitter-free exponential backoff starting at InitialBackoff.
func (p RetryPolicy) schedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.Multiplier = p.Factor
	b.RandomizationFactor = 0
	b.MaxInterval = maxBackoff
	b.Reset()
	return b
}

// Call runs op under the policy and returns its first successful result.
//
// Each attempt runs in its own goroutine with a context that expires after
// AttemptTimeout. Sleeps happen only between attempts. A Fatal classification
// returns the attempt's error unchanged, or the wrapped error when op marked
// it with backoff.Permanent. When the attempts run out, the error
// wraps ErrRetriesExhausted and the last attempt's error and names the attempt count.
// Cancelling ctx stops the loop immediately with ctx's error.
func Call[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	p = p.withDefaults()
	schedule := p.schedule()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := runAttempt(ctx, p.AttemptTimeout, op)
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		class := p.Classify(err)
		if class.Decision == Fatal {
			p.log("upstream call failed permanently", attempt, class.Reason, err)
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				return zero, perm.Unwrap()
			}
			return zero, err
		}
		p.log("upstream call failed", attempt, class.Reason, err)
		lastErr = err

		if attempt < p.MaxAttempts {
			if sleepErr := p.Sleep(ctx, schedule.NextBackOff()); sleepErr != nil {
				return zero, sleepErr
			}
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, p.MaxAttempts, lastErr)
}

// runAttempt executes op in a worker goroutine bounded by timeout.
// The worker sees a context that is cancelled as soon as the caller stops waiting.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		v, err := op(attemptCtx)
		done <- outcome{value: v, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
		if o.err == nil {
			return o.value, nil
		}
	case <-attemptCtx.Done():
		o.err = attemptCtx.Err()
	}

	// The attempt's own deadline fired while the parent is still live.
	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		var zero T
		return zero, fmt.Errorf("%w after %v: %w", ErrAttemptTimeout, timeout, context.DeadlineExceeded)
	}
	return o.value, o.err
}

// ClassifyError is the default Classifier.
//
// Errors marked with backoff.Permanent are fatal. So are authorisation
// failures, recognised by an HTTP 401/403 status or by "401" /
// "unauthorized" anywhere in the message. Timeouts and
// network errors are retried, as is everything else.
func ClassifyError(err error) Classification {
	if err == nil {
		return Classification{Decision: Retry, Reason: "api"}
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return Classification{Decision: Fatal, Reason: "permanent"}
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) && (httpErr.StatusCode == 401 || httpErr.StatusCode == 403) {
		return Classification{Decision: Fatal, Reason: "auth"}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") {
		return Classification{Decision: Fatal, Reason: "auth"}
	}

	if errors.Is(err, ErrAttemptTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return Classification{Decision: Retry, Reason: "timeout"}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Classification{Decision: Retry, Reason: "timeout"}
		}
		return Classification{Decision: Retry, Reason: "network"}
	}

	if strings.Contains(msg, "network") || strings.Contains(msg, "connection") {
		return Classification{Decision: Retry, Reason: "network"}
	}

	return Classification{Decision: Retry, Reason: "api"}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p RetryPolicy) log(msg string, attempt int, reason string, err error) {
	if p.Logger == nil {
		return
	}
	if reason == "auth" {
		p.Logger.Error(msg, "attempt", attempt, "max_attempts", p.MaxAttempts, "reason", reason, "error", err)
		return
	}
	p.Logger.Warn(msg, "attempt", attempt, "max_attempts", p.MaxAttempts, "reason", reason, "error", err)
}
