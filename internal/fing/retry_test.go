package fing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/go-cmp/cmp"
)

// recordingSleeper records requested delays without waiting.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *recordingSleeper) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func testPolicy(s *recordingSleeper) RetryPolicy {
	p := DefaultRetryPolicy()
	p.Sleep = s.Sleep
	return p
}

func TestCall_RetriesTransientThenSucceeds(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0

	got, err := Call(context.Background(), testPolicy(sleeper), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection reset by peer")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("Call() = %q, want %q", got, "ok")
	}
	if calls != 3 {
		t.Errorf("attempts = %d, want 3", calls)
	}

	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if diff := cmp.Diff(want, sleeper.Delays()); diff != "" {
		t.Errorf("sleeps mismatch (-want +got):\n%s", diff)
	}
}

func TestCall_UnauthorizedIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "text 401", err: errors.New("401 Unauthorized")},
		{name: "lowercase unauthorized", err: errors.New("request unauthorized")},
		{name: "http error", err: &HTTPError{StatusCode: 401, Status: "401 Unauthorized"}},
		{name: "wrapped", err: fmt.Errorf("devices: %w", &HTTPError{StatusCode: 403})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleeper := &recordingSleeper{}
			calls := 0

			_, err := Call(context.Background(), testPolicy(sleeper), func(context.Context) (int, error) {
				calls++
				return 0, tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Errorf("Call() error = %v, want %v", err, tt.err)
			}
			if errors.Is(err, ErrRetriesExhausted) {
				t.Error("fatal error should not be reported as exhausted retries")
			}
			if calls != 1 {
				t.Errorf("attempts = %d, want 1", calls)
			}
			if n := len(sleeper.Delays()); n != 0 {
				t.Errorf("sleeps = %d, want 0", n)
			}
		})
	}
}

func TestCall_PermanentIsFatalAndUnwrapped(t *testing.T) {
	sleeper := &recordingSleeper{}
	cause := errors.New("connection refused by policy")
	calls := 0

	_, err := Call(context.Background(), testPolicy(sleeper), func(context.Context) (int, error) {
		calls++
		return 0, backoff.Permanent(cause)
	})
	if err != cause {
		t.Errorf("Call() error = %v, want the unwrapped cause", err)
	}
	if calls != 1 {
		t.Errorf("attempts = %d, want 1", calls)
	}
	if n := len(sleeper.Delays()); n != 0 {
		t.Errorf("sleeps = %d, want 0", n)
	}
}

func TestCall_AlwaysTimingOut(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := testPolicy(sleeper)
	p.AttemptTimeout = 50 * time.Millisecond

	var mu sync.Mutex
	calls := 0

	_, err := Call(context.Background(), p, func(ctx context.Context) (int, error) {
		mu.Lock()
		calls++
		mu.Unlock()

		<-ctx.Done()
		return 0, ctx.Err()
	})

	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Call() error = %v, want ErrRetriesExhausted", err)
	}
	if !errors.Is(err, ErrAttemptTimeout) {
		t.Errorf("Call() error = %v, want it to wrap ErrAttemptTimeout", err)
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("Call() error = %q, want attempt count in message", err.Error())
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Errorf("attempts = %d, want 3", calls)
	}
	if n := len(sleeper.Delays()); n != 2 {
		t.Errorf("sleeps = %d, want 2", n)
	}
}

func TestCall_GenericErrorExhausts(t *testing.T) {
	sleeper := &recordingSleeper{}
	last := errors.New("boom")

	_, err := Call(context.Background(), testPolicy(sleeper), func(context.Context) (int, error) {
		return 0, last
	})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("Call() error = %v, want ErrRetriesExhausted", err)
	}
	if !errors.Is(err, last) {
		t.Errorf("Call() error = %v, want it to wrap the last error", err)
	}
}

func TestCall_ParentCancelStopsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sleeper := &recordingSleeper{}
	calls := 0

	_, err := Call(ctx, testPolicy(sleeper), func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("network unreachable")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Call() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("attempts = %d, want 1", calls)
	}
	if n := len(sleeper.Delays()); n != 0 {
		t.Errorf("sleeps = %d, want 0", n)
	}
}

func TestCall_SleepErrorAborts(t *testing.T) {
	p := DefaultRetryPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return context.Canceled }

	calls := 0
	_, err := Call(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("connection refused")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Call() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("attempts = %d, want 1", calls)
	}
}

func TestRetryPolicy_Delays(t *testing.T) {
	tests := []struct {
		name   string
		policy RetryPolicy
		want   []time.Duration
	}{
		{
			name:   "default",
			policy: DefaultRetryPolicy(),
			want:   []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:   "five attempts factor three",
			policy: RetryPolicy{MaxAttempts: 5, InitialBackoff: 100 * time.Millisecond, Factor: 3},
			want: []time.Duration{
				100 * time.Millisecond,
				300 * time.Millisecond,
				900 * time.Millisecond,
				2700 * time.Millisecond,
			},
		},
		{
			name:   "single attempt",
			policy: RetryPolicy{MaxAttempts: 1, InitialBackoff: time.Second, Factor: 2},
			want:   []time.Duration{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.policy.Delays()); diff != "" {
				t.Errorf("Delays() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type fakeNetError struct{ timeout bool }

func (e fakeNetError) Error() string   { return "i/o failure" }
func (e fakeNetError) Timeout() bool   { return e.timeout }
func (e fakeNetError) Temporary() bool { return false }

var _ net.Error = fakeNetError{}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		decision Decision
		reason   string
	}{
		{"401 text", errors.New("HTTP 401"), Fatal, "auth"},
		{"unauthorized mixed case", errors.New("Unauthorized access"), Fatal, "auth"},
		{"403 status", &HTTPError{StatusCode: 403}, Fatal, "auth"},
		{"marked permanent", backoff.Permanent(errors.New("bad payload")), Fatal, "permanent"},
		{"attempt timeout", fmt.Errorf("%w: x", ErrAttemptTimeout), Retry, "timeout"},
		{"deadline", context.DeadlineExceeded, Retry, "timeout"},
		{"net timeout", fakeNetError{timeout: true}, Retry, "timeout"},
		{"net error", fakeNetError{}, Retry, "network"},
		{"connection text", errors.New("Connection refused"), Retry, "network"},
		{"network text", errors.New("network is unreachable"), Retry, "network"},
		{"500", &HTTPError{StatusCode: 500, Status: "500 Internal Server Error"}, Retry, "api"},
		{"other", errors.New("boom"), Retry, "api"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			if got.Decision != tt.decision {
				t.Errorf("ClassifyError(%v).Decision = %v, want %v", tt.err, got.Decision, tt.decision)
			}
			if got.Reason != tt.reason {
				t.Errorf("ClassifyError(%v).Reason = %q, want %q", tt.err, got.Reason, tt.reason)
			}
		})
	}
}

func TestDecision_String(t *testing.T) {
	if Retry.String() != "retry" {
		t.Errorf("Retry.String() = %q, want %q", Retry.String(), "retry")
	}
	if Fatal.String() != "fatal" {
		t.Errorf("Fatal.String() = %q, want %q", Fatal.String(), "fatal")
	}
}
