package unifiedllm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func retryableServerError() error {
	return &ServerError{ProviderError: ProviderError{SDKError: SDKError{Message: "server error"}, Retryable: true}}
}

func TestRetryPolicyDelay(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{40, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := policy.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	flat := RetryPolicy{BaseDelay: 3 * time.Millisecond}
	if got := flat.Delay(5); got != 3*time.Millisecond {
		t.Errorf("multiplier below 1 should keep the base delay, got %v", got)
	}
}

func TestRetryPolicyDelayWithJitter(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, Jitter: true}
	for i := 0; i < 100; i++ {
		got := policy.Delay(0)
		if got < 500*time.Millisecond || got >= 1500*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}

func TestRetry(t *testing.T) {
	authErr := &AuthenticationError{ProviderError: ProviderError{SDKError: SDKError{Message: "invalid key"}}}
	tests := []struct {
		name      string
		policy    RetryPolicy
		failures  int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{name: "succeeds after transient failures", policy: fastPolicy(3), failures: 2, err: retryableServerError(), wantCalls: 3},
		{name: "non-retryable stops at once", policy: fastPolicy(3), failures: 10, err: authErr, wantCalls: 1, wantErr: true},
		{name: "exhausted", policy: fastPolicy(2), failures: 10, err: retryableServerError(), wantCalls: 3, wantErr: true},
		{name: "no retry", policy: NoRetry(), failures: 10, err: retryableServerError(), wantCalls: 1, wantErr: true},
		{name: "first call succeeds", policy: DefaultRetryPolicy(), wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			got, err := Retry(context.Background(), tt.policy, func(ctx context.Context) (string, error) {
				calls++
				if calls <= tt.failures {
					return "", tt.err
				}
				return "ok", nil
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != "ok" {
				t.Errorf("got %q", got)
			}
			if calls != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, calls)
			}
		})
	}
}

func TestRetryCancelledWhileWaiting(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	calls := 0
	_, err := Retry(ctx, policy, func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("always fails")
	})
	var abort *AbortError
	if !errors.As(err, &abort) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected AbortError wrapping context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected cancellation during the first wait, got %d calls", calls)
	}
}

func TestRetryAttemptTimeout(t *testing.T) {
	policy := fastPolicy(1)
	policy.AttemptTimeout = 20 * time.Millisecond

	calls := 0
	got, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		if _, ok := ctx.Deadline(); !ok {
			t.Error("each attempt should carry a deadline")
		}
		return "second", nil
	})
	if err != nil || got != "second" || calls != 2 {
		t.Fatalf("expected the timed-out attempt to be retried, got %q, %v after %d calls", got, err, calls)
	}

	policy.MaxRetries = 0
	_, err = Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	var timeout *RequestTimeoutError
	if !errors.As(err, &timeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected RequestTimeoutError wrapping the deadline, got %v", err)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxRetries != 2 || p.BaseDelay != time.Second || p.MaxDelay != time.Minute || p.Multiplier != 2 || !p.Jitter {
		t.Errorf("unexpected default policy %+v", p)
	}
	if p.IsZero() || !(RetryPolicy{}).IsZero() {
		t.Error("IsZero misreports")
	}
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 1, BaseDelay: 10 * time.Second, MaxDelay: 10 * time.Second, Multiplier: 1}
	after := 0.001

	var delays []time.Duration
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		delays = append(delays, delay)
	}

	calls := 0
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &RateLimitError{ProviderError: ProviderError{Retryable: true, RetryAfter: &after}}
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(delays) != 1 || delays[0] != time.Millisecond {
		t.Errorf("expected a single 1ms delay from Retry-After, got %v", delays)
	}
}

func TestRetryAfterBeyondMaxDelayFailsFast(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 1}
	after := 120.0

	calls := 0
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		return "", &RateLimitError{ProviderError: ProviderError{Retryable: true, RetryAfter: &after}}
	})
	if err == nil || calls != 1 {
		t.Errorf("expected one call and an error, got %d calls, %v", calls, err)
	}
}
