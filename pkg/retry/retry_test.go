package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{MaxRetries: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

type statusErr struct{ retryable bool }

func (e statusErr) Error() string   { return "status" }
func (e statusErr) Retryable() bool { return e.retryable }

func TestDoWithResult(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		failWith  error
		attempts  int
		wantCalls int
		wantErr   bool
	}{
		{name: "first try", failures: 0, attempts: 3, wantCalls: 1},
		{name: "succeeds on last attempt", failures: 2, failWith: errors.New("net"), attempts: 3, wantCalls: 3},
		{name: "attempts exhausted", failures: 5, failWith: errors.New("net"), attempts: 3, wantCalls: 3, wantErr: true},
		{name: "permanent stops", failures: 5, failWith: Permanent(errors.New("bad request")), attempts: 3, wantCalls: 1, wantErr: true},
		{name: "non retryable status", failures: 5, failWith: statusErr{retryable: false}, attempts: 3, wantCalls: 1, wantErr: true},
		{name: "retryable status", failures: 1, failWith: statusErr{retryable: true}, attempts: 3, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fastConfig(tt.attempts)
			cfg.RetryIf = IsRetryable

			calls := 0
			got, err := DoWithResult(context.Background(), func() (int, error) {
				calls++
				if calls <= tt.failures {
					return 0, tt.failWith
				}
				return 42, nil
			}, cfg)

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != 42 {
				t.Errorf("result = %d, want 42", got)
			}
		})
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	cfg := fastConfig(3)
	var attempts []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	err := Do(context.Background(), func() error { return errors.New("fail") }, cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", attempts)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, func() error { calls++; return nil }, fastConfig(3))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain", err: errors.New("connection refused"), want: true},
		{name: "canceled", err: fmt.Errorf("list: %w", context.Canceled), want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: false},
		{name: "wrapped permanent", err: fmt.Errorf("create: %w", Permanent(errors.New("x"))), want: false},
		{name: "wrapped retryable", err: fmt.Errorf("list: %w", statusErr{retryable: true}), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCalculateDelay(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}
	cfg.validate()

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for attempt, w := range want {
		if got := cfg.calculateDelay(attempt); got != w {
			t.Errorf("attempt %d: delay = %v, want %v", attempt, got, w)
		}
	}
}
