package eventlogger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dreschagin/eventlogger/internal/application/port"
)

func TestRetry_AttemptCount(t *testing.T) {
	tests := []struct {
		name         string
		maxRetries   int
		failures     int
		wantAttempts int
		wantErr      bool
	}{
		{name: "single attempt succeeds", maxRetries: 3, failures: 0, wantAttempts: 1},
		{name: "succeeds on last retry", maxRetries: 3, failures: 3, wantAttempts: 4},
		{name: "always fails", maxRetries: 3, failures: 100, wantAttempts: 4, wantErr: true},
		{name: "zero retries", maxRetries: 0, failures: 100, wantAttempts: 1, wantErr: true},
		{name: "negative retries", maxRetries: -1, failures: 100, wantAttempts: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Retry(context.Background(), tt.maxRetries, time.Millisecond, func(context.Context) error {
				attempts++
				if attempts <= tt.failures {
					return fmt.Errorf("attempt %d: %w", attempts, errBoom)
				}
				return nil
			})

			if attempts != tt.wantAttempts {
				t.Fatalf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && err.Error() != fmt.Sprintf("attempt %d: boom", attempts) {
				t.Fatalf("expected last error, got %v", err)
			}
		})
	}
}

func TestRetry_NotInitializedIsNotRetried(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), 5, time.Millisecond, func(context.Context) error {
		attempts++
		return fmt.Errorf("dynamodb: %w", port.ErrSinkNotInitialized)
	})

	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
	if !errors.Is(err, port.ErrSinkNotInitialized) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRetry_WaitsBetweenAttempts(t *testing.T) {
	start := time.Now()
	_ = Retry(context.Background(), 2, 20*time.Millisecond, func(context.Context) error {
		return errBoom
	})

	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("expected two delays, elapsed %s", elapsed)
	}
}

func TestRetry_ContextCancelStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, 10, time.Hour, func(context.Context) error {
			attempts++
			return errBoom
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, errBoom) {
			t.Fatalf("expected last error, got %v", err)
		}
		if attempts != 1 {
			t.Fatalf("attempts = %d, want 1", attempts)
		}
	case <-time.After(time.Second):
		t.Fatal("retry did not stop after cancel")
	}
}
