package errors

import (
	"testing"
	"time"
)

func TestBackoffFor(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     1 * time.Second,
		BackoffFactor:  2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second}, // capped
		{9, 1 * time.Second}, // stays capped
	}

	for _, tt := range tests {
		if got := cfg.BackoffFor(tt.attempt); got != tt.expected {
			t.Errorf("BackoffFor(%d) = %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestBackoffForJitterBounds(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: 1 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.5,
	}

	for i := 0; i < 100; i++ {
		got := cfg.BackoffFor(1)
		if got < 500*time.Millisecond || got > 1500*time.Millisecond {
			t.Fatalf("BackoffFor(1) = %v, outside jitter bounds", got)
		}
	}
}

func TestBackoffForZeroFactor(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 50 * time.Millisecond}

	// Factor defaults to 1 so the backoff stays constant rather than collapsing to zero.
	if got := cfg.BackoffFor(3); got != 50*time.Millisecond {
		t.Errorf("BackoffFor(3) = %v, want 50ms", got)
	}
}

func TestNewRetryConfig(t *testing.T) {
	cfg := NewRetryConfig(
		WithMaxAttempts(7),
		WithInitialBackoff(2*time.Second),
		WithMaxBackoff(time.Minute),
		WithBackoffFactor(3.0),
		WithJitter(0.25),
	)

	if cfg.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d, want 7", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff != 2*time.Second {
		t.Errorf("InitialBackoff = %v, want 2s", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != time.Minute {
		t.Errorf("MaxBackoff = %v, want 1m", cfg.MaxBackoff)
	}
	if cfg.BackoffFactor != 3.0 {
		t.Errorf("BackoffFactor = %v, want 3.0", cfg.BackoffFactor)
	}
	if cfg.Jitter != 0.25 {
		t.Errorf("Jitter = %v, want 0.25", cfg.Jitter)
	}
}

func TestNoRetry(t *testing.T) {
	if NoRetry.MaxAttempts != 1 {
		t.Errorf("NoRetry.MaxAttempts = %d, want 1", NoRetry.MaxAttempts)
	}
}
