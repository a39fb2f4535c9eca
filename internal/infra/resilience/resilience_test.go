package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mcravero/statement-ingest/internal/infra/resilience"
)

func TestRetryWithBackoff_Success(t *testing.T) {
	cfg := resilience.Config{
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
	}

	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_RetriesOnFailure(t *testing.T) {
	cfg := resilience.Config{
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
	}

	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_ExhaustsRetries(t *testing.T) {
	cfg := resilience.Config{
		MaxRetries:     2,
		InitialBackoff: 10 * time.Millisecond,
	}

	err := resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
}

func TestRetryWithBackoff_NonRetryableFailsFast(t *testing.T) {
	cfg := resilience.Config{
		MaxRetries:     5,
		InitialBackoff: 10 * time.Millisecond,
		Retryable:      func(error) bool { return false },
	}

	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		callCount++
		return errors.New("bad request")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if callCount != 1 {
		t.Errorf("expected 1 call for non-retryable error, got %d", callCount)
	}
}

func TestRetryWithBackoff_RespectsContext(t *testing.T) {
	cfg := resilience.Config{
		MaxRetries:     5,
		InitialBackoff: 1 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := resilience.RetryWithBackoff(ctx, cfg, func() error {
		return errors.New("error")
	})

	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test", resilience.BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         time.Minute,
	})

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		if _, err := cb.Execute(func() (any, error) { return nil, boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: expected boom, got %v", i, err)
		}
	}

	_, err := cb.Execute(func() (any, error) { return nil, nil })
	if !resilience.IsCircuitOpen(err) {
		t.Fatalf("expected open circuit, got %v", err)
	}
}

func TestCircuitBreaker_ReportsStateChanges(t *testing.T) {
	type transition struct{ name, from, to string }
	var seen []transition
	cb := resilience.NewCircuitBreaker("test", resilience.BreakerConfig{
		FailureThreshold: 2,
		Cooldown:         time.Minute,
		OnStateChange: func(name, from, to string) {
			seen = append(seen, transition{name, from, to})
		},
	})

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		cb.Execute(func() (any, error) { return nil, boom })
	}

	if len(seen) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(seen))
	}
	if seen[0].name != "test" || seen[0].from != "closed" || seen[0].to != "open" {
		t.Errorf("unexpected transition: %+v", seen[0])
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test", resilience.BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         time.Minute,
	})

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		cb.Execute(func() (any, error) { return nil, boom })
	}
	if _, err := cb.Execute(func() (any, error) { return "ok", nil }); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	for i := 0; i < 2; i++ {
		cb.Execute(func() (any, error) { return nil, boom })
	}

	// Two failures since the last success: still closed.
	if _, err := cb.Execute(func() (any, error) { return "ok", nil }); err != nil {
		t.Fatalf("expected closed circuit after reset, got %v", err)
	}
}
