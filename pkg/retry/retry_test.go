package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoRetriesUntilSuccess(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialInterval: time.Millisecond}
	attempts := 0
	err := p.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	p := Policy{MaxAttempts: 2, InitialInterval: time.Millisecond}
	attempts := 0
	sentinel := errors.New("still down")
	err := p.Do(context.Background(), func() error {
		attempts++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want last failure", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestPermanentStopsImmediately(t *testing.T) {
	p := Policy{MaxAttempts: 5, InitialInterval: time.Millisecond}
	attempts := 0
	sentinel := errors.New("bad input")
	err := p.Do(context.Background(), func() error {
		attempts++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want wrapped permanent error", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on permanent)", attempts)
	}
}

func TestContextCancelAborts(t *testing.T) {
	p := Policy{MaxAttempts: 10, InitialInterval: 50 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, func() error {
		attempts++
		return errors.New("down")
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if attempts >= 10 {
		t.Errorf("attempts = %d, cancellation should cut retries short", attempts)
	}
}
