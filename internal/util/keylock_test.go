package util

import (
	"context"
	"testing"
	"time"
)

func TestKeyLockTryLockBusy(t *testing.T) {
	l := NewKeyLock()

	unlock, err := l.Lock(context.Background(), 7)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, ok := l.TryLock(7); ok {
		t.Fatal("expected TryLock to fail while key is held")
	}
	if release, ok := l.TryLock(8); !ok {
		t.Fatal("expected other keys to be independent")
	} else {
		release()
	}

	unlock()
	release, ok := l.TryLock(7)
	if !ok {
		t.Fatal("expected TryLock to succeed after release")
	}
	release()
	release() // double release is a no-op
}

func TestKeyLockWaitsForRelease(t *testing.T) {
	l := NewKeyLock()
	unlock, _ := l.Lock(context.Background(), 1)

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(context.Background(), 1)
		if err == nil {
			u()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock returned while key was held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock did not acquire after release")
	}
}

func TestKeyLockContextCancel(t *testing.T) {
	l := NewKeyLock()
	unlock, _ := l.Lock(context.Background(), 1)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, 1); err == nil {
		t.Fatal("expected context error while waiting")
	}
}
