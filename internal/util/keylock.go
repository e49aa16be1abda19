package util

import (
	"context"
	"sync"
)

// KeyLock is a per-key mutual exclusion token. Holders of different keys never block each other.
type KeyLock struct {
	mu   sync.Mutex
	held map[int64]chan struct{}
}

func NewKeyLock() *KeyLock {
	return &KeyLock{held: make(map[int64]chan struct{})}
}

// Lock blocks until key is free or ctx is done. The returned func releases the key.
func (l *KeyLock) Lock(ctx context.Context, key int64) (func(), error) {
	for {
		l.mu.Lock()
		ch, busy := l.held[key]
		if !busy {
			ch = make(chan struct{})
			l.held[key] = ch
			l.mu.Unlock()
			return l.releaser(key, ch), nil
		}
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryLock takes key only if nobody holds it.
func (l *KeyLock) TryLock(key int64) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false
	}
	ch := make(chan struct{})
	l.held[key] = ch
	return l.releaser(key, ch), true
}

func (l *KeyLock) releaser(key int64, ch chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
			close(ch)
		})
	}
}
