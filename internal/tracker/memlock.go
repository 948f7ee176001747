package tracker

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker serializes runs within one process. It is used when no shared
// database lock is available and in tests.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
	Poll time.Duration
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]bool{}, Poll: 20 * time.Millisecond}
}

type memoryLock struct {
	l   *MemoryLocker
	key string
}

func (m memoryLock) Unlock(context.Context) error {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	delete(m.l.held, m.key)
	return nil
}

func (l *MemoryLocker) TryLock(_ context.Context, key string) (Lock, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return memoryLock{l: l, key: key}, true, nil
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (Lock, error) {
	ticker := time.NewTicker(l.Poll)
	defer ticker.Stop()
	for {
		lock, ok, _ := l.TryLock(ctx, key)
		if ok {
			return lock, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
