package lock

import (
	"context"
	"sync"
	"time"

	"cex-arbitrage-go/internal/apperror"
)

// MemoryLocker is an in-process Locker for single-instance deployments.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]time.Time // key -> expiry
	now  func() time.Time
}

var _ Locker = (*MemoryLocker)(nil)

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time), now: time.Now}
}

func (l *MemoryLocker) Acquire(ctx context.Context, keys []Key, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names := normalize(keys)

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for _, k := range names {
		if exp, ok := l.held[k]; ok && now.Before(exp) {
			return nil, apperror.CapitalLocked(exchangeOf(k), k+" is committed to another execution")
		}
	}
	expiry := now.Add(ttl)
	for _, k := range names {
		l.held[k] = expiry
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for _, k := range names {
				if l.held[k].Equal(expiry) {
					delete(l.held, k)
				}
			}
		})
	}, nil
}
