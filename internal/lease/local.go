package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/atlas/internal/clock"
)

type localEntry struct {
	token     string
	expiresAt time.Time
}

// LocalLocker serializes floats within a single process.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]localEntry
	clock clock.Clock
}

func NewLocalLocker(c clock.Clock) *LocalLocker {
	if c == nil {
		c = clock.SystemClock{}
	}
	return &LocalLocker{held: make(map[string]localEntry), clock: c}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, errEmptyKey
	}
	if ttl <= 0 {
		return "", false, errBadTTL
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[key]; ok && now.Before(cur.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = localEntry{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *LocalLocker) Extend(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.held[key]
	if !ok || cur.token != token || !now.Before(cur.expiresAt) || ttl <= 0 {
		return false, nil
	}
	cur.expiresAt = now.Add(ttl)
	l.held[key] = cur
	return true, nil
}

func (l *LocalLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[key]; ok && cur.token == token {
		delete(l.held, key)
	}
	return nil
}
