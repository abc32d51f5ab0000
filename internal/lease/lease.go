// Package lease provides the per-float mutual exclusion held by a sync
// attempt from fetching through projection.
package lease

import (
	"context"
	"errors"
	"strconv"
	"time"
)

var (
	ErrHeld          = errors.New("lease_held")
	ErrLost          = errors.New("lease_lost")
	ErrNotConfigured = errors.New("lease_not_configured")
	errEmptyKey      = errors.New("lease key is empty")
	errBadTTL        = errors.New("lease ttl must be positive")
)

// Locker grants exclusive, expiring ownership of a key. The returned token
// identifies the owner; Release and Extend are no-ops for a stale token.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

func FloatKey(floatID int64) string {
	return "atlas:lease:float:" + strconv.FormatInt(floatID, 10)
}

// Lease is a held lock on one float.
type Lease struct {
	locker Locker
	key    string
	token  string
}

// Acquire takes the float's lease or returns ErrHeld when another worker
// owns it.
func Acquire(ctx context.Context, locker Locker, floatID int64, ttl time.Duration) (*Lease, error) {
	if locker == nil {
		return nil, ErrNotConfigured
	}
	key := FloatKey(floatID)
	token, ok, err := locker.TryLock(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lease{locker: locker, key: key, token: token}, nil
}

func (l *Lease) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	if l == nil {
		return false, nil
	}
	return l.locker.Extend(ctx, l.key, l.token, ttl)
}

// Renew extends the lease by ttl and returns ErrLost when it expired and
// may now belong to someone else.
func (l *Lease) Renew(ctx context.Context, ttl time.Duration) error {
	ok, err := l.Extend(ctx, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLost
	}
	return nil
}

// Release gives the lease back. It runs detached from ctx so a float whose
// deadline fired still frees its key.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return l.locker.Release(rctx, l.key, l.token)
}
