package cache

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Lock is a set of short-lived keys held through SetNX.
type Lock struct {
	c     Cache
	keys  []string
	token string
}

// TryLock acquires every key or none. Keys are taken in sorted order so two
// callers locking overlapping sets cannot deadlock each other; a key already
// held makes TryLock give up immediately and return ok == false.
func TryLock(ctx context.Context, c Cache, ttl time.Duration, keys ...string) (lock *Lock, ok bool, err error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	l := &Lock{c: c, token: uuid.NewString()}
	for _, k := range sorted {
		got, err := c.SetNX(ctx, k, l.token, ttl)
		if err != nil {
			l.Release(ctx)
			return nil, false, err
		}
		if !got {
			l.Release(ctx)
			return nil, false, nil
		}
		l.keys = append(l.keys, k)
	}
	return l, true, nil
}

// Release frees the keys still owned by this lock.
func (l *Lock) Release(ctx context.Context) {
	if l == nil {
		return
	}
	for _, k := range l.keys {
		_, _ = l.c.CompareAndDel(ctx, k, l.token)
	}
	l.keys = nil
}
