package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func lockers(t *testing.T, wait time.Duration) map[string]Locker {
	_, client := newMiniredis(t)
	return map[string]Locker{
		"redis": NewRedisSlotLocker(client, 5*time.Second, wait),
		"local": NewLocalSlotLocker(5*time.Second, wait),
	}
}

func TestWithSlotLockRejectsWhenHeldPastWait(t *testing.T) {
	for name, l := range lockers(t, 50*time.Millisecond) {
		t.Run(name, func(t *testing.T) {
			held := make(chan struct{})
			done := make(chan struct{})
			go func() {
				_ = l.WithSlotLock(context.Background(), "2026-10-13|10:00", func(ctx context.Context) error {
					close(held)
					<-done
					return nil
				})
			}()
			<-held

			err := l.WithSlotLock(context.Background(), "2026-10-13|10:00", func(ctx context.Context) error {
				t.Fatal("critical section entered while lock held")
				return nil
			})
			close(done)
			assert.ErrorIs(t, err, ErrLockNotAcquired)
		})
	}
}

func TestWithSlotLockWaitsForRelease(t *testing.T) {
	for name, l := range lockers(t, 2*time.Second) {
		t.Run(name, func(t *testing.T) {
			var inside int32
			var maxInside int32
			var wg sync.WaitGroup
			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := l.WithSlotLock(context.Background(), "2026-10-13|11:00", func(ctx context.Context) error {
						n := atomic.AddInt32(&inside, 1)
						if n > atomic.LoadInt32(&maxInside) {
							atomic.StoreInt32(&maxInside, n)
						}
						time.Sleep(10 * time.Millisecond)
						atomic.AddInt32(&inside, -1)
						return nil
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
		})
	}
}

func TestWithSlotLockIndependentKeys(t *testing.T) {
	for name, l := range lockers(t, 10*time.Millisecond) {
		t.Run(name, func(t *testing.T) {
			err := l.WithSlotLock(context.Background(), "a", func(ctx context.Context) error {
				return l.WithSlotLock(ctx, "b", func(ctx context.Context) error { return nil })
			})
			assert.NoError(t, err)
		})
	}
}

func TestWithSlotLockPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	for name, l := range lockers(t, 10*time.Millisecond) {
		t.Run(name, func(t *testing.T) {
			err := l.WithSlotLock(context.Background(), "k", func(ctx context.Context) error { return boom })
			assert.ErrorIs(t, err, boom)

			// the key is free again after a failed critical section
			err = l.WithSlotLock(context.Background(), "k", func(ctx context.Context) error { return nil })
			assert.NoError(t, err)
		})
	}
}

func TestRedisReleaseKeepsForeignToken(t *testing.T) {
	mr, client := newMiniredis(t)
	l := NewRedisSlotLocker(client, 5*time.Second, 10*time.Millisecond)

	err := l.WithSlotLock(context.Background(), "k", func(ctx context.Context) error {
		// simulate expiry and takeover by another holder
		return mr.Set("lock:slot:k", "someone-else")
	})
	require.NoError(t, err)

	v, err := mr.Get("lock:slot:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestRedisLockSetsTTL(t *testing.T) {
	mr, client := newMiniredis(t)
	l := NewRedisSlotLocker(client, 3*time.Second, 10*time.Millisecond)

	err := l.WithSlotLock(context.Background(), "k", func(ctx context.Context) error {
		assert.True(t, mr.Exists("lock:slot:k"))
		assert.Equal(t, 3*time.Second, mr.TTL("lock:slot:k"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("lock:slot:k"))
}

func TestRedisLockBackendDown(t *testing.T) {
	mr, client := newMiniredis(t)
	l := NewRedisSlotLocker(client, time.Second, 10*time.Millisecond)
	mr.Close()

	err := l.WithSlotLock(context.Background(), "k", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLockBackend)
}
