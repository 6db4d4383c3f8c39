package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestPractitionerLockReleasesAfterRun(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewPractitionerLocker(client, 5*time.Second, 0)
	id := uuid.New()

	err := locker.WithPractitionerLock(context.Background(), id, func(ctx context.Context) error {
		assert.True(t, mr.Exists(practitionerKey(id)))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(practitionerKey(id)))
}

func TestPractitionerLockPropagatesError(t *testing.T) {
	_, client := newTestClient(t)
	locker := NewPractitionerLocker(client, 5*time.Second, 0)
	boom := errors.New("boom")

	err := locker.WithPractitionerLock(context.Background(), uuid.New(), func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestPractitionerLockNotAcquiredWhenHeld(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewPractitionerLocker(client, 5*time.Second, 0)
	id := uuid.New()

	require.NoError(t, mr.Set(practitionerKey(id), "someone-else"))

	err := locker.WithPractitionerLock(context.Background(), id, func(context.Context) error {
		t.Fatal("critical section must not run")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// a foreign token is never released by us
	got, _ := mr.Get(practitionerKey(id))
	assert.Equal(t, "someone-else", got)
}

func TestPractitionerLockSerializesWaiters(t *testing.T) {
	_, client := newTestClient(t)
	locker := NewPractitionerLocker(client, 5*time.Second, 2*time.Second)
	id := uuid.New()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithPractitionerLock(context.Background(), id, func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestJobLease(t *testing.T) {
	_, client := newTestClient(t)
	lease := NewJobLease(client, time.Minute)
	ctx := context.Background()

	release, err := lease.TryAcquire(ctx, "reminders")
	require.NoError(t, err)

	_, err = lease.TryAcquire(ctx, "reminders")
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	other, err := lease.TryAcquire(ctx, "reconcile")
	require.NoError(t, err)
	other()

	release()
	again, err := lease.TryAcquire(ctx, "reminders")
	require.NoError(t, err)
	again()
}
