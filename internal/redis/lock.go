package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
)

// PractitionerLocker guards a practitioner's calendar across replicas while
// a booking is checked and written.
type PractitionerLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewPractitionerLocker creates a locker that uses a per-practitioner Redis
// key. A caller that finds the key taken keeps retrying for up to wait.
func NewPractitionerLocker(client *redis.Client, ttl, wait time.Duration) *PractitionerLocker {
	return &PractitionerLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func practitionerKey(id uuid.UUID) string {
	return fmt.Sprintf("lock:practitioner:%s", id.String())
}

func (l *PractitionerLocker) WithPractitionerLock(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context) error) error {
	key := practitionerKey(practitionerID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// the caller's ctx may already be done; release must still run
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = release(releaseCtx, l.client, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *PractitionerLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	backoff := 10 * time.Millisecond

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire practitioner lock: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Add(backoff).Before(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}
}

// JobLease keeps a recurring job single-flight across processes. It never
// waits: a held lease means another replica is running the pass.
type JobLease struct {
	client *redis.Client
	ttl    time.Duration
}

func NewJobLease(client *redis.Client, ttl time.Duration) *JobLease {
	return &JobLease{client: client, ttl: ttl}
}

// TryAcquire returns a release func when the lease for job was obtained,
// or ErrLockNotAcquired.
func (l *JobLease) TryAcquire(ctx context.Context, job string) (func(), error) {
	key := fmt.Sprintf("lease:job:%s", job)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire job lease: %w", err)
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = release(releaseCtx, l.client, key, token)
	}, nil
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func release(ctx context.Context, client *redis.Client, key, token string) error {
	_, err := unlockScript.Run(ctx, client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
