package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/redis/go-redis/v9"
)

// Leader decides whether this process may run a sweep tick.
type Leader interface {
	// Acquire takes or renews leadership. false means another instance holds it.
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// AlwaysLeader is used when a single scheduler instance runs.
type AlwaysLeader struct{}

func (AlwaysLeader) Acquire(context.Context) (bool, error) { return true, nil }
func (AlwaysLeader) Release(context.Context) error         { return nil }

// DefaultLeaseKey is the Redis key holding the scheduler lease.
const DefaultLeaseKey = "escalation:scheduler:leader"

var (
	renewLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisLease is a TTL lease keyed by instance id. The holder renews it each
// tick; a crashed holder loses it once the TTL lapses.
type RedisLease struct {
	client     redis.UniversalClient
	key        string
	instanceID string
	ttl        time.Duration
}

// NewRedisLease builds a lease. ttl should exceed the sweep interval.
func NewRedisLease(client redis.UniversalClient, key, instanceID string, ttl time.Duration) *RedisLease {
	if key == "" {
		key = DefaultLeaseKey
	}
	return &RedisLease{client: client, key: key, instanceID: instanceID, ttl: ttl}
}

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.instanceID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	if ok {
		return true, nil
	}
	renewed, err := renewLease.Run(ctx, l.client, []string{l.key}, l.instanceID, l.ttl.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return renewed == 1, nil
}

// Release drops the lease only if this instance still holds it.
func (l *RedisLease) Release(ctx context.Context) error {
	if err := releaseLease.Run(ctx, l.client, []string{l.key}, l.instanceID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// FileLock elects a leader among processes on one host with an flock.
type FileLock struct {
	lock *flock.Flock
}

func NewFileLock(path string) *FileLock {
	return &FileLock{lock: flock.New(path)}
}

func (f *FileLock) Acquire(context.Context) (bool, error) {
	if f.lock.Locked() {
		return true, nil
	}
	locked, err := f.lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquiring lock: %w", err)
	}
	return locked, nil
}

func (f *FileLock) Release(context.Context) error {
	if !f.lock.Locked() {
		return nil
	}
	return f.lock.Unlock()
}
