package lockx

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNoClient = errors.New("redis client not initialized")
	ErrHeld = errors.New("lock held by another owner")
	// ErrLost means the lock expired or was taken over while fn was running.
	ErrLost = errors.New("lock lost before work finished")
)

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

const extendScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`

type Lock struct {
	Key   string
	Token string
	TTL   time.Duration
}

func Acquire(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*Lock, bool, error) {
	if client == nil {
		return nil, false, ErrNoClient
	}
	if ttl <= 0 {
		return nil, false, errors.New("ttl must be > 0")
	}
	token := uuid.NewString()
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{Key: key, Token: token, TTL: ttl}, true, nil
}

func Extend(ctx context.Context, client *redis.Client, lock *Lock) (bool, error) {
	if client == nil {
		return false, ErrNoClient
	}
	if lock == nil {
		return false, errors.New("lock is nil")
	}
	n, err := client.Eval(ctx, extendScript, []string{lock.Key}, lock.Token, strconv.FormatInt(lock.TTL.Milliseconds(), 10)).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func Release(ctx context.Context, client *redis.Client, lock *Lock) error {
	if client == nil {
		return ErrNoClient
	}
	if lock == nil {
		return errors.New("lock is nil")
	}
	return client.Eval(ctx, releaseScript, []string{lock.Key}, lock.Token).Err()
}

// Run renews the lease every ttl/3. If renewal finds the lock gone, fn's
// context is cancelled and Run returns ErrLost.
func Run(ctx context.Context, client *redis.Client, key string, ttl time.Duration, fn func(context.Context) error) error {
	lock, ok, err := Acquire(ctx, client, key, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrHeld
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = Release(releaseCtx, client, lock)
	}()

	workCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		renew(workCtx, client, lock, cancel)
	}()

	err = fn(workCtx)
	cancel(nil)
	<-done
	if errors.Is(context.Cause(workCtx), ErrLost) {
		return errors.Join(ErrLost, err)
	}
	return err
}

func renew(ctx context.Context, client *redis.Client, lock *Lock, cancel context.CancelCauseFunc) {
	interval := lock.TTL / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := Extend(ctx, client, lock)
			if err != nil {
				continue
			}
			if !held {
				cancel(ErrLost)
				return
			}
		}
	}
}
