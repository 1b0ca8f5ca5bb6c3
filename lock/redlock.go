// Package lock implements a single-instance redis lock. Scripts use it to
// keep two runtimes from acting on the same resource.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
)

var (
	ErrFailedLock = errors.New("failed to acquire lock")
)

type RedLock struct {
	rdb    redis.Cmdable
	entity string //请求锁的唯一实例
}

// NewRedLock 创建锁，entity 为空时自动生成
func NewRedLock(rdb redis.Cmdable, entity string) *RedLock {
	if entity == "" {
		entity = GeneLockEntity()
	}
	return &RedLock{rdb: rdb, entity: entity}
}

func (l *RedLock) Entity() string {
	return l.entity
}

// Lock retries every checkInterval until it holds lockKey, wait has
// passed or ctx ends. expiry is the lock's lifetime in redis.
func (l *RedLock) Lock(ctx context.Context, lockKey string, expiry, wait, checkInterval time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		ok, err := l.TryLock(ctx, lockKey, expiry)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Add(checkInterval).Before(deadline) {
			return ErrFailedLock
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(checkInterval):
		}
	}
}

// TryLock makes one attempt on lockKey.
func (l *RedLock) TryLock(ctx context.Context, lockKey string, expiry time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, lockKey, l.entity, expiry).Result()
}

var unlockScript = redis.NewScript(`
	if redis.call("get",KEYS[1]) == ARGV[1] then
		return redis.call("del",KEYS[1])
	else
		return 0
	end
`)

// UnLock 只释放本实例持有的锁
func (l *RedLock) UnLock(ctx context.Context, lockKey string) (bool, error) {
	val, err := unlockScript.Run(ctx, l.rdb, []string{lockKey}, l.entity).Result()
	if err != nil {
		return false, err
	}
	num, ok := val.(int64)
	if !ok {
		return false, errors.New("ret.Val.(int64) not ok")
	}
	return num != 0, nil
}

// 生成请求锁的唯一实例
func GeneLockEntity() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return xid.New().String()
	}
	return base64.StdEncoding.EncodeToString(b)
}
