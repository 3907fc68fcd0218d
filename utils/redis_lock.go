package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	// 为原生Redis客户端添加别名，解决命名冲突
	goredis "github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"

	// 为redsync的redis接口包添加别名，避免冲突
	goredisadapter "github.com/go-redsync/redsync/v4/redis/goredis/v8"
)

// InitRedis 初始化Redis客户端并校验连接
func InitRedis(addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisLocker 基于RedSync的分布式锁（多进程部署时串行化结算）
type RedisLocker struct {
	rs     *redsync.Redsync
	expire time.Duration
}

// NewRedisLocker 创建分布式锁
func NewRedisLocker(client *goredis.Client, expire time.Duration) *RedisLocker {
	return &RedisLocker{
		rs:     redsync.New(goredisadapter.NewPool(client)),
		expire: expire,
	}
}

// Lock 加锁，返回解锁函数
func (l *RedisLocker) Lock(ctx context.Context, key string) (func() error, error) {
	mutex := l.rs.NewMutex(key, redsync.WithExpiry(l.expire), redsync.WithTries(64))
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("redsync lock failed: %w", err)
	}
	return func() error {
		return releaseRedisLock(mutex)
	}, nil
}

// releaseRedisLock 释放RedSync分布式锁
func releaseRedisLock(mutex *redsync.Mutex) error {
	// Unlock返回：bool(是否解锁成功)、error(执行错误)
	ok, err := mutex.Unlock()
	if err != nil {
		return fmt.Errorf("redsync unlock failed: %w", err)
	}
	if !ok {
		return errors.New("mutex has expired or not held")
	}
	return nil
}
