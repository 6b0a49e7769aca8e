// Package limiter — счётчики попыток в Redis (фиксированное окно).
// Используется для ограничения входов по email и паузы между запросами сброса пароля.
package limiter

//go:generate mockgen -destination=../../mocks/mock_limiter.go -package=mocks github.com/pribylovaa/go-billing-auth/internal/limiter Limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter — минимальный контракт ограничителя попыток.
type Limiter interface {
	// Allow учитывает попытку по key и сообщает, укладывается ли она в лимит окна.
	Allow(ctx context.Context, key string) (bool, error)
	// Reset сбрасывает счётчик key.
	Reset(ctx context.Context, key string) error
}

// Redis — ограничитель на INCR + EXPIRE NX: окно открывается первой попыткой.
type Redis struct {
	rdb    *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

// NewClient создаёт клиент Redis из URL (например, redis://:pass@host:6379/0)
// и проверяет соединение.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	const op = "limiter.NewClient"

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rdb, nil
}

// NewRedis создаёт ограничитель: не более limit попыток за window.
// Ключи получают префикс prefix, разные ограничители не должны делить префикс.
func NewRedis(rdb *redis.Client, prefix string, limit int, window time.Duration) *Redis {
	if limit < 1 {
		limit = 1
	}

	return &Redis{rdb: rdb, prefix: prefix, limit: int64(limit), window: window}
}

func (l *Redis) key(k string) string { return l.prefix + k }

// Allow учитывает попытку.
func (l *Redis) Allow(ctx context.Context, key string) (bool, error) {
	const op = "limiter.Redis.Allow"

	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, l.key(key))
		pipe.ExpireNX(ctx, l.key(key), l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return incr.Val() <= l.limit, nil
}

// Reset сбрасывает счётчик.
func (l *Redis) Reset(ctx context.Context, key string) error {
	const op = "limiter.Redis.Reset"

	if err := l.rdb.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

var _ Limiter = (*Redis)(nil)
