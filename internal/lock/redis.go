package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cex-arbitrage-go/internal/apperror"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// unlockLua deletes keys only while they still carry the caller's token.
const unlockLua = `
local n = 0
for i, k in ipairs(KEYS) do
    if redis.call('GET', k) == ARGV[1] then
        n = n + redis.call('DEL', k)
    end
end
return n
`

// RedisConfig holds connection parameters.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

// RedisLocker shares capital locks between instances with SETNX and a TTL.
type RedisLocker struct {
	rdb      *redis.Client
	prefix   string
	unlockSc *redis.Script
	logger   *zap.Logger
}

var _ Locker = (*RedisLocker)(nil)

func NewRedisLocker(rdb *redis.Client, prefix string, logger *zap.Logger) *RedisLocker {
	if prefix == "" {
		prefix = "capital"
	}
	return &RedisLocker{rdb: rdb, prefix: prefix, unlockSc: redis.NewScript(unlockLua), logger: logger.Named("lock")}
}

func (l *RedisLocker) key(k string) string {
	return "lock:" + l.prefix + ":" + k
}

func (l *RedisLocker) Acquire(ctx context.Context, keys []Key, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	names := normalize(keys)
	acquired := make([]string, 0, len(names))

	for _, k := range names {
		ok, err := l.rdb.SetNX(ctx, l.key(k), token, ttl).Result()
		if err != nil {
			l.unlock(acquired, token)
			return nil, fmt.Errorf("redis: acquire lock %s: %w", k, err)
		}
		if !ok {
			l.unlock(acquired, token)
			return nil, apperror.CapitalLocked(exchangeOf(k), k+" is committed to another execution")
		}
		acquired = append(acquired, l.key(k))
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.unlock(acquired, token) })
	}, nil
}

// unlock uses a fresh context so release works after the caller's is cancelled.
// A failed release is logged; the keys still expire with their TTL.
func (l *RedisLocker) unlock(keys []string, token string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.unlockSc.Run(ctx, l.rdb, keys, token).Err(); err != nil {
		l.logger.Error("Failed to release capital locks",
			zap.Strings("keys", keys),
			zap.Error(err),
		)
	}
}
