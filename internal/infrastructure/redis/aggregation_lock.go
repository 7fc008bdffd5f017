// Package redis bloqueo distribuido de agregación sobre Redis (SET NX con TTL).
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/symphonia/preinvoice-api/internal/application/billing"
	"github.com/symphonia/preinvoice-api/pkg/config"
)

var _ billing.AggregationLocker = (*AggregationLock)(nil)

// ErrLockReleased el bloqueo expiró o lo tomó otro proceso antes de liberarlo.
var ErrLockReleased = errors.New("bloqueo de agregación ya no pertenece a este proceso")

// releaseScript borra la clave solo si aún guarda nuestro token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// AggregationLock implementa billing.AggregationLocker. El TTL acota cuánto
// puede retener la clave un proceso caído.
type AggregationLock struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewClient crea el cliente y verifica la conexión.
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("conectar a Redis: %w", err)
	}
	return client, nil
}

// NewAggregationLock construye el bloqueo. ttl <= 0 usa 60 s.
func NewAggregationLock(client *redis.Client, ttl time.Duration) *AggregationLock {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &AggregationLock{client: client, ttl: ttl, retry: 50 * time.Millisecond}
}

// Lock reintenta SET NX hasta obtener la clave o hasta que ctx termine.
func (l *AggregationLock) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	token := uuid.New().String()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("adquirir bloqueo %s: %w", key, err)
		}
		if ok {
			return func(ctx context.Context) error {
				n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
				if err != nil {
					return fmt.Errorf("liberar bloqueo %s: %w", key, err)
				}
				if n == 0 {
					return ErrLockReleased
				}
				return nil
			}, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
