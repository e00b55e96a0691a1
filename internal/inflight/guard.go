// Package inflight хранит флаг «запрос выполняется» в Redis, чтобы экземпляры сервиса
// не отправляли один и тот же переход одновременно.
package inflight

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/order-tracker/internal/model"
)

// DefaultTTL ограничивает время жизни флага, если экземпляр упал, не сняв его.
const DefaultTTL = 30 * time.Second

// luaReleaseIfOwner удаляет флаг только если его поставил тот же владелец.
const luaReleaseIfOwner = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// Guard реализует tracker.Guard поверх Redis.
type Guard struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewGuard создаёт флаг поверх клиента Redis. Нулевой ttl заменяется на DefaultTTL.
func NewGuard(rdb redis.Cmdable, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{rdb: rdb, ttl: ttl}
}

// Key возвращает ключ флага для заказа и целевого статуса.
func Key(orderID string, target model.Status) string {
	return fmt.Sprintf("order-tracker:inflight:%s:%s", orderID, target)
}

// Acquire ставит флаг, если он ещё не стоит. Возвращает false, если запрос уже выполняется.
func (g *Guard) Acquire(ctx context.Context, orderID string, target model.Status, owner string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, Key(orderID, target), owner, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire in-flight flag: %w", err)
	}
	return ok, nil
}

// Release снимает флаг, поставленный владельцем owner.
func (g *Guard) Release(ctx context.Context, orderID string, target model.Status, owner string) error {
	if err := g.rdb.Eval(ctx, luaReleaseIfOwner, []string{Key(orderID, target)}, owner).Err(); err != nil {
		return fmt.Errorf("release in-flight flag: %w", err)
	}
	return nil
}

// Ping проверяет доступность Redis.
func (g *Guard) Ping(ctx context.Context) error {
	return g.rdb.Ping(ctx).Err()
}
