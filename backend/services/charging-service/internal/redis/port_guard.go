package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"solarcharge/backend/services/charging-service/internal/models"
)

// Guard serializes port acquisition across service instances with a
// short-lived SETNX key. It is advisory: the conditional session insert
// remains the durable tie-break, so callers may proceed when the guard
// store is unreachable.
type Guard struct {
	client *redis.Client
}

// NewGuard returns redis-backed port guard.
func NewGuard(client *redis.Client) *Guard {
	return &Guard{client: client}
}

func (g *Guard) key(k models.PortKey) string {
	return fmt.Sprintf("charging:guard:%s", k.String())
}

// TryLock attempts to claim the port. ok=false means another acquisition
// holds it right now.
func (g *Guard) TryLock(ctx context.Context, key models.PortKey, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.key(key), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// Unlock releases the port if the token still owns it. A lost or expired
// token is not an error.
func (g *Guard) Unlock(ctx context.Context, key models.PortKey, token string) error {
	_, err := luaUnlock.Run(ctx, g.client, []string{g.key(key)}, token).Result()
	return err
}
