package redisstore

import (
	"context"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"solarcharge/backend/services/charging-service/internal/models"
)

const reconcileSetKey = "charging:reconcile"

// FlagStore keeps the set of ports that need a hardware re-check after a
// forced close. The set survives restarts so no flagged port is forgotten.
type FlagStore struct {
	client *redis.Client
}

// NewFlagStore returns redis-backed flag set.
func NewFlagStore(client *redis.Client) *FlagStore {
	return &FlagStore{client: client}
}

// Flag marks the port for reconciliation.
func (f *FlagStore) Flag(ctx context.Context, key models.PortKey) error {
	return f.client.SAdd(ctx, reconcileSetKey, key.String()).Err()
}

// Clear removes the port's flag.
func (f *FlagStore) Clear(ctx context.Context, key models.PortKey) error {
	return f.client.SRem(ctx, reconcileSetKey, key.String()).Err()
}

// List returns all flagged ports.
func (f *FlagStore) List(ctx context.Context) ([]models.PortKey, error) {
	members, err := f.client.SMembers(ctx, reconcileSetKey).Result()
	if err != nil {
		return nil, err
	}
	keys := make([]models.PortKey, 0, len(members))
	for _, m := range members {
		idx := strings.LastIndex(m, ":")
		if idx <= 0 {
			continue
		}
		port, err := strconv.Atoi(m[idx+1:])
		if err != nil {
			continue
		}
		keys = append(keys, models.PortKey{DeviceID: m[:idx], PortNumber: port})
	}
	return keys, nil
}
