package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"solarcharge/backend/services/charging-service/internal/models"
)

// ActiveSession stored in redis for quick access.
type ActiveSession struct {
	SessionID string    `json:"session_id"`
	UserID    int64     `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	Port      int       `json:"port"`
	StartTime time.Time `json:"start_time"`
}

// SessionStore mirrors active sessions into redis so other services can
// look them up without hitting the database.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore returns redis-backed store.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) key(sessionID string) string {
	return fmt.Sprintf("charging:active:%s", sessionID)
}

// Save caches session.
func (s *SessionStore) Save(ctx context.Context, session models.ChargingSession) error {
	entry := ActiveSession{
		SessionID: session.ID,
		UserID:    session.UserID,
		DeviceID:  session.DeviceID,
		Port:      session.PortNumber,
		StartTime: session.StartTime,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(session.ID), data, s.ttl).Err()
}

// Get returns cached session.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*ActiveSession, error) {
	result, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	var session ActiveSession
	if err := json.Unmarshal([]byte(result), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Delete removes cached session.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}
