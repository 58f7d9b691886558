// Package session tracks login sessions and brute-force lockout for the
// control plane's single admin principal, backed by Redis (spec SPEC_FULL
// ambient auth stack).
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	MaxSessionsPerUser = 5
	SessionTTL         = 7 * 24 * time.Hour // Matches Refresh Token
	LockoutTTL         = 15 * time.Minute
	LockoutThreshold   = 5
)

type Manager struct {
	client *redis.Client
}

func NewManager(addr string, password string) *Manager {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	return &Manager{client: rdb}
}

// CreateSession registers a new session and enforces MaxSessionsPerUser.
func (m *Manager) CreateSession(ctx context.Context, userID, sessionID string) error {
	userKey := fmt.Sprintf("user_sessions:%s", userID)
	sessionKey := fmt.Sprintf("session:%s", sessionID)

	pipe := m.client.Pipeline()

	now := float64(time.Now().Unix())
	pipe.ZAdd(ctx, userKey, redis.Z{Score: now, Member: sessionID})
	pipe.Expire(ctx, userKey, SessionTTL)

	pipe.HSet(ctx, sessionKey, "user_id", userID, "created_at", now)
	pipe.Expire(ctx, sessionKey, SessionTTL)

	// Keep only the most recent MaxSessionsPerUser sessions.
	removeCount := int64(-1 * (MaxSessionsPerUser + 1))
	pipe.ZRemRangeByRank(ctx, userKey, 0, removeCount)

	_, err := pipe.Exec(ctx)
	return err
}

func (m *Manager) RevokeSession(ctx context.Context, sessionID string) error {
	sessionKey := fmt.Sprintf("session:%s", sessionID)

	userID, err := m.client.HGet(ctx, sessionKey, "user_id").Result()
	if err != nil && err != redis.Nil {
		return err
	}

	pipe := m.client.Pipeline()
	pipe.Del(ctx, sessionKey)
	if userID != "" {
		userKey := fmt.Sprintf("user_sessions:%s", userID)
		pipe.ZRem(ctx, userKey, sessionID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (m *Manager) RevokeAllUserSessions(ctx context.Context, userID string) error {
	userKey := fmt.Sprintf("user_sessions:%s", userID)

	sessionIDs, err := m.client.ZRange(ctx, userKey, 0, -1).Result()
	if err != nil {
		return err
	}
	if len(sessionIDs) == 0 {
		return nil
	}

	pipe := m.client.Pipeline()
	pipe.Del(ctx, userKey)
	for _, sid := range sessionIDs {
		pipe.Del(ctx, fmt.Sprintf("session:%s", sid))
	}

	_, err = pipe.Exec(ctx)
	return err
}

// CheckLockout returns true if username is currently locked out.
func (m *Manager) CheckLockout(ctx context.Context, username string) (bool, error) {
	key := fmt.Sprintf("lockout:%s", username)
	val, err := m.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "locked", nil
}

// RecordFailedAttempt increments the failure count and locks the account
// once LockoutThreshold is reached within LockoutTTL.
func (m *Manager) RecordFailedAttempt(ctx context.Context, username string) error {
	key := fmt.Sprintf("lockout_count:%s", username)
	count, err := m.client.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if count == 1 {
		m.client.Expire(ctx, key, LockoutTTL)
	}
	if count >= LockoutThreshold {
		lockKey := fmt.Sprintf("lockout:%s", username)
		m.client.Set(ctx, lockKey, "locked", LockoutTTL)
		m.client.Del(ctx, key)
	}
	return nil
}
