package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"

	logx "gamebot/pkg/logx"
)

const (
	defaultRedisPrefix = "gamebot:"
	// sessionTTL bounds how long an abandoned record can linger; sessions last minutes.
	sessionTTL  = 24 * time.Hour
	rotationTTL = 72 * time.Hour
)

type redisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	attempt := 0
	ping := func() error {
		attempt++
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pctx).Err(); err != nil {
			log.Warn("redis ping failed", logx.String("addr", addr), logx.Int("attempt", attempt), logx.Err(err))
			return err
		}
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(ping, bo); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connect %s: %w", addr, err)
	}
	log.Info("redis connected", logx.String("addr", addr), logx.Int("attempts", attempt))
	return newRedisStore(client, cfg.Redis.Prefix, log), nil
}

func newRedisStore(client *redis.Client, prefix string, log logx.Logger) *redisStore {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultRedisPrefix
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &redisStore{client: client, prefix: prefix, log: log}
}

func (s *redisStore) key(parts ...string) string {
	return s.prefix + strings.Join(parts, ":")
}

func (s *redisStore) SaveSession(ctx context.Context, k Key, rec SessionRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key("session", k.Scope, k.Channel), b, sessionTTL).Err()
}

func (s *redisStore) LoadSession(ctx context.Context, k Key) (SessionRecord, bool, error) {
	b, ok, err := s.getBytes(ctx, s.key("session", k.Scope, k.Channel))
	if err != nil || !ok {
		return SessionRecord{}, false, err
	}
	rec, ok := decodeSession(b)
	if !ok {
		s.log.Warn("malformed session record ignored", logx.String("key", k.String()))
	}
	return rec, ok, nil
}

func (s *redisStore) DeleteSession(ctx context.Context, k Key) error {
	return s.client.Del(ctx, s.key("session", k.Scope, k.Channel)).Err()
}

func (s *redisStore) SaveRotation(ctx context.Context, k Key, rec RotationRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key("rotation", k.Scope, k.Channel), b, rotationTTL).Err()
}

func (s *redisStore) LoadRotation(ctx context.Context, k Key) (RotationRecord, bool, error) {
	b, ok, err := s.getBytes(ctx, s.key("rotation", k.Scope, k.Channel))
	if err != nil || !ok {
		return RotationRecord{}, false, err
	}
	rec, ok := decodeRotation(b)
	return rec, ok, nil
}

func (s *redisStore) getBytes(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *redisStore) IncrementScore(ctx context.Context, scope string, userID int64, delta int64) (int64, error) {
	return s.client.IncrBy(ctx, s.key("score", scoreKey(scope, userID)), delta).Result()
}

func (s *redisStore) Score(ctx context.Context, scope string, userID int64) (int64, error) {
	n, err := s.client.Get(ctx, s.key("score", scoreKey(scope, userID))).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (s *redisStore) HasGrant(ctx context.Context, scope string, userID int64, grantID string) (bool, error) {
	return s.client.HExists(ctx, s.key("grants", scoreKey(scope, userID)), grantID).Result()
}

func (s *redisStore) PutGrant(ctx context.Context, scope string, userID int64, grantID string, at time.Time) error {
	// First write wins; a repeat keeps the original grant time.
	return s.client.HSetNX(ctx, s.key("grants", scoreKey(scope, userID)), grantID, at.UnixMilli()).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
