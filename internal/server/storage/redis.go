package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"daochess/internal/server/game"
)

const (
	redisKeyPrefix   = "daochess:"
	redisCASAttempts = 3
)

// RedisStore keeps documents as JSON strings; game writes use WATCH/MULTI.
// The registry is a plain SET, so one server process may write per Redis.
type RedisStore struct {
	rdb          *redis.Client
	healthStatus atomic.Bool
}

// NewRedisStore connects using a redis:// or rediss:// URL
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("redis url required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisStoreWithClient(ctx, redis.NewClient(opts))
}

func NewRedisStoreWithClient(ctx context.Context, rdb *redis.Client) (*RedisStore, error) {
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	s := &RedisStore{rdb: rdb}
	s.healthStatus.Store(true)
	return s, nil
}

func gameKey(id string) string {
	return redisKeyPrefix + "game:" + id
}

func registryRedisKey() string {
	return redisKeyPrefix + "registry:" + registryKey
}

func (s *RedisStore) IsHealthy() bool {
	return s.healthStatus.Load()
}

func (s *RedisStore) track(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidDocument) {
		s.healthStatus.Store(true)
		return err
	}
	if s.healthStatus.Swap(false) {
		log.Warn().Err(err).Msg("redis storage degraded")
	}
	return err
}

func (s *RedisStore) GetGame(ctx context.Context, id string) (*game.Game, error) {
	data, err := s.rdb.Get(ctx, gameKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, s.track(fmt.Errorf("%w: game %s", ErrNotFound, id))
	}
	if err != nil {
		return nil, s.track(fmt.Errorf("failed to read game %s: %w", id, err))
	}
	g, err := decodeGame(data)
	return g, s.track(err)
}

// PutGame replaces the document if nobody moved the revision in between
func (s *RedisStore) PutGame(ctx context.Context, g *game.Game) error {
	data, err := encodeGame(g)
	if err != nil {
		return err
	}
	key := gameKey(g.ID)

	txf := func(tx *redis.Tx) error {
		stored := int64(-1)
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var head struct {
				Revision int64 `json:"revision"`
			}
			if err := json.Unmarshal(current, &head); err != nil {
				return fmt.Errorf("%w: game %s: %v", ErrInvalidDocument, g.ID, err)
			}
			stored = head.Revision
		}
		if err := checkRevision(g.ID, stored, g.Revision); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < redisCASAttempts; i++ {
		err = s.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return s.track(err)
		}
	}
	return s.track(fmt.Errorf("%w: game %s: watched key kept changing", ErrConflict, g.ID))
}

func (s *RedisStore) DeleteGame(ctx context.Context, id string) error {
	return s.track(s.rdb.Del(ctx, gameKey(id)).Err())
}

func (s *RedisStore) GetRegistry(ctx context.Context) ([]game.Summary, error) {
	data, err := s.rdb.Get(ctx, registryRedisKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return []game.Summary{}, s.track(nil)
	}
	if err != nil {
		return nil, s.track(fmt.Errorf("failed to read registry: %w", err))
	}
	games, err := decodeRegistry(data)
	return games, s.track(err)
}

func (s *RedisStore) PutRegistry(ctx context.Context, games []game.Summary) error {
	data, err := encodeRegistry(games)
	if err != nil {
		return err
	}
	return s.track(s.rdb.Set(ctx, registryRedisKey(), data, 0).Err())
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
