// Package linkcache keeps the set of stored links in Redis so repeated scans
// can skip known articles without querying the database.
package linkcache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/TobiSchelling/cloudwatcher/internal/database"
)

// DefaultKey is the Redis set holding known links.
const DefaultKey = "cloudwatcher:links"

// Backend is the store the cache sits in front of.
type Backend interface {
	Exists(ctx context.Context, link string) (bool, error)
	Insert(ctx context.Context, rec *database.NewsRecord) error
}

// Store answers Exists from Redis first and records links on Insert. Redis
// failures are logged and never hide the backend's answer.
type Store struct {
	backend Backend
	client  *redis.Client
	key     string
	logger  *zap.Logger
}

// Connect opens a Redis client and checks it is reachable.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return client, nil
}

// New wraps backend with a cache stored under key.
func New(backend Backend, client *redis.Client, key string, logger *zap.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, client: client, key: key, logger: logger}
}

// Exists reports whether link is stored. A cache miss falls through to the
// backend, and a backend hit warms the cache.
func (s *Store) Exists(ctx context.Context, link string) (bool, error) {
	cached, err := s.client.SIsMember(ctx, s.key, link).Result()
	if err != nil {
		s.logger.Warn("Redis lookup failed", zap.String("link", link), zap.Error(err))
	} else if cached {
		return true, nil
	}

	exists, err := s.backend.Exists(ctx, link)
	if err != nil {
		return false, err
	}
	if exists {
		s.remember(ctx, link)
	}
	return exists, nil
}

// Insert stores rec in the backend, then caches its link.
func (s *Store) Insert(ctx context.Context, rec *database.NewsRecord) error {
	if err := s.backend.Insert(ctx, rec); err != nil {
		return err
	}
	s.remember(ctx, rec.Link)
	return nil
}

func (s *Store) remember(ctx context.Context, link string) {
	if err := s.client.SAdd(ctx, s.key, link).Err(); err != nil {
		s.logger.Warn("Redis update failed", zap.String("link", link), zap.Error(err))
	}
}
