// Package redis provides a Redis-backed daily limit store.
//
// Each (owner, day) record is a hash with "limit" and "sent" fields. HSETNX
// makes creation idempotent and HINCRBY provides the atomic increment.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bissquit/outreach-queue/internal/domain"
	"github.com/bissquit/outreach-queue/internal/quota"
	goredis "github.com/redis/go-redis/v9"
)

const (
	fieldLimit = "limit"
	fieldSent  = "sent"

	defaultKeyPrefix = "outreach:quota"
)

// incrementScript refuses to create a record without a limit.
var incrementScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
return redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
`)

// Config holds Redis store configuration.
type Config struct {
	KeyPrefix string
	// TTL expires day records after the given duration. Zero keeps them.
	TTL time.Duration
}

// Store implements quota.Store using Redis hashes.
type Store struct {
	client goredis.UniversalClient
	config Config
}

// NewStore creates a new Redis daily limit store.
func NewStore(client goredis.UniversalClient, config Config) *Store {
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaultKeyPrefix
	}
	return &Store{client: client, config: config}
}

// Connect parses a redis:// URL and verifies the server is reachable.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Get retrieves the record for (ownerID, day).
func (s *Store) Get(ctx context.Context, ownerID string, day time.Time) (*domain.DailyLimit, error) {
	values, err := s.client.HGetAll(ctx, s.key(ownerID, day)).Result()
	if err != nil {
		return nil, fmt.Errorf("get daily limit: %w", err)
	}
	if len(values) == 0 {
		return nil, quota.ErrRecordNotFound
	}
	return decode(ownerID, day, values)
}

// GetOrCreate inserts the record if absent and returns the stored one.
func (s *Store) GetOrCreate(ctx context.Context, ownerID string, day time.Time, limit int) (*domain.DailyLimit, error) {
	key := s.key(ownerID, day)

	var all *goredis.MapStringStringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldLimit, limit)
		pipe.HSetNX(ctx, key, fieldSent, 0)
		if s.config.TTL > 0 {
			pipe.Expire(ctx, key, s.config.TTL)
		}
		all = pipe.HGetAll(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create daily limit: %w", err)
	}
	return decode(ownerID, day, all.Val())
}

// Increment atomically adds one to the sent count.
func (s *Store) Increment(ctx context.Context, ownerID string, day time.Time) (int, error) {
	count, err := incrementScript.Run(ctx, s.client, []string{s.key(ownerID, day)}, fieldSent).Int()
	if err != nil {
		return 0, fmt.Errorf("increment sent count: %w", err)
	}
	if count < 0 {
		return 0, quota.ErrRecordNotFound
	}
	return count, nil
}

func (s *Store) key(ownerID string, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", s.config.KeyPrefix, ownerID, day.Format(time.DateOnly))
}

func decode(ownerID string, day time.Time, values map[string]string) (*domain.DailyLimit, error) {
	limit, err := strconv.Atoi(values[fieldLimit])
	if err != nil {
		return nil, errors.New("daily limit record is missing limit field")
	}
	sent, err := strconv.Atoi(values[fieldSent])
	if err != nil {
		sent = 0
	}
	return &domain.DailyLimit{
		OwnerID:   ownerID,
		Day:       day,
		SentCount: sent,
		Limit:     limit,
	}, nil
}
