package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/i474232898/meteocat-sync/internal/logger"
	"github.com/i474232898/meteocat-sync/internal/weather"
)

const redisKeyPrefix = "meteocat:entry:"

// RedisOptions configures the redis connection.
type RedisOptions struct {
	Addr           string
	Password       string
	DB             int
	ConnectTimeout time.Duration // total time allowed for the initial ping
	RetryInterval  time.Duration // first wait between pings, doubled up to MaxWait
	MaxWait        time.Duration
}

// RedisStore keeps each entry as one JSON value.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// ConnectRedis pings the server with exponential backoff until it answers
// or ConnectTimeout elapses.
func ConnectRedis(ctx context.Context, opts RedisOptions, log logger.Logger) (*RedisStore, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 10 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	log.Info("connecting to redis", logger.String("addr", opts.Addr))
	attempt := 0
	wait := opts.RetryInterval
	for {
		attempt++
		err := client.Ping(ctx).Err()
		if err == nil {
			log.Info("connected to redis", logger.String("addr", opts.Addr), logger.Int("attempts", attempt))
			return NewRedisStore(client), nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			client.Close()
			return nil, fmt.Errorf("redis unavailable at %s after %d attempts: %w", opts.Addr, attempt, err)
		case <-timer.C:
			log.Warn("redis connection failed, retrying",
				logger.String("addr", opts.Addr),
				logger.Int("attempt", attempt),
				logger.Duration("next_retry_in", wait),
				logger.Error(err))
			wait *= 2
			if wait > opts.MaxWait {
				wait = opts.MaxWait
			}
		}
	}
}

// Load reads the entry with id.
func (s *RedisStore) Load(ctx context.Context, id string) (weather.Entry, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return weather.Entry{}, fmt.Errorf("%w: %s", weather.ErrEntryNotFound, id)
		}
		return weather.Entry{}, fmt.Errorf("failed to get entry: %w", err)
	}

	var e weather.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return weather.Entry{}, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return e, nil
}

// Save replaces the entry value.
func (s *RedisStore) Save(ctx context.Context, e weather.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+e.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
