package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spacesvm/lifeline"
)

var _ lifeline.SubmissionStore = (*RedisStore)(nil)

// Connect initializes a Redis client from URL or host:port input and checks
// that the server answers.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisStore is a lifeline.SubmissionStore shared through Redis
type RedisStore struct {
	client redis.UniversalClient
	cfg    config

	mu    sync.Mutex
	owned map[string]chan struct{}
	token string
}

// NewRedisStore creates a store on an existing client
func NewRedisStore(client redis.UniversalClient, opts ...Option) *RedisStore {
	cfg := config{
		ttl:          10 * time.Minute,
		inFlightTTL:  2 * time.Minute,
		pollInterval: 100 * time.Millisecond,
		writeTimeout: 5 * time.Second,
		keyPrefix:    "lifeline:submission:",
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &RedisStore{
		client: client,
		cfg:    cfg,
		owned:  make(map[string]chan struct{}),
		token:  uuid.NewString(),
	}
}

func (s *RedisStore) resultKey(key string) string {
	return s.cfg.keyPrefix + "result:" + key
}

func (s *RedisStore) inFlightKey(key string) string {
	return s.cfg.keyPrefix + "inflight:" + key
}

// CheckAndMark implements lifeline.SubmissionStore
func (s *RedisStore) CheckAndMark(ctx context.Context, key string) (lifeline.SubmissionStatus, *lifeline.SubmissionResult, chan struct{}, error) {
	cached, err := s.get(ctx, key)
	if err != nil {
		return lifeline.StatusNotFound, nil, nil, err
	}
	if cached != nil {
		return lifeline.StatusCached, cached, nil, nil
	}

	claimed, err := s.client.SetNX(ctx, s.inFlightKey(key), s.token, s.cfg.inFlightTTL).Result()
	if err != nil {
		return lifeline.StatusNotFound, nil, nil, fmt.Errorf("claim in-flight marker: %w", err)
	}

	if !claimed {
		s.mu.Lock()
		done := s.owned[key]
		s.mu.Unlock()
		return lifeline.StatusInFlight, nil, done, nil
	}

	// The previous owner may have completed between the read and the claim
	cached, err = s.get(ctx, key)
	if err != nil || cached != nil {
		s.client.Del(ctx, s.inFlightKey(key))
		if err != nil {
			return lifeline.StatusNotFound, nil, nil, err
		}
		return lifeline.StatusCached, cached, nil, nil
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.owned[key] = done
	s.mu.Unlock()
	return lifeline.StatusNotFound, nil, done, nil
}

// WaitForResult implements lifeline.SubmissionStore. The done channel is
// only set when the owner is in this process; otherwise Redis is polled.
func (s *RedisStore) WaitForResult(ctx context.Context, key string, done chan struct{}) (*lifeline.SubmissionResult, error) {
	ticker := time.NewTicker(s.cfg.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
			return s.get(ctx, key)
		case <-ticker.C:
		}

		result, err := s.get(ctx, key)
		if err != nil || result != nil {
			return result, err
		}
		n, err := s.client.Exists(ctx, s.inFlightKey(key)).Result()
		if err != nil {
			return nil, fmt.Errorf("check in-flight marker: %w", err)
		}
		if n == 0 {
			return nil, nil
		}
	}
}

// Complete implements lifeline.SubmissionStore. The write outlives a
// cancelled ctx so the result and marker are never left behind.
func (s *RedisStore) Complete(ctx context.Context, key string, result lifeline.SubmissionResult, done chan struct{}) {
	defer s.release(key, done)
	ctx, cancel := s.detach(ctx)
	defer cancel()

	raw, err := json.Marshal(result)
	if err != nil {
		s.cfg.logger.Error("failed to encode submission result", zap.String("key", key), zap.Error(err))
		return
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.resultKey(key), raw, s.cfg.ttl)
		p.Del(ctx, s.inFlightKey(key))
		return nil
	})
	if err != nil {
		s.cfg.logger.Warn("failed to cache submission result", zap.String("key", key), zap.Error(err))
	}
}

// Fail implements lifeline.SubmissionStore. Like Complete it clears the
// marker even when ctx is already cancelled.
func (s *RedisStore) Fail(ctx context.Context, key string, done chan struct{}) {
	defer s.release(key, done)
	ctx, cancel := s.detach(ctx)
	defer cancel()

	if err := s.client.Del(ctx, s.inFlightKey(key)).Err(); err != nil {
		s.cfg.logger.Warn("failed to clear in-flight marker", zap.String("key", key), zap.Error(err))
	}
}

// detach keeps ctx values but drops its cancellation, bounded by the write
// timeout
func (s *RedisStore) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.writeTimeout)
}

func (s *RedisStore) release(key string, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owned, ok := s.owned[key]; ok && owned == done {
		delete(s.owned, key)
	}
	if done != nil {
		close(done)
	}
}

func (s *RedisStore) get(ctx context.Context, key string) (*lifeline.SubmissionResult, error) {
	raw, err := s.client.Get(ctx, s.resultKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read submission result: %w", err)
	}

	var result lifeline.SubmissionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode submission result: %w", err)
	}
	return &result, nil
}
