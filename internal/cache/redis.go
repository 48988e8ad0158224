// Package cache provides the Redis-backed read cache sitting in front of the
// conversation store. It follows the same discipline the client-side cache
// does: mutations write the authoritative conversation into its slot and drop
// the attempt's list keys, so no reader is ever served state older than the
// last successful mutation. Cache failures degrade to store reads and are
// never surfaced as operation failures.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/reviewthread/pkg/models"
)

const defaultTTL = 5 * time.Minute

// RedisCache caches single conversations and per-attempt list queries.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

// NewRedisCacheWithClient builds a cache over an existing client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{
		client: client,
		prefix: "rt:",
		ttl:    ttl,
	}
}

func (c *RedisCache) conversationKey(attemptID, conversationID uuid.UUID) string {
	return c.prefix + "conv:" + attemptID.String() + ":" + conversationID.String()
}

func (c *RedisCache) listKey(attemptID uuid.UUID, unresolvedOnly bool) string {
	if unresolvedOnly {
		return c.prefix + "list:" + attemptID.String() + ":unresolved"
	}
	return c.prefix + "list:" + attemptID.String() + ":all"
}

// GetConversation returns the cached conversation slot, if present.
func (c *RedisCache) GetConversation(ctx context.Context, attemptID, conversationID uuid.UUID) (*models.Conversation, bool) {
	data, err := c.client.Get(ctx, c.conversationKey(attemptID, conversationID)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Warn().Err(err).Msg("Conversation cache read failed")
		return nil, false
	}

	var conv models.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		log.Warn().Err(err).Msg("Conversation cache entry corrupt; treating as miss")
		return nil, false
	}
	return &conv, true
}

// PutConversation writes the authoritative conversation into its slot.
func (c *RedisCache) PutConversation(ctx context.Context, conv *models.Conversation) {
	data, err := json.Marshal(conv)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to marshal conversation for cache")
		return
	}
	if err := c.client.Set(ctx, c.conversationKey(conv.AttemptID, conv.ID), data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("Conversation cache write failed")
	}
}

// RemoveConversation drops the slot for a conversation that no longer exists.
func (c *RedisCache) RemoveConversation(ctx context.Context, attemptID, conversationID uuid.UUID) {
	if err := c.client.Del(ctx, c.conversationKey(attemptID, conversationID)).Err(); err != nil {
		log.Warn().Err(err).Msg("Conversation cache delete failed")
	}
}

// GetList returns a cached list query result, if present.
func (c *RedisCache) GetList(ctx context.Context, attemptID uuid.UUID, unresolvedOnly bool) ([]*models.Conversation, bool) {
	data, err := c.client.Get(ctx, c.listKey(attemptID, unresolvedOnly)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Warn().Err(err).Msg("List cache read failed")
		return nil, false
	}

	conversations := make([]*models.Conversation, 0)
	if err := json.Unmarshal(data, &conversations); err != nil {
		log.Warn().Err(err).Msg("List cache entry corrupt; treating as miss")
		return nil, false
	}
	return conversations, true
}

// PutList caches a list query result.
func (c *RedisCache) PutList(ctx context.Context, attemptID uuid.UUID, unresolvedOnly bool, conversations []*models.Conversation) {
	data, err := json.Marshal(conversations)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to marshal conversation list for cache")
		return
	}
	if err := c.client.Set(ctx, c.listKey(attemptID, unresolvedOnly), data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("List cache write failed")
	}
}

// InvalidateLists drops both list keys for the attempt so the next read
// refetches from the store.
func (c *RedisCache) InvalidateLists(ctx context.Context, attemptID uuid.UUID) {
	err := c.client.Del(ctx, c.listKey(attemptID, false), c.listKey(attemptID, true)).Err()
	if err != nil {
		log.Warn().Err(err).Msg("List cache invalidation failed")
	}
}

// Ping checks if Redis is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
