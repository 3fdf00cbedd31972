package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"promptly-backend/internal/models"
)

// versionTTL outlives any read that could still be holding a fill token.
const versionTTL = 24 * time.Hour

// fillScript stores the chat only if the version key still matches the
// token taken at the miss. An invalidation in between bumps the version.
var fillScript = redis.NewScript(`
local v = redis.call('GET', KEYS[2]) or '0'
if v ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// RedisChatCache is a read-through cache of full chat records. Writers
// invalidate the key; a stale miss just falls back to Postgres.
type RedisChatCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisChatCache(redisClient *redis.Client, ttl time.Duration) *RedisChatCache {
	return &RedisChatCache{redis: redisClient, ttl: ttl}
}

func chatCacheKey(id uuid.UUID) string {
	return "chat:" + id.String()
}

func chatVersionKey(id uuid.UUID) string {
	return "chat:" + id.String() + ":version"
}

// Get returns the cached chat, or on a miss the token Fill needs. A negative
// token disables the fill.
func (c *RedisChatCache) Get(ctx context.Context, id uuid.UUID) (*models.Chat, int64, bool) {
	vals, err := c.redis.MGet(ctx, chatCacheKey(id), chatVersionKey(id)).Result()
	if err != nil {
		slog.Warn("chat cache read failed", "chat_id", id, "error", err)
		return nil, -1, false
	}

	var version int64
	if v, ok := vals[1].(string); ok {
		if version, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, -1, false
		}
	}

	data, ok := vals[0].(string)
	if !ok {
		return nil, version, false
	}
	var chat models.Chat
	if err := json.Unmarshal([]byte(data), &chat); err != nil {
		return nil, version, false
	}
	return &chat, version, true
}

// Fill caches chat unless it was invalidated after the Get that returned token.
func (c *RedisChatCache) Fill(ctx context.Context, chat *models.Chat, token int64) {
	if token < 0 || c.ttl <= 0 {
		return
	}
	data, err := json.Marshal(chat)
	if err != nil {
		return
	}

	keys := []string{chatCacheKey(chat.ID), chatVersionKey(chat.ID)}
	err = fillScript.Run(ctx, c.redis, keys, strconv.FormatInt(token, 10), data, c.ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		slog.Warn("chat cache write failed", "chat_id", chat.ID, "error", err)
	}
}

func (c *RedisChatCache) Invalidate(ctx context.Context, id uuid.UUID) {
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, chatVersionKey(id))
		pipe.Expire(ctx, chatVersionKey(id), versionTTL)
		pipe.Del(ctx, chatCacheKey(id))
		return nil
	})
	if err != nil {
		slog.Warn("chat cache invalidation failed", "chat_id", id, "error", err)
	}
}
