package services

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"promptly-backend/internal/models"
)

type RedisPublisher struct {
	redis *redis.Client
}

func NewRedisPublisher(redisClient *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: redisClient}
}

// PublishUpdate sends a WebSocket update via Redis pub/sub
func (p *RedisPublisher) PublishUpdate(ctx context.Context, userID string, msg models.WSMessage) {
	data, _ := json.Marshal(msg)
	if err := p.redis.Publish(ctx, models.UserUpdatesChannel(userID), string(data)).Err(); err != nil {
		slog.Warn("failed to publish update", "owner", userID, "type", msg.Type, "error", err)
	}
}
