package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"promptly-backend/internal/models"
)

// MaintenanceQueue holds background chat maintenance jobs.
const MaintenanceQueue = "queue:chat-maintenance"

type jobCreator interface {
	Create(ctx context.Context, j *models.Job) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

// RedisJobQueue records a job row and pushes it onto the maintenance queue.
type RedisJobQueue struct {
	redis   *redis.Client
	jobRepo jobCreator
}

func NewRedisJobQueue(redisClient *redis.Client, jobRepo jobCreator) *RedisJobQueue {
	return &RedisJobQueue{redis: redisClient, jobRepo: jobRepo}
}

func (q *RedisJobQueue) Enqueue(ctx context.Context, job *models.Job) error {
	if err := q.jobRepo.Create(ctx, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	jobBytes, _ := json.Marshal(job)
	if err := q.redis.LPush(ctx, MaintenanceQueue, string(jobBytes)).Err(); err != nil {
		_ = q.jobRepo.UpdateStatus(ctx, job.ID, "failed")
		return fmt.Errorf("failed to enqueue %s job %s: %w", job.Type, job.ID, err)
	}
	return nil
}
