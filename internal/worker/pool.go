// Package worker runs background chat maintenance jobs from a Redis queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"promptly-backend/internal/models"
	"promptly-backend/internal/services"
	"promptly-backend/internal/storage"
)

const maxAttempts = 3

type jobStore interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	UpdateError(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error
}

type indexPruner interface {
	PruneDangling(ctx context.Context, userID string) (int64, error)
}

type imageReferences interface {
	ReferencesImage(ctx context.Context, userID, path string) (bool, error)
}

type assetRecords interface {
	DeleteByPath(ctx context.Context, userID, path string) error
}

type publisher interface {
	PublishUpdate(ctx context.Context, userID string, msg models.WSMessage)
}

type Pool struct {
	redis       *redis.Client
	jobRepo     jobStore
	index       indexPruner
	chats       imageReferences
	assets      assetRecords
	store       storage.AssetStore
	events      publisher
	workerCount int
	logger      *slog.Logger

	// requeue pushes a failed job back after backoff.
	requeue func(job *models.Job, backoff time.Duration)
}

func NewPool(
	redisClient *redis.Client,
	jobRepo jobStore,
	index indexPruner,
	chats imageReferences,
	assets assetRecords,
	store storage.AssetStore,
	events publisher,
	workerCount int,
) *Pool {
	p := &Pool{
		redis:       redisClient,
		jobRepo:     jobRepo,
		index:       index,
		chats:       chats,
		assets:      assets,
		store:       store,
		events:      events,
		workerCount: max(workerCount, 1),
		logger:      slog.Default().With("component", "worker"),
	}
	p.requeue = p.requeueRedis
	return p
}

// Run starts the workers and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workerCount; i++ {
		g.Go(func() error {
			p.worker(ctx, i)
			return nil
		})
	}

	p.logger.Info("started worker goroutines", "count", p.workerCount)
	return g.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	logger := p.logger.With("worker", id)
	for {
		if ctx.Err() != nil {
			logger.Info("worker shutting down")
			return
		}

		// BLPOP with 5s timeout so shutdown is noticed promptly
		result, err := p.redis.BLPop(ctx, 5*time.Second, services.MaintenanceQueue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				logger.Warn("queue read failed", "error", err)
				time.Sleep(time.Second)
			}
			continue
		}

		if len(result) < 2 {
			continue
		}

		// Parse job
		var job models.Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			logger.Error("failed to parse job", "error", err)
			continue
		}

		// Try to acquire lock
		lockKey := fmt.Sprintf("job_lock:%s", job.ID.String())
		locked, err := p.redis.SetNX(ctx, lockKey, "1", 10*time.Minute).Result()
		if err != nil || !locked {
			continue // Another worker has this job
		}

		p.handle(ctx, &job)

		// Release lock
		p.redis.Del(context.WithoutCancel(ctx), lockKey)
	}
}

// handle runs one job and records its outcome.
func (p *Pool) handle(ctx context.Context, job *models.Job) {
	p.logger.Info("processing job", "job_id", job.ID, "type", job.Type, "owner", job.UserID)
	p.jobRepo.UpdateStatus(ctx, job.ID, "processing")

	if err := p.process(ctx, job); err != nil {
		p.handleFailure(ctx, job, err)
		return
	}

	p.jobRepo.UpdateStatus(ctx, job.ID, "completed")
	p.logger.Info("job completed", "job_id", job.ID, "type", job.Type)
}

func (p *Pool) process(ctx context.Context, job *models.Job) error {
	switch job.Type {
	case models.JobTypeIndexPrune:
		return p.processIndexPrune(ctx, job)
	case models.JobTypeAssetCleanup:
		return p.processAssetCleanup(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (p *Pool) processIndexPrune(ctx context.Context, job *models.Job) error {
	n, err := p.index.PruneDangling(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("prune index: %w", err)
	}
	p.logger.Info("pruned dangling index entries", "owner", job.UserID, "count", n)
	return nil
}

// processAssetCleanup deletes the images of a removed chat. Images another
// of the owner's chats still shows are kept. Objects already gone count as
// deleted, so a retried job only redoes what is left.
func (p *Pool) processAssetCleanup(ctx context.Context, job *models.Job) error {
	var cfg models.AssetCleanupConfig
	if err := json.Unmarshal(job.ConfigJSON, &cfg); err != nil {
		return fmt.Errorf("parse asset-cleanup config: %w", err)
	}

	var errs []error
	for _, path := range cfg.Paths {
		inUse, err := p.chats.ReferencesImage(ctx, job.UserID, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("check references of %s: %w", path, err))
			continue
		}
		if inUse {
			p.logger.Info("keeping image still referenced by another chat", "owner", job.UserID, "path", path)
			continue
		}

		if err := p.store.Delete(ctx, path); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := p.assets.DeleteByPath(ctx, job.UserID, path); err != nil {
			errs = append(errs, fmt.Errorf("delete asset row %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) handleFailure(ctx context.Context, job *models.Job, err error) {
	job.RetryCount++
	errMsg := err.Error()

	if job.RetryCount < maxAttempts {
		p.logger.Warn("job failed, retrying", "job_id", job.ID, "attempt", job.RetryCount, "error", errMsg)
		p.jobRepo.UpdateStatus(ctx, job.ID, "pending")
		p.jobRepo.UpdateError(ctx, job.ID, errMsg, job.RetryCount)

		backoff := time.Duration(1<<uint(job.RetryCount)) * time.Second
		p.requeue(job, backoff)
		return
	}

	// Max retries reached
	p.logger.Error("job failed permanently", "job_id", job.ID, "type", job.Type, "owner", job.UserID, "error", errMsg)
	p.jobRepo.UpdateStatus(ctx, job.ID, "failed")
	p.jobRepo.UpdateError(ctx, job.ID, errMsg, job.RetryCount)

	if p.events != nil {
		p.events.PublishUpdate(ctx, job.UserID, models.WSMessage{
			Type: "error",
			Payload: models.ErrorEvent{
				JobID:        job.ID,
				ErrorCode:    "JOB_FAILED",
				ErrorMessage: errMsg,
			},
		})
	}
}

func (p *Pool) requeueRedis(job *models.Job, backoff time.Duration) {
	jobBytes, _ := json.Marshal(job)
	time.AfterFunc(backoff, func() {
		p.redis.LPush(context.Background(), services.MaintenanceQueue, string(jobBytes))
	})
}
