package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gifconverter/models"
	"gifconverter/queue"
)

type JobQueue interface {
	Claim(ctx context.Context, timeout time.Duration) (*models.ConversionJob, error)
	Progress(ctx context.Context, id int64, pct int) error
	Heartbeat(ctx context.Context, id int64) error
	Complete(ctx context.Context, id int64, outcome models.Outcome) error
	Fail(ctx context.Context, id int64, reason string, outcome models.Outcome) error
}

type Pool struct {
	queue       JobQueue
	pipeline    *Pipeline
	logger      *slog.Logger
	pollTimeout time.Duration
	errorDelay  time.Duration
	// heartbeat keeps a running job's updatedAt fresh so the reconciler
	// does not take it for stalled.
	heartbeat time.Duration
}

func NewPool(q JobQueue, pipeline *Pipeline, logger *slog.Logger) *Pool {
	return &Pool{
		queue:       q,
		pipeline:    pipeline,
		logger:      logger,
		pollTimeout: 5 * time.Second,
		errorDelay:  5 * time.Second,
		heartbeat:   30 * time.Second,
	}
}

// StartWorker claims and processes jobs one at a time until ctx is done.
func (p *Pool) StartWorker(ctx context.Context, workerID int) {
	logger := p.logger.With("worker_id", workerID)
	logger.Info("worker starting")

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutting down")
			return
		default:
		}

		job, err := p.queue.Claim(ctx, p.pollTimeout)
		if errors.Is(err, queue.ErrNoJob) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error("failed to claim job", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(p.errorDelay):
			}
			continue
		}

		p.processJob(ctx, logger, job)
	}
}

func (p *Pool) processJob(ctx context.Context, logger *slog.Logger, job *models.ConversionJob) {
	logger = logger.With("job_id", job.ID)
	logger.Info("processing job", "input", job.Payload.InputPath, "original_name", job.Payload.OriginalName)

	stopHeartbeat := p.startHeartbeat(ctx, logger, job.ID)
	outcome, err := p.pipeline.Run(ctx, job, func(pct int) {
		if err := p.queue.Progress(ctx, job.ID, pct); err != nil {
			logger.Warn("failed to update progress", "error", err)
		}
	})
	stopHeartbeat()

	// The outcome is known at this point; record it even if shutdown has begun.
	finishCtx := context.WithoutCancel(ctx)

	var cerr *ConversionError
	switch {
	case err == nil:
		if err := p.queue.Complete(finishCtx, job.ID, outcome); errors.Is(err, queue.ErrJobFinished) {
			logger.Warn("job was already finished elsewhere, keeping its state")
		} else if err != nil {
			logger.Error("failed to mark job completed", "error", err)
		}
	case errors.As(err, &cerr):
		if err := p.queue.Fail(finishCtx, job.ID, cerr.Reason, outcome); errors.Is(err, queue.ErrJobFinished) {
			logger.Warn("job was already finished elsewhere, keeping its state")
		} else if err != nil {
			logger.Error("failed to mark job failed", "error", err)
		}
		logger.Info("job failed", "kind", cerr.Kind, "reason", cerr.Reason)
	default:
		// Left active; the reconciler fails it once its heartbeat goes stale.
		logger.Warn("job interrupted", "error", err)
	}
}

// startHeartbeat refreshes the job's heartbeat until the returned func is
// called. The func waits for the refresher to exit.
func (p *Pool) startHeartbeat(ctx context.Context, logger *slog.Logger, id int64) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := p.queue.Heartbeat(hbCtx, id); err != nil && hbCtx.Err() == nil {
					logger.Warn("failed to refresh heartbeat", "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
