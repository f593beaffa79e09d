package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gifconverter/models"
	"gifconverter/queue"
	"gifconverter/services"
)

type JobInspector interface {
	Active(ctx context.Context) ([]*models.ConversionJob, error)
	Finished(ctx context.Context, limit int) ([]*models.ConversionJob, error)
	Fail(ctx context.Context, id int64, reason string, outcome models.Outcome) error
}

// Reconciler closes the gaps a crashed worker or a failed record write leave
// behind: jobs stuck in active, and finished jobs without a record. It never
// requeues anything.
type Reconciler struct {
	queue        JobInspector
	records      RecordStore
	stallTimeout time.Duration
	scanLimit    int
	logger       *slog.Logger
	now          func() time.Time
}

type SweepResult struct {
	Stalled  int
	Restored int
}

func NewReconciler(q JobInspector, records RecordStore, stallTimeout time.Duration, scanLimit int, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		queue:        q,
		records:      records,
		stallTimeout: stallTimeout,
		scanLimit:    scanLimit,
		logger:       logger,
		now:          time.Now,
	}
}

func (r *Reconciler) RecoveryLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("starting recovery loop", "interval", interval.String())

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("recovery loop shutting down")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("recovery sweep failed", "error", err)
			}
		}
	}
}

func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	active, err := r.queue.Active(ctx)
	if err != nil {
		return res, fmt.Errorf("list active jobs: %w", err)
	}
	for _, job := range active {
		heartbeat := job.UpdatedAt
		if heartbeat.IsZero() {
			heartbeat = job.StartedAt
		}
		if r.now().Sub(heartbeat) < r.stallTimeout {
			continue
		}

		rec := models.ConversionRecord{
			JobID:            job.ID,
			OriginalFileName: job.Payload.OriginalName,
			FilePath:         job.Payload.InputPath,
			Status:           models.StatusFailed,
			Reason:           ReasonStalled,
			CreatedTime:      r.now().UTC(),
		}
		outcome := models.Outcome{Status: models.StatusFailed, Reason: ReasonStalled, Record: &rec}
		err := r.queue.Fail(ctx, job.ID, ReasonStalled, outcome)
		if errors.Is(err, queue.ErrJobFinished) || errors.Is(err, queue.ErrJobNotFound) {
			// Its worker finished it after the listing.
			continue
		}
		if err != nil {
			return res, fmt.Errorf("fail stalled job %d: %w", job.ID, err)
		}
		if _, err := r.ensureRecord(ctx, rec); err != nil {
			return res, err
		}
		res.Stalled++
		r.logger.Warn("failed stalled job", "job_id", job.ID, "last_heartbeat", heartbeat)
	}

	finished, err := r.queue.Finished(ctx, r.scanLimit)
	if err != nil {
		return res, fmt.Errorf("list finished jobs: %w", err)
	}
	for _, job := range finished {
		if job.Result == nil || job.Result.Record == nil {
			continue
		}
		created, err := r.ensureRecord(ctx, *job.Result.Record)
		if err != nil {
			return res, err
		}
		if created {
			res.Restored++
			r.logger.Info("restored missing record", "job_id", job.ID)
		}
	}

	if res.Stalled > 0 || res.Restored > 0 {
		r.logger.Info("recovery sweep done", "stalled", res.Stalled, "restored", res.Restored)
	}
	return res, nil
}

// ensureRecord creates rec unless a record for its job already exists.
func (r *Reconciler) ensureRecord(ctx context.Context, rec models.ConversionRecord) (bool, error) {
	_, err := r.records.FindByJobID(ctx, rec.JobID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, services.ErrRecordNotFound) {
		return false, fmt.Errorf("look up record for job %d: %w", rec.JobID, err)
	}

	rec.ID = 0
	if err := r.records.Create(ctx, &rec); err != nil {
		return false, fmt.Errorf("restore record for job %d: %w", rec.JobID, err)
	}
	return true, nil
}
