package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gifconverter/models"
	"gifconverter/services"
)

const (
	ReasonProbeFailed           = "Failed to retrieve video metadata"
	ReasonNoVideoStream         = "No video stream found in the file"
	ReasonDimensionsUnavailable = "Video dimensions are not available"
	ReasonStalled               = "Worker stopped before the conversion finished"
)

type Prober interface {
	Probe(ctx context.Context, input string) (models.MediaInfo, error)
}

type Transcoder interface {
	Transcode(ctx context.Context, input, output string, duration float64, onProgress func(pct int)) error
}

type RecordStore interface {
	Create(ctx context.Context, rec *models.ConversionRecord) error
	FindByJobID(ctx context.Context, jobID int64) (*models.ConversionRecord, error)
}

type PreviewRenderer interface {
	Render(gifPath string) (string, error)
}

type ObjectStore interface {
	Upload(ctx context.Context, localPath string, key string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, rec models.ConversionRecord) error
}

// Policy is the acceptance check applied to probed media before any
// transcoding starts.
type Policy struct {
	MaxDuration float64
	MaxWidth    int
	MaxHeight   int
}

// Check returns the reason of the first failing check, in fixed order, or ""
// when the media is accepted.
func (p Policy) Check(info models.MediaInfo) string {
	if !info.HasVideo {
		return ReasonNoVideoStream
	}
	if info.Duration != nil && *info.Duration > p.MaxDuration {
		return fmt.Sprintf("Video exceeds maximum duration of %s seconds", strconv.FormatFloat(p.MaxDuration, 'f', -1, 64))
	}
	if info.Width == nil || info.Height == nil {
		return ReasonDimensionsUnavailable
	}
	if *info.Width > p.MaxWidth || *info.Height > p.MaxHeight {
		return fmt.Sprintf("Video dimensions exceed %dx%d", p.MaxWidth, p.MaxHeight)
	}
	return ""
}

type ErrorKind string

const (
	KindProbe     ErrorKind = "probe"
	KindPolicy    ErrorKind = "policy"
	KindTranscode ErrorKind = "transcode"
	KindStalled   ErrorKind = "stalled"
)

// ConversionError is a terminal pipeline failure. Reason is the text written
// to the record.
type ConversionError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *ConversionError) Error() string {
	return e.Reason
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

type Pipeline struct {
	prober     Prober
	transcoder Transcoder
	records    RecordStore
	policy     Policy
	logger     *slog.Logger

	preview PreviewRenderer
	objects ObjectStore
	events  EventPublisher
	timeout time.Duration
	now     func() time.Time
}

type PipelineOption func(*Pipeline)

func WithPreview(r PreviewRenderer) PipelineOption {
	return func(p *Pipeline) { p.preview = r }
}

func WithObjectStore(s ObjectStore) PipelineOption {
	return func(p *Pipeline) { p.objects = s }
}

func WithEvents(e EventPublisher) PipelineOption {
	return func(p *Pipeline) { p.events = e }
}

// WithTimeout bounds the transcoder run. Zero means no limit.
func WithTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.timeout = d }
}

func NewPipeline(prober Prober, transcoder Transcoder, records RecordStore, policy Policy, logger *slog.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		prober:     prober,
		transcoder: transcoder,
		records:    records,
		policy:     policy,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run takes one job from probe to recorded outcome. A *ConversionError means
// the job failed terminally and its record was written. Any other error means
// the run was interrupted and nothing was recorded.
func (p *Pipeline) Run(ctx context.Context, job *models.ConversionJob, onProgress func(pct int)) (models.Outcome, error) {
	in := job.Payload.InputPath
	out := job.Payload.OutputPath
	rec := models.ConversionRecord{
		JobID:            job.ID,
		OriginalFileName: job.Payload.OriginalName,
		FilePath:         in,
	}
	logger := p.logger.With("job_id", job.ID)

	info, err := p.prober.Probe(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return models.Outcome{}, ctx.Err()
		}
		logger.Warn("probe failed", "input", in, "error", err)
		return p.fail(ctx, rec, &ConversionError{Kind: KindProbe, Reason: ReasonProbeFailed, Err: err})
	}

	if reason := p.policy.Check(info); reason != "" {
		if info.HasVideo {
			info.Apply(&rec)
		}
		logger.Info("input rejected", "reason", reason)
		return p.fail(ctx, rec, &ConversionError{Kind: KindPolicy, Reason: reason})
	}
	info.Apply(&rec)

	convCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		convCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := p.now()
	if err := p.transcoder.Transcode(convCtx, in, out, rec.Duration, onProgress); err != nil {
		_ = os.Remove(out)
		if ctx.Err() != nil {
			return models.Outcome{}, ctx.Err()
		}
		reason := err.Error()
		if errors.Is(convCtx.Err(), context.DeadlineExceeded) {
			reason = fmt.Sprintf("Conversion exceeded the %s time limit", p.timeout)
		}
		logger.Error("conversion failed", "input", in, "error", err)
		return p.fail(ctx, rec, &ConversionError{Kind: KindTranscode, Reason: reason, Err: err})
	}

	rec.Status = models.StatusCompleted
	rec.ConvertedFilePath = &out

	if p.preview != nil {
		if path, err := p.preview.Render(out); err != nil {
			logger.Warn("preview failed", "output", out, "error", err)
		} else {
			rec.PreviewPath = path
		}
	}
	p.mirror(ctx, logger, in, out)
	p.write(ctx, logger, &rec)

	logger.Info("conversion completed", "output", out, "elapsed", p.now().Sub(start).String())
	return models.Outcome{Status: models.StatusCompleted, Record: &rec}, nil
}

func (p *Pipeline) fail(ctx context.Context, rec models.ConversionRecord, cerr *ConversionError) (models.Outcome, error) {
	rec.Status = models.StatusFailed
	rec.Reason = cerr.Reason
	rec.ConvertedFilePath = nil

	p.write(ctx, p.logger.With("job_id", rec.JobID), &rec)
	return models.Outcome{Status: models.StatusFailed, Reason: cerr.Reason, Record: &rec}, cerr
}

// write stores the record. Failures are logged only; the reconciler restores
// missing records from the job's outcome.
func (p *Pipeline) write(ctx context.Context, logger *slog.Logger, rec *models.ConversionRecord) {
	rec.CreatedTime = p.now().UTC()

	// A job failed as stalled while this run was still going already has
	// its record.
	if existing, err := p.records.FindByJobID(ctx, rec.JobID); err == nil {
		logger.Warn("record already exists for job, not writing another", "record_id", existing.ID, "status", existing.Status)
		return
	} else if !errors.Is(err, services.ErrRecordNotFound) {
		logger.Warn("failed to look up existing record", "error", err)
	}

	if err := p.records.Create(ctx, rec); err != nil {
		logger.Error("failed to save conversion record", "status", rec.Status, "error", err)
		return
	}

	if p.events != nil {
		if err := p.events.Publish(ctx, *rec); err != nil {
			logger.Warn("failed to publish conversion record", "error", err)
		}
	}
}

func (p *Pipeline) mirror(ctx context.Context, logger *slog.Logger, in, out string) {
	if p.objects == nil {
		return
	}
	for key, path := range map[string]string{
		"inputs/" + filepath.Base(in): in,
		"gifs/" + filepath.Base(out):  out,
	} {
		if err := p.objects.Upload(ctx, path, key); err != nil {
			logger.Warn("failed to mirror file", "path", path, "key", key, "error", err)
		}
	}
}
