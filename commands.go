package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gifconverter/api"
	"gifconverter/config"
	"gifconverter/logging"
	"gifconverter/queue"
	"gifconverter/services"
	"gifconverter/worker"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 30 * time.Second

// deps holds what every command needs: configuration, a logger, the queue and
// the record store.
type deps struct {
	cfg     *config.Config
	logger  *slog.Logger
	redis   *redis.Client
	queue   *queue.Queue
	records services.RecordStore
}

func setup(ctx context.Context, cmd *cli.Command) (*deps, error) {
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr(), err)
	}
	logger.Info("connected to redis", "addr", cfg.RedisAddr(), "queue", cfg.QueueName)

	records, err := services.NewRecordStore(cfg)
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("open record store: %w", err)
	}
	logger.Info("record store ready", "backend", cfg.RecordStore)

	return &deps{
		cfg:     cfg,
		logger:  logger,
		redis:   rdb,
		queue:   queue.New(rdb, cfg.QueueName, cfg.QueueRetention),
		records: records,
	}, nil
}

func (d *deps) Close() {
	if err := d.records.Close(); err != nil {
		d.logger.Warn("failed to close record store", "error", err)
	}
	if err := d.redis.Close(); err != nil {
		d.logger.Warn("failed to close redis client", "error", err)
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	d, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	// The API owns /json/files; pointing it at itself would loop.
	if d.cfg.RecordStore == config.RecordStoreHTTP {
		return fmt.Errorf("serve needs a local record store, RECORD_STORE=%s is only for workers", config.RecordStoreHTTP)
	}

	srv, err := api.NewServer(d.cfg, d.queue, d.records, d.logger)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func workerAction(ctx context.Context, cmd *cli.Command) error {
	d, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	pipeline, closePipeline, err := buildPipeline(d)
	if err != nil {
		return err
	}
	defer closePipeline()

	pool := worker.NewPool(d.queue, pipeline, d.logger)
	reconciler := worker.NewReconciler(d.queue, d.records, d.cfg.StallTimeout, d.cfg.QueueRetention, d.logger)

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			pool.StartWorker(ctx, workerID)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.RecoveryLoop(ctx, d.cfg.RecoveryInterval)
	}()

	d.logger.Info("conversion service ready",
		"workers", d.cfg.WorkerCount,
		"ffmpeg", d.cfg.FFMPEGPath,
		"max_duration", d.cfg.MaxDuration,
		"max_width", d.cfg.MaxWidth,
		"max_height", d.cfg.MaxHeight,
	)

	<-ctx.Done()
	d.logger.Info("shutdown signal received, stopping workers")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("all workers stopped gracefully")
	case <-time.After(shutdownTimeout):
		d.logger.Warn("shutdown timeout, forcing exit")
	}
	return nil
}

func reconcileAction(ctx context.Context, cmd *cli.Command) error {
	d, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	reconciler := worker.NewReconciler(d.queue, d.records, d.cfg.StallTimeout, d.cfg.QueueRetention, d.logger)
	res, err := reconciler.Sweep(ctx)
	if err != nil {
		return err
	}
	d.logger.Info("reconcile finished", "stalled", res.Stalled, "restored", res.Restored)
	return nil
}

// buildPipeline wires the transcoder and the optional extras selected by the
// configuration. The returned func releases them.
func buildPipeline(d *deps) (*worker.Pipeline, func(), error) {
	ffmpeg := services.NewFFmpegService(d.cfg)
	policy := worker.Policy{
		MaxDuration: d.cfg.MaxDuration,
		MaxWidth:    d.cfg.MaxWidth,
		MaxHeight:   d.cfg.MaxHeight,
	}
	opts := []worker.PipelineOption{worker.WithTimeout(d.cfg.ConversionTimeout)}
	closer := func() {}

	if d.cfg.PreviewEnabled {
		opts = append(opts, worker.WithPreview(services.NewPreviewRenderer(d.cfg.PreviewSize)))
	}

	objects, err := services.NewObjectStore(d.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open object store: %w", err)
	}
	if objects != nil {
		opts = append(opts, worker.WithObjectStore(objects))
		d.logger.Info("mirroring files to object storage", "backend", d.cfg.ObjectStore)
	}

	if len(d.cfg.KafkaBrokers) > 0 {
		publisher := services.NewKafkaPublisher(d.cfg.KafkaBrokers, d.cfg.KafkaTopic)
		opts = append(opts, worker.WithEvents(publisher))
		closer = func() {
			if err := publisher.Close(); err != nil {
				d.logger.Warn("failed to close kafka writer", "error", err)
			}
		}
		d.logger.Info("publishing conversion records", "topic", d.cfg.KafkaTopic)
	}

	return worker.NewPipeline(ffmpeg, ffmpeg, d.records, policy, d.logger, opts...), closer, nil
}
