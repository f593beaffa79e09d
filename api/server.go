// Package api is the HTTP surface: upload submission, job status, the record
// listing the browser client polls, and the converted files themselves.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"gifconverter/config"
	"gifconverter/models"
	"gifconverter/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// multipartOverhead is the slack allowed on top of the upload ceiling for
// boundaries and part headers.
const multipartOverhead = 1 << 20

type JobQueue interface {
	Add(ctx context.Context, payload models.JobPayload) (*models.ConversionJob, error)
	Get(ctx context.Context, id int64) (*models.ConversionJob, error)
	Ping(ctx context.Context) error
}

type Server struct {
	cfg     *config.Config
	router  *gin.Engine
	queue   JobQueue
	records services.RecordStore
	logger  *slog.Logger
	now     func() time.Time
}

func NewServer(cfg *config.Config, q JobQueue, records services.RecordStore, logger *slog.Logger) (*Server, error) {
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger), cors.Default())

	s := &Server{
		cfg:     cfg,
		router:  r,
		queue:   q,
		records: records,
		logger:  logger,
		now:     time.Now,
	}

	r.Static("/uploads", cfg.UploadDir)
	r.POST("/v1/convert", s.handleConvert)
	r.GET("/job/:id", s.handleJobStatus)
	r.GET("/healthz", s.handleHealth)

	files := r.Group("/json/files")
	files.GET("", s.handleListRecords)
	files.GET("/:id", s.handleGetRecord)
	files.POST("", s.handleCreateRecord)

	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.queue.Ping(c.Request.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		)
	}
}
