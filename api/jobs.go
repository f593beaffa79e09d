package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gifconverter/models"
	"gifconverter/queue"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type convertResponse struct {
	Message string `json:"message"`
	JobID   int64  `json:"jobId"`
	Status  string `json:"status"`
}

type jobStatusResponse struct {
	JobID        int64           `json:"jobId"`
	State        models.JobState `json:"state"`
	Progress     int             `json:"progress"`
	Result       *models.Outcome `json:"result"`
	FailedReason string          `json:"failedReason,omitempty"`
}

func (s *Server) handleConvert(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes+multipartOverhead)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.String(http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		c.String(http.StatusBadRequest, "No file uploaded")
		return
	}

	if !isMP4Name(header.Filename) {
		c.String(http.StatusBadRequest, "Only MP4 files are allowed")
		return
	}
	if header.Size > s.cfg.MaxUploadBytes {
		c.String(http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	stem := uploadStem(s.now().UnixMilli())
	inputPath := filepath.Join(s.cfg.UploadDir, stem+"-"+filepath.Base(header.Filename))
	outputPath := filepath.Join(s.cfg.UploadDir, stem+"-output.gif")

	if err := c.SaveUploadedFile(header, inputPath); err != nil {
		s.logger.Error("failed to store upload", "path", inputPath, "error", err)
		c.String(http.StatusInternalServerError, "Error storing the file")
		return
	}

	job, err := s.queue.Add(c.Request.Context(), models.JobPayload{
		InputPath:    inputPath,
		OutputPath:   outputPath,
		OriginalName: header.Filename,
	})
	if err != nil {
		s.logger.Error("failed to queue job", "input", inputPath, "error", err)
		if rmErr := os.Remove(inputPath); rmErr != nil {
			s.logger.Warn("failed to remove orphaned upload", "path", inputPath, "error", rmErr)
		}
		c.String(http.StatusInternalServerError, "Error queuing the job")
		return
	}

	s.logger.Info("job queued", "job_id", job.ID, "input", inputPath, "size", header.Size)
	c.JSON(http.StatusOK, convertResponse{
		Message: "Job added to queue successfully",
		JobID:   job.ID,
		Status:  "Job Queued",
	})
}

// isMP4Name reports whether name ends in exactly ".mp4" after a non-empty
// stem. A leading dot does not start an extension, so ".mp4" is rejected.
func isMP4Name(name string) bool {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	return ext == ".mp4" && strings.TrimLeft(strings.TrimSuffix(base, ext), ".") != ""
}

// uploadStem names one submission's files. The random part keeps submissions
// within the same millisecond apart.
func uploadStem(millis int64) string {
	return fmt.Sprintf("%d-%s", millis, uuid.NewString()[:8])
}

func (s *Server) handleJobStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.String(http.StatusNotFound, "Job not found")
		return
	}

	job, err := s.queue.Get(c.Request.Context(), id)
	if errors.Is(err, queue.ErrJobNotFound) {
		c.String(http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load job", "job_id", id, "error", err)
		c.String(http.StatusInternalServerError, "Error retrieving the job")
		return
	}

	c.JSON(http.StatusOK, jobStatusResponse{
		JobID:        job.ID,
		State:        job.State,
		Progress:     job.Progress,
		Result:       job.Result,
		FailedReason: job.FailedReason,
	})
}
