package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"gifconverter/models"
	"gifconverter/services"

	"github.com/gin-gonic/gin"
)

// parseRecordQuery reads the json-server style listing parameters.
func parseRecordQuery(c *gin.Context) (models.RecordQuery, error) {
	var q models.RecordQuery

	if raw := c.Query("jobId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return q, fmt.Errorf("invalid jobId %q", raw)
		}
		q.JobID = &id
	}

	switch status := models.RecordStatus(c.Query("status")); status {
	case "", models.StatusCompleted, models.StatusFailed:
		q.Status = status
	default:
		return q, fmt.Errorf("invalid status %q", status)
	}

	switch sortBy := c.Query("_sort"); sortBy {
	case "", models.SortByID, models.SortByJobID, models.SortByCreatedTime:
		q.SortBy = sortBy
	default:
		return q, fmt.Errorf("invalid _sort %q", sortBy)
	}

	switch order := c.DefaultQuery("_order", "asc"); order {
	case "asc":
	case "desc":
		q.Desc = true
	default:
		return q, fmt.Errorf("invalid _order %q", order)
	}
	if q.Desc && q.SortBy == "" {
		q.SortBy = models.SortByID
	}

	if raw := c.Query("_limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return q, fmt.Errorf("invalid _limit %q", raw)
		}
		q.Limit = limit
	}
	return q, nil
}

func (s *Server) handleListRecords(c *gin.Context) {
	q, err := parseRecordQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := s.records.List(c.Request.Context(), q)
	if err != nil {
		s.logger.Error("failed to list records", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list records"})
		return
	}
	if records == nil {
		records = []models.ConversionRecord{}
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) handleGetRecord(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{})
		return
	}

	rec, err := s.records.Get(c.Request.Context(), id)
	if errors.Is(err, services.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{})
		return
	}
	if err != nil {
		s.logger.Error("failed to load record", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load record"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleCreateRecord(c *gin.Context) {
	var rec models.ConversionRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if rec.Status != models.StatusCompleted && rec.Status != models.StatusFailed {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid status %q", rec.Status)})
		return
	}

	rec.ID = 0
	if err := s.records.Create(c.Request.Context(), &rec); err != nil {
		s.logger.Error("failed to create record", "job_id", rec.JobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create record"})
		return
	}
	c.JSON(http.StatusCreated, rec)
}
