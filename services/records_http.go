package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"gifconverter/models"
)

// HTTPRecordStore talks to a json-server compatible collection, such as the
// API process's /json/files.
type HTTPRecordStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRecordStore bounds every request by timeout, since workers call it
// with contexts that carry no deadline.
func NewHTTPRecordStore(baseURL string, timeout time.Duration) *HTTPRecordStore {
	return &HTTPRecordStore{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (h *HTTPRecordStore) Create(ctx context.Context, rec *models.ConversionRecord) error {
	if rec.CreatedTime.IsZero() {
		rec.CreatedTime = time.Now().UTC()
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var stored models.ConversionRecord
	if err := h.do(req, &stored); err != nil {
		return err
	}
	rec.ID = stored.ID
	return nil
}

func (h *HTTPRecordStore) Get(ctx context.Context, id int64) (*models.ConversionRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var rec models.ConversionRecord
	if err := h.do(req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (h *HTTPRecordStore) List(ctx context.Context, q models.RecordQuery) ([]models.ConversionRecord, error) {
	params := url.Values{}
	if q.JobID != nil {
		params.Set("jobId", strconv.FormatInt(*q.JobID, 10))
	}
	if q.Status != "" {
		params.Set("status", string(q.Status))
	}
	if q.SortBy != "" {
		params.Set("_sort", q.SortBy)
		if q.Desc {
			params.Set("_order", "desc")
		} else {
			params.Set("_order", "asc")
		}
	}
	if q.Limit > 0 {
		params.Set("_limit", strconv.Itoa(q.Limit))
	}

	target := h.baseURL
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	records := []models.ConversionRecord{}
	if err := h.do(req, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (h *HTTPRecordStore) FindByJobID(ctx context.Context, jobID int64) (*models.ConversionRecord, error) {
	records, err := h.List(ctx, models.RecordQuery{JobID: &jobID, SortBy: models.SortByID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrRecordNotFound
	}
	return &records[0], nil
}

func (h *HTTPRecordStore) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("record store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrRecordNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("record store returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode record store response: %w", err)
	}
	return nil
}

func (h *HTTPRecordStore) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
