package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gifconverter/config"
	"gifconverter/models"
)

var ErrRecordNotFound = errors.New("record not found")

// RecordStore holds ConversionRecords. Records are only ever created.
type RecordStore interface {
	Create(ctx context.Context, rec *models.ConversionRecord) error
	Get(ctx context.Context, id int64) (*models.ConversionRecord, error)
	List(ctx context.Context, q models.RecordQuery) ([]models.ConversionRecord, error)
	FindByJobID(ctx context.Context, jobID int64) (*models.ConversionRecord, error)
	Close() error
}

// NewRecordStore opens the backend selected by cfg.RecordStore.
func NewRecordStore(cfg *config.Config) (RecordStore, error) {
	switch cfg.RecordStore {
	case config.RecordStoreFile:
		return NewFileRecordStore(cfg.RecordStoreFile)
	case config.RecordStorePostgres:
		return NewDatabaseService(cfg.DatabaseURL)
	case config.RecordStoreHTTP:
		return NewHTTPRecordStore(cfg.RecordStoreURL(), cfg.RecordStoreTimeout), nil
	default:
		return nil, fmt.Errorf("unknown record store %q", cfg.RecordStore)
	}
}

// applyQuery filters, orders and limits records in memory.
func applyQuery(records []models.ConversionRecord, q models.RecordQuery) []models.ConversionRecord {
	out := make([]models.ConversionRecord, 0, len(records))
	for _, r := range records {
		if q.Matches(r) {
			out = append(out, r)
		}
	}

	if q.SortBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			if q.Desc {
				return q.Less(out[j], out[i])
			}
			return q.Less(out[i], out[j])
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
