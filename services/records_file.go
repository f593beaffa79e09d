package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gifconverter/models"

	"github.com/gofrs/flock"
)

// FileRecordStore keeps records in a flat JSON document shaped like a
// json-server db.json: {"files": [...]}. Every operation re-reads the file
// under a lock on <path>.lock, so several processes can share one document.
type FileRecordStore struct {
	path string
	lock *flock.Flock

	mu sync.Mutex
}

type fileDocument struct {
	Files []models.ConversionRecord `json:"files"`
}

func NewFileRecordStore(path string) (*FileRecordStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create record dir: %w", err)
	}
	s := &FileRecordStore{path: path, lock: flock.New(path + ".lock")}

	// Fail early on a corrupt document.
	if _, err := s.read(true); err != nil {
		return nil, err
	}
	return s, nil
}

// read loads the document, holding a shared lock unless the caller already
// holds the exclusive one.
func (s *FileRecordStore) read(shared bool) ([]models.ConversionRecord, error) {
	if shared {
		if err := s.lock.RLock(); err != nil {
			return nil, fmt.Errorf("failed to lock record file: %w", err)
		}
		defer s.lock.Unlock()
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse record file %s: %w", s.path, err)
	}
	return doc.Files, nil
}

func (s *FileRecordStore) Create(ctx context.Context, rec *models.ConversionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock record file: %w", err)
	}
	defer s.lock.Unlock()

	records, err := s.read(false)
	if err != nil {
		return err
	}

	stored := *rec
	stored.ID = 1
	for _, r := range records {
		if r.ID >= stored.ID {
			stored.ID = r.ID + 1
		}
	}
	if stored.CreatedTime.IsZero() {
		stored.CreatedTime = time.Now().UTC()
	}

	if err := s.persist(append(records, stored)); err != nil {
		return err
	}
	*rec = stored
	return nil
}

// persist writes the whole document to a temp file and renames it into place.
func (s *FileRecordStore) persist(records []models.ConversionRecord) error {
	data, err := json.MarshalIndent(fileDocument{Files: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".records-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write records: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write records: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileRecordStore) snapshot() ([]models.ConversionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(true)
}

func (s *FileRecordStore) Get(ctx context.Context, id int64) (*models.ConversionRecord, error) {
	records, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.ID == id {
			rec := r
			return &rec, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (s *FileRecordStore) List(ctx context.Context, q models.RecordQuery) ([]models.ConversionRecord, error) {
	records, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return applyQuery(records, q), nil
}

func (s *FileRecordStore) FindByJobID(ctx context.Context, jobID int64) (*models.ConversionRecord, error) {
	records, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.JobID == jobID {
			rec := r
			return &rec, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (s *FileRecordStore) Close() error {
	return s.lock.Close()
}
