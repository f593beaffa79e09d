package services

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"gifconverter/models"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const recordColumns = `id, job_id, original_file_name, file_path, converted_file_path, duration, width, height, status, reason, preview_path, created_time`

// DatabaseService is the Postgres record store.
type DatabaseService struct {
	db *sql.DB
}

func NewDatabaseService(databaseURL string) (*DatabaseService, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &DatabaseService{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil && !errors.Is(err, goose.ErrNoNextVersion) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func (d *DatabaseService) Create(ctx context.Context, rec *models.ConversionRecord) error {
	if rec.CreatedTime.IsZero() {
		rec.CreatedTime = time.Now().UTC()
	}

	query := `INSERT INTO conversion_records
		(job_id, original_file_name, file_path, converted_file_path, duration, width, height, status, reason, preview_path, created_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	var converted sql.NullString
	if rec.ConvertedFilePath != nil {
		converted = sql.NullString{String: *rec.ConvertedFilePath, Valid: true}
	}

	err := d.db.QueryRowContext(ctx, query,
		rec.JobID, rec.OriginalFileName, rec.FilePath, converted,
		rec.Duration, rec.Width, rec.Height, string(rec.Status), rec.Reason, rec.PreviewPath, rec.CreatedTime,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to insert record for job %d: %w", rec.JobID, err)
	}
	return nil
}

func (d *DatabaseService) Get(ctx context.Context, id int64) (*models.ConversionRecord, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM conversion_records WHERE id = $1`, id)
	return scanOne(row)
}

func (d *DatabaseService) FindByJobID(ctx context.Context, jobID int64) (*models.ConversionRecord, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM conversion_records WHERE job_id = $1 ORDER BY id LIMIT 1`, jobID)
	return scanOne(row)
}

func (d *DatabaseService) List(ctx context.Context, q models.RecordQuery) ([]models.ConversionRecord, error) {
	query, args := buildListQuery(q)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := []models.ConversionRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func buildListQuery(q models.RecordQuery) (string, []interface{}) {
	query := `SELECT ` + recordColumns + ` FROM conversion_records`
	var conds []string
	var args []interface{}
	argIndex := 1

	if q.JobID != nil {
		conds = append(conds, fmt.Sprintf(`job_id = $%d`, argIndex))
		args = append(args, *q.JobID)
		argIndex++
	}
	if q.Status != "" {
		conds = append(conds, fmt.Sprintf(`status = $%d`, argIndex))
		args = append(args, string(q.Status))
		argIndex++
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}

	column := "id"
	switch q.SortBy {
	case models.SortByJobID:
		column = "job_id"
	case models.SortByCreatedTime:
		column = "created_time"
	}
	order := "ASC"
	if q.Desc {
		order = "DESC"
	}
	query += fmt.Sprintf(` ORDER BY %s %s, id %s`, column, order, order)

	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIndex)
		args = append(args, q.Limit)
	}
	return query, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOne(row *sql.Row) (*models.ConversionRecord, error) {
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

func scanRecord(row rowScanner) (*models.ConversionRecord, error) {
	var (
		rec       models.ConversionRecord
		converted sql.NullString
		status    string
	)
	err := row.Scan(&rec.ID, &rec.JobID, &rec.OriginalFileName, &rec.FilePath, &converted,
		&rec.Duration, &rec.Width, &rec.Height, &status, &rec.Reason, &rec.PreviewPath, &rec.CreatedTime)
	if err != nil {
		return nil, err
	}
	if converted.Valid {
		rec.ConvertedFilePath = &converted.String
	}
	rec.Status = models.RecordStatus(status)
	rec.CreatedTime = rec.CreatedTime.UTC()
	return &rec, nil
}

func (d *DatabaseService) Close() error {
	return d.db.Close()
}
