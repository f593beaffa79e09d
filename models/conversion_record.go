package models

import "time"

type RecordStatus string

const (
	StatusCompleted RecordStatus = "completed"
	StatusFailed    RecordStatus = "failed"
)

// ConversionRecord is the durable outcome document. The JSON names are what
// the browser client reads.
type ConversionRecord struct {
	ID                int64        `json:"id,omitempty"`
	JobID             int64        `json:"jobId"`
	OriginalFileName  string       `json:"originalFileName"`
	FilePath          string       `json:"filePath"`
	ConvertedFilePath *string      `json:"convertedFilePath"`
	Duration          float64      `json:"duration"`
	Width             int          `json:"width"`
	Height            int          `json:"height"`
	Status            RecordStatus `json:"status"`
	Reason            string       `json:"reason,omitempty"`
	PreviewPath       string       `json:"previewPath,omitempty"`
	CreatedTime       time.Time    `json:"createdTime"`
}

// MediaInfo is what a probe found. Nil fields were not reported.
type MediaInfo struct {
	HasVideo bool
	Duration *float64
	Width    *int
	Height   *int
}

// Apply copies the probed attributes onto r, leaving zero for absent values.
func (m MediaInfo) Apply(r *ConversionRecord) {
	if m.Duration != nil {
		r.Duration = *m.Duration
	}
	if m.Width != nil {
		r.Width = *m.Width
	}
	if m.Height != nil {
		r.Height = *m.Height
	}
}

const (
	SortByID          = "id"
	SortByJobID       = "jobId"
	SortByCreatedTime = "createdTime"
)

// RecordQuery filters and orders a record listing. Zero values mean no filter,
// store order and no limit.
type RecordQuery struct {
	JobID  *int64
	Status RecordStatus
	SortBy string
	Desc   bool
	Limit  int
}

func (q RecordQuery) Matches(r ConversionRecord) bool {
	if q.JobID != nil && r.JobID != *q.JobID {
		return false
	}
	if q.Status != "" && r.Status != q.Status {
		return false
	}
	return true
}

// Less orders a before b by the query's sort key, ascending.
func (q RecordQuery) Less(a, b ConversionRecord) bool {
	switch q.SortBy {
	case SortByJobID:
		return a.JobID < b.JobID
	case SortByCreatedTime:
		return a.CreatedTime.Before(b.CreatedTime)
	default:
		return a.ID < b.ID
	}
}
