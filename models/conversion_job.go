package models

import "time"

type JobState string

const (
	JobQueued    JobState = "queued"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobPayload is what the submission endpoint hands to the worker.
type JobPayload struct {
	InputPath    string `json:"filePath"`
	OutputPath   string `json:"outputFilePath"`
	OriginalName string `json:"originalFileName"`
}

type ConversionJob struct {
	ID           int64      `json:"id"`
	Payload      JobPayload `json:"data"`
	State        JobState   `json:"state"`
	Progress     int        `json:"progress"`
	Result       *Outcome   `json:"result,omitempty"`
	FailedReason string     `json:"failedReason,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    time.Time  `json:"startedAt,omitzero"`
	FinishedAt   time.Time  `json:"finishedAt,omitzero"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Outcome is the value a pipeline run leaves on its job.
type Outcome struct {
	Status RecordStatus      `json:"status"`
	Reason string            `json:"reason,omitempty"`
	Record *ConversionRecord `json:"record,omitempty"`
}
