package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an import job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo enforces pending -> processing -> {completed, failed}.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// ImportCounts aggregates row outcomes for a job.
type ImportCounts struct {
	TotalRows    int `json:"total_rows"`
	SuccessCount int `json:"success_count"`
	WarningCount int `json:"warning_count"`
	ErrorCount   int `json:"error_count"`
}

// Reconciled reports whether every observed row ended as a success or an error.
func (c ImportCounts) Reconciled() bool {
	return c.TotalRows == c.SuccessCount+c.ErrorCount
}

// ImportJob tracks the processing of a single uploaded file.
type ImportJob struct {
	ID          uuid.UUID  `json:"id"`
	FileName    string     `json:"file_name"`
	FilePath    string     `json:"-"`
	Status      JobStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ImportCounts
}

// NewImportJob creates a pending job for a stored upload.
func NewImportJob(fileName, filePath string) ImportJob {
	return ImportJob{
		ID:        uuid.New(),
		FileName:  fileName,
		FilePath:  filePath,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
	}
}

// Transition returns a copy of the job moved to next, or an error when the move is not allowed.
func (j ImportJob) Transition(next JobStatus, at time.Time) (ImportJob, error) {
	if !j.Status.CanTransitionTo(next) {
		return j, fmt.Errorf("invalid job transition %s -> %s", j.Status, next)
	}
	j.Status = next
	if next.IsTerminal() {
		completed := at
		j.CompletedAt = &completed
	}
	return j, nil
}

func (j ImportJob) String() string {
	return fmt.Sprintf("Import %s - %s", j.ID, j.Status)
}
