package domain

import (
	"time"

	"github.com/google/uuid"
)

// LogKind classifies an import log entry.
type LogKind string

const (
	LogKindError   LogKind = "error"
	LogKindWarning LogKind = "warning"
)

// ImportLog is an append-only message attached to an import job.
// RowNumber is nil for job-level entries.
type ImportLog struct {
	ID        int64     `json:"id"`
	JobID     uuid.UUID `json:"job_id"`
	Kind      LogKind   `json:"log_type"`
	RowNumber *int      `json:"row_number,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// RowError builds an error entry for a source row.
func RowError(jobID uuid.UUID, row int, message string) ImportLog {
	return ImportLog{JobID: jobID, Kind: LogKindError, RowNumber: &row, Message: message}
}

// RowWarning builds a warning entry for a source row.
func RowWarning(jobID uuid.UUID, row int, message string) ImportLog {
	return ImportLog{JobID: jobID, Kind: LogKindWarning, RowNumber: &row, Message: message}
}

// JobError builds a job-level error entry without a row number.
func JobError(jobID uuid.UUID, message string) ImportLog {
	return ImportLog{JobID: jobID, Kind: LogKindError, Message: message}
}
