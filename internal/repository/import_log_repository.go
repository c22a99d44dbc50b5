package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/feedimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultLogPageSize is used when a caller asks for a non-positive page size.
const DefaultLogPageSize = 200

type importLogRepository struct {
	pool *pgxpool.Pool
}

// NewImportLogRepository wires a repository backed by pgxpool.
func NewImportLogRepository(pool *pgxpool.Pool) ImportLogRepository {
	return &importLogRepository{pool: pool}
}

// Append inserts entries in the given order. The batch runs as one implicit transaction,
// so creation order matches argument order.
func (r *importLogRepository) Append(ctx context.Context, entries ...domain.ImportLog) error {
	if r.pool == nil {
		return fmt.Errorf("import log repository not initialized")
	}
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, entry := range entries {
		var rowNumber any
		if entry.RowNumber != nil {
			rowNumber = *entry.RowNumber
		}
		batch.Queue(
			`INSERT INTO import_logs (job_id, log_type, row_number, message)
			 VALUES ($1, $2, $3, $4)`,
			entry.JobID,
			string(entry.Kind),
			rowNumber,
			entry.Message,
		)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to record import log: %w", err)
	}
	return nil
}

func (r *importLogRepository) List(ctx context.Context, jobID uuid.UUID, limit int, offset int) ([]domain.ImportLog, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("import log repository not initialized")
	}

	limit, offset = normalizePage(limit, offset)

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, job_id, log_type, row_number, message, created_at
		 FROM import_logs
		 WHERE job_id = $1
		 ORDER BY created_at ASC, id ASC
		 LIMIT $2 OFFSET $3`,
		jobID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list import logs: %w", err)
	}
	defer rows.Close()

	logs := []domain.ImportLog{}
	for rows.Next() {
		var (
			entry     domain.ImportLog
			kind      string
			rowNumber pgtype.Int4
			createdAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&entry.ID,
			&entry.JobID,
			&kind,
			&rowNumber,
			&entry.Message,
			&createdAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan import log: %w", scanErr)
		}

		entry.Kind = domain.LogKind(kind)
		if rowNumber.Valid {
			value := int(rowNumber.Int32)
			entry.RowNumber = &value
		}
		if createdAt.Valid {
			entry.CreatedAt = createdAt.Time
		}

		logs = append(logs, entry)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate import logs: %w", rowsErr)
	}

	return logs, nil
}

func (r *importLogRepository) Count(ctx context.Context, jobID uuid.UUID) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM import_logs WHERE job_id = $1`, jobID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count import logs: %w", err)
	}
	return count, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLogPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
