package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/amstig/internal/apperror"
	"github.com/sakif/amstig/internal/model"
	"github.com/sakif/amstig/internal/repository"
)

var _ repository.ExecutionRepository = (*DB)(nil)

const executionColumns = `id, language, status, code_sha256, code_bytes, output_bytes,
	truncated, detail, duration_ns, created_at`

// Create inserts a new execution record. The session's ID is kept when set
// so log lines and records share it; otherwise a new xid is generated.
func (db *DB) Create(ctx context.Context, rec *model.ExecutionRecord) error {
	if rec.ID == "" {
		rec.ID = xid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO executions (`+executionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Language,
		string(rec.Status),
		rec.CodeSHA256,
		rec.CodeBytes,
		rec.OutputBytes,
		rec.Truncated,
		rec.Detail,
		int64(rec.Duration),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating execution: %w", err)
	}

	return nil
}

// GetByID retrieves a single execution record by its ID.
func (db *DB) GetByID(ctx context.Context, id string) (*model.ExecutionRecord, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+executionColumns+`
		 FROM executions
		 WHERE id = ?`,
		id,
	)

	rec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("execution", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting execution %s: %w", id, err)
	}

	return rec, nil
}

// List retrieves execution records newest first.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.ExecutionRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+executionColumns+`
		 FROM executions
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing executions: %w", err)
	}
	defer rows.Close()

	// Non-nil so an empty page encodes as [] rather than null.
	records := []model.ExecutionRecord{}
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning execution row: %w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating execution rows: %w", err)
	}

	return records, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(s scanner) (*model.ExecutionRecord, error) {
	var (
		rec      model.ExecutionRecord
		status   string
		duration int64
	)
	err := s.Scan(
		&rec.ID,
		&rec.Language,
		&status,
		&rec.CodeSHA256,
		&rec.CodeBytes,
		&rec.OutputBytes,
		&rec.Truncated,
		&rec.Detail,
		&duration,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = model.Status(status)
	rec.Duration = time.Duration(duration)
	return &rec, nil
}
