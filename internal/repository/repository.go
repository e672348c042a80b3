// Package repository defines the storage interfaces used by the service layer.
// Implementations live in subpackages (sqlite).
package repository

import (
	"context"

	"github.com/sakif/amstig/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// ExecutionRepository stores one record per terminal execution outcome.
// Records are append-only.
type ExecutionRepository interface {
	Create(ctx context.Context, rec *model.ExecutionRecord) error
	GetByID(ctx context.Context, id string) (*model.ExecutionRecord, error)
	List(ctx context.Context, opts ListOptions) ([]model.ExecutionRecord, error)
}
