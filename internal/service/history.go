package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/amstig/internal/apperror"
	"github.com/sakif/amstig/internal/model"
	"github.com/sakif/amstig/internal/repository"
)

// Pagination limits for the execution log.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// HistoryService reads the execution log. Records are written by the
// Gateway only.
type HistoryService struct {
	repo   repository.ExecutionRepository
	logger *slog.Logger
}

// NewHistoryService creates a new HistoryService.
func NewHistoryService(repo repository.ExecutionRepository, logger *slog.Logger) *HistoryService {
	return &HistoryService{
		repo:   repo,
		logger: logger,
	}
}

// GetByID retrieves one execution record.
// Returns apperror.ErrNotFound if it doesn't exist.
func (s *HistoryService) GetByID(ctx context.Context, id string) (*model.ExecutionRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "execution ID is required")
	}

	return s.repo.GetByID(ctx, id)
}

// List retrieves execution records newest first, with the limit clamped to
// 1-100 (default 20) and a non-negative offset.
func (s *HistoryService) List(ctx context.Context, limit, offset int) ([]model.ExecutionRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	records, err := s.repo.List(ctx, repository.ListOptions{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("failed to list executions", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing executions: %w", err)
	}

	return records, nil
}
