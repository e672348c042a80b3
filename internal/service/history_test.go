package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/amstig/internal/apperror"
	"github.com/sakif/amstig/internal/model"
	"github.com/sakif/amstig/internal/repository"
)

func TestHistory_ListClampsPagination(t *testing.T) {
	tests := []struct {
		name          string
		limit, offset int
		want          repository.ListOptions
	}{
		{"defaults", 0, 0, repository.ListOptions{Limit: DefaultListLimit}},
		{"negative limit", -5, 0, repository.ListOptions{Limit: DefaultListLimit}},
		{"over max", 1000, 10, repository.ListOptions{Limit: MaxListLimit, Offset: 10}},
		{"negative offset", 5, -1, repository.ListOptions{Limit: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockExecutionRepo{}
			svc := NewHistoryService(repo, quietLogger())

			_, err := svc.List(context.Background(), tt.limit, tt.offset)
			require.NoError(t, err)
			assert.Equal(t, tt.want, repo.lastOpt)
		})
	}
}

func TestHistory_ListRepositoryError(t *testing.T) {
	repo := &mockExecutionRepo{err: errors.New("database is locked")}
	svc := NewHistoryService(repo, quietLogger())

	_, err := svc.List(context.Background(), 10, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing executions")
}

func TestHistory_GetByID(t *testing.T) {
	repo := &mockExecutionRepo{records: []model.ExecutionRecord{{ID: "abc", Status: model.StatusSucceeded}}}
	svc := NewHistoryService(repo, quietLogger())

	rec, err := svc.GetByID(context.Background(), " abc ")
	require.NoError(t, err)
	assert.Equal(t, "abc", rec.ID)

	_, err = svc.GetByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	_, err = svc.GetByID(context.Background(), "  ")
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}
