package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/amstig/internal/apperror"
	"github.com/sakif/amstig/internal/model"
	"github.com/sakif/amstig/internal/repository"
)

// newTestDB gives each test its own in-memory database.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	require.NoError(t, err, "failed to create test db")
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestExecution(t *testing.T, db *DB, status model.Status, at time.Time) *model.ExecutionRecord {
	t.Helper()
	rec := &model.ExecutionRecord{
		Language:   "javascript",
		Status:     status,
		CodeSHA256: "2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae",
		CodeBytes:  3,
		CreatedAt:  at,
	}
	require.NoError(t, db.Create(context.Background(), rec))
	return rec
}

func TestCreate(t *testing.T) {
	db := newTestDB(t)

	rec := &model.ExecutionRecord{
		Language:    "javascript",
		Status:      model.StatusRuntimeFailed,
		CodeSHA256:  "abc",
		CodeBytes:   28,
		OutputBytes: 6,
		Truncated:   true,
		Detail:      "boom",
		Duration:    42 * time.Millisecond,
	}

	require.NoError(t, db.Create(context.Background(), rec))
	assert.NotEmpty(t, rec.ID, "Create should generate an ID")
	assert.False(t, rec.CreatedAt.IsZero(), "Create should set CreatedAt")

	got, err := db.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, model.StatusRuntimeFailed, got.Status)
	assert.Equal(t, "abc", got.CodeSHA256)
	assert.Equal(t, 28, got.CodeBytes)
	assert.Equal(t, 6, got.OutputBytes)
	assert.True(t, got.Truncated)
	assert.Equal(t, "boom", got.Detail)
	assert.Equal(t, 42*time.Millisecond, got.Duration)
	assert.WithinDuration(t, rec.CreatedAt, got.CreatedAt, time.Second)
}

func TestCreate_KeepsSessionID(t *testing.T) {
	db := newTestDB(t)

	rec := &model.ExecutionRecord{ID: "session-1", Language: "javascript", Status: model.StatusSucceeded}
	require.NoError(t, db.Create(context.Background(), rec))
	assert.Equal(t, "session-1", rec.ID)

	dup := &model.ExecutionRecord{ID: "session-1", Language: "javascript", Status: model.StatusSucceeded}
	assert.Error(t, db.Create(context.Background(), dup), "IDs are unique")
}

func TestGetByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetByID(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestList(t *testing.T) {
	db := newTestDB(t)
	base := time.Now().Add(-time.Hour)

	var ids []string
	for i := 0; i < 5; i++ {
		rec := createTestExecution(t, db, model.StatusSucceeded, base.Add(time.Duration(i)*time.Minute))
		ids = append(ids, rec.ID)
	}

	tests := []struct {
		name    string
		opts    repository.ListOptions
		wantIDs []string
	}{
		{"first page newest first", repository.ListOptions{Limit: 2}, []string{ids[4], ids[3]}},
		{"second page", repository.ListOptions{Limit: 2, Offset: 2}, []string{ids[2], ids[1]}},
		{"past the end", repository.ListOptions{Limit: 2, Offset: 10}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := db.List(context.Background(), tt.opts)
			require.NoError(t, err)
			require.NotNil(t, records)

			got := make([]string, len(records))
			for i, r := range records {
				got[i] = r.ID
			}
			assert.Equal(t, tt.wantIDs, got)
		})
	}
}

func TestCreate_ConcurrentWriters(t *testing.T) {
	db := newTestDB(t)

	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func(i int) {
			errs <- db.Create(context.Background(), &model.ExecutionRecord{
				Language: "javascript",
				Status:   model.StatusSucceeded,
				Detail:   fmt.Sprintf("run %d", i),
			})
		}(i)
	}
	for i := 0; i < 20; i++ {
		assert.NoError(t, <-errs)
	}

	records, err := db.List(context.Background(), repository.ListOptions{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, records, 20)
}
