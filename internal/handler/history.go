package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/amstig/internal/apperror"
	"github.com/sakif/amstig/internal/model"
)

// HistoryReader is the part of service.HistoryService the handler needs.
type HistoryReader interface {
	List(ctx context.Context, limit, offset int) ([]model.ExecutionRecord, error)
	GetByID(ctx context.Context, id string) (*model.ExecutionRecord, error)
}

// HistoryHandler serves the read-only execution log.
type HistoryHandler struct {
	history HistoryReader
	logger  *slog.Logger
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(history HistoryReader, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		history: history,
		logger:  logger,
	}
}

// ListResponse is the body of GET /api/code/executions.
type ListResponse struct {
	Executions []model.ExecutionRecord `json:"executions"`
}

// HandleList returns GET /api/code/executions?limit=20&offset=0.
func (h *HistoryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, apperror.ValidationFailed("limit", "limit must be an integer"))
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, apperror.ValidationFailed("offset", "offset must be an integer"))
		return
	}

	records, err := h.history.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list executions", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ListResponse{Executions: records})
}

// HandleGet returns GET /api/code/executions/{id}.
func (h *HistoryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.history.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
