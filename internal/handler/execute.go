package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/amstig/internal/apperror"
	"github.com/sakif/amstig/internal/model"
	"github.com/sakif/amstig/internal/service"
)

// MaxBodyBytes bounds the request body of the execute endpoint.
const MaxBodyBytes = 10 << 20

// Executor is the part of service.Gateway the handler needs.
type Executor interface {
	Execute(ctx context.Context, sub service.Submission) (*model.ExecutionResponse, error)
}

// ExecuteHandler handles code execution requests.
type ExecuteHandler struct {
	exec   Executor
	logger *slog.Logger
}

// NewExecuteHandler creates a new ExecuteHandler.
func NewExecuteHandler(exec Executor, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		exec:   exec,
		logger: logger,
	}
}

// executeRequest keeps both fields untyped: a number or object where a string
// belongs is an input error reported by the gateway, not a decode failure.
type executeRequest struct {
	Code     any `json:"code"`
	Language any `json:"language"`
}

// HandleExecute processes POST /api/code/execute.
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid execution request body", slog.String("error", err.Error()))
		msg := service.InvalidCodeMessage
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "Request body too large"
		}
		writeExecuteError(w, apperror.ValidationFailed("body", msg))
		return
	}

	resp, err := h.exec.Execute(r.Context(), service.Submission{
		Code:     req.Code,
		Language: req.Language,
	})
	if err != nil {
		if errors.Is(err, apperror.ErrInternal) {
			h.logger.Error("code execution failed", slog.String("error", err.Error()))
		}
		writeExecuteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
