package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// TWO ERROR SHAPES:
// The execute endpoint answers in its own contract, which clients already
// parse as {success?, output, error}:
//   {"error": "Invalid code provided", "output": ""}                  ← 400, success absent
//   {"success": false, "error": "...", "output": ""}                  ← 503 / 500
//
// Every other endpoint uses ErrorResponse:
//   {"error": "not_found", "message": "execution not found with id abc123"}

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sakif/amstig/internal/apperror"
	"github.com/sakif/amstig/internal/model"
	"github.com/sakif/amstig/internal/result"
)

// RetryAfter is advertised on 503 responses from admission control.
const RetryAfter = 2 * time.Second

// ErrorResponse is the standard error format returned by the non-execute endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
}

// writeJSON sends a JSON response with the given status code.
// Headers and status must be set before the body is written.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; we can only log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor maps a domain error to an HTTP status and a machine-readable type.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
// Unknown errors become a generic 500 so internal details never reach the client.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || errors.Is(err, apperror.ErrInternal) {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status, errorType := statusFor(err)
	if status == http.StatusServiceUnavailable {
		setRetryAfter(w)
	}
	writeJSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: appErr.Message,
	})
}

// writeExecuteError answers the execute endpoint in its own response contract.
func writeExecuteError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	status, _ := statusFor(err)
	if !errors.As(err, &appErr) {
		status = http.StatusInternalServerError
	}

	switch status {
	case http.StatusBadRequest:
		// Input error: nothing ran, so success is absent.
		writeJSON(w, status, model.ExecutionResponse{Error: appErr.Message})
	case http.StatusServiceUnavailable:
		setRetryAfter(w)
		writeJSON(w, status, model.ExecutionResponse{
			Success: model.Bool(false),
			Error:   appErr.Message,
		})
	default:
		writeJSON(w, http.StatusInternalServerError, model.ExecutionResponse{
			Success: model.Bool(false),
			Error:   result.InternalErrorMessage,
		})
	}
}

func setRetryAfter(w http.ResponseWriter) {
	w.Header().Set("Retry-After", strconv.Itoa(int(RetryAfter.Seconds())))
}
