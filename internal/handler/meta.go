// Package handler contains HTTP request handlers for the execution API.
//
// HANDLER RESPONSIBILITIES:
// 1. Parse the incoming HTTP request (query params, body, headers)
// 2. Call the service layer
// 3. Write the HTTP response (status code, headers, body)
//
// Handlers hold no business logic; they are the glue between HTTP and the
// service layer.
package handler

import (
	"net/http"

	"github.com/sakif/amstig/internal/model"
	"github.com/sakif/amstig/internal/service"
)

// LanguagesResponse is the body of GET /api/code/languages.
type LanguagesResponse struct {
	Languages []model.Language `json:"languages"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HandleLanguages returns the static language catalogue.
func HandleLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LanguagesResponse{Languages: service.Languages()})
}

// HandleHealth is the liveness check. It does not touch the sandbox.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "OK",
		Message: "Amstig Backend Server is running!",
	})
}

// HandleNotFound answers unknown routes in the standard error shape.
func HandleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{
		Error:   "not_found",
		Message: "Route not found",
	})
}

// HandleMethodNotAllowed answers known routes hit with the wrong method.
func HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
		Error:   "method_not_allowed",
		Message: r.Method + " is not allowed on " + r.URL.Path,
	})
}
