// Package httputil provides HTTP response helpers and middleware.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// JSON writes data as a JSON response body.
func JSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// Text writes a plain text response.
func Text(w http.ResponseWriter, statusCode int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	if _, err := w.Write([]byte(text)); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// ErrorResponse is the body of every failed request: {"success": false, "error": "..."}.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Error writes an ErrorResponse with the given status.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Success: false, Error: message})
}

// ValidationError writes a 400 response describing which fields failed validation.
// If err is validator.ValidationErrors, the message lists field/tag pairs.
func ValidationError(w http.ResponseWriter, err error) {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	fields := make([]map[string]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		fields = append(fields, map[string]string{
			"field":   e.Field(),
			"message": e.Tag(),
		})
	}

	JSON(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"error":   "validation error",
		"details": fields,
	})
}

// SuccessResponse wraps payloads of the /api/v1 endpoints.
type SuccessResponse struct {
	Data any `json:"data"`
}

// Success writes data wrapped in {"data": ...}.
func Success(w http.ResponseWriter, status int, data any) {
	JSON(w, status, SuccessResponse{Data: data})
}
