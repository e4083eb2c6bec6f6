// Package api provides HTTP handlers for the chat relay API.
package api

import (
	"encoding/json"
	"net/http"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// internalError writes the generic 500 body every chat failure maps to.
func internalError(w http.ResponseWriter) {
	Error(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}
