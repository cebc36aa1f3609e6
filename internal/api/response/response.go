package response

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Response represents a standard API response
type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	Error   any  `json:"error,omitempty"`
}

// ErrorBody is the structured error payload. Code is one of the stable
// reason codes; RetryAfter is set only on rate-limit denials.
type ErrorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := Response{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	json.NewEncoder(w).Encode(resp)
}

// Error sends an error response
func Error(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := Response{
		Success: false,
		Error:   body,
	}

	json.NewEncoder(w).Encode(resp)
}

// OK sends a 200 OK response with data
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created sends a 201 Created response with data
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// BadRequest sends a 400 Bad Request response
func BadRequest(w http.ResponseWriter, body any) {
	Error(w, http.StatusBadRequest, body)
}

// NotFound sends a 404 Not Found response
func NotFound(w http.ResponseWriter, body any) {
	Error(w, http.StatusNotFound, body)
}

// Conflict sends a 409 Conflict response
func Conflict(w http.ResponseWriter, body any) {
	Error(w, http.StatusConflict, body)
}

// TooManyRequests sends a 429 response with a Retry-After hint
func TooManyRequests(w http.ResponseWriter, body ErrorBody) {
	if body.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfter))
	}
	Error(w, http.StatusTooManyRequests, body)
}

// InternalError sends a 500 Internal Server Error response
func InternalError(w http.ResponseWriter, body any) {
	Error(w, http.StatusInternalServerError, body)
}
