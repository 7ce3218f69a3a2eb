// Package httpx holds the JSON envelope and SSE writer shared by the engine
// and gateway HTTP surfaces.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Error codes of the JSON envelope.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeAuthRequired   = "AUTH_REQUIRED"
	CodeNotFound       = "NOT_FOUND"
	CodeBusy           = "SERVICE_BUSY"
	CodeInternal       = "INTERNAL_ERROR"
)

// SuccessResponse is the envelope of successful JSON responses.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

// ErrorBody describes a failure.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse is the envelope of failed JSON responses.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Success writes a 200 success envelope.
func Success(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, SuccessResponse{Success: true, Data: data})
}

// Failure writes an error envelope.
func Failure(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// DecodeJSON decodes a request body of at most limit bytes into v.
// Unknown fields are ignored; trailing data is an error.
func DecodeJSON(r io.Reader, limit int64, v any) error {
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	dec := json.NewDecoder(r)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON body: trailing data")
	}
	return nil
}
