package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"shopauth/pkg/sentinel"
)

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorEnvelope{
		Error: APIError{Code: code, Message: message},
	})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps a sentinel error to an HTTP status and envelope code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, sentinel.ErrInvalidInput):
		return http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.Is(err, sentinel.ErrUnauthenticated):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, sentinel.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, sentinel.ErrNotFound), errors.Is(err, sentinel.ErrExpired):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, sentinel.ErrUnavailable):
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
