package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

var (
	errInvalidInput = errors.New("invalid input provided")
	errUnavailable  = errors.New("service unavailable")
)

type appError struct {
	Code    int
	Message string
	Err     error
}

func (e *appError) Error() string {
	return e.Message
}

func (e *appError) Unwrap() error {
	return e.Err
}

func wrapError(err error, message string, code int) *appError {
	return &appError{Code: code, Message: message, Err: err}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *appError
	if errors.As(err, &appErr) {
		if appErr.Code >= http.StatusInternalServerError {
			logger.Error("request failed", "error", appErr.Err, "message", appErr.Message)
		} else {
			logger.Debug("rejected request", "error", appErr.Err, "message", appErr.Message)
		}
		writeJSON(w, appErr.Code, map[string]string{"error": appErr.Message})
		return
	}
	logger.Error("unknown error occurred", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
}
