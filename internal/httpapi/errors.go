package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"chred/internal/eventloop"
	"chred/internal/runtime"
	"chred/pkg/types"
)

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// statusForError maps runtime errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case runtime.IsNotRunning(err), eventloop.IsQueueFull(err), eventloop.IsLoopStopped(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
