package httpx

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/tayteboss/bfl/internal/platform/requestctx"
)

const maxMessageLen = 512

// Error is the API error body. Details are merged into the top level; the envelope keys
// (error, message, status, request_id, trace_id) always win.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

// NewError builds an Error. Messages may echo shopper input, so they are flattened to one line
// and capped.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: code, Message: oneLine(message), Status: status}
}

// WithDetails attaches extra fields such as the current form view.
func (e Error) WithDetails(details map[string]any) Error {
	e.Details = maps.Clone(details)
	return e
}

// WriteError writes err as JSON, tagging it with the request and trace ids from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	payload := make(map[string]any, len(err.Details)+5)
	for k, v := range err.Details {
		payload[k] = v
	}
	payload["error"] = err.Code
	payload["message"] = err.Message
	payload["status"] = err.Status
	if id := middleware.GetReqID(ctx); id != "" {
		payload["request_id"] = id
	}
	if id := requestctx.TraceID(ctx); id != "" {
		payload["trace_id"] = id
	}
	WriteJSON(w, err.Status, payload)
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxMessageLen {
		s = s[:maxMessageLen]
	}
	return s
}
