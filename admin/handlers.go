package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/maxpert/livefeed/errs"
	"github.com/maxpert/livefeed/executor"
	"github.com/maxpert/livefeed/graphql"
	"github.com/maxpert/livefeed/publisher"
	"github.com/rs/zerolog/log"
)

// StreamStats reports the streaming transport's live state
type StreamStats interface {
	ConnectionCount() int
	SubscriptionCount() int
}

// SinkStats reports per-sink export counters
type SinkStats interface {
	Stats() []publisher.SinkStats
}

// AdminHandlers serves read-only inspection endpoints
type AdminHandlers struct {
	ex      *executor.Executor
	schema  *graphql.Schema
	streams StreamStats
	sinks   SinkStats
}

// NewAdminHandlers creates a new AdminHandlers instance. sinks may be nil.
func NewAdminHandlers(ex *executor.Executor, schema *graphql.Schema, streams StreamStats, sinks SinkStats) *AdminHandlers {
	return &AdminHandlers{
		ex:      ex,
		schema:  schema,
		streams: streams,
		sinks:   sinks,
	}
}

// writeJSONResponse writes a JSON response with optional pagination
func writeJSONResponse(w http.ResponseWriter, data interface{}, hasMore bool, lastKey string) {
	response := map[string]interface{}{
		"data": data,
	}

	if hasMore || lastKey != "" {
		response["has_more"] = hasMore
		if lastKey != "" {
			response["last_key"] = lastKey
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes a JSON error response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// writeError maps a classified error to its HTTP status
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.CodeOf(err) {
	case errs.CodeNotFound:
		status = http.StatusNotFound
	case errs.CodeInvalidInput, errs.CodeBadRequest:
		status = http.StatusBadRequest
	}
	writeErrorResponse(w, status, err.Error())
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 256, nil // default
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}

	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}

	if limit > 1024 {
		return 0, fmt.Errorf("limit cannot exceed 1024")
	}

	return limit, nil
}

// parseRecordID parses a record id from a query or path value
func parseRecordID(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errs.InvalidInput("record", fmt.Errorf("invalid record id %q", s))
	}
	return id, nil
}
