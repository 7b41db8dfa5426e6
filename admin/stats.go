package admin

import (
	"net/http"

	"github.com/maxpert/livefeed/publisher"
	"github.com/maxpert/livefeed/record"
)

// handleStats returns a point-in-time summary of the node
func (h *AdminHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	store := h.ex.Store()
	hub := h.ex.Hub()

	response := map[string]interface{}{
		"records":            store.Len(),
		"max_content_length": store.MaxContentLength(),
		"topics":             hub.Topics(),
		"listeners":          hub.Listeners(record.TopicCreated),
		"cached_documents":   h.schema.CachedDocuments(),
	}
	if h.streams != nil {
		response["connections"] = h.streams.ConnectionCount()
		response["subscriptions"] = h.streams.SubscriptionCount()
	}

	writeJSONResponse(w, response, false, "")
}

// handleTopics lists hub topics with their listener counts
func (h *AdminHandlers) handleTopics(w http.ResponseWriter, r *http.Request) {
	hub := h.ex.Hub()
	topics := hub.Topics()

	out := make([]map[string]interface{}, 0, len(topics))
	for _, topic := range topics {
		out = append(out, map[string]interface{}{
			"topic":     topic,
			"listeners": hub.Listeners(topic),
		})
	}
	writeJSONResponse(w, out, false, "")
}

// handleSinks returns export counters for every configured sink
func (h *AdminHandlers) handleSinks(w http.ResponseWriter, r *http.Request) {
	stats := []publisher.SinkStats{}
	if h.sinks != nil {
		stats = h.sinks.Stats()
	}
	writeJSONResponse(w, stats, false, "")
}
