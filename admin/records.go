package admin

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleRecords pages through stored records: ?after=<id>&limit=<n>
func (h *AdminHandlers) handleRecords(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	after, err := parseRecordID(r.URL.Query().Get("after"))
	if err != nil {
		writeError(w, err)
		return
	}

	records, hasMore := h.ex.Store().After(after, limit)
	lastKey := ""
	if hasMore && len(records) > 0 {
		lastKey = strconv.FormatUint(records[len(records)-1].ID, 10)
	}
	writeJSONResponse(w, records, hasMore, lastKey)
}

// handleRecord returns one record by id
func (h *AdminHandlers) handleRecord(w http.ResponseWriter, r *http.Request) {
	id, err := parseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.ex.Store().Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, rec, false, "")
}
