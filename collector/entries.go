package collector

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/auditmos/blackbox/logging"
)

const (
	defaultEntriesLimit = 100
	maxEntriesLimit     = 1000
)

type EntryView struct {
	ID         string        `json:"id"`
	BatchID    string        `json:"batchId"`
	ReceivedAt int64         `json:"receivedAt"`
	Entry      logging.Entry `json:"entry"`
}

type EntriesResponse struct {
	ProjectID string      `json:"projectId"`
	Total     int         `json:"total"`
	Entries   []EntryView `json:"entries"`
}

// handleEntries lists stored entries for the token's project, newest
// first. level is a minimum severity.
func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	project, err := s.authenticate(bearerToken(r))
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	q := r.URL.Query()
	if p := q.Get("project"); p != "" && p != project {
		writeJSONError(w, errProjectMismatch.Error(), http.StatusForbidden)
		return
	}

	minLevel := logging.DEBUG
	if lv := strings.TrimSpace(q.Get("level")); lv != "" && !strings.EqualFold(lv, "ALL") {
		var parsed logging.Level
		if err := parsed.UnmarshalText([]byte(lv)); err != nil {
			writeJSONError(w, "invalid level", http.StatusBadRequest)
			return
		}
		minLevel = parsed
	}

	limit := defaultEntriesLimit
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			writeJSONError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxEntriesLimit)
	}

	stored, err := s.batches.ListEntries(project, minLevel, limit)
	if err != nil {
		s.log.Error("Entry query failed", logging.WithError(err))
		writeJSONError(w, "failed to load entries", http.StatusInternalServerError)
		return
	}
	total, err := s.batches.CountEntries(project)
	if err != nil {
		s.log.Error("Entry count failed", logging.WithError(err))
		writeJSONError(w, "failed to count entries", http.StatusInternalServerError)
		return
	}

	views := make([]EntryView, 0, len(stored))
	for _, e := range stored {
		views = append(views, EntryView{ID: e.ID, BatchID: e.BatchID, ReceivedAt: e.ReceivedAt, Entry: e.Entry})
	}
	writeJSON(w, http.StatusOK, EntriesResponse{ProjectID: project, Total: total, Entries: views})
}
