package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kordes/polymirror/internal/domain"
)

// AuditHandler serves the audit log written by the resolution detector and
// the archiver. It is only wired when the Postgres backend is active; the
// file backend keeps no audit log.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler over the given store.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logHandler(logger, "audit"),
	}
}

// auditEntry is the JSON shape of one audit row.
type auditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// listAuditResponse wraps the audit list response.
type listAuditResponse struct {
	Entries []auditEntry `json:"entries"`
	Count   int          `json:"count"`
}

// ListEntries returns audit entries newest first, optionally bounded by
// time.
// GET /api/audit?limit=50&offset=0&since=2026-01-02T15:04:05Z
func (h *AuditHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	opts := domain.ListOpts{Limit: parseLimit(r, 50, 500)}

	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		opts.Offset = n
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		opts.Since = &t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "until must be an RFC 3339 timestamp")
			return
		}
		opts.Until = &t
	}

	rows, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	entries := make([]auditEntry, 0, len(rows))
	for _, e := range rows {
		entries = append(entries, auditEntry{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, listAuditResponse{Entries: entries, Count: len(entries)})
}
