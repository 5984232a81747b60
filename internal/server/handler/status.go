package handler

import (
	"net/http"
)

// StatusHandler serves the runtime status (mode, watched wallet) for
// dashboards.
type StatusHandler struct {
	Mode         string
	SourceWallet string
	DryRun       bool
}

// NewStatusHandler creates a StatusHandler with the given runtime metadata.
func NewStatusHandler(mode, sourceWallet string, dryRun bool) *StatusHandler {
	return &StatusHandler{Mode: mode, SourceWallet: sourceWallet, DryRun: dryRun}
}

// GetStatus responds with the current run mode and the wallet being copied.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":          h.Mode,
		"source_wallet": h.SourceWallet,
		"dry_run":       h.DryRun,
	})
}
