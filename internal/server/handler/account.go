package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kordes/polymirror/internal/domain"
	"github.com/kordes/polymirror/internal/service"
)

const (
	defaultStatsHours = 24
	maxStatsHours     = 24 * 30
)

// LedgerReader defines the methods that the account handler requires.
type LedgerReader interface {
	Accounts(ctx context.Context) []string
	Positions(ctx context.Context, accountKey string) ([]domain.Position, error)
	Closed(ctx context.Context, accountKey string, limit int) ([]domain.ClosedPositionRecord, error)
	Resolved(ctx context.Context, accountKey string) ([]domain.ResolvedPositionRecord, error)
	PnL(ctx context.Context, accountKey string, withPrices bool) (service.PnLReport, error)
	Stats(ctx context.Context, accountKey string, window time.Duration) (domain.WindowStats, error)
}

// AccountHandler serves the read-only ledger endpoints.
type AccountHandler struct {
	ledgers LedgerReader
	logger  *slog.Logger
}

// NewAccountHandler creates an AccountHandler with the given service and logger.
func NewAccountHandler(ledgers LedgerReader, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		ledgers: ledgers,
		logger:  logHandler(logger, "accounts"),
	}
}

// listAccountsResponse wraps the account list response.
type listAccountsResponse struct {
	Accounts []string `json:"accounts"`
	Count    int      `json:"count"`
}

// ListAccounts returns the keys of every registered ledger account.
// GET /api/accounts
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := h.ledgers.Accounts(r.Context())
	if accounts == nil {
		accounts = []string{}
	}
	writeJSON(w, http.StatusOK, listAccountsResponse{Accounts: accounts, Count: len(accounts)})
}

// listPositionsResponse wraps the open positions response.
type listPositionsResponse struct {
	Account   string            `json:"account"`
	Positions []domain.Position `json:"positions"`
	Count     int               `json:"count"`
}

// ListPositions returns the open positions of one account.
// GET /api/accounts/{key}/positions
func (h *AccountHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	key := pathParam(r, "key")

	positions, err := h.ledgers.Positions(r.Context(), key)
	if err != nil {
		h.serviceError(w, r, "list positions", key, err)
		return
	}

	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{
		Account:   key,
		Positions: positions,
		Count:     len(positions),
	})
}

// listClosedResponse wraps the closed-position history response.
type listClosedResponse struct {
	Account string                        `json:"account"`
	Closed  []domain.ClosedPositionRecord `json:"closed"`
	Count   int                           `json:"count"`
}

// ListClosed returns the most recent closed-position records of one account,
// newest first.
// GET /api/accounts/{key}/closed?limit=50
func (h *AccountHandler) ListClosed(w http.ResponseWriter, r *http.Request) {
	key := pathParam(r, "key")
	limit := parseLimit(r, 50, 500)

	closed, err := h.ledgers.Closed(r.Context(), key, limit)
	if err != nil {
		h.serviceError(w, r, "list closed", key, err)
		return
	}

	if closed == nil {
		closed = []domain.ClosedPositionRecord{}
	}
	writeJSON(w, http.StatusOK, listClosedResponse{
		Account: key,
		Closed:  closed,
		Count:   len(closed),
	})
}

// listResolvedResponse wraps the settlement history response.
type listResolvedResponse struct {
	Account  string                          `json:"account"`
	Resolved []domain.ResolvedPositionRecord `json:"resolved"`
	Count    int                             `json:"count"`
}

// ListResolved returns the positions of one account that were settled by
// market resolution.
// GET /api/accounts/{key}/resolved
func (h *AccountHandler) ListResolved(w http.ResponseWriter, r *http.Request) {
	key := pathParam(r, "key")

	resolved, err := h.ledgers.Resolved(r.Context(), key)
	if err != nil {
		h.serviceError(w, r, "list resolved", key, err)
		return
	}

	if resolved == nil {
		resolved = []domain.ResolvedPositionRecord{}
	}
	writeJSON(w, http.StatusOK, listResolvedResponse{
		Account:  key,
		Resolved: resolved,
		Count:    len(resolved),
	})
}

// GetPnL returns realized plus unrealized P&L for one account. Unrealized
// marks come from the price cache; pass prices=false to report realized only.
// GET /api/accounts/{key}/pnl?prices=true
func (h *AccountHandler) GetPnL(w http.ResponseWriter, r *http.Request) {
	key := pathParam(r, "key")

	withPrices := true
	if v := r.URL.Query().Get("prices"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "prices must be a boolean")
			return
		}
		withPrices = b
	}

	report, err := h.ledgers.PnL(r.Context(), key, withPrices)
	if err != nil {
		h.serviceError(w, r, "pnl", key, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// statsResponse wraps the windowed statistics response.
type statsResponse struct {
	Account string             `json:"account"`
	Stats   domain.WindowStats `json:"stats"`
}

// GetStats returns trade statistics for one account over a trailing window.
// GET /api/accounts/{key}/stats?hours=24
func (h *AccountHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	key := pathParam(r, "key")

	hours := defaultStatsHours
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}
	if hours > maxStatsHours {
		hours = maxStatsHours
	}

	stats, err := h.ledgers.Stats(r.Context(), key, time.Duration(hours)*time.Hour)
	if err != nil {
		h.serviceError(w, r, "stats", key, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Account: key, Stats: stats})
}

// serviceError translates ledger service failures into HTTP responses.
// Unknown accounts are the caller's mistake; everything else is ours.
func (h *AccountHandler) serviceError(w http.ResponseWriter, r *http.Request, op, key string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown account")
		return
	}
	h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("account", key),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}
