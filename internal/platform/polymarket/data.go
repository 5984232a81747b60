package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kordes/polymirror/internal/domain"
)

// DataClient is the REST client for the Polymarket Data API, which serves
// per-wallet activity and position data. The copy feed polls it for the
// source wallet's fills.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDataClient creates a new Data API client.
//
// baseURL is the Data API root, e.g. "https://data-api.polymarket.com".
func NewDataClient(baseURL string) *DataClient {
	return &DataClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetTrades returns the wallet's TRADE activity at or after since, newest
// first as the API delivers it. Rows that are not trades, or that are
// malformed beyond use, are dropped.
func (d *DataClient) GetTrades(ctx context.Context, wallet string, since time.Time, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{}
	params.Set("user", wallet)
	params.Set("type", "TRADE")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("sortBy", "TIMESTAMP")
	params.Set("sortDirection", "DESC")
	if !since.IsZero() {
		params.Set("start", strconv.FormatInt(since.Unix(), 10))
	}

	body, err := d.doGet(ctx, "/activity?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: get activity: %w", err)
	}

	var rows []APIActivity
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode activity: %w", err)
	}

	trades := make([]domain.Trade, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		if !strings.EqualFold(row.Type, "TRADE") {
			continue
		}
		tr := row.ToDomainTrade()
		if tr.TransactionHash == "" || tr.TokenID == "" {
			continue
		}
		trades = append(trades, tr)
	}
	return trades, nil
}

// APIWalletPosition is one row of the Data API /positions endpoint,
// reporting the wallet's current on-chain holdings per token.
type APIWalletPosition struct {
	Asset       string  `json:"asset"`
	ConditionID string  `json:"conditionId"`
	Size        float64 `json:"size"`
	AvgPrice    float64 `json:"avgPrice"`
	CurPrice    float64 `json:"curPrice"`
	Title       string  `json:"title"`
	Outcome     string  `json:"outcome"`
}

// GetPositions returns the wallet's current holdings as reported by the
// Data API. The reconciler compares these against the ledger.
func (d *DataClient) GetPositions(ctx context.Context, wallet string) ([]APIWalletPosition, error) {
	params := url.Values{}
	params.Set("user", wallet)

	body, err := d.doGet(ctx, "/positions?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: get positions: %w", err)
	}

	var rows []APIWalletPosition
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode positions: %w", err)
	}
	return rows, nil
}

// doGet sends an unauthenticated GET request to the Data API.
func (d *DataClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}
