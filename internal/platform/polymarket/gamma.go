package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kordes/polymirror/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market discovery, metadata, and resolution state.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetMarkets returns a paginated list of markets.
func (g *GammaClient) GetMarkets(ctx context.Context, limit, offset int) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get markets: %w", err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}

	markets := make([]domain.Market, 0, len(apiMarkets))
	for i := range apiMarkets {
		markets = append(markets, apiMarkets[i].ToDomainMarket())
	}

	return markets, nil
}

// GetMarketByCondition returns the market identified by its condition ID,
// the identifier fills carry.
func (g *GammaClient) GetMarketByCondition(ctx context.Context, conditionID string) (domain.Market, error) {
	params := url.Values{}
	params.Set("condition_ids", conditionID)

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market %s: %w", conditionID, err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	if len(apiMarkets) == 0 {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: %w: condition_id=%s", domain.ErrNotFound, conditionID)
	}

	return apiMarkets[0].ToDomainMarket(), nil
}

// MarketResolution holds a market's settlement state as Gamma reports it.
// WinnerIndex is -1 until the API flags a winning token; callers that need
// an earlier signal can fall back to the per-outcome prices.
type MarketResolution struct {
	ConditionID string
	Closed      bool
	Outcomes    [2]string
	Prices      [2]float64
	WinnerIndex int
	EndDate     *time.Time
}

// GetMarketResolution fetches the market's resolution state by condition ID.
func (g *GammaClient) GetMarketResolution(ctx context.Context, conditionID string) (MarketResolution, error) {
	params := url.Values{}
	params.Set("condition_ids", conditionID)

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return MarketResolution{}, fmt.Errorf("polymarket/gamma: get market %s: %w", conditionID, err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return MarketResolution{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	if len(apiMarkets) == 0 {
		return MarketResolution{}, fmt.Errorf("polymarket/gamma: %w: condition_id=%s", domain.ErrNotFound, conditionID)
	}

	m := &apiMarkets[0]
	res := MarketResolution{
		ConditionID: conditionID,
		Closed:      m.Closed,
		Outcomes:    [2]string{"Yes", "No"},
		WinnerIndex: -1,
	}

	for i, tok := range m.Tokens {
		if i >= 2 {
			break
		}
		if tok.Outcome != "" {
			res.Outcomes[i] = tok.Outcome
		}
		if p, err := strconv.ParseFloat(tok.Price, 64); err == nil {
			res.Prices[i] = p
		}
		if tok.Winner {
			res.WinnerIndex = i
		}
	}

	// Older markets carry outcomes and prices only as JSON-encoded strings.
	if len(m.Tokens) == 0 {
		var outs []string
		if err := json.Unmarshal([]byte(m.Outcomes), &outs); err == nil {
			for i, o := range outs {
				if i >= 2 {
					break
				}
				res.Outcomes[i] = o
			}
		}
		var prices []string
		if err := json.Unmarshal([]byte(m.OutcomePrices), &prices); err == nil {
			for i, raw := range prices {
				if i >= 2 {
					break
				}
				if p, err := strconv.ParseFloat(raw, 64); err == nil {
					res.Prices[i] = p
				}
			}
		}
	}

	if m.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
			res.EndDate = &t
		}
	}

	return res, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
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
