package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/kordes/polymirror/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexUnixTime unmarshals from a JSON number or numeric string holding unix
// seconds. The Data API has shipped both encodings.
type flexUnixTime struct {
	time.Time
}

func (t *flexUnixTime) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		t.Time = time.Unix(n, 0).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	t.Time = time.Unix(n, 0).UTC()
	return nil
}

// --------------------------------------------------------------------------
// Data API DTOs
// --------------------------------------------------------------------------

// APIActivity represents one activity row from the Data API /activity
// endpoint. Only type=TRADE rows are converted into fills.
type APIActivity struct {
	ProxyWallet     string       `json:"proxyWallet"`
	Timestamp       flexUnixTime `json:"timestamp"`
	ConditionID     string       `json:"conditionId"`
	Type            string       `json:"type"`
	Size            float64      `json:"size"`
	UsdcSize        float64      `json:"usdcSize"`
	TransactionHash string       `json:"transactionHash"`
	Price           float64      `json:"price"`
	Asset           string       `json:"asset"`
	Side            string       `json:"side"`
	OutcomeIndex    int          `json:"outcomeIndex"`
	Title           string       `json:"title"`
	Slug            string       `json:"slug"`
	Outcome         string       `json:"outcome"`
	EventSlug       string       `json:"eventSlug"`
}

// ToDomainTrade converts an activity row into a fill.
func (a *APIActivity) ToDomainTrade() domain.Trade {
	return domain.Trade{
		TransactionHash: a.TransactionHash,
		Timestamp:       a.Timestamp.Time,
		MarketID:        a.ConditionID,
		TokenID:         a.Asset,
		Outcome:         a.Outcome,
		Side:            domain.Side(strings.ToUpper(a.Side)),
		Size:            a.Size,
		Price:           a.Price,
		Title:           a.Title,
	}
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	TransactID  string `json:"transactID,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// APIBook is the response of the CLOB /book endpoint.
type APIBook struct {
	Market    string         `json:"market"`
	AssetID   string         `json:"asset_id"`
	Bids      []APIBookLevel `json:"bids"`
	Asks      []APIBookLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// APIBookLevel is a single bid/ask level in the CLOB book response.
type APIBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// ToDomainSnapshot converts a CLOB book response to an orderbook snapshot.
func (b *APIBook) ToDomainSnapshot() domain.OrderbookSnapshot {
	snap := domain.OrderbookSnapshot{TokenID: b.AssetID}

	for _, lvl := range b.Bids {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		snap.Bids = append(snap.Bids, domain.PriceLevel{Price: p, Size: s})
		if p > snap.BestBid {
			snap.BestBid = p
		}
	}
	for _, lvl := range b.Asks {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		snap.Asks = append(snap.Asks, domain.PriceLevel{Price: p, Size: s})
		if snap.BestAsk == 0 || p < snap.BestAsk {
			snap.BestAsk = p
		}
	}
	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
	}
	snap.Timestamp = parseWSTimestamp(b.Timestamp)
	return snap
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	ConditionID   string   `json:"condition_id"`
	Slug          string   `json:"slug"`
	ActiveFromAPI flexBool `json:"active"` // API may send bool or "true"/"false" string
	Closed        bool     `json:"closed"`
	Outcomes      string   `json:"outcomes"`      // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	OutcomePrices string   `json:"outcomePrices"` // JSON-encoded: e.g. "[\"0.5\",\"0.5\"]"
	Tokens        []Token  `json:"tokens"`
	Volume        string   `json:"volume"`
	NegRisk       bool     `json:"neg_risk"`
	EndDateISO    string   `json:"end_date_iso"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
	ClobTokenIDs  string   `json:"clob_token_ids"` // JSON-encoded: e.g. "[\"123\",\"456\"]"
}

// Token represents a token entry inside the Gamma API market response.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
	Price   string `json:"price"`
}

// ToDomainMarket converts a Gamma APIMarket to a domain.Market. Markets
// without token entries fall back to the JSON-encoded outcomes and
// clob_token_ids columns.
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:          m.ConditionID,
		Question:    m.Question,
		Slug:        m.Slug,
		ConditionID: m.ConditionID,
		NegRisk:     m.NegRisk,
		Outcomes:    [2]string{"Yes", "No"},
	}
	if dm.ID == "" {
		dm.ID = m.ID
	}
	if dm.Question == "" {
		dm.Question = "Unknown"
	}

	if v, err := strconv.ParseFloat(m.Volume, 64); err == nil {
		dm.Volume = v
	}

	if m.Closed {
		dm.Status = domain.MarketStatusClosed
	} else if bool(m.ActiveFromAPI) {
		dm.Status = domain.MarketStatusActive
	} else {
		dm.Status = domain.MarketStatusSettled
	}

	// Tokens: extract up to 2 token IDs and outcomes.
	for i, tok := range m.Tokens {
		if i >= 2 {
			break
		}
		dm.TokenIDs[i] = tok.TokenID
		if tok.Outcome != "" {
			dm.Outcomes[i] = tok.Outcome
		}
	}
	if dm.TokenIDs[0] == "" && m.ClobTokenIDs != "" {
		var ids []string
		if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err == nil {
			for i, id := range ids {
				if i >= 2 {
					break
				}
				dm.TokenIDs[i] = id
			}
		}
	}
	if m.Outcomes != "" && len(m.Tokens) == 0 {
		var outs []string
		if err := json.Unmarshal([]byte(m.Outcomes), &outs); err == nil {
			for i, o := range outs {
				if i >= 2 {
					break
				}
				dm.Outcomes[i] = o
			}
		}
	}

	if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
		dm.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, m.UpdatedAt); err == nil {
		dm.UpdatedAt = t
	}
	if m.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
			dm.EndDate = &t
		}
	}

	return dm
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSUserTrade represents a fill delivered on the authenticated user channel.
type WSUserTrade struct {
	ID              string `json:"id"`
	AssetID         string `json:"asset_id"`
	Market          string `json:"market"`
	Outcome         string `json:"outcome"`
	Side            string `json:"side"`
	Price           string `json:"price"`
	Size            string `json:"size"`
	Status          string `json:"status"`
	Timestamp       string `json:"timestamp"`
	TradeOwner      string `json:"trade_owner"`
	TransactionHash string `json:"transaction_hash"`
}

// ToDomainTrade converts a user-channel fill. The trade ID stands in for
// the transaction hash when the channel omits one, keeping dedup stable.
func (t *WSUserTrade) ToDomainTrade() domain.Trade {
	tr := domain.Trade{
		TransactionHash: t.TransactionHash,
		MarketID:        t.Market,
		TokenID:         t.AssetID,
		Outcome:         t.Outcome,
		Side:            domain.Side(strings.ToUpper(t.Side)),
	}
	if tr.TransactionHash == "" {
		tr.TransactionHash = t.ID
	}
	tr.Size, _ = strconv.ParseFloat(t.Size, 64)
	tr.Price, _ = strconv.ParseFloat(t.Price, 64)
	tr.Timestamp = parseWSTimestamp(t.Timestamp)
	return tr
}

// WSAuth carries CLOB L2 credentials for the authenticated user channel.
type WSAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// WSCommand is the JSON payload sent to the WebSocket to subscribe/unsubscribe.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
	Markets []string `json:"markets,omitempty"`
	Auth    *WSAuth  `json:"auth,omitempty"`
}

// parseWSTimestamp handles the two timestamp encodings the CLOB feeds use:
// unix milliseconds/seconds as a numeric string, or RFC 3339.
func parseWSTimestamp(raw string) time.Time {
	if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ts > 1e12 {
			return time.UnixMilli(ts).UTC()
		}
		return time.Unix(ts, 0).UTC()
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Now().UTC()
}

// ToDomainOrderResult converts an APIOrderResult to a domain.OrderResult.
func (r *APIOrderResult) ToDomainOrderResult() domain.OrderResult {
	result := domain.OrderResult{
		Success:     r.Success,
		OrderID:     r.OrderID,
		Message:     r.ErrorMsg,
		ShouldRetry: r.ShouldRetry,
	}

	switch r.Status {
	case "live", "open":
		result.Status = domain.OrderStatusOpen
	case "matched":
		result.Status = domain.OrderStatusMatched
	case "delayed":
		result.Status = domain.OrderStatusPending
	default:
		if r.Success {
			result.Status = domain.OrderStatusPending
		} else {
			result.Status = domain.OrderStatusFailed
		}
	}

	return result
}
