package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kordes/polymirror/internal/crypto"
	"github.com/kordes/polymirror/internal/domain"
)

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. It posts signed mirror orders and reads books and
// midpoints for open tokens.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	sigType    int // 0 = EOA, 1 = POLY_PROXY, 2 = POLY_GNOSIS_SAFE
}

// NewClobClient creates a CLOB REST client.
//
// baseURL is the API root, e.g. "https://clob.polymarket.com". signer signs
// orders and auth messages. hmac may be nil; call DeriveAPIKey to obtain
// credentials from the signer. sigType selects the signature scheme the
// wallet uses on Polymarket (2 for the usual proxy-wallet setup).
func NewClobClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth, sigType int) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:   signer,
		hmacAuth: hmac,
		sigType:  sigType,
	}
}

// Auth returns the HMAC credentials currently in use, or nil before
// DeriveAPIKey has run. The websocket user channel authenticates with the
// same credentials.
func (c *ClobClient) Auth() *crypto.HMACAuth {
	return c.hmacAuth
}

// PostOrder submits a signed order and returns the exchange's verdict. The
// order's Salt, MakerAmount, and TakerAmount must be the exact values that
// were signed.
func (c *ClobClient) PostOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	if order.Signature == "" {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", domain.ErrInvalidOrder)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          order.Salt,
			"maker":         order.Wallet,
			"signer":        c.signer.Address().Hex(),
			"taker":         "0x0000000000000000000000000000000000000000",
			"tokenID":       order.TokenID,
			"makerAmount":   order.MakerAmount.String(),
			"takerAmount":   order.TakerAmount.String(),
			"expiration":    "0",
			"nonce":         "0",
			"feeRateBps":    "0",
			"side":          string(order.Side),
			"signatureType": c.sigType,
			"signature":     order.Signature,
		},
		"owner":     c.ownerKey(order.Wallet),
		"orderType": string(order.Type),
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}

	result := apiResult.ToDomainOrderResult()
	if !result.Success {
		return result, fmt.Errorf("polymarket/clob: order rejected: %s", result.Message)
	}
	return result, nil
}

// GetBook fetches the current orderbook for one token.
func (c *ClobClient) GetBook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error) {
	respBody, err := c.doGet(ctx, "/book", url.Values{"token_id": {tokenID}})
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}

	var book APIBook
	if err := json.Unmarshal(respBody, &book); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}

	snap := book.ToDomainSnapshot()
	if snap.TokenID == "" {
		snap.TokenID = tokenID
	}
	return snap, nil
}

// GetMidpoint fetches the midpoint price for one token.
func (c *ClobClient) GetMidpoint(ctx context.Context, tokenID string) (float64, error) {
	respBody, err := c.doGet(ctx, "/midpoint", url.Values{"token_id": {tokenID}})
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: get midpoint %s: %w", tokenID, err)
	}

	var out struct {
		Mid string `json:"mid"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode midpoint: %w", err)
	}

	mid, err := strconv.ParseFloat(out.Mid, 64)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: parse midpoint %q: %w", out.Mid, err)
	}
	return mid, nil
}

// DeriveAPIKey runs the CLOB auth flow to obtain HMAC credentials. It signs
// a ClobAuth EIP-712 message and sends it with L1 headers (POLY_ADDRESS,
// POLY_SIGNATURE, POLY_TIMESTAMP, POLY_NONCE). On success the credentials
// are stored on the client for subsequent authenticated requests.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	return nil
}

// ownerKey is the "owner" field of a posted order. The exchange expects the
// API key when HMAC credentials exist, otherwise the wallet address.
func (c *ClobClient) ownerKey(wallet string) string {
	if c.hmacAuth != nil && c.hmacAuth.Key != "" {
		return c.hmacAuth.Key
	}
	return wallet
}

// doGet performs an unauthenticated GET against a public CLOB endpoint.
func (c *ClobClient) doGet(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// doAuthenticatedRequest builds, HMAC-signs, sends, and reads a request
// against the CLOB API, returning the raw response body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.hmacAuth != nil {
		address := c.signer.Address().Hex()
		for k, v := range c.hmacAuth.L2Headers(address, method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes onto domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
