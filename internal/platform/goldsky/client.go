// Package goldsky queries the Goldsky subgraph indexer for on-chain CTF
// token balances, the ground truth the reconciler compares ledgers against.
package goldsky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// UserBalance is one outcome-token balance held by a wallet on-chain.
// Balance is in shares (the subgraph's 1e6 fixed-point already divided out).
type UserBalance struct {
	TokenID string
	Balance float64
}

// Client is a GraphQL client for the Goldsky Polymarket positions subgraph.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Goldsky GraphQL client.
//
// graphqlURL is the subgraph endpoint, e.g.
// "https://api.goldsky.com/api/public/.../subgraphs/polymarket-positions/gn".
func NewClient(graphqlURL, apiKey string) *Client {
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchUserBalances returns the wallet's non-zero outcome-token balances,
// newest first, limited by the 'first' parameter. The subgraph stores wallet
// addresses lowercased.
func (c *Client) FetchUserBalances(ctx context.Context, wallet string, first int) ([]UserBalance, error) {
	query := `
		query UserBalances($user: String!, $first: Int!) {
			userBalances(
				first: $first
				orderBy: balance
				orderDirection: desc
				where: { user: $user, balance_gt: "0" }
			) {
				asset {
					id
				}
				balance
			}
		}
	`

	variables := map[string]any{
		"user":  strings.ToLower(wallet),
		"first": first,
	}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("goldsky: fetch user balances: %w", err)
	}

	var result struct {
		UserBalances []struct {
			Asset struct {
				ID string `json:"id"`
			} `json:"asset"`
			Balance string `json:"balance"`
		} `json:"userBalances"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("goldsky: decode user balances: %w", err)
	}

	balances := make([]UserBalance, 0, len(result.UserBalances))
	for _, b := range result.UserBalances {
		raw, err := strconv.ParseFloat(b.Balance, 64)
		if err != nil {
			continue
		}
		balances = append(balances, UserBalance{
			TokenID: b.Asset.ID,
			Balance: raw / 1e6,
		})
	}
	return balances, nil
}

// FetchLatestBlock returns the latest block number the subgraph has indexed,
// used to report indexing lag alongside reconciliation results.
func (c *Client) FetchLatestBlock(ctx context.Context) (int64, error) {
	query := `
		query LatestBlock {
			_meta {
				block {
					number
				}
			}
		}
	`

	respData, err := c.doQuery(ctx, query, nil)
	if err != nil {
		return 0, fmt.Errorf("goldsky: fetch latest block: %w", err)
	}

	var result struct {
		Meta struct {
			Block struct {
				Number int64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return 0, fmt.Errorf("goldsky: decode latest block: %w", err)
	}
	return result.Meta.Block.Number, nil
}

// doQuery executes a GraphQL query and returns the raw "data" field.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody := graphqlRequest{
		Query:     query,
		Variables: variables,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}
	return gqlResp.Data, nil
}
