package goldsky

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchUserBalances(t *testing.T) {
	var gotAuth string
	var gotReq struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(`{"data":{"userBalances":[
			{"asset":{"id":"71298114"},"balance":"12500000"},
			{"asset":{"id":"99887766"},"balance":"3000000"},
			{"asset":{"id":"555"},"balance":"not-a-number"}
		]}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "gsk-key")
	balances, err := client.FetchUserBalances(context.Background(), "0xSOURCE", 500)
	require.NoError(t, err)

	assert.Equal(t, "Bearer gsk-key", gotAuth)
	assert.Contains(t, gotReq.Query, "userBalances")
	// The subgraph indexes wallets lowercased.
	assert.Equal(t, "0xsource", gotReq.Variables["user"])
	assert.EqualValues(t, 500, gotReq.Variables["first"])

	// The unparseable row is dropped; balances are scaled out of 1e6.
	require.Len(t, balances, 2)
	assert.Equal(t, "71298114", balances[0].TokenID)
	assert.InDelta(t, 12.5, balances[0].Balance, 1e-9)
	assert.Equal(t, "99887766", balances[1].TokenID)
	assert.InDelta(t, 3.0, balances[1].Balance, 1e-9)
}

func TestFetchLatestBlock(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"data":{"_meta":{"block":{"number":64250001}}}}`))
	}))
	defer srv.Close()

	n, err := NewClient(srv.URL, "").FetchLatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(64250001), n)
	assert.Empty(t, gotAuth)
}

func TestGraphQLErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"indexer overloaded"}]}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").FetchUserBalances(context.Background(), "0xsource", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indexer overloaded")
}

func TestHTTPErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").FetchLatestBlock(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}
