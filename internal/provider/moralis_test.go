package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"risksignal/pkg/retry"
)

const netWorthBody = `{
  "total_networth_usd": "100000.00",
  "chains": [{"chain": "eth", "native_balance": "1000000000000000000", "native_balance_usd": 3000, "token_count": 2}],
  "tokens": [
    {"token_address": "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599", "symbol": "WBTC", "name": "Wrapped BTC", "balance": "100000000", "balance_formatted": "1", "usd_value": 38000},
    {"token_address": "0xdead", "symbol": "SCAM", "name": "Scam", "balance": "1", "balance_formatted": "1", "possible_spam": true}
  ]
}`

func newTestProvider(t *testing.T, url string) *MoralisProvider {
	t.Helper()
	p, err := NewMoralisProvider(MoralisConfig{
		APIKey:  "test-key",
		BaseURL: url,
		RPS:     1000,
		Retry:   retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})
	require.NoError(t, err)
	p.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }
	return p
}

func TestNewMoralisProviderRequiresKey(t *testing.T) {
	_, err := NewMoralisProvider(MoralisConfig{})
	assert.ErrorIs(t, err, ErrAPIKeyRequired)
}

func TestFetchSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wallets/0xabcdef/net-worth", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("exclude_spam"))
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(netWorthBody))
	}))
	defer srv.Close()

	snap, err := newTestProvider(t, srv.URL).FetchSnapshot(context.Background(), "0xABCDEF")
	require.NoError(t, err)

	assert.Equal(t, "0xabcdef", snap.AccountID)
	assert.Equal(t, 100000.0, snap.NetWorthUSD)
	require.Len(t, snap.Holdings, 2)
	assert.Equal(t, "WBTC", snap.Holdings[0].Symbol)
	assert.InDelta(t, 38.0, snap.Holdings[0].PortfolioPct, 1e-9)
	assert.True(t, snap.Holdings[1].IsSpam)
	assert.Zero(t, snap.Holdings[1].ValueUSD)
	require.Len(t, snap.Chains, 1)
	assert.Equal(t, 2, snap.Chains[0].TokenCount)
	assert.NotEmpty(t, snap.ID)
}

func TestFetchSnapshotRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(netWorthBody))
	}))
	defer srv.Close()

	_, err := newTestProvider(t, srv.URL).FetchSnapshot(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestFetchSnapshotDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid address"}`))
	}))
	defer srv.Close()

	_, err := newTestProvider(t, srv.URL).FetchSnapshot(context.Background(), "0xabc")
	require.Error(t, err)

	var status *retry.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusBadRequest, status.StatusCode)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestFetchSnapshotInvalidTotal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"total_networth_usd": "n/a", "chains": [], "tokens": []}`))
	}))
	defer srv.Close()

	_, err := newTestProvider(t, srv.URL).FetchSnapshot(context.Background(), "0xabc")
	assert.Error(t, err)
}

func TestFetchSnapshotEmptyAddress(t *testing.T) {
	p := newTestProvider(t, "http://127.0.0.1:0")
	_, err := p.FetchSnapshot(context.Background(), "  ")
	assert.Error(t, err)
}
