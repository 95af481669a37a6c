package clobrest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsdesk/lineguard/internal/exchange"
)

func testCreds(t *testing.T) Credentials {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	loaded, err := LoadPrivateKey(pemBytes)
	require.NoError(t, err)
	return Credentials{KeyID: "test-key-id", PrivateKey: loaded}
}

func TestLoadPrivateKeyRejectsGarbage(t *testing.T) {
	_, err := LoadPrivateKey([]byte("not a pem"))
	assert.Error(t, err)
}

func TestSignProducesRequiredHeaders(t *testing.T) {
	c := New("https://example.invalid", testCreds(t), false, 10)
	headers, err := c.sign(http.MethodGet, "/portfolio/balance", nil)
	require.NoError(t, err)
	assert.Equal(t, "test-key-id", headers["KEY-ID"])
	assert.NotEmpty(t, headers["SIGNATURE"])
	assert.NotEmpty(t, headers["TIMESTAMP"])
}

func TestCentsToFloatRoundTrip(t *testing.T) {
	assert.True(t, decimal.NewFromFloat(0.37).Equal(centsToFloat(37)))
	assert.Equal(t, int64(37), floatToCents(decimal.NewFromFloat(0.37)))
}

func TestGetBalanceDryRun(t *testing.T) {
	c := New("https://example.invalid", testCreds(t), true, 10)
	bal, err := c.GetBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, bal.Available.Equal(decimal.NewFromInt(1000)))
}

func TestPlaceOrderDryRunSyntheticID(t *testing.T) {
	c := New("https://example.invalid", testCreds(t), true, 10)
	order, err := c.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
		TokenID: "TICKER-YES",
		Side:    exchange.SideYes,
		Action:  exchange.ActionBuy,
		Price:   decimal.NewFromFloat(0.42),
		Size:    decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.Contains(t, order.ID, "DRY_")
	assert.Equal(t, exchange.OrderFilled, order.Status)
}

func TestWireMarketNormalize(t *testing.T) {
	m := wireMarket{
		Ticker:         "NFL-KC-BAL",
		Title:          "Chiefs vs Ravens",
		Status:         "active",
		CloseTime:      "2026-09-10T00:00:00Z",
		LiquidityCents: 500000,
		Volume24h:      1200,
		YesBidCents:    45,
		YesAskCents:    47,
	}
	norm := m.normalize()
	assert.Equal(t, "NFL-KC-BAL", norm.ID)
	assert.True(t, norm.YesMid.Equal(decimal.NewFromFloat(0.46)))
	assert.True(t, norm.NoMid.Equal(decimal.NewFromFloat(0.54)))
}

func TestMapWireStatus(t *testing.T) {
	cases := map[string]exchange.OrderStatus{
		"resting":          exchange.OrderResting,
		"filled":           exchange.OrderFilled,
		"partially_filled": exchange.OrderPartial,
		"cancelled":        exchange.OrderCancelled,
		"rejected":         exchange.OrderRejected,
		"unknown":          exchange.OrderPending,
	}
	for wire, want := range cases {
		assert.Equal(t, want, mapWireStatus(wire))
	}
}

func TestDoSurfacesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, testCreds(t), false, 100)
	_, err := c.GetBalance(context.Background())
	require.Error(t, err)
}
