package evmclob

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsdesk/lineguard/internal/exchange"
)

func testCreds(t *testing.T) Credentials {
	t.Helper()
	key, addr, err := LoadPrivateKey("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	return Credentials{
		PrivateKey: key,
		Address:    addr,
		APIKey:     "test-api-key",
		APISecret:  "c2VjcmV0",
		Passphrase: "test-pass",
	}
}

func TestLoadPrivateKeyAcceptsHexPrefix(t *testing.T) {
	_, addr, err := LoadPrivateKey("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	assert.NotEmpty(t, addr)
}

func TestLoadPrivateKeyRejectsGarbage(t *testing.T) {
	_, _, err := LoadPrivateKey("not-hex")
	assert.Error(t, err)
}

func TestBuildSignedOrderBuyAmounts(t *testing.T) {
	c := New("https://clob.example.invalid", "", testCreds(t), false, 10)
	order, err := c.buildSignedOrder(exchange.PlaceOrderRequest{
		TokenID: "12345",
		Side:    exchange.SideYes,
		Action:  exchange.ActionBuy,
		Price:   decimal.NewFromFloat(0.5),
		Size:    decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.Equal(t, "5000000", order.MakerAmount)
	assert.Equal(t, "10000000", order.TakerAmount)
	assert.Equal(t, "BUY", order.Side)
	assert.NotEmpty(t, order.Signature)
}

func TestBuildSignedOrderSellAmounts(t *testing.T) {
	c := New("https://clob.example.invalid", "", testCreds(t), false, 10)
	order, err := c.buildSignedOrder(exchange.PlaceOrderRequest{
		TokenID: "12345",
		Side:    exchange.SideYes,
		Action:  exchange.ActionSell,
		Price:   decimal.NewFromFloat(0.5),
		Size:    decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.Equal(t, "10000000", order.MakerAmount)
	assert.Equal(t, "5000000", order.TakerAmount)
	assert.Equal(t, "SELL", order.Side)
}

func TestPlaceOrderDryRunSyntheticID(t *testing.T) {
	c := New("https://clob.example.invalid", "", testCreds(t), true, 10)
	order, err := c.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
		TokenID: "12345",
		Side:    exchange.SideYes,
		Action:  exchange.ActionBuy,
		Price:   decimal.NewFromFloat(0.5),
		Size:    decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.Contains(t, order.ID, "DRY_")
}

func TestGetBalanceDryRun(t *testing.T) {
	c := New("https://clob.example.invalid", "", testCreds(t), true, 10)
	bal, err := c.GetBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, bal.Available.Equal(decimal.NewFromInt(100)))
}

func TestWireMarketNormalizeTokens(t *testing.T) {
	m := wireMarket{
		ConditionID: "0xabc",
		Question:    "Will the Lakers win?",
		Active:      true,
		EndDateISO:  "2026-10-01T00:00:00Z",
		Liquidity:   "1000.5",
		Volume24hr:  "2500",
		Tokens: []struct {
			TokenID string `json:"token_id"`
			Outcome string `json:"outcome"`
			Price   string `json:"price"`
		}{
			{TokenID: "yes-token", Outcome: "Yes", Price: "0.63"},
			{TokenID: "no-token", Outcome: "No", Price: "0.37"},
		},
	}
	norm := m.normalize()
	assert.Equal(t, "yes-token", norm.YesTokenID)
	assert.Equal(t, "no-token", norm.NoTokenID)
	assert.True(t, norm.YesMid.Equal(decimal.NewFromFloat(0.63)))
}

func TestMapWireStatus(t *testing.T) {
	cases := map[string]exchange.OrderStatus{
		"live":              exchange.OrderResting,
		"matched":           exchange.OrderFilled,
		"partially_matched": exchange.OrderPartial,
		"cancelled":         exchange.OrderCancelled,
		"rejected":          exchange.OrderRejected,
		"":                  exchange.OrderPending,
	}
	for wire, want := range cases {
		assert.Equal(t, want, mapWireStatus(wire))
	}
}
