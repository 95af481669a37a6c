package confirmation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsdesk/lineguard/internal/exchange"
	"github.com/oddsdesk/lineguard/types"
)

type fakeAdapter struct {
	exchange.Adapter
	placeCount   int
	cancelCount  int
	ordersByID   map[string]exchange.Order
	nextID       int
	statusScript []exchange.OrderStatus // consumed one per GetOrder call for the current order
}

func (f *fakeAdapter) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (exchange.Order, error) {
	f.placeCount++
	f.nextID++
	id := "order-1"
	order := exchange.Order{ID: id, Status: exchange.OrderPending, RequestPrice: req.Price, RequestSize: req.Size}
	f.ordersByID = map[string]exchange.Order{id: order}
	return order, nil
}

func (f *fakeAdapter) GetOrder(ctx context.Context, id string) (exchange.Order, error) {
	order := f.ordersByID[id]
	if len(f.statusScript) > 0 {
		order.Status = f.statusScript[0]
		f.statusScript = f.statusScript[1:]
		if order.Status == exchange.OrderFilled {
			order.FilledSize = order.RequestSize
			order.AvgFillPrice = order.RequestPrice
		}
		if order.Status == exchange.OrderPartial {
			order.FilledSize = order.RequestSize.Mul(decimal.NewFromFloat(0.85))
			order.AvgFillPrice = order.RequestPrice
		}
		f.ordersByID[id] = order
	}
	return order, nil
}

func (f *fakeAdapter) CancelOrder(ctx context.Context, id string) error {
	f.cancelCount++
	return nil
}

func TestSubmitFilledImmediately(t *testing.T) {
	adapter := &fakeAdapter{statusScript: []exchange.OrderStatus{exchange.OrderFilled}}
	c := New(adapter, decimal.Zero, decimal.Zero)

	result, err := c.Submit(context.Background(), exchange.PlaceOrderRequest{
		TokenID: "tok", Side: exchange.SideYes, Action: exchange.ActionBuy,
		Price: decimal.NewFromFloat(0.5), Size: decimal.NewFromInt(10),
	}, decimal.NewFromFloat(0.5))

	require.NoError(t, err)
	assert.Equal(t, types.FillFilled, result.FillStatus)
	assert.Equal(t, 1, adapter.placeCount)
}

func TestSubmitSlippageGuardRejects(t *testing.T) {
	adapter := &fakeAdapter{}
	c := New(adapter, decimal.Zero, decimal.NewFromFloat(0.01))

	_, err := c.Submit(context.Background(), exchange.PlaceOrderRequest{
		TokenID: "tok", Side: exchange.SideYes, Action: exchange.ActionBuy,
		Price: decimal.NewFromFloat(0.60), Size: decimal.NewFromInt(10),
	}, decimal.NewFromFloat(0.50))

	require.Error(t, err)
	assert.Equal(t, 0, adapter.placeCount)
}

func TestSubmitPartialFillAboveThresholdAccepted(t *testing.T) {
	adapter := &fakeAdapter{statusScript: []exchange.OrderStatus{exchange.OrderPartial}}
	c := New(adapter, decimal.NewFromFloat(0.80), decimal.Zero)

	result, err := c.Submit(context.Background(), exchange.PlaceOrderRequest{
		TokenID: "tok", Side: exchange.SideYes, Action: exchange.ActionBuy,
		Price: decimal.NewFromFloat(0.5), Size: decimal.NewFromInt(10),
	}, decimal.NewFromFloat(0.5))

	require.NoError(t, err)
	assert.Equal(t, types.FillPartial, result.FillStatus)
	assert.Equal(t, 0, adapter.cancelCount)
}

func TestSubmitRejectedIsTerminal(t *testing.T) {
	adapter := &fakeAdapter{statusScript: []exchange.OrderStatus{exchange.OrderRejected}}
	c := New(adapter, decimal.Zero, decimal.Zero)

	result, err := c.Submit(context.Background(), exchange.PlaceOrderRequest{
		TokenID: "tok", Side: exchange.SideYes, Action: exchange.ActionBuy,
		Price: decimal.NewFromFloat(0.5), Size: decimal.NewFromInt(10),
	}, decimal.NewFromFloat(0.5))

	require.NoError(t, err)
	assert.Equal(t, types.FillRejected, result.FillStatus)
}

func TestSubmitIdempotentReplaySkipsPlaceOrder(t *testing.T) {
	adapter := &fakeAdapter{statusScript: []exchange.OrderStatus{exchange.OrderFilled}}
	c := New(adapter, decimal.Zero, decimal.Zero)

	req := exchange.PlaceOrderRequest{
		TokenID: "tok", Side: exchange.SideYes, Action: exchange.ActionBuy,
		Price: decimal.NewFromFloat(0.5), Size: decimal.NewFromInt(10),
	}

	first, err := c.Submit(context.Background(), req, decimal.NewFromFloat(0.5))
	require.NoError(t, err)
	assert.False(t, first.FromIdempotency)

	second, err := c.Submit(context.Background(), req, decimal.NewFromFloat(0.5))
	require.NoError(t, err)
	assert.True(t, second.FromIdempotency)
	assert.Equal(t, 1, adapter.placeCount)
}

func TestKeyDeterministicWithinBucket(t *testing.T) {
	now := time.Now()
	a := Key("tok", "YES", decimal.NewFromFloat(0.5), decimal.NewFromInt(10), now)
	b := Key("tok", "YES", decimal.NewFromFloat(0.5), decimal.NewFromInt(10), now)
	assert.Equal(t, a, b)

	c := Key("tok", "NO", decimal.NewFromFloat(0.5), decimal.NewFromInt(10), now)
	assert.NotEqual(t, a, c)
}
