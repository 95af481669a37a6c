// Package exchange defines the shared capability surface both exchange
// variants implement (CLOB-REST and EVM-CLOB), plus the cross-cutting
// resilience (breaker/retry) and per-account client pooling that wrap them.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Side is a binary-market outcome side.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Action is the trade direction.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// OrderStatus is the normalized wire-status mapping every adapter produces.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderResting   OrderStatus = "resting"
	OrderFilled    OrderStatus = "filled"
	OrderPartial   OrderStatus = "partial"
	OrderCancelled OrderStatus = "cancelled"
	OrderRejected  OrderStatus = "rejected"
)

// Market is a unified market/book snapshot independent of exchange wire format.
type Market struct {
	ID          string // condition-id or ticker
	Title       string
	Description string
	Status      string // open, active, closed, settled, ...
	EndTime     time.Time
	GameStartTime time.Time
	Liquidity   decimal.Decimal
	Volume24h   decimal.Decimal
	YesMid      decimal.Decimal
	NoMid       decimal.Decimal
	SpreadPct   decimal.Decimal
	YesTokenID  string
	NoTokenID   string
}

// OrderBook is a minimal top-of-book snapshot.
type OrderBook struct {
	YesBid, YesAsk decimal.Decimal
	NoBid, NoAsk   decimal.Decimal
}

// PlaceOrderRequest is the adapter-agnostic order placement request.
type PlaceOrderRequest struct {
	TokenID        string
	Side           Side
	Action         Action
	Price          decimal.Decimal
	Size           decimal.Decimal
	IdempotencyKey string
}

// Order is the adapter-agnostic order/fill state.
type Order struct {
	ID           string
	Status       OrderStatus
	RequestPrice decimal.Decimal
	FilledSize   decimal.Decimal
	RequestSize  decimal.Decimal
	AvgFillPrice decimal.Decimal
}

// Position is an on-exchange held position, used by the reconciler.
type Position struct {
	MarketID string
	TokenID  string
	Side     Side
	Size     decimal.Decimal
	AvgCost  decimal.Decimal
}

// Balance is the funded account's available collateral.
type Balance struct {
	Available decimal.Decimal
}

// Credentials is opaque to callers outside the adapter package; each
// concrete adapter defines its own concrete credential struct and type
// asserts it out of this interface value.
type Credentials interface {
	isExchangeCredentials()
}

// Adapter is the capability set both exchange variants implement, per
// spec 4.A. All operations are cancellable via context and return errors
// tagged via apperr.Kind.
type Adapter interface {
	GetBalance(ctx context.Context) (Balance, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetMarkets(ctx context.Context, filter MarketFilter) ([]Market, error)
	GetMarket(ctx context.Context, id string) (Market, error)
	GetOrderBook(ctx context.Context, id string) (OrderBook, error)
	GetMidpoint(ctx context.Context, id string) (decimal.Decimal, error)
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (Order, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	CancelOrder(ctx context.Context, id string) error
	WaitForFill(ctx context.Context, id string, timeout time.Duration) (Order, error)
	IsDryRun() bool
	Platform() string
}

// MarketFilter narrows a GetMarkets call (discovery component uses this).
type MarketFilter struct {
	Page        int
	PageSize    int
	SortByVolume bool
}
