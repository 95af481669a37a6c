// Package confirmation implements submit → poll → reconcile order
// placement with idempotency-key deduplication, partial-fill handling, and
// a pre-submit slippage guard. Directly grounded on the teacher's
// execution/executor.go order-lifecycle state machine (OrderState enum,
// submit/poll loop), generalized from the teacher's single Polymarket
// client to any exchange.Adapter, and adapted to the spec's idempotency-
// cache and partial-fill-threshold semantics.
package confirmation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddsdesk/lineguard/internal/apperr"
	"github.com/oddsdesk/lineguard/internal/exchange"
	"github.com/oddsdesk/lineguard/internal/telemetry"
	"github.com/oddsdesk/lineguard/types"
)

const (
	// DefaultTimeoutSeconds bounds how long polling continues for one order.
	DefaultTimeoutSeconds = 30
	// MaxConfirmationAttempts bounds the number of getOrder polls issued.
	MaxConfirmationAttempts = 5
	pollInterval            = 2 * time.Second

	// DefaultPartialFillThreshold is the filled-fraction at or above which a
	// partial fill is accepted as open with its remainder left working.
	// Below it the remainder is cancelled and the fill is still returned as
	// partial; the unfilled size is not resubmitted.
	DefaultPartialFillThreshold = 0.80
	// DefaultMaxSlippagePct is the default pre-submit slippage guard.
	DefaultMaxSlippagePct = 0.02
)

// SubmitResult is the outcome of one confirmed submission.
type SubmitResult struct {
	Order          exchange.Order
	FillStatus     types.FillStatus
	Slippage       decimal.Decimal
	Attempts       int
	FromIdempotency bool
}

// Confirmer wraps one account's adapter with the submit/poll/reconcile
// pipeline and its idempotency cache.
type Confirmer struct {
	adapter               exchange.Adapter
	cache                 *idempotencyCache
	partialFillThreshold  decimal.Decimal
	maxSlippagePct        decimal.Decimal
}

// New builds a Confirmer over adapter. Zero values for threshold/slippage
// fall back to the spec defaults.
func New(adapter exchange.Adapter, partialFillThreshold, maxSlippagePct decimal.Decimal) *Confirmer {
	if partialFillThreshold.IsZero() {
		partialFillThreshold = decimal.NewFromFloat(DefaultPartialFillThreshold)
	}
	if maxSlippagePct.IsZero() {
		maxSlippagePct = decimal.NewFromFloat(DefaultMaxSlippagePct)
	}
	return &Confirmer{
		adapter:              adapter,
		cache:                newIdempotencyCache(),
		partialFillThreshold: partialFillThreshold,
		maxSlippagePct:       maxSlippagePct,
	}
}

// checkSlippageGuard rejects a submission if the requested price has
// already drifted too far from the current mid.
func checkSlippageGuard(requestedPrice, currentMid, maxSlippagePct decimal.Decimal) error {
	if currentMid.IsZero() {
		return nil
	}
	drift := requestedPrice.Sub(currentMid).Abs().Div(currentMid)
	if drift.GreaterThan(maxSlippagePct) {
		return apperr.New(apperr.Validation, "confirmation.checkSlippageGuard",
			slippageExceededError{drift: drift, max: maxSlippagePct})
	}
	return nil
}

type slippageExceededError struct {
	drift, max decimal.Decimal
}

func (e slippageExceededError) Error() string {
	return "slippage guard: drift " + e.drift.StringFixed(4) + " exceeds max " + e.max.StringFixed(4)
}

// Submit runs the full submit/poll/reconcile pipeline for one order
// request against currentMid, which must be fetched by the caller
// immediately before calling Submit.
func (c *Confirmer) Submit(ctx context.Context, req exchange.PlaceOrderRequest, currentMid decimal.Decimal) (SubmitResult, error) {
	if err := checkSlippageGuard(req.Price, currentMid, c.maxSlippagePct); err != nil {
		return SubmitResult{}, err
	}

	key := Key(req.TokenID, string(req.Side), req.Price, req.Size, time.Now())
	if cached, ok := c.cache.get(key); ok {
		cached.FromIdempotency = true
		return cached, nil
	}
	req.IdempotencyKey = key

	order, err := c.adapter.PlaceOrder(ctx, req)
	if err != nil {
		return SubmitResult{}, err
	}

	result, err := c.poll(ctx, order, req)
	if err != nil {
		return SubmitResult{}, err
	}

	c.cache.put(key, result)
	return result, nil
}

// poll issues getOrder at pollInterval up to DefaultTimeoutSeconds and at
// most MaxConfirmationAttempts, handling partial fills and timeouts.
func (c *Confirmer) poll(ctx context.Context, order exchange.Order, req exchange.PlaceOrderRequest) (SubmitResult, error) {
	deadline := time.Now().Add(DefaultTimeoutSeconds * time.Second)
	log := telemetry.For("confirmation")
	last := order

	for attempt := 1; attempt <= MaxConfirmationAttempts; attempt++ {
		current, err := c.adapter.GetOrder(ctx, order.ID)
		if err != nil {
			return SubmitResult{}, err
		}
		last = current

		switch current.Status {
		case exchange.OrderFilled:
			return c.finalize(current, req, attempt, types.FillFilled), nil

		case exchange.OrderCancelled:
			return SubmitResult{Order: current, FillStatus: types.FillCancelled, Attempts: attempt}, nil

		case exchange.OrderRejected:
			return SubmitResult{Order: current, FillStatus: types.FillRejected, Attempts: attempt}, nil

		case exchange.OrderPartial:
			fraction := decimal.Zero
			if !current.RequestSize.IsZero() {
				fraction = current.FilledSize.Div(current.RequestSize)
			}
			if fraction.GreaterThanOrEqual(c.partialFillThreshold) {
				return c.finalize(current, req, attempt, types.FillPartial), nil
			}
			// Below threshold: cancel the remainder and do not silently retry
			// the outstanding size — the caller re-evaluates at the new mid.
			_ = c.adapter.CancelOrder(ctx, order.ID)
			return c.finalize(current, req, attempt, types.FillPartial), nil
		}

		if time.Now().After(deadline) {
			log.Warn().Str("order_id", order.ID).Int("attempt", attempt).Msg("confirmation timeout, cancelling")
			_ = c.adapter.CancelOrder(ctx, order.ID)
			return SubmitResult{Order: current, FillStatus: types.FillTimeout, Attempts: attempt}, nil
		}

		select {
		case <-ctx.Done():
			return SubmitResult{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	_ = c.adapter.CancelOrder(ctx, order.ID)
	return SubmitResult{Order: last, FillStatus: types.FillTimeout, Attempts: MaxConfirmationAttempts}, nil
}

func (c *Confirmer) finalize(order exchange.Order, req exchange.PlaceOrderRequest, attempts int, status types.FillStatus) SubmitResult {
	slippage := order.AvgFillPrice.Sub(req.Price).Abs()
	return SubmitResult{
		Order:      order,
		FillStatus: status,
		Slippage:   slippage,
		Attempts:   attempts,
	}
}
