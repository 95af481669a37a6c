// Package clobrest implements the CLOB-REST exchange variant: RSA-signed
// REST requests, integer-cent wire prices normalized to [0,1] floats at the
// boundary. Grounded on the teacher's exec/client.go HTTP-helper shape
// (get/post/delete + addHeaders), generalized from HMAC-SHA256 signing to
// RSA-PKCS1v15-SHA256 signing over timestamp||METHOD||path||body, and on
// sdibella-kalshi-btc15m's internal/kalshi/auth.go key-loading pattern.
package clobrest

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/oddsdesk/lineguard/internal/apperr"
	"github.com/oddsdesk/lineguard/internal/exchange"
	"github.com/oddsdesk/lineguard/internal/telemetry"
)

// Credentials is the CLOB-REST account identity: an RSA private key plus
// the key id the exchange assigned it.
type Credentials struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
}

func (Credentials) isExchangeCredentials() {}

// LoadPrivateKey parses a PEM-encoded RSA private key, trying PKCS8 then
// PKCS1 — exact shape of sdibella-kalshi-btc15m's internal/kalshi/auth.go.
func LoadPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in private key")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key (tried PKCS8 and PKCS1): %w", err)
	}
	return rsaKey, nil
}

// Client is the CLOB-REST adapter.
type Client struct {
	baseURL    string
	creds      Credentials
	dryRun     bool
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *exchange.Breaker
	log        zerolog.Logger
}

// New builds a CLOB-REST client for one account's credentials.
func New(baseURL string, creds Credentials, dryRun bool, rps int) *Client {
	return &Client{
		baseURL:    baseURL,
		creds:      creds,
		dryRun:     dryRun,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		breaker:    exchange.NewBreaker(3, 30*time.Second),
		log:        telemetry.For("exchange.clobrest"),
	}
}

func (c *Client) Platform() string { return "clob_rest" }
func (c *Client) IsDryRun() bool   { return c.dryRun }

// sign builds the canonical string timestamp||METHOD||path||body and
// signs it with PKCS#1 v1.5 / SHA-256, per spec 4.A and 6.
func (c *Client) sign(method, path string, body []byte) (headers map[string]string, err error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := ts + method + path
	if len(body) > 0 {
		message += string(body)
	}
	hash := sha256.Sum256([]byte(message))

	sig, err := rsa.SignPKCS1v15(rand.Reader, c.creds.PrivateKey, crypto.SHA256, hash[:])
	if err != nil {
		return nil, apperr.New(apperr.Auth, "clobrest.sign", err)
	}

	return map[string]string{
		"KEY-ID":    c.creds.KeyID,
		"SIGNATURE": base64.StdEncoding.EncodeToString(sig),
		"TIMESTAMP": ts,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if !c.breaker.Allow() {
		return nil, apperr.New(apperr.Transport, "clobrest.do", exchange.ErrBreakerOpen)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperr.New(apperr.Transport, "clobrest.do", err)
	}

	headers, err := c.sign(method, path, body)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, apperr.New(apperr.Validation, "clobrest.do", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		c.log.Warn().Err(err).Str("path", path).Msg("request failed")
		return nil, apperr.New(apperr.Transport, "clobrest.do", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, apperr.New(apperr.Transport, "clobrest.do", err)
	}

	switch {
	case resp.StatusCode == 429:
		c.breaker.RecordFailure()
		return nil, apperr.New(apperr.RateLimit, "clobrest.do", fmt.Errorf("rate limited"))
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		return nil, apperr.New(apperr.Auth, "clobrest.do", fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody))
	case resp.StatusCode >= 500:
		c.breaker.RecordFailure()
		return nil, apperr.New(apperr.Transport, "clobrest.do", fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody))
	case resp.StatusCode >= 400:
		return nil, apperr.New(apperr.Validation, "clobrest.do", fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody))
	}

	c.breaker.RecordSuccess()
	return respBody, nil
}

// centsToFloat normalizes an integer-cents wire price to a [0,1] float.
func centsToFloat(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
}

func floatToCents(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func (c *Client) GetBalance(ctx context.Context) (exchange.Balance, error) {
	if c.dryRun {
		return exchange.Balance{Available: decimal.NewFromInt(1000)}, nil
	}
	body, err := c.do(ctx, http.MethodGet, "/portfolio/balance", nil)
	if err != nil {
		return exchange.Balance{}, err
	}
	var resp struct {
		BalanceCents int64 `json:"balance"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.Balance{}, apperr.New(apperr.Transport, "clobrest.GetBalance", err)
	}
	return exchange.Balance{Available: centsToFloat(resp.BalanceCents)}, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	body, err := c.do(ctx, http.MethodGet, "/portfolio/positions", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Positions []struct {
			Ticker    string `json:"ticker"`
			Side      string `json:"side"`
			Quantity  int64  `json:"quantity"`
			AvgCostCents int64 `json:"avg_cost_cents"`
		} `json:"positions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.New(apperr.Transport, "clobrest.GetPositions", err)
	}
	out := make([]exchange.Position, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		out = append(out, exchange.Position{
			MarketID: p.Ticker,
			Side:     exchange.Side(p.Side),
			Size:     decimal.NewFromInt(p.Quantity),
			AvgCost:  centsToFloat(p.AvgCostCents),
		})
	}
	return out, nil
}

func (c *Client) GetMarkets(ctx context.Context, filter exchange.MarketFilter) ([]exchange.Market, error) {
	body, err := c.do(ctx, http.MethodGet, "/markets", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Markets []wireMarket `json:"markets"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.New(apperr.Transport, "clobrest.GetMarkets", err)
	}
	out := make([]exchange.Market, 0, len(resp.Markets))
	for _, m := range resp.Markets {
		out = append(out, m.normalize())
	}
	return out, nil
}

type wireMarket struct {
	Ticker      string `json:"ticker"`
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle"`
	Status      string `json:"status"`
	CloseTime   string `json:"close_time"`
	LiquidityCents int64 `json:"liquidity"`
	Volume24h   int64  `json:"volume_24h"`
	YesBidCents int64  `json:"yes_bid"`
	YesAskCents int64  `json:"yes_ask"`
}

func (m wireMarket) normalize() exchange.Market {
	endTime, _ := time.Parse(time.RFC3339, m.CloseTime)
	yesMid := centsToFloat((m.YesBidCents + m.YesAskCents) / 2)
	spread := decimal.Zero
	if !yesMid.IsZero() {
		spread = centsToFloat(m.YesAskCents - m.YesBidCents).Abs()
	}
	return exchange.Market{
		ID:          m.Ticker,
		Title:       m.Title,
		Description: m.Subtitle,
		Status:      m.Status,
		EndTime:     endTime,
		Liquidity:   centsToFloat(m.LiquidityCents),
		Volume24h:   decimal.NewFromInt(m.Volume24h),
		YesMid:      yesMid,
		NoMid:       decimal.NewFromInt(1).Sub(yesMid),
		SpreadPct:   spread,
	}
}

func (c *Client) GetMarket(ctx context.Context, id string) (exchange.Market, error) {
	body, err := c.do(ctx, http.MethodGet, "/markets/"+id, nil)
	if err != nil {
		return exchange.Market{}, err
	}
	var resp wireMarket
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.Market{}, apperr.New(apperr.Transport, "clobrest.GetMarket", err)
	}
	return resp.normalize(), nil
}

func (c *Client) GetOrderBook(ctx context.Context, id string) (exchange.OrderBook, error) {
	body, err := c.do(ctx, http.MethodGet, "/markets/"+id+"/orderbook", nil)
	if err != nil {
		return exchange.OrderBook{}, err
	}
	var resp struct {
		YesBidCents, YesAskCents int64
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.OrderBook{}, apperr.New(apperr.Transport, "clobrest.GetOrderBook", err)
	}
	yesBid, yesAsk := centsToFloat(resp.YesBidCents), centsToFloat(resp.YesAskCents)
	return exchange.OrderBook{
		YesBid: yesBid,
		YesAsk: yesAsk,
		NoBid:  decimal.NewFromInt(1).Sub(yesAsk),
		NoAsk:  decimal.NewFromInt(1).Sub(yesBid),
	}, nil
}

func (c *Client) GetMidpoint(ctx context.Context, id string) (decimal.Decimal, error) {
	book, err := c.GetOrderBook(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return book.YesBid.Add(book.YesAsk).Div(decimal.NewFromInt(2)), nil
}

func (c *Client) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (exchange.Order, error) {
	if c.dryRun {
		return exchange.Order{
			ID:           "DRY_" + uuid.NewString(),
			Status:       exchange.OrderFilled,
			RequestPrice: req.Price,
			RequestSize:  req.Size,
			FilledSize:   req.Size,
			AvgFillPrice: req.Price,
		}, nil
	}

	payload, _ := json.Marshal(map[string]any{
		"ticker":       req.TokenID,
		"side":         req.Side,
		"action":       req.Action,
		"price_cents":  floatToCents(req.Price),
		"count":        req.Size.IntPart(),
		"client_order_id": req.IdempotencyKey,
	})

	body, err := c.do(ctx, http.MethodPost, "/portfolio/orders", payload)
	if err != nil {
		return exchange.Order{}, err
	}

	var resp struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.Order{}, apperr.New(apperr.Transport, "clobrest.PlaceOrder", err)
	}

	return exchange.Order{
		ID:           resp.OrderID,
		Status:       mapWireStatus(resp.Status),
		RequestPrice: req.Price,
		RequestSize:  req.Size,
	}, nil
}

func mapWireStatus(wire string) exchange.OrderStatus {
	switch wire {
	case "resting":
		return exchange.OrderResting
	case "filled", "executed":
		return exchange.OrderFilled
	case "partially_filled":
		return exchange.OrderPartial
	case "canceled", "cancelled":
		return exchange.OrderCancelled
	case "rejected":
		return exchange.OrderRejected
	default:
		return exchange.OrderPending
	}
}

func (c *Client) GetOrder(ctx context.Context, id string) (exchange.Order, error) {
	if len(id) > 4 && id[:4] == "DRY_" {
		return exchange.Order{ID: id, Status: exchange.OrderFilled}, nil
	}
	body, err := c.do(ctx, http.MethodGet, "/portfolio/orders/"+id, nil)
	if err != nil {
		return exchange.Order{}, err
	}
	var resp struct {
		OrderID       string `json:"order_id"`
		Status        string `json:"status"`
		PriceCents    int64  `json:"price_cents"`
		Count         int64  `json:"count"`
		FilledCount   int64  `json:"filled_count"`
		AvgFillCents  int64  `json:"avg_fill_price_cents"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.Order{}, apperr.New(apperr.Transport, "clobrest.GetOrder", err)
	}
	return exchange.Order{
		ID:           resp.OrderID,
		Status:       mapWireStatus(resp.Status),
		RequestPrice: centsToFloat(resp.PriceCents),
		RequestSize:  decimal.NewFromInt(resp.Count),
		FilledSize:   decimal.NewFromInt(resp.FilledCount),
		AvgFillPrice: centsToFloat(resp.AvgFillCents),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, id string) error {
	if c.dryRun || (len(id) > 4 && id[:4] == "DRY_") {
		return nil
	}
	_, err := c.do(ctx, http.MethodDelete, "/portfolio/orders/"+id, nil)
	return err
}

func (c *Client) WaitForFill(ctx context.Context, id string, timeout time.Duration) (exchange.Order, error) {
	if len(id) > 4 && id[:4] == "DRY_" {
		return exchange.Order{ID: id, Status: exchange.OrderFilled}, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		order, err := c.GetOrder(ctx, id)
		if err != nil {
			return order, err
		}
		if order.Status == exchange.OrderFilled || order.Status == exchange.OrderCancelled || order.Status == exchange.OrderRejected {
			return order, nil
		}
		if time.Now().After(deadline) {
			return order, nil
		}
		select {
		case <-ctx.Done():
			return order, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}
