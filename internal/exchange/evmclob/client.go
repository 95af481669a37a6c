// Package evmclob implements the EVM-based on-chain CLOB exchange variant:
// EIP-712 typed-data order signing plus HMAC-signed L2 API authentication.
// Directly adapted from the teacher's exec/client.go (Polymarket CTF
// Exchange), generalized from a single-purpose concrete client into an
// implementation of the shared exchange.Adapter interface.
package evmclob

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/oddsdesk/lineguard/internal/apperr"
	"github.com/oddsdesk/lineguard/internal/exchange"
	"github.com/oddsdesk/lineguard/internal/telemetry"
)

const (
	ctfExchangeContract = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	polygonChainID       = int64(137)
	usdcDecimalsFactor   = 1_000_000
)

// Credentials is the EVM-CLOB account identity: an ECDSA signing key plus
// the L2 API key triple issued for it.
type Credentials struct {
	PrivateKey    *ecdsa.PrivateKey
	Address       string
	FunderAddress string
	APIKey        string
	APISecret     string
	Passphrase    string
	SignatureType int
}

func (Credentials) isExchangeCredentials() {}

// LoadPrivateKey parses a hex-encoded secp256k1 private key, accepting an
// optional 0x prefix.
func LoadPrivateKey(hexKey string) (*ecdsa.PrivateKey, string, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, "", fmt.Errorf("evmclob: invalid private key: %w", err)
	}
	return pk, crypto.PubkeyToAddress(pk.PublicKey).Hex(), nil
}

// Client is the EVM-CLOB adapter.
type Client struct {
	baseURL    string
	wsURL      string
	creds      Credentials
	dryRun     bool
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *exchange.Breaker
	log        zerolog.Logger
}

// New builds an EVM-CLOB client for one account's credentials.
func New(baseURL, wsURL string, creds Credentials, dryRun bool, rps int) *Client {
	if creds.SignatureType == 0 && creds.FunderAddress != "" && creds.FunderAddress != creds.Address {
		creds.SignatureType = SigTypeProxy
	}
	return &Client{
		baseURL:    baseURL,
		wsURL:      wsURL,
		creds:      creds,
		dryRun:     dryRun,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		breaker:    exchange.NewBreaker(3, 30*time.Second),
		log:        telemetry.For("exchange.evmclob"),
	}
}

func (c *Client) Platform() string { return "evm_clob" }
func (c *Client) IsDryRun() bool   { return c.dryRun }

func (c *Client) maker() string {
	if c.creds.FunderAddress != "" {
		return c.creds.FunderAddress
	}
	return c.creds.Address
}

func (c *Client) addHeaders(req *http.Request) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	req.Header.Set("POLY_ADDRESS", c.creds.Address)
	req.Header.Set("POLY_API_KEY", c.creds.APIKey)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.creds.Passphrase)

	if c.creds.APISecret == "" {
		return
	}
	message := timestamp + req.Method + req.URL.Path
	if req.Body != nil {
		bodyBytes, _ := io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		if len(bodyBytes) > 0 {
			message += string(bodyBytes)
		}
	}
	req.Header.Set("POLY_SIGNATURE", c.hmacSign(message))
}

func (c *Client) hmacSign(message string) string {
	key, err := base64.URLEncoding.DecodeString(c.creds.APISecret)
	if err != nil {
		key, err = base64.StdEncoding.DecodeString(c.creds.APISecret)
		if err != nil {
			key = []byte(c.creds.APISecret)
		}
	}
	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	if !c.breaker.Allow() {
		return nil, apperr.New(apperr.Transport, "evmclob.do", exchange.ErrBreakerOpen)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperr.New(apperr.Transport, "evmclob.do", err)
	}

	var bodyReader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(jsonBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, apperr.New(apperr.Validation, "evmclob.do", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		c.log.Warn().Err(err).Str("path", path).Msg("request failed")
		return nil, apperr.New(apperr.Transport, "evmclob.do", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, apperr.New(apperr.Transport, "evmclob.do", err)
	}

	switch {
	case resp.StatusCode == 429:
		c.breaker.RecordFailure()
		return nil, apperr.New(apperr.RateLimit, "evmclob.do", fmt.Errorf("rate limited"))
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		return nil, apperr.New(apperr.Auth, "evmclob.do", fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody))
	case resp.StatusCode >= 500:
		c.breaker.RecordFailure()
		return nil, apperr.New(apperr.Transport, "evmclob.do", fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody))
	case resp.StatusCode >= 400:
		return nil, apperr.New(apperr.Validation, "evmclob.do", fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody))
	}

	c.breaker.RecordSuccess()
	return respBody, nil
}

func (c *Client) GetBalance(ctx context.Context) (exchange.Balance, error) {
	if c.dryRun {
		return exchange.Balance{Available: decimal.NewFromInt(100)}, nil
	}
	body, err := c.do(ctx, http.MethodGet, "/balance-allowance?asset_type=COLLATERAL&signature_type=1", nil)
	if err != nil {
		return exchange.Balance{}, err
	}
	var resp struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Balance == "" {
		return exchange.Balance{}, apperr.New(apperr.Transport, "evmclob.GetBalance", err)
	}
	bal, err := decimal.NewFromString(resp.Balance)
	if err != nil {
		return exchange.Balance{}, apperr.New(apperr.Transport, "evmclob.GetBalance", err)
	}
	return exchange.Balance{Available: bal.Div(decimal.NewFromInt(usdcDecimalsFactor))}, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	body, err := c.do(ctx, http.MethodGet, "/positions?signature_type=1", nil)
	if err != nil {
		return nil, err
	}
	var resp []struct {
		Asset      string `json:"asset"`
		Market     string `json:"market"`
		Side       string `json:"side"`
		Size       string `json:"size"`
		AvgPrice   string `json:"avgPrice"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.New(apperr.Transport, "evmclob.GetPositions", err)
	}
	out := make([]exchange.Position, 0, len(resp))
	for _, p := range resp {
		size, _ := decimal.NewFromString(p.Size)
		avg, _ := decimal.NewFromString(p.AvgPrice)
		out = append(out, exchange.Position{
			MarketID: p.Market,
			TokenID:  p.Asset,
			Side:     exchange.Side(p.Side),
			Size:     size,
			AvgCost:  avg,
		})
	}
	return out, nil
}

func (c *Client) GetMarkets(ctx context.Context, filter exchange.MarketFilter) ([]exchange.Market, error) {
	path := fmt.Sprintf("/markets?next_cursor=%d", filter.Page*filter.PageSize)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []wireMarket `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.New(apperr.Transport, "evmclob.GetMarkets", err)
	}
	out := make([]exchange.Market, 0, len(resp.Data))
	for _, m := range resp.Data {
		out = append(out, m.normalize())
	}
	return out, nil
}

type wireMarket struct {
	ConditionID string `json:"condition_id"`
	Question    string `json:"question"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
	Closed      bool   `json:"closed"`
	EndDateISO  string `json:"end_date_iso"`
	Volume24hr  string `json:"volume24hr"`
	Liquidity   string `json:"liquidity"`
	Tokens      []struct {
		TokenID string `json:"token_id"`
		Outcome string `json:"outcome"`
		Price   string `json:"price"`
	} `json:"tokens"`
}

func (m wireMarket) normalize() exchange.Market {
	status := "active"
	if m.Closed {
		status = "closed"
	} else if !m.Active {
		status = "inactive"
	}
	endTime, _ := time.Parse(time.RFC3339, m.EndDateISO)
	liquidity, _ := decimal.NewFromString(m.Liquidity)
	volume, _ := decimal.NewFromString(m.Volume24hr)

	out := exchange.Market{
		ID:          m.ConditionID,
		Title:       m.Question,
		Description: m.Description,
		Status:      status,
		EndTime:     endTime,
		Liquidity:   liquidity,
		Volume24h:   volume,
	}
	for _, tok := range m.Tokens {
		price, _ := decimal.NewFromString(tok.Price)
		switch strings.ToUpper(tok.Outcome) {
		case "YES":
			out.YesTokenID = tok.TokenID
			out.YesMid = price
		case "NO":
			out.NoTokenID = tok.TokenID
			out.NoMid = price
		}
	}
	if !out.YesMid.IsZero() && out.NoMid.IsZero() {
		out.NoMid = decimal.NewFromInt(1).Sub(out.YesMid)
	}
	return out
}

func (c *Client) GetMarket(ctx context.Context, id string) (exchange.Market, error) {
	body, err := c.do(ctx, http.MethodGet, "/markets/"+id, nil)
	if err != nil {
		return exchange.Market{}, err
	}
	var resp wireMarket
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.Market{}, apperr.New(apperr.Transport, "evmclob.GetMarket", err)
	}
	return resp.normalize(), nil
}

func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (exchange.OrderBook, error) {
	body, err := c.do(ctx, http.MethodGet, "/book?token_id="+tokenID, nil)
	if err != nil {
		return exchange.OrderBook{}, err
	}
	var resp struct {
		Bids []struct{ Price string } `json:"bids"`
		Asks []struct{ Price string } `json:"asks"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.OrderBook{}, apperr.New(apperr.Transport, "evmclob.GetOrderBook", err)
	}
	var bestBid, bestAsk decimal.Decimal
	if len(resp.Bids) > 0 {
		bestBid, _ = decimal.NewFromString(resp.Bids[0].Price)
	}
	if len(resp.Asks) > 0 {
		bestAsk, _ = decimal.NewFromString(resp.Asks[0].Price)
	}
	return exchange.OrderBook{
		YesBid: bestBid,
		YesAsk: bestAsk,
		NoBid:  decimal.NewFromInt(1).Sub(bestAsk),
		NoAsk:  decimal.NewFromInt(1).Sub(bestBid),
	}, nil
}

func (c *Client) GetMidpoint(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	book, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return decimal.Zero, err
	}
	return book.YesBid.Add(book.YesAsk).Div(decimal.NewFromInt(2)), nil
}

func (c *Client) buildSignedOrder(req exchange.PlaceOrderRequest) (*signedOrder, error) {
	makerAmount, takerAmount := decimal.Zero, decimal.Zero
	side := "BUY"
	if req.Action == exchange.ActionSell {
		side = "SELL"
	}
	usdc := decimal.NewFromInt(usdcDecimalsFactor)

	if side == "BUY" {
		makerAmount = req.Size.Mul(req.Price).Mul(usdc).Floor()
		takerAmount = req.Size.Mul(usdc).Floor()
	} else {
		makerAmount = req.Size.Mul(usdc).Floor()
		takerAmount = req.Size.Mul(req.Price).Mul(usdc).Floor()
	}

	order := &signedOrder{
		Salt:          generateSalt(),
		Maker:         c.maker(),
		Signer:        c.creds.Address,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       req.TokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          side,
		SignatureType: c.creds.SignatureType,
	}

	sig, err := signOrderEIP712(order, c.creds.PrivateKey, ctfExchangeContract, polygonChainID)
	if err != nil {
		return nil, apperr.New(apperr.Auth, "evmclob.buildSignedOrder", err)
	}
	order.Signature = sig
	return order, nil
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

	order, err := c.buildSignedOrder(req)
	if err != nil {
		return exchange.Order{}, err
	}

	payload := map[string]any{
		"order":     order,
		"owner":     c.creds.APIKey,
		"orderType": "GTC",
	}
	body, err := c.do(ctx, http.MethodPost, "/order", payload)
	if err != nil {
		return exchange.Order{}, err
	}

	var resp struct {
		OrderID  string `json:"orderID"`
		Status   string `json:"status"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.Order{}, apperr.New(apperr.Transport, "evmclob.PlaceOrder", err)
	}
	if resp.ErrorMsg != "" {
		return exchange.Order{}, apperr.New(apperr.Validation, "evmclob.PlaceOrder", fmt.Errorf("%s", resp.ErrorMsg))
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
	case "live":
		return exchange.OrderResting
	case "matched", "filled":
		return exchange.OrderFilled
	case "partially_matched":
		return exchange.OrderPartial
	case "cancelled", "canceled":
		return exchange.OrderCancelled
	case "rejected", "unmatched":
		return exchange.OrderRejected
	default:
		return exchange.OrderPending
	}
}

func (c *Client) GetOrder(ctx context.Context, id string) (exchange.Order, error) {
	if strings.HasPrefix(id, "DRY_") {
		return exchange.Order{ID: id, Status: exchange.OrderFilled}, nil
	}
	body, err := c.do(ctx, http.MethodGet, "/data/order/"+id, nil)
	if err != nil {
		return exchange.Order{}, err
	}
	var resp struct {
		ID           string          `json:"id"`
		Status       string          `json:"status"`
		Price        decimal.Decimal `json:"price"`
		OriginalSize decimal.Decimal `json:"original_size"`
		SizeMatched  decimal.Decimal `json:"size_matched"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.Order{}, apperr.New(apperr.Transport, "evmclob.GetOrder", err)
	}
	return exchange.Order{
		ID:           resp.ID,
		Status:       mapWireStatus(resp.Status),
		RequestPrice: resp.Price,
		RequestSize:  resp.OriginalSize,
		FilledSize:   resp.SizeMatched,
		AvgFillPrice: resp.Price,
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, id string) error {
	if c.dryRun || strings.HasPrefix(id, "DRY_") {
		return nil
	}
	_, err := c.do(ctx, http.MethodDelete, "/order", map[string]string{"orderID": id})
	return err
}

func (c *Client) WaitForFill(ctx context.Context, id string, timeout time.Duration) (exchange.Order, error) {
	if strings.HasPrefix(id, "DRY_") {
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
