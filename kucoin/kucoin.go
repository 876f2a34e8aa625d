// Copyright (c) 2025 BVK Chaitanya

// Package kucoin implements the exchange client for the KuCoin spot API.
package kucoin

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bvk/rangebot/exchange"
	"github.com/bvk/rangebot/idgen"
	"github.com/bvk/rangebot/syncmap"
	"github.com/bvkgo/topic"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Options adjust the client's endpoints and limits. The zero value picks
// the production defaults.
type Options struct {
	// RestURL is the base REST endpoint.
	RestURL string

	// HttpClientTimeout bounds every REST call.
	HttpClientTimeout time.Duration

	// RateLimit is the sustained requests-per-second budget.
	RateLimit float64

	// TickerStaleness is how long a websocket ticker is served from the
	// cache before FetchTicker falls back to REST.
	TickerStaleness time.Duration
}

func (v *Options) setDefaults() {
	if len(v.RestURL) == 0 {
		v.RestURL = "https://api.kucoin.com"
	}
	if v.HttpClientTimeout == 0 {
		v.HttpClientTimeout = 15 * time.Second
	}
	if v.RateLimit == 0 {
		v.RateLimit = 10
	}
	if v.TickerStaleness == 0 {
		v.TickerStaleness = 5 * time.Second
	}
}

type cachedTicker struct {
	ticker *exchange.Ticker
	at     time.Time
}

// Client implements the exchange client interface against KuCoin. REST
// calls are signed per API key version 2 and paced by a shared rate
// limiter. Last-trade prices arrive over a websocket feed when a symbol is
// watched, with REST as the fallback.
type Client struct {
	lifeCtx    context.Context
	lifeCancel context.CancelCauseFunc

	wg sync.WaitGroup

	opts Options

	client http.Client

	key, secret, passphrase string

	limiter *rate.Limiter

	restURL *url.URL

	idgenMu sync.Mutex
	idgen   *idgen.Generator

	tickerTopicMap syncmap.Map[string, *topic.Topic[*exchange.Ticker]]
	lastTickerMap  syncmap.Map[string, *cachedTicker]
}

// New creates a KuCoin client. The credentials are not verified until the
// first private call.
func New(key, secret, passphrase string, opts *Options) (*Client, error) {
	if len(key) == 0 || len(secret) == 0 || len(passphrase) == 0 {
		return nil, fmt.Errorf("kucoin needs key, secret and passphrase: %w", os.ErrInvalid)
	}
	if opts == nil {
		opts = new(Options)
	}
	opts.setDefaults()

	restURL, err := url.Parse(opts.RestURL)
	if err != nil {
		return nil, fmt.Errorf("invalid rest url %q: %w", opts.RestURL, err)
	}

	lifeCtx, lifeCancel := context.WithCancelCause(context.Background())
	c := &Client{
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
		opts:       *opts,
		key:        key,
		secret:     secret,
		passphrase: passphrase,
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), int(opts.RateLimit)*2),
		restURL:    restURL,
		idgen:      idgen.New("kucoin:"+key+":"+uuid.New().String(), 0),
		client: http.Client{
			Timeout: opts.HttpClientTimeout,
		},
	}
	return c, nil
}

// Close releases resources and stops the websocket feeds.
func (c *Client) Close() error {
	c.lifeCancel(os.ErrClosed)
	c.wg.Wait()
	return nil
}

func (c *Client) Name() string {
	return "kucoin"
}

// kucoinSymbol converts "ADB/ETH" to KuCoin's "ADB-ETH".
func kucoinSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "-")
}

func (c *Client) LoadMarkets(ctx context.Context) (map[string]exchange.MarketInfo, error) {
	resp := new(getSymbolsResponse)
	if err := c.getJSON(ctx, "/api/v2/symbols", nil, resp); err != nil {
		return nil, err
	}
	ms := make(map[string]exchange.MarketInfo, len(resp.Data))
	for _, s := range resp.Data {
		if !s.EnableTrading {
			continue
		}
		symbol := s.BaseCurrency + "/" + s.QuoteCurrency
		ms[symbol] = exchange.MarketInfo{
			Symbol: symbol,
			Base:   s.BaseCurrency,
			Quote:  s.QuoteCurrency,
		}
	}
	return ms, nil
}

func (c *Client) FetchTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	if v, ok := c.lastTickerMap.Load(symbol); ok {
		if time.Since(v.at) < c.opts.TickerStaleness {
			return v.ticker, nil
		}
	}

	values := make(url.Values)
	values.Set("symbol", kucoinSymbol(symbol))
	resp := new(getTickerResponse)
	if err := c.getJSON(ctx, "/api/v1/market/orderbook/level1", values, resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("no ticker data for symbol %q: %w", symbol, exchange.ErrUnavailable)
	}
	return &exchange.Ticker{Symbol: symbol, Last: resp.Data.Price}, nil
}

func (c *Client) FetchBalance(ctx context.Context) (exchange.Balances, error) {
	values := make(url.Values)
	values.Set("type", "trade")
	resp := new(getAccountsResponse)
	if err := c.getJSON(ctx, "/api/v1/accounts", values, resp); err != nil {
		return nil, err
	}
	bs := make(exchange.Balances, len(resp.Data))
	for _, a := range resp.Data {
		bs[a.Currency] = exchange.Balance{
			Currency: a.Currency,
			Free:     a.Available,
			Used:     a.Holds,
		}
	}
	return bs, nil
}

func (c *Client) CreateOrder(ctx context.Context, symbol, otype, side string, amount, price decimal.Decimal) (*exchange.OrderResult, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("order amount %s cannot be zero or negative: %w", amount, exchange.ErrInvalidOrder)
	}
	c.idgenMu.Lock()
	clientOID := c.idgen.NextID().String()
	c.idgenMu.Unlock()
	req := &createOrderRequest{
		ClientOID: clientOID,
		Side:      side,
		Symbol:    kucoinSymbol(symbol),
		Type:      otype,
		Size:      amount.String(),
	}
	if otype == "limit" {
		req.Price = price.String()
	}
	resp := new(createOrderResponse)
	if err := c.postJSON(ctx, "/api/v1/orders", req, resp); err != nil {
		return nil, err
	}
	return &exchange.OrderResult{
		ID:     resp.Data.OrderID,
		Amount: amount,
		Status: "open",
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, id, symbol string) (*exchange.CancelResult, error) {
	resp := new(cancelOrderResponse)
	if err := c.deleteJSON(ctx, "/api/v1/orders/"+id, resp); err != nil {
		return nil, err
	}
	for _, cid := range resp.Data.CancelledOrderIDs {
		if cid == id {
			return &exchange.CancelResult{Success: true}, nil
		}
	}
	return &exchange.CancelResult{Success: false}, nil
}

func (c *Client) FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.OpenOrder, error) {
	values := make(url.Values)
	values.Set("status", "active")
	values.Set("symbol", kucoinSymbol(symbol))
	resp := new(getOrdersResponse)
	if err := c.getJSON(ctx, "/api/v1/orders", values, resp); err != nil {
		return nil, err
	}
	var orders []exchange.OpenOrder
	for _, o := range resp.Data.Items {
		orders = append(orders, exchange.OpenOrder{ID: o.ID, Side: o.Side})
	}
	return orders, nil
}

// sign produces the version 2 API signature headers for a request.
func (c *Client) sign(req *http.Request, endpoint, body string) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	mac := hmac.New(sha256.New, []byte(c.secret))
	io.WriteString(mac, timestamp+req.Method+endpoint+body)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	pmac := hmac.New(sha256.New, []byte(c.secret))
	io.WriteString(pmac, c.passphrase)
	passphrase := base64.StdEncoding.EncodeToString(pmac.Sum(nil))

	req.Header.Set("KC-API-KEY", c.key)
	req.Header.Set("KC-API-SIGN", signature)
	req.Header.Set("KC-API-TIMESTAMP", timestamp)
	req.Header.Set("KC-API-PASSPHRASE", passphrase)
	req.Header.Set("KC-API-KEY-VERSION", "2")
}

func (c *Client) do(ctx context.Context, method, apiPath string, values url.Values, body string, response any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return context.Cause(ctx)
	}

	endpoint := apiPath
	if len(values) != 0 {
		endpoint += "?" + values.Encode()
	}
	addr := c.restURL.JoinPath(apiPath)
	addr.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, method, addr.String(), strings.NewReader(body))
	if err != nil {
		return err
	}
	if len(body) != 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	c.sign(req, endpoint, body)

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		slog.Warn("kucoin request was unsuccessful", "method", method, "endpoint", apiPath, "status", resp.StatusCode, "body", string(data))
		return classifyStatus(resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransportError(err)
	}
	var generic genericResponse
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("could not decode kucoin response: %w", err)
	}
	if generic.Code != "200000" {
		return classifyCode(generic.Code, generic.Message)
	}
	if err := json.Unmarshal(data, response); err != nil {
		return fmt.Errorf("could not decode kucoin response: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, apiPath string, values url.Values, response any) error {
	return c.do(ctx, http.MethodGet, apiPath, values, "", response)
}

func (c *Client) postJSON(ctx context.Context, apiPath string, request, response any) error {
	var sb strings.Builder
	if err := json.NewEncoder(&sb).Encode(request); err != nil {
		return err
	}
	body := strings.TrimSuffix(sb.String(), "\n")
	return c.do(ctx, http.MethodPost, apiPath, nil, body, response)
}

func (c *Client) deleteJSON(ctx context.Context, apiPath string, response any) error {
	return c.do(ctx, http.MethodDelete, apiPath, nil, "", response)
}

// classifyStatus maps unsuccessful http statuses onto the error kinds the
// rest of the bot retries or reports on.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("kucoin rate limited the request: %w", exchange.ErrUnavailable)
	case status >= 500:
		return fmt.Errorf("kucoin returned status %d: %w", status, exchange.ErrUnavailable)
	case status == http.StatusNotFound:
		return fmt.Errorf("kucoin returned status %d: %w", status, exchange.ErrOrderNotFound)
	default:
		return fmt.Errorf("kucoin returned status %d", status)
	}
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return fmt.Errorf("kucoin request timed out: %w", exchange.ErrTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("kucoin request failed: %w: %w", err, exchange.ErrUnavailable)
}

// classifyCode maps KuCoin business error codes. Code 400100 covers
// parameter and balance errors on order placement; cancels of unknown
// orders report a distinct message.
func classifyCode(code, message string) error {
	if strings.Contains(message, "order_not_exist") {
		return fmt.Errorf("kucoin error %s: %s: %w", code, message, exchange.ErrOrderNotFound)
	}
	switch code {
	case "400100", "200004":
		return fmt.Errorf("kucoin error %s: %s: %w", code, message, exchange.ErrInvalidOrder)
	case "404000":
		return fmt.Errorf("kucoin error %s: %s: %w", code, message, exchange.ErrOrderNotFound)
	case "500000":
		return fmt.Errorf("kucoin error %s: %s: %w", code, message, exchange.ErrUnavailable)
	default:
		return fmt.Errorf("kucoin error %s: %s", code, message)
	}
}

var _ exchange.Client = &Client{}
