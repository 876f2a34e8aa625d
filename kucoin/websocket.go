// Copyright (c) 2025 BVK Chaitanya

package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/bvk/rangebot/ctxutil"
	"github.com/bvk/rangebot/exchange"
	"github.com/bvkgo/topic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Watch starts a background ticker feed for the symbol. Incoming prices
// are cached for FetchTicker and fanned out to TickerCh subscribers. The
// feed runs until the client is closed.
func (c *Client) Watch(symbol string) {
	t := topic.New[*exchange.Ticker]()
	if _, loaded := c.tickerTopicMap.LoadOrStore(symbol, t); loaded {
		t.Close()
		return
	}
	c.wg.Add(1)
	go c.goWatchTicker(c.lifeCtx, symbol, t)
}

// TickerCh subscribes to the symbol's ticker feed. Watch must have been
// called for the symbol. The returned function cancels the subscription.
func (c *Client) TickerCh(symbol string) (<-chan *exchange.Ticker, func()) {
	t, ok := c.tickerTopicMap.Load(symbol)
	if !ok {
		return nil, nil
	}
	sub, ch, _ := t.Subscribe(1, true /* includeRecent */)
	return ch, sub.Unsubscribe
}

func (c *Client) goWatchTicker(ctx context.Context, symbol string, t *topic.Topic[*exchange.Ticker]) {
	defer c.wg.Done()
	defer t.Close()

	for i := 0; ctx.Err() == nil; i = min(i+1, 5) {
		if err := c.watchTicker(ctx, symbol, t); err != nil {
			if ctx.Err() == nil {
				slog.Warn("ticker feed has failed (will reconnect)", "symbol", symbol, "err", err)
			}
			ctxutil.Sleep(ctx, time.Second<<i)
		}
	}
}

// watchTicker opens one websocket connection, subscribes to the symbol's
// ticker topic and pumps prices until the connection breaks.
func (c *Client) watchTicker(ctx context.Context, symbol string, t *topic.Topic[*exchange.Ticker]) (status error) {
	endpoint, token, pingInterval, err := c.websocketEndpoint(ctx)
	if err != nil {
		return fmt.Errorf("could not fetch websocket endpoint: %w", err)
	}

	addr, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid websocket endpoint %q: %w", endpoint, err)
	}
	values := make(url.Values)
	values.Set("token", token)
	values.Set("connectId", uuid.New().String())
	addr.RawQuery = values.Encode()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(status)

	dialer := websocket.Dialer{
		EnableCompression: true,
	}
	conn, _, err := dialer.DialContext(ctx, addr.String(), nil)
	if err != nil {
		return fmt.Errorf("could not dial websocket feed: %w", err)
	}
	defer conn.Close()

	// The server sends a welcome frame before accepting subscriptions.
	welcome, err := c.readMessage(ctx, conn)
	if err != nil {
		return err
	}
	if welcome.Type != "welcome" {
		return fmt.Errorf("unexpected first websocket frame of type %q", welcome.Type)
	}

	sub := &websocketMessage{
		ID:       uuid.New().String(),
		Type:     "subscribe",
		Topic:    "/market/ticker:" + kucoinSymbol(symbol),
		Response: true,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("could not send websocket subscribe: %w", err)
	}

	// Ping periodically to keep the connection alive.
	go func() {
		for ctx.Err() == nil {
			ctxutil.Sleep(ctx, pingInterval)
			if ctx.Err() != nil {
				return
			}
			ping := &websocketMessage{ID: uuid.New().String(), Type: "ping"}
			if err := conn.WriteJSON(ping); err != nil {
				cancel(fmt.Errorf("could not send websocket ping: %w", err))
				return
			}
		}
	}()

	for ctx.Err() == nil {
		msg, err := c.readMessage(ctx, conn)
		if err != nil {
			return err
		}
		switch msg.Type {
		case "message":
			if msg.Data == nil {
				continue
			}
			ticker := &exchange.Ticker{Symbol: symbol, Last: msg.Data.Price}
			c.lastTickerMap.Store(symbol, &cachedTicker{ticker: ticker, at: time.Now()})
			t.SendCh() <- ticker
		case "ack", "pong", "welcome":
			// Keep-alive traffic.
		case "error":
			slog.Error("ticker feed rejected a request", "symbol", symbol, "msg", msg)
		default:
			slog.Warn("ignoring unknown websocket frame", "type", msg.Type)
		}
	}
	return context.Cause(ctx)
}

func (c *Client) readMessage(ctx context.Context, conn *websocket.Conn) (*websocketMessage, error) {
	stopc := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
		close(stopc)
	})

	_, data, err := conn.ReadMessage()
	if !stop() {
		<-stopc
		conn.SetReadDeadline(time.Time{})
		return nil, context.Cause(ctx)
	}
	if err != nil {
		return nil, err
	}

	msg := new(websocketMessage)
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("could not unmarshal websocket message: %w", err)
	}
	return msg, nil
}

// websocketEndpoint asks the REST API for a public websocket endpoint and
// a connection token.
func (c *Client) websocketEndpoint(ctx context.Context) (endpoint, token string, pingInterval time.Duration, err error) {
	resp := new(bulletResponse)
	if err := c.postJSON(ctx, "/api/v1/bullet-public", struct{}{}, resp); err != nil {
		return "", "", 0, err
	}
	if len(resp.Data.InstanceServers) == 0 {
		return "", "", 0, fmt.Errorf("bullet-public response has no instance servers: %w", exchange.ErrUnavailable)
	}
	server := resp.Data.InstanceServers[0]
	pingInterval = time.Duration(server.PingInterval) * time.Millisecond
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return server.Endpoint, resp.Data.Token, pingInterval, nil
}
