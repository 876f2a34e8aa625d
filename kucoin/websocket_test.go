// Copyright (c) 2025 BVK Chaitanya

package kucoin

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWatchTicker(t *testing.T) {
	var upgrader websocket.Upgrader

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	mux.HandleFunc("/api/v1/bullet-public", func(w http.ResponseWriter, r *http.Request) {
		resp := fmt.Sprintf(`{"code":"200000","data":{"token":"test-token","instanceServers":[{"endpoint":"%s/ws","pingInterval":60000}]}}`, wsURL)
		io.WriteString(w, resp)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if v := r.URL.Query().Get("token"); v != "test-token" {
			t.Errorf("token query = %q, want test-token", v)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("could not upgrade: %v", err)
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(&websocketMessage{ID: "1", Type: "welcome"}); err != nil {
			return
		}
		sub := new(websocketMessage)
		if err := conn.ReadJSON(sub); err != nil {
			return
		}
		if sub.Type != "subscribe" || sub.Topic != "/market/ticker:ADB-ETH" {
			t.Errorf("unexpected subscribe frame %+v", sub)
		}
		conn.WriteJSON(&websocketMessage{ID: sub.ID, Type: "ack"})

		data := json.RawMessage(`{"price":"0.002","time":1756600000000}`)
		frame := map[string]any{
			"type":  "message",
			"topic": sub.Topic,
			"data":  data,
		}
		conn.WriteJSON(frame)

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c, err := New(testKey, testSecret, testPassphrase, &Options{RestURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	c.Watch("ADB/ETH")
	ch, unsubscribe := c.TickerCh("ADB/ETH")
	if ch == nil {
		t.Fatal("TickerCh returned no channel for a watched symbol")
	}
	defer unsubscribe()

	select {
	case ticker := <-ch:
		if ticker.Symbol != "ADB/ETH" || ticker.Last.String() != "0.002" {
			t.Fatalf("unexpected ticker %+v", ticker)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for a ticker over the websocket feed")
	}

	// The cached websocket price serves FetchTicker without a REST call.
	ticker, err := c.FetchTicker(t.Context(), "ADB/ETH")
	if err != nil {
		t.Fatal(err)
	}
	if ticker.Last.String() != "0.002" {
		t.Fatalf("cached ticker price = %s, want 0.002", ticker.Last)
	}
}
