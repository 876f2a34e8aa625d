// Copyright (c) 2025 BVK Chaitanya

package kucoin

import (
	"github.com/shopspring/decimal"
)

// genericResponse is the envelope of every KuCoin REST response. A code of
// "200000" means success; anything else carries an error message.
type genericResponse struct {
	Code    string `json:"code"`
	Message string `json:"msg"`
}

type symbolData struct {
	Symbol        string `json:"symbol"`
	BaseCurrency  string `json:"baseCurrency"`
	QuoteCurrency string `json:"quoteCurrency"`
	EnableTrading bool   `json:"enableTrading"`
}

type getSymbolsResponse struct {
	genericResponse
	Data []*symbolData `json:"data"`
}

type tickerData struct {
	Price decimal.Decimal `json:"price"`
	Time  int64           `json:"time"`
}

type getTickerResponse struct {
	genericResponse
	Data *tickerData `json:"data"`
}

type accountData struct {
	Currency  string          `json:"currency"`
	Type      string          `json:"type"`
	Balance   decimal.Decimal `json:"balance"`
	Available decimal.Decimal `json:"available"`
	Holds     decimal.Decimal `json:"holds"`
}

type getAccountsResponse struct {
	genericResponse
	Data []*accountData `json:"data"`
}

type createOrderRequest struct {
	ClientOID string `json:"clientOid"`
	Side      string `json:"side"`
	Symbol    string `json:"symbol"`
	Type      string `json:"type"`
	Price     string `json:"price,omitempty"`
	Size      string `json:"size"`
}

type createOrderResponse struct {
	genericResponse
	Data struct {
		OrderID string `json:"orderId"`
	} `json:"data"`
}

type cancelOrderResponse struct {
	genericResponse
	Data struct {
		CancelledOrderIDs []string `json:"cancelledOrderIds"`
	} `json:"data"`
}

type orderData struct {
	ID       string          `json:"id"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Type     string          `json:"type"`
	Price    decimal.Decimal `json:"price"`
	Size     decimal.Decimal `json:"size"`
	IsActive bool            `json:"isActive"`
}

type getOrdersResponse struct {
	genericResponse
	Data struct {
		Items []*orderData `json:"items"`
	} `json:"data"`
}

// bulletResponse carries the websocket endpoint and token handed out by
// the bullet-public call.
type bulletResponse struct {
	genericResponse
	Data struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint     string `json:"endpoint"`
			PingInterval int64  `json:"pingInterval"`
		} `json:"instanceServers"`
	} `json:"data"`
}

// websocketMessage is both the subscribe request and the incoming message
// frame on the websocket feed.
type websocketMessage struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Topic    string `json:"topic,omitempty"`
	Response bool   `json:"response,omitempty"`

	Data *tickerData `json:"data,omitempty"`
}
