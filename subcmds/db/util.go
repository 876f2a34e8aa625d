// Copyright (c) 2025 BVK Chaitanya

package db

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"

	"github.com/bvk/rangebot/gobs"
)

func typeNameValue(typename string) (any, error) {
	var v any
	switch typename {
	case "SessionState":
		v = new(gobs.SessionState)
	case "AccountState":
		v = new(gobs.AccountState)
	case "MarketState":
		v = new(gobs.MarketState)
	case "StrategyState":
		v = new(gobs.StrategyState)
	case "OrderState":
		v = new(gobs.OrderState)
	case "KeyValue":
		v = new(gobs.KeyValue)
	default:
		return nil, fmt.Errorf("unsupported type name %q", typename)
	}
	return v, nil
}

// decodeValue gob-decodes a database value and renders it as json.
func decodeValue(typename string, r io.Reader) ([]byte, error) {
	value, err := typeNameValue(typename)
	if err != nil {
		return nil, err
	}
	if err := gob.NewDecoder(r).Decode(value); err != nil {
		return nil, fmt.Errorf("could not gob-decode value: %w", err)
	}
	return json.Marshal(value)
}
