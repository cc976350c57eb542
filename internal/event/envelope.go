package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType names the payload carried by a stream frame.
type MessageType string

const (
	TypeMarketData  MessageType = "MARKET_DATA"
	TypeTrade       MessageType = "TRADE"
	TypeOrderBook   MessageType = "ORDER_BOOK"
	TypeOrderUpdate MessageType = "ORDER_UPDATE"
)

var errMissingType = errors.New("frame has no type")

// Envelope is one inbound stream frame: {type, symbol, payload}.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Symbol  string          `json:"symbol"`
	Payload json.RawMessage `json:"payload"`
}

// Parse decodes raw into env, reusing env's payload buffer.
func Parse(raw []byte, env *Envelope) error {
	if err := json.Unmarshal(raw, env); err != nil {
		return err
	}
	if env.Type == "" {
		return errMissingType
	}
	return nil
}

// Decode unmarshals the envelope payload into T.
func Decode[T any](env *Envelope) (T, error) {
	var v T
	if len(env.Payload) == 0 {
		return v, fmt.Errorf("%s frame has empty payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return v, nil
}
