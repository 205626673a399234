// Package stream provides the streaming transport and fan-out hub.
package stream

import (
	"encoding/json"
	"time"

	"optionsim/internal/errors"
	"optionsim/internal/models"
)

// Outbound message types.
const (
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypePriceUpdate = "price_update"
)

// ControlMessage is sent to the feed to manage symbol subscriptions.
type ControlMessage struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol"`
	Timestamp int64  `json:"timestamp"`
}

// NewSubscribeMessage builds a subscribe control message.
func NewSubscribeMessage(symbol string) ControlMessage {
	return ControlMessage{
		Type:      MessageTypeSubscribe,
		Symbol:    symbol,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewUnsubscribeMessage builds an unsubscribe control message.
func NewUnsubscribeMessage(symbol string) ControlMessage {
	return ControlMessage{
		Type:      MessageTypeUnsubscribe,
		Symbol:    symbol,
		Timestamp: time.Now().UnixMilli(),
	}
}

// feedMessage covers both wire shapes the feed may emit: the typed
// price_update form and the legacy {symbol, price} form.
type feedMessage struct {
	Type          string  `json:"type"`
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Timestamp     int64   `json:"timestamp"`
	Volume        int64   `json:"volume"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
}

// ParsePriceUpdate parses a raw feed payload into a PriceUpdate. Both the
// typed and the legacy shapes are accepted; anything else is a ParseError.
func ParsePriceUpdate(payload []byte) (models.PriceUpdate, error) {
	var msg feedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return models.PriceUpdate{}, &errors.ParseError{Payload: string(payload), Err: err}
	}

	// Legacy messages carry no type field.
	if msg.Type != "" && msg.Type != MessageTypePriceUpdate {
		return models.PriceUpdate{}, &errors.ParseError{Payload: string(payload), Err: errors.ErrParseFailure}
	}
	if msg.Symbol == "" || msg.Price <= 0 {
		return models.PriceUpdate{}, &errors.ParseError{Payload: string(payload), Err: errors.ErrParseFailure}
	}

	ts := time.Now()
	if msg.Timestamp > 0 {
		ts = time.UnixMilli(msg.Timestamp)
	}

	return models.PriceUpdate{
		Symbol:        msg.Symbol,
		Price:         msg.Price,
		Timestamp:     ts,
		Volume:        msg.Volume,
		Change:        msg.Change,
		ChangePercent: msg.ChangePercent,
	}, nil
}
