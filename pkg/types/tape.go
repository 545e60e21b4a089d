package types

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Tape record kinds. The tape is the append-only market-data log used
// for replay-driven backtests; payloads are structured per kind.
const (
	TapeKindTOB   = "tob"
	TapeKindTrade = "trade"
)

// TapeRecord is one row of the tape. Payload holds the serialized
// per-kind payload; use DecodeTOBPayload / DecodeTradePayload.
type TapeRecord struct {
	TS       float64
	MarketID string
	Kind     string
	Payload  []byte
}

// EncodeTOBPayload serializes a TopOfBook into a tape payload.
func EncodeTOBPayload(tob *TopOfBook) ([]byte, error) {
	b, err := json.Marshal(tob)
	if err != nil {
		return nil, fmt.Errorf("marshal tob payload: %w", err)
	}
	return b, nil
}

// DecodeTOBPayload deserializes a kind="tob" tape payload.
func DecodeTOBPayload(data []byte) (*TopOfBook, error) {
	var tob TopOfBook
	if err := json.Unmarshal(data, &tob); err != nil {
		return nil, fmt.Errorf("unmarshal tob payload: %w", err)
	}
	return &tob, nil
}

// EncodeTradePayload serializes a TradeTick into a tape payload.
func EncodeTradePayload(trade *TradeTick) ([]byte, error) {
	b, err := json.Marshal(trade)
	if err != nil {
		return nil, fmt.Errorf("marshal trade payload: %w", err)
	}
	return b, nil
}

// DecodeTradePayload deserializes a kind="trade" tape payload.
func DecodeTradePayload(data []byte) (*TradeTick, error) {
	var trade TradeTick
	if err := json.Unmarshal(data, &trade); err != nil {
		return nil, fmt.Errorf("unmarshal trade payload: %w", err)
	}
	return &trade, nil
}

// EncodeMeta serializes an order/fill meta map for persistence.
// A nil map encodes as an empty object.
func EncodeMeta(meta map[string]any) []byte {
	if meta == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// DecodeMeta deserializes a persisted meta blob. Invalid or empty
// input yields an empty map rather than an error.
func DecodeMeta(data []byte) map[string]any {
	meta := map[string]any{}
	if len(data) == 0 {
		return meta
	}
	_ = json.Unmarshal(data, &meta)
	return meta
}
