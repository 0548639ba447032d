package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Level - один уровень стакана.
// На проводе кодируется массивом [price, volume]; числа могут приходить строками.
type Level struct {
	Price  float64
	Volume float64
}

// OrderBook - снимок стакана. Уровни не упорядочены, сортирует потребитель.
type OrderBook struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// MarshalJSON кодирует уровень как [price, volume]
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{l.Price, l.Volume})
}

// UnmarshalJSON принимает [price, volume] или {"price":..,"volume":..}
func (l *Level) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty level")
	}

	if data[0] == '{' {
		var obj struct {
			Price    json.RawMessage `json:"price"`
			Volume   json.RawMessage `json:"volume"`
			Quantity json.RawMessage `json:"quantity"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		vol := obj.Volume
		if len(vol) == 0 {
			vol = obj.Quantity
		}
		return l.set(obj.Price, vol)
	}

	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) < 2 {
		return fmt.Errorf("level must have price and volume, got %d elements", len(pair))
	}
	return l.set(pair[0], pair[1])
}

func (l *Level) set(price, volume json.RawMessage) error {
	p, err := parseNumber(price)
	if err != nil {
		return fmt.Errorf("level price: %w", err)
	}
	v, err := parseNumber(volume)
	if err != nil {
		return fmt.Errorf("level volume: %w", err)
	}
	if v < 0 {
		return fmt.Errorf("level volume must be >= 0, got %v", v)
	}
	l.Price, l.Volume = p, v
	return nil
}

// parseNumber читает число из JSON-числа или JSON-строки
func parseNumber(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("missing value")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		return strconv.ParseFloat(s, 64)
	}
	return strconv.ParseFloat(string(raw), 64)
}
