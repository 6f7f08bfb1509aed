package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"finerp/crypto"
)

// Address is a 20 byte address in method arguments and results. It accepts
// bech32 (fin1...) or 0x hex and renders as bech32.
type Address [20]byte

func (a *Address) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("address must be a string: %w", err)
	}
	raw, err := crypto.ParseAddress(text)
	if err != nil {
		return err
	}
	*a = raw
	return nil
}

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(crypto.FormatAddress(a))
}

func (a Address) String() string { return crypto.FormatAddress(a) }

// Amount is an unsigned base-unit quantity. It accepts a decimal string, a
// 0x hex string or a JSON integer and always renders as a decimal string.
type Amount struct {
	v *big.Int
}

func NewAmount(v *big.Int) Amount {
	if v == nil {
		return Amount{v: new(big.Int)}
	}
	return Amount{v: new(big.Int).Set(v)}
}

// Big returns the amount, treating a missing value as zero.
func (a Amount) Big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.v)
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		a.v = nil
		return nil
	}
	text := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
	}
	text = strings.TrimSpace(text)
	value, ok := new(big.Int), false
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		value, ok = value.SetString(text[2:], 16)
	} else {
		value, ok = value.SetString(text, 10)
	}
	if !ok {
		return fmt.Errorf("invalid amount %q", text)
	}
	if value.Sign() < 0 {
		return fmt.Errorf("amount must not be negative")
	}
	a.v = value
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Big().String())
}

// decodeArgs unmarshals method arguments, rejecting unknown fields. Empty
// arguments decode to the zero value.
func decodeArgs(raw json.RawMessage, out interface{}) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return nil
}
