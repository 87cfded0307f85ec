// Package codec gives uniform access to decoded chain values whose shape
// varies between runtime versions.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/domain"
)

// ErrShape is returned when a value does not have the layout a caller expects.
var ErrShape = errors.New("unexpected value shape")

// Value wraps one node of a decoded JSON document: map[string]any, []any,
// string, json.Number, bool or nil.
type Value struct {
	raw any
}

// Wrap wraps an already decoded node.
func Wrap(raw any) Value {
	return Value{raw: raw}
}

// Parse decodes JSON keeping numbers exact.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("decode value: %w", err)
	}
	return Value{raw: raw}, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.raw)
}

// String renders the value as JSON for diagnostics.
func (v Value) String() string {
	b, err := json.Marshal(v.raw)
	if err != nil {
		return fmt.Sprintf("%v", v.raw)
	}
	return string(b)
}

// Raw returns the underlying node.
func (v Value) Raw() any {
	return v.raw
}

// IsNil reports whether the value is absent or JSON null.
func (v Value) IsNil() bool {
	return v.raw == nil
}

// Unwrap strips {name, type, value} records down to their payload.
func (v Value) Unwrap() Value {
	for {
		m, ok := v.raw.(map[string]any)
		if !ok {
			return v
		}
		inner, hasValue := m["value"]
		_, hasName := m["name"]
		_, hasType := m["type"]
		if !hasValue || (!hasName && !hasType) {
			return v
		}
		v = Value{raw: inner}
	}
}

// Map returns the value as an object.
func (v Value) Map() (map[string]any, bool) {
	m, ok := v.Unwrap().raw.(map[string]any)
	return m, ok
}

// List returns the elements of a list value.
func (v Value) List() ([]Value, bool) {
	l, ok := v.Unwrap().raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]Value, len(l))
	for i, e := range l {
		out[i] = Value{raw: e}
	}
	return out, true
}

// Key returns the field key of an object value.
func (v Value) Key(key string) (Value, bool) {
	m, ok := v.Map()
	if !ok {
		return Value{}, false
	}
	e, ok := m[key]
	if !ok {
		return Value{}, false
	}
	return Value{raw: e}.Unwrap(), true
}

// Has reports whether an object value carries key.
func (v Value) Has(key string) bool {
	_, ok := v.Key(key)
	return ok
}

// Index returns element i of a list value.
func (v Value) Index(i int) (Value, bool) {
	l, ok := v.Unwrap().raw.([]any)
	if !ok || i < 0 || i >= len(l) {
		return Value{}, false
	}
	return Value{raw: l[i]}.Unwrap(), true
}

// Decimal reads an integer or decimal amount. Hex strings are accepted.
func (v Value) Decimal() (decimal.Decimal, error) {
	switch x := v.Unwrap().raw.(type) {
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: amount %q: %v", ErrShape, x, err)
		}
		return d, nil
	case string:
		s := strings.TrimSpace(x)
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			n, ok := new(big.Int).SetString(s[2:], 16)
			if !ok {
				return decimal.Zero, fmt.Errorf("%w: hex amount %q", ErrShape, x)
			}
			return decimal.NewFromBigInt(n, 0), nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: amount %q: %v", ErrShape, x, err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(x), 0), nil
	case decimal.Decimal:
		return x, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: expected amount, got %T", ErrShape, x)
	}
}

// Int reads an integer.
func (v Value) Int() (int64, error) {
	switch x := v.Unwrap().raw.(type) {
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: integer %q", ErrShape, x)
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: integer %q", ErrShape, x)
		}
		return n, nil
	case float64:
		return int64(x), nil
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	default:
		return 0, fmt.Errorf("%w: expected integer, got %T", ErrShape, x)
	}
}

// Str reads a string. Numbers are rendered in decimal.
func (v Value) Str() (string, error) {
	switch x := v.Unwrap().raw.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	default:
		return "", fmt.Errorf("%w: expected string, got %T", ErrShape, x)
	}
}

// AssetID reads an asset identifier given either as {"code": "0x.."} or as a
// bare hex string.
func (v Value) AssetID() (domain.AssetID, error) {
	u := v.Unwrap()
	if code, ok := u.Key("code"); ok {
		u = code
	}
	s, err := u.Str()
	if err != nil {
		return "", err
	}
	id, err := domain.ParseAssetID(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrShape, err)
	}
	return id, nil
}
