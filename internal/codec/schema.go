package codec

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/domain"
)

// Schema selects how keyed fields of calls and events are laid out on the wire.
type Schema int

const (
	// SchemaLegacy accepts both layouts: keyed lookup on objects, positional
	// lookup on lists. Used when the runtime version cannot decide.
	SchemaLegacy Schema = iota
	// SchemaKeyed requires objects keyed by field name.
	SchemaKeyed
	// SchemaPositional requires positional lists.
	SchemaPositional
)

// String returns the configuration name of the schema.
func (s Schema) String() string {
	switch s {
	case SchemaKeyed:
		return "keyed"
	case SchemaPositional:
		return "positional"
	default:
		return "legacy"
	}
}

// ParseSchema parses a configuration name. "auto" is not a schema and is
// resolved by SelectSchema.
func ParseSchema(name string) (Schema, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "legacy":
		return SchemaLegacy, nil
	case "keyed":
		return SchemaKeyed, nil
	case "positional":
		return SchemaPositional, nil
	default:
		return SchemaLegacy, fmt.Errorf("unknown schema %q", name)
	}
}

// SelectSchema picks the schema for a runtime spec version. keyedSince is the
// first spec version that emits keyed attributes; zero means unknown.
func SelectSchema(specVersion, keyedSince uint32) Schema {
	if keyedSince == 0 {
		return SchemaLegacy
	}
	if specVersion >= keyedSince {
		return SchemaKeyed
	}
	return SchemaPositional
}

// Decoder reads fields according to one schema. It is chosen once per sync
// session.
type Decoder struct {
	schema Schema
}

// NewDecoder creates a decoder for schema.
func NewDecoder(schema Schema) Decoder {
	return Decoder{schema: schema}
}

// Schema returns the decoder's schema.
func (d Decoder) Schema() Schema {
	return d.schema
}

// Field returns the field of v named key, or at position idx for positional
// layouts. It never panics; a mismatch yields ErrShape.
func (d Decoder) Field(v Value, key string, idx int) (Value, error) {
	u := v.Unwrap()
	_, isMap := u.raw.(map[string]any)
	_, isList := u.raw.([]any)

	switch d.schema {
	case SchemaKeyed:
		if !isMap {
			return Value{}, fmt.Errorf("%w: keyed field %q on %T", ErrShape, key, u.raw)
		}
	case SchemaPositional:
		if !isList {
			return Value{}, fmt.Errorf("%w: positional field %d on %T", ErrShape, idx, u.raw)
		}
	}

	if isMap {
		if f, ok := u.Key(key); ok {
			return f, nil
		}
		return Value{}, fmt.Errorf("%w: missing field %q", ErrShape, key)
	}
	if isList {
		if f, ok := u.Index(idx); ok {
			return f, nil
		}
		return Value{}, fmt.Errorf("%w: missing position %d", ErrShape, idx)
	}
	return Value{}, fmt.Errorf("%w: field %q/%d on scalar %T", ErrShape, key, idx, u.raw)
}

// Decimal is Field followed by Value.Decimal.
func (d Decoder) Decimal(v Value, key string, idx int) (decimal.Decimal, error) {
	f, err := d.Field(v, key, idx)
	if err != nil {
		return decimal.Zero, err
	}
	return f.Decimal()
}

// AssetID is Field followed by Value.AssetID.
func (d Decoder) AssetID(v Value, key string, idx int) (domain.AssetID, error) {
	f, err := d.Field(v, key, idx)
	if err != nil {
		return "", err
	}
	return f.AssetID()
}
