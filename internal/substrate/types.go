package substrate

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/codec"
)

// Block is a decoded block.
type Block struct {
	Number     int64
	Hash       string
	Extrinsics []Extrinsic
}

// Extrinsic is one decoded extrinsic of a block.
type Extrinsic struct {
	Hash     string
	Module   string
	Function string
	Args     []Arg
}

// Arg is one named call argument.
type Arg struct {
	Name  string
	Type  string
	Value codec.Value
}

// Arg returns the call argument called name.
func (e *Extrinsic) Arg(name string) (Arg, bool) {
	for _, a := range e.Args {
		if a.Name == name {
			return a, true
		}
	}
	return Arg{}, false
}

// Event is one decoded runtime event.
type Event struct {
	ExtrinsicIdx *int // nil for initialization/finalization events
	Index        int  // position within the block
	Module       string
	Name         string
	Attributes   codec.Value // list or keyed object depending on runtime
}

// Is reports whether the event is module.name. An empty module matches any.
func (e *Event) Is(module, name string) bool {
	return e.Name == name && (module == "" || e.Module == module)
}

// QuoteMode selects which side of a quote is fixed.
type QuoteMode string

// Quote modes.
const (
	WithDesiredInput  QuoteMode = "WithDesiredInput"
	WithDesiredOutput QuoteMode = "WithDesiredOutput"
)

// Reserves are the two raw balances of an XYK pool keyed by (base, target).
type Reserves struct {
	Base   decimal.Decimal
	Target decimal.Decimal
}

// Wire shapes.

type wireHeader struct {
	Number codec.Value `json:"number"`
	Hash   string      `json:"hash"`
}

type wireBlock struct {
	Header     wireHeader      `json:"header"`
	Block      *wireBlock      `json:"block"`
	Extrinsics []wireExtrinsic `json:"extrinsics"`
}

type wireCall struct {
	Module   string    `json:"call_module"`
	Function string    `json:"call_function"`
	Args     []wireArg `json:"call_args"`
}

type wireExtrinsic struct {
	Hash     string    `json:"extrinsic_hash"`
	Call     *wireCall `json:"call"`
	Module   string    `json:"call_module"`
	Function string    `json:"call_function"`
	Params   []wireArg `json:"params"`
}

type wireArg struct {
	Name  string      `json:"name"`
	Type  string      `json:"type"`
	Value codec.Value `json:"value"`
}

type wireEvent struct {
	ExtrinsicIdx *int        `json:"extrinsic_idx"`
	ModuleID     string      `json:"module_id"`
	EventID      string      `json:"event_id"`
	Attributes   codec.Value `json:"attributes"`
	Params       codec.Value `json:"params"`
	Event        *struct {
		Attributes codec.Value `json:"attributes"`
	} `json:"event"`
}

// decodeBlock accepts both the flat and the {"block": {...}} envelopes, and
// both the call/call_args and the params extrinsic layouts.
func decodeBlock(data json.RawMessage) (*Block, error) {
	var wb wireBlock
	if err := json.Unmarshal(data, &wb); err != nil {
		return nil, fmt.Errorf("unmarshal block: %w", err)
	}
	if wb.Block != nil {
		wb = *wb.Block
	}

	number, err := headerNumber(wb.Header.Number)
	if err != nil {
		return nil, err
	}

	b := &Block{Number: number, Hash: wb.Header.Hash}
	for _, we := range wb.Extrinsics {
		ex := Extrinsic{Hash: we.Hash, Module: we.Module, Function: we.Function}
		args := we.Params
		if we.Call != nil {
			ex.Module = we.Call.Module
			ex.Function = we.Call.Function
			args = we.Call.Args
		}
		for _, a := range args {
			ex.Args = append(ex.Args, Arg{Name: a.Name, Type: a.Type, Value: a.Value})
		}
		b.Extrinsics = append(b.Extrinsics, ex)
	}
	return b, nil
}

func decodeEvents(data json.RawMessage) ([]Event, error) {
	var wes []wireEvent
	if err := json.Unmarshal(data, &wes); err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}
	events := make([]Event, 0, len(wes))
	for i, we := range wes {
		attrs := we.Attributes
		if attrs.IsNil() && we.Event != nil {
			attrs = we.Event.Attributes
		}
		if attrs.IsNil() {
			attrs = we.Params
		}
		events = append(events, Event{
			ExtrinsicIdx: we.ExtrinsicIdx,
			Index:        i,
			Module:       we.ModuleID,
			Name:         we.EventID,
			Attributes:   attrs,
		})
	}
	return events, nil
}

// headerNumber reads a block number given as an integer or a 0x hex string.
func headerNumber(v codec.Value) (int64, error) {
	if s, err := v.Str(); err == nil && len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		d, err := v.Decimal()
		if err != nil {
			return 0, fmt.Errorf("block number: %w", err)
		}
		return d.IntPart(), nil
	}
	n, err := v.Int()
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	return n, nil
}
