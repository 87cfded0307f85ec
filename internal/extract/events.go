package extract

import (
	"fmt"

	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/codec"
	"sora-dex-indexer/internal/substrate"
)

// Event names shared by several extractors.
const (
	EventExtrinsicSuccess = "ExtrinsicSuccess"
	EventExtrinsicFailed  = "ExtrinsicFailed"
	EventFeeWithdrawn     = "FeeWithdrawn"
	EventSwapSuccess      = "SwapSuccess"
	EventExchange         = "Exchange"
	EventTransferred      = "Transferred"
	EventDeposited        = "Deposited"
	EventBonded           = "Bonded"
)

// EventGroups holds a block's events grouped by originating extrinsic.
type EventGroups struct {
	byExtrinsic [][]substrate.Event
	system      []substrate.Event
}

// GroupEvents groups events by extrinsic index, preserving order within each
// group. Events outside any extrinsic go to System. Indices at or beyond
// extrinsicCount are still kept.
func GroupEvents(events []substrate.Event, extrinsicCount int) EventGroups {
	g := EventGroups{byExtrinsic: make([][]substrate.Event, extrinsicCount)}
	for _, ev := range events {
		if ev.ExtrinsicIdx == nil || *ev.ExtrinsicIdx < 0 {
			g.system = append(g.system, ev)
			continue
		}
		idx := *ev.ExtrinsicIdx
		for idx >= len(g.byExtrinsic) {
			g.byExtrinsic = append(g.byExtrinsic, nil)
		}
		g.byExtrinsic[idx] = append(g.byExtrinsic[idx], ev)
	}
	return g
}

// For returns the events of extrinsic i. Never nil.
func (g EventGroups) For(i int) []substrate.Event {
	if i < 0 || i >= len(g.byExtrinsic) || g.byExtrinsic[i] == nil {
		return []substrate.Event{}
	}
	return g.byExtrinsic[i]
}

// System returns initialization and finalization events.
func (g EventGroups) System() []substrate.Event {
	return g.system
}

// Status is the outcome of an extrinsic as shown by its events.
type Status int

const (
	// StatusPending means no success marker was seen.
	StatusPending Status = iota
	StatusSucceeded
	StatusFailed
)

// Outcome scans events in order. ExtrinsicSuccess or any of markers moves the
// extrinsic to succeeded, a later ExtrinsicFailed moves it to failed.
func Outcome(events []substrate.Event, markers ...string) Status {
	status := StatusPending
	for i := range events {
		name := events[i].Name
		if name == EventExtrinsicFailed {
			status = StatusFailed
			continue
		}
		if status != StatusFailed && (name == EventExtrinsicSuccess || contains(markers, name)) {
			status = StatusSucceeded
		}
	}
	return status
}

// MaxFee returns the largest FeeWithdrawn amount among events, zero if none.
// Repeated fee events within one extrinsic are re-estimations, not separate
// charges.
func MaxFee(d codec.Decoder, events []substrate.Event) (decimal.Decimal, error) {
	fee := decimal.Zero
	for i := range events {
		if events[i].Name != EventFeeWithdrawn {
			continue
		}
		amount, err := d.Decimal(events[i].Attributes, "fee_amount", 1)
		if err != nil {
			return decimal.Zero, fmt.Errorf("FeeWithdrawn: %w", err)
		}
		if amount.GreaterThan(fee) {
			fee = amount
		}
	}
	return fee, nil
}

// eventAt returns the event at offset within a group when it is named name.
func eventAt(events []substrate.Event, offset int, name string) (*substrate.Event, bool) {
	if offset < 0 || offset >= len(events) || events[offset].Name != name {
		return nil, false
	}
	return &events[offset], true
}

// firstEvent returns the first event named name.
func firstEvent(events []substrate.Event, name string) (*substrate.Event, bool) {
	for i := range events {
		if events[i].Name == name {
			return &events[i], true
		}
	}
	return nil, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
