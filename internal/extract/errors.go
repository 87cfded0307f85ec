package extract

import (
	"encoding/json"
	"fmt"

	"sora-dex-indexer/internal/codec"
	"sora-dex-indexer/internal/substrate"
)

// ErrShape marks a payload whose layout the extractor does not recognize.
// The extrinsic is skipped and the anomaly logged.
var ErrShape = codec.ErrShape

// IntegrityError is a fatal routing violation: a swap between two non-base
// assets showed no intermediate leg. It means the decoder misreads the
// payload, so indexing must stop.
type IntegrityError struct {
	Block          int64
	ExtrinsicIndex int
	ExtrinsicHash  string
	Reason         string
	Raw            string // call and events as JSON
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation at block %d extrinsic %d (%s): %s; payload: %s",
		e.Block, e.ExtrinsicIndex, e.ExtrinsicHash, e.Reason, e.Raw)
}

func newIntegrityError(in *Input, reason string) *IntegrityError {
	return &IntegrityError{
		Block:          in.Block,
		ExtrinsicIndex: in.ExtrinsicIndex,
		ExtrinsicHash:  in.Call.Hash,
		Reason:         reason,
		Raw:            rawPayload(in.Call, in.Events),
	}
}

func rawPayload(call *substrate.Extrinsic, events []substrate.Event) string {
	b, err := json.Marshal(struct {
		Call   *substrate.Extrinsic
		Events []substrate.Event
	}{call, events})
	if err != nil {
		return fmt.Sprintf("<unencodable payload: %v>", err)
	}
	return string(b)
}
