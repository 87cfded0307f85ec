package extract

import (
	"fmt"
	"time"

	"sora-dex-indexer/internal/substrate"
)

// timestampLayouts are tried in order for string block times. Fractional
// seconds are accepted by both. Times without a zone are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

// DecodeTimestamp reads the block time in Unix milliseconds from the first
// argument of the block's first extrinsic (the timestamp inherent). The value
// is either integer milliseconds or an ISO-8601 string.
func DecodeTimestamp(block *substrate.Block) (int64, error) {
	if len(block.Extrinsics) == 0 || len(block.Extrinsics[0].Args) == 0 {
		return 0, fmt.Errorf("%w: no timestamp inherent", ErrShape)
	}
	v := block.Extrinsics[0].Args[0].Value

	if ms, err := v.Int(); err == nil {
		return ms, nil
	}
	s, err := v.Str()
	if err != nil {
		return 0, fmt.Errorf("timestamp: %w", err)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("%w: timestamp %q", ErrShape, s)
}
