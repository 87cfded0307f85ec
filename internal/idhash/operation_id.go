package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// OperationID derives the deterministic id of an extrinsic's operation.
// The extrinsic hash is normalized to lowercase 0x-prefixed hex with leading
// zero digits stripped, so the same hash always yields the same id.
// Extrinsics without a hash (unsigned inherents) fall back to
// SHA256(block|extrinsic_index|kind).
func OperationID(extrinsicHash string, block int64, extrinsicIndex int, kind string) string {
	h := strings.ToLower(strings.TrimSpace(extrinsicHash))
	h = strings.TrimPrefix(h, "0x")
	if h != "" && isHex(h) {
		h = strings.TrimLeft(h, "0")
		if h == "" {
			h = "0"
		}
		return "0x" + h
	}
	return ComputeEventID(block, extrinsicIndex, kind)
}

// ComputeEventID computes a deterministic id for block-level records.
// Formula: SHA256(block|index|kind)
// Returns hex-encoded hash (64 characters).
func ComputeEventID(block int64, index int, kind string) string {
	data := fmt.Sprintf("%d|%d|%s", block, index, kind)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
