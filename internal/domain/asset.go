package domain

import (
	"fmt"
	"strings"
)

// AssetID is a chain-native asset identifier in canonical form:
// lowercase, 0x-prefixed, 64 hex digits.
type AssetID string

// Well-known SORA assets.
const (
	XOR    AssetID = "0x0200000000000000000000000000000000000000000000000000000000000000"
	VAL    AssetID = "0x0200040000000000000000000000000000000000000000000000000000000000"
	PSWAP  AssetID = "0x0200050000000000000000000000000000000000000000000000000000000000"
	ETH    AssetID = "0x0200070000000000000000000000000000000000000000000000000000000000"
	XSTUSD AssetID = "0x0200080000000000000000000000000000000000000000000000000000000000"
	XST    AssetID = "0x0200090000000000000000000000000000000000000000000000000000000000"
	KUSD   AssetID = "0x02000c0000000000000000000000000000000000000000000000000000000000"
	KXOR   AssetID = "0x02000e0000000000000000000000000000000000000000000000000000000000"
	VXOR   AssetID = "0x006a271832f44c93bd8692584d85415f0f3dccef9748fecd129442c8edcb4361"
)

// dexBaseAssets maps each known dex_id to its settlement asset.
var dexBaseAssets = map[int]AssetID{
	0: XOR,
	1: XSTUSD,
	2: KUSD,
	3: VXOR,
}

// DexBaseAsset returns the base asset of a DEX. ok is false for unknown ids.
func DexBaseAsset(dexID int) (AssetID, bool) {
	a, ok := dexBaseAssets[dexID]
	return a, ok
}

// IsDirectExchangePair reports whether a and b trade directly without a
// base-asset hop: ETH/KXOR and any XST pair.
func IsDirectExchangePair(a, b AssetID) bool {
	if (a == ETH && b == KXOR) || (a == KXOR && b == ETH) {
		return true
	}
	return a == XST || b == XST
}

// ParseAssetID normalizes a hex asset id. Short ids are left-padded to 32 bytes.
func ParseAssetID(s string) (AssetID, error) {
	h := strings.ToLower(strings.TrimSpace(s))
	h = strings.TrimPrefix(h, "0x")
	if h == "" || len(h) > 64 {
		return "", fmt.Errorf("invalid asset id %q", s)
	}
	for _, c := range h {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("invalid asset id %q", s)
		}
	}
	return AssetID("0x" + strings.Repeat("0", 64-len(h)) + h), nil
}

// String returns the canonical hex form.
func (a AssetID) String() string {
	return string(a)
}
