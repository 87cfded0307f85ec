package substrate

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// ErrInvalidAddress is returned for malformed SS58 addresses.
var ErrInvalidAddress = errors.New("invalid ss58 address")

var ss58Prefix = []byte("SS58PRE")

// DecodeSS58 decodes an SS58 address into its network prefix and 32-byte
// public key, verifying the checksum.
func DecodeSS58(address string) (uint16, []byte, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) < 1 {
		return 0, nil, ErrInvalidAddress
	}

	var (
		network   uint16
		prefixLen int
	)
	switch {
	case raw[0] < 64:
		network = uint16(raw[0])
		prefixLen = 1
	case raw[0] < 128:
		if len(raw) < 2 {
			return 0, nil, ErrInvalidAddress
		}
		lower := (raw[0]<<2)|(raw[1]>>6)
		upper := raw[1] & 0x3f
		network = uint16(lower) | uint16(upper)<<8
		prefixLen = 2
	default:
		return 0, nil, fmt.Errorf("%w: reserved prefix %d", ErrInvalidAddress, raw[0])
	}

	if len(raw) != prefixLen+32+2 {
		return 0, nil, fmt.Errorf("%w: length %d", ErrInvalidAddress, len(raw))
	}

	body := raw[:prefixLen+32]
	checksum := raw[prefixLen+32:]

	h, err := blake2b.New512(nil)
	if err != nil {
		return 0, nil, err
	}
	h.Write(ss58Prefix)
	h.Write(body)
	if !bytes.Equal(h.Sum(nil)[:2], checksum) {
		return 0, nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}

	key := make([]byte, 32)
	copy(key, raw[prefixLen:prefixLen+32])
	return network, key, nil
}

// AccountHex normalizes an account given as SS58 or hex into lowercase
// 0x-prefixed hex of the public key.
func AccountHex(account string) (string, error) {
	a := strings.TrimSpace(account)
	if strings.HasPrefix(a, "0x") || strings.HasPrefix(a, "0X") {
		b, err := hex.DecodeString(a[2:])
		if err != nil || len(b) != 32 {
			return "", fmt.Errorf("%w: %q", ErrInvalidAddress, account)
		}
		return "0x" + hex.EncodeToString(b), nil
	}
	_, key, err := DecodeSS58(a)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(key), nil
}
