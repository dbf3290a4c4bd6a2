// Package decode turns raw contract event fields into normalized domain values.
//
// Every function here is pure: no I/O, no shared state. Malformed input is
// reported as *Error (matching ErrDecode) instead of panicking.
package decode

import (
	"bytes"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	// percentDivisor converts a fraction expressed in parts of 1e18 into whole percent.
	percentDivisor = 1e16
	secondsPerDay  = 60 * 60 * 24
)

var (
	percentBase = big.NewInt(percentDivisor)
	zeroAddress = common.Address{}
)

// Text converts a fixed-width (NUL padded) byte encoding into readable text.
func Text(raw []byte) (string, error) {
	trimmed := bytes.Trim(raw, "\x00")
	if bytes.IndexByte(trimmed, 0) >= 0 {
		return "", newError("", hexutil.Encode(raw), "embedded NUL byte")
	}
	if !utf8.Valid(trimmed) {
		return "", newError("", hexutil.Encode(raw), "invalid utf-8")
	}
	return string(trimmed), nil
}

// HexText decodes a 0x-prefixed hex string (bytes32 names) and runs it through Text.
func HexText(s string) (string, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return "", newError("", s, err.Error())
	}
	return Text(raw)
}

// IsAddressEmpty reports whether addr is unset: blank or the all-zero sentinel.
func IsAddressEmpty(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return true
	}
	parsed, ok := ParseAddress(addr)
	return ok && parsed == zeroAddress
}

// OptionalAddress renders an address for display, "" when it is the zero sentinel.
func OptionalAddress(addr common.Address) string {
	if addr == zeroAddress {
		return ""
	}
	return addr.Hex()
}

// IsUniqueHolding is true when each account may hold exactly one indivisible token.
func IsUniqueHolding(maxAccountTokens *big.Int, decimals uint8) bool {
	return maxAccountTokens != nil && maxAccountTokens.IsInt64() && maxAccountTokens.Int64() == 1 && decimals == 0
}

// Percent converts a parts-of-1e18 fraction into whole percent using integer division.
func Percent(raw *big.Int) uint64 {
	if raw == nil || raw.Sign() <= 0 {
		return 0
	}
	q := new(big.Int).Quo(raw, percentBase)
	if !q.IsUint64() {
		return 0
	}
	return q.Uint64()
}

// Days converts seconds into whole days using integer division.
func Days(seconds uint64) uint64 {
	return seconds / secondsPerDay
}
