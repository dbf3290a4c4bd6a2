package decode

import (
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// maxUintBits bounds integer fields to the EVM word size.
const maxUintBits = 256

// Payload is a decoded event body keyed by contract argument name.
type Payload map[string]any

// String returns the string field for key.
func (p Payload) String(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", newError(key, nil, "missing field")
	}
	s, ok := v.(string)
	if !ok {
		return "", newError(key, v, "not a string")
	}
	return s, nil
}

// OptionalString returns "" when the field is absent or not a string.
func (p Payload) OptionalString(key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

// Address parses a hex account/contract address.
func (p Payload) Address(key string) (common.Address, error) {
	s, err := p.String(key)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := ParseAddress(s)
	if !ok {
		return common.Address{}, newError(key, s, "not a hex address")
	}
	return addr, nil
}

// ParseAddress accepts a 20-byte hex address or its 32-byte left-padded word form, as
// found in indexed event topics. Padding must be zero.
func ParseAddress(s string) (common.Address, bool) {
	s = strings.TrimSpace(s)
	if common.IsHexAddress(s) {
		return common.HexToAddress(s), true
	}
	if !has0xPrefix(s) || len(s) != 2+2*common.HashLength {
		return common.Address{}, false
	}
	word, err := hexutil.Decode(s)
	if err != nil {
		return common.Address{}, false
	}
	pad := common.HashLength - common.AddressLength
	for _, b := range word[:pad] {
		if b != 0 {
			return common.Address{}, false
		}
	}
	return common.BytesToAddress(word[pad:]), true
}

// Text decodes a bytes32 text field. Plain (non-hex) strings pass through unchanged.
func (p Payload) Text(key string) (string, error) {
	s, err := p.String(key)
	if err != nil {
		return "", err
	}
	if !has0xPrefix(s) {
		return s, nil
	}
	out, err := HexText(s)
	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			return "", newError(key, s, de.Reason)
		}
		return "", err
	}
	return out, nil
}

// BigInt parses a non-negative integer given as decimal string, 0x hex, or JSON number.
func (p Payload) BigInt(key string) (*big.Int, error) {
	v, ok := p[key]
	if !ok {
		return nil, newError(key, nil, "missing field")
	}
	n, ok := toBigInt(v)
	if !ok {
		return nil, newError(key, v, "not an integer")
	}
	if n.Sign() < 0 {
		return nil, newError(key, v, "negative value")
	}
	if n.BitLen() > maxUintBits {
		return nil, newError(key, v, "exceeds uint256")
	}
	return n, nil
}

func toBigInt(v any) (*big.Int, bool) {
	switch val := v.(type) {
	case *big.Int:
		if val == nil {
			return nil, false
		}
		return new(big.Int).Set(val), true
	case string:
		s := strings.TrimSpace(val)
		if has0xPrefix(s) {
			return hexBig(s[2:])
		}
		return new(big.Int).SetString(s, 10)
	case json.Number:
		return new(big.Int).SetString(val.String(), 10)
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) || math.IsNaN(val) {
			return nil, false
		}
		n, _ := big.NewFloat(val).Int(nil)
		return n, true
	case int:
		return big.NewInt(int64(val)), true
	case int64:
		return big.NewInt(val), true
	case uint64:
		return new(big.Int).SetUint64(val), true
	}
	return nil, false
}

// hexBig parses hex digits without a prefix. Leading zeros are allowed so that
// left-padded 32-byte words decode.
func hexBig(digits string) (*big.Int, bool) {
	if digits == "" || digits[0] == '+' || digits[0] == '-' {
		return nil, false
	}
	return new(big.Int).SetString(digits, 16)
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
