package decode

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bytes32 of "Council" right padded with NULs
const councilHex = "0x436f756e63696c00000000000000000000000000000000000000000000000000"

func TestHexText(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "padded bytes32", in: councilHex, want: "Council"},
		{name: "left padded", in: "0x0000436f756e63696c", want: "Council"},
		{name: "empty", in: "0x", want: ""},
		{name: "odd length", in: "0x436", wantErr: true},
		{name: "missing prefix", in: "436f", wantErr: true},
		{name: "invalid utf8", in: "0xff00", wantErr: true},
		{name: "embedded nul", in: "0x41004200", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HexText(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrDecode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyToken(t *testing.T) {
	tests := []struct {
		params TokenParams
		want   TokenClass
	}{
		{TokenParams{Transferable: true, Unique: false}, TokenFungibleTransferable},
		{TokenParams{Transferable: false, Unique: false}, TokenFungibleNonTransferable},
		{TokenParams{Transferable: true, Unique: true}, TokenUniqueTransferable},
		{TokenParams{Transferable: false, Unique: true}, TokenUniqueNonTransferable},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			got := ClassifyToken(tt.params)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Valid())

			back, ok := got.Params()
			require.True(t, ok)
			assert.Equal(t, tt.params, back)
			assert.Equal(t, !tt.params.Unique, got.Cumulative())
		})
	}

	assert.False(t, TokenClass("bogus").Valid())
	assert.False(t, TokenClass("bogus").Cumulative())
}

func TestIsUniqueHolding(t *testing.T) {
	assert.True(t, IsUniqueHolding(big.NewInt(1), 0))
	assert.False(t, IsUniqueHolding(big.NewInt(1), 18))
	assert.False(t, IsUniqueHolding(big.NewInt(2), 0))
	assert.False(t, IsUniqueHolding(nil, 0))

	maxUint256, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	assert.False(t, IsUniqueHolding(maxUint256, 0))
}

func TestClassifyVoting(t *testing.T) {
	support, _ := new(big.Int).SetString("500000000000000000", 10) // 50%
	quorum, _ := new(big.Int).SetString("155000000000000000", 10)  // 15.5% truncates to 15

	got := ClassifyVoting(VotingParams{
		SupportRequiredPct: support,
		MinAcceptQuorumPct: quorum,
		VoteTime:           3*86400 + 3600,
	})

	assert.Equal(t, VotingClass{SupportPct: 50, QuorumPct: 15, DurationDays: 3}, got)
	assert.Equal(t, VotingClass{}, ClassifyVoting(VotingParams{}))
}

func TestIsAddressEmpty(t *testing.T) {
	assert.True(t, IsAddressEmpty(""))
	assert.True(t, IsAddressEmpty("0x0000000000000000000000000000000000000000"))
	assert.False(t, IsAddressEmpty("0x00000000000000000000000000000000000000f1"))
	assert.False(t, IsAddressEmpty("not-an-address"))

	assert.Equal(t, "", OptionalAddress(common.Address{}))
	assert.Equal(t, common.HexToAddress("0xf1").Hex(), OptionalAddress(common.HexToAddress("0xf1")))
}

func TestPayloadAccessors(t *testing.T) {
	p := Payload{
		"committeeAddress": "0x00000000000000000000000000000000000000aa",
		"name":             councilHex,
		"description":      "d",
		"stake":            "25",
		"hexStake":         "0x19",
		"numStake":         float64(25),
		"jsonStake":        json.Number("25"),
		"fraction":         1.5,
		"negative":         "-1",
		"count":            7,
	}

	addr, err := p.Address("committeeAddress")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xaa"), addr)

	name, err := p.Text("name")
	require.NoError(t, err)
	assert.Equal(t, "Council", name)

	desc, err := p.Text("description")
	require.NoError(t, err)
	assert.Equal(t, "d", desc)

	for _, key := range []string{"stake", "hexStake", "numStake", "jsonStake"} {
		n, err := p.BigInt(key)
		require.NoError(t, err, key)
		assert.Equal(t, "25", n.String(), key)
	}

	_, err = p.BigInt("fraction")
	assert.ErrorIs(t, err, ErrDecode)
	_, err = p.BigInt("negative")
	assert.ErrorIs(t, err, ErrDecode)
	_, err = p.Address("description")
	assert.ErrorIs(t, err, ErrDecode)
	_, err = p.String("missing")
	assert.ErrorIs(t, err, ErrDecode)
	_, err = p.String("count")
	assert.ErrorIs(t, err, ErrDecode)

	var de *Error
	_, err = p.Address("missing")
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "missing", de.Field)
	assert.Equal(t, "", p.OptionalString("count"))
}

func TestPayloadBigIntHexForms(t *testing.T) {
	padded := "0x" + strings.Repeat("0", 62) + "19"
	tests := []struct {
		name  string
		value any
		want  string
		ok    bool
	}{
		{"short hex", "0x19", "25", true},
		{"leading zero", "0x019", "25", true},
		{"uint256 word", padded, "25", true},
		{"upper prefix", "0X19", "25", true},
		{"max uint256", "0x" + strings.Repeat("f", 64), new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)).String(), true},
		{"wider than uint256", "0x1" + strings.Repeat("0", 64), "", false},
		{"empty digits", "0x", "", false},
		{"signed hex", "0x-19", "", false},
		{"not hex", "0xzz", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Payload{"stake": tt.value}.BigInt("stake")
			if !tt.ok {
				assert.ErrorIs(t, err, ErrDecode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.String())
		})
	}
}

func TestPayloadAddressForms(t *testing.T) {
	want := common.HexToAddress("0xaa")
	tests := []struct {
		name  string
		value string
		ok    bool
	}{
		{"plain", "0x00000000000000000000000000000000000000aa", true},
		{"no prefix", "00000000000000000000000000000000000000aa", true},
		{"topic word", "0x" + strings.Repeat("0", 62) + "aa", true},
		{"dirty padding", "0x01" + strings.Repeat("0", 60) + "aa", false},
		{"too short", "0xaa", false},
		{"not hex", "0x" + strings.Repeat("z", 64), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := Payload{"member": tt.value}.Address("member")
			if !tt.ok {
				assert.ErrorIs(t, err, ErrDecode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, want, addr)
		})
	}

	assert.True(t, IsAddressEmpty("0x"+strings.Repeat("0", 64)))
}
