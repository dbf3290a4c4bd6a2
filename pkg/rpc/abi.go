package rpc

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract methods read during enrichment.
const (
	methodToken              = "token"
	methodMaxAccountTokens   = "maxAccountTokens"
	methodSymbol             = "symbol"
	methodDecimals           = "decimals"
	methodTransfersEnabled   = "transfersEnabled"
	methodSupportRequiredPct = "supportRequiredPct"
	methodMinAcceptQuorumPct = "minAcceptQuorumPct"
	methodVoteTime           = "voteTime"
	methodCommittees         = "committees"

	eventSetPermission = "SetPermission"
)

// Only the views the service reads are declared.
const (
	tokenManagerABI = `[
	{"type":"function","name":"token","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"maxAccountTokens","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

	miniMeTokenABI = `[
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"transfersEnabled","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]}
]`

	votingABI = `[
	{"type":"function","name":"supportRequiredPct","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint64"}]},
	{"type":"function","name":"minAcceptQuorumPct","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint64"}]},
	{"type":"function","name":"voteTime","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint64"}]}
]`

	// committeesABI is the registry's public mapping getter keyed by token manager address.
	committeesABI = `[
	{"type":"function","name":"committees","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[
		{"name":"name","type":"bytes32"},
		{"name":"description","type":"string"},
		{"name":"votingAddress","type":"address"},
		{"name":"finance","type":"address"}
	]}
]`

	aclABI = `[
	{"type":"event","name":"SetPermission","anonymous":false,"inputs":[
		{"name":"entity","type":"address","indexed":true},
		{"name":"app","type":"address","indexed":true},
		{"name":"role","type":"bytes32","indexed":true},
		{"name":"allowed","type":"bool","indexed":false}
	]}
]`
)

var (
	tokenManagerContract = mustParseABI(tokenManagerABI)
	miniMeTokenContract  = mustParseABI(miniMeTokenABI)
	votingContract       = mustParseABI(votingABI)
	committeesContract   = mustParseABI(committeesABI)
	aclContract          = mustParseABI(aclABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
