package decode

import "math/big"

// TokenClass tags a committee's membership token.
type TokenClass string

const (
	TokenFungibleTransferable    TokenClass = "fungible-transferable"
	TokenFungibleNonTransferable TokenClass = "fungible-non-transferable"
	TokenUniqueTransferable      TokenClass = "unique-transferable"
	TokenUniqueNonTransferable   TokenClass = "unique-non-transferable"
)

// TokenParams are the two raw flags a token classification is derived from.
type TokenParams struct {
	Transferable bool `json:"transferable"`
	Unique       bool `json:"unique"`
}

var tokenClasses = map[TokenParams]TokenClass{
	{Transferable: true, Unique: false}:  TokenFungibleTransferable,
	{Transferable: false, Unique: false}: TokenFungibleNonTransferable,
	{Transferable: true, Unique: true}:   TokenUniqueTransferable,
	{Transferable: false, Unique: true}:  TokenUniqueNonTransferable,
}

// ClassifyToken maps the flag pair onto one of the four token classes.
func ClassifyToken(p TokenParams) TokenClass {
	return tokenClasses[p]
}

// Params recovers the flags behind a class. ok is false for unknown tags.
func (c TokenClass) Params() (TokenParams, bool) {
	for p, tc := range tokenClasses {
		if tc == c {
			return p, true
		}
	}
	return TokenParams{}, false
}

// Cumulative is true when member stakes add up (fungible tokens).
func (c TokenClass) Cumulative() bool {
	p, ok := c.Params()
	return ok && !p.Unique
}

// Valid reports whether c is one of the four known classes.
func (c TokenClass) Valid() bool {
	_, ok := c.Params()
	return ok
}

// VotingParams are the raw voting contract values.
type VotingParams struct {
	SupportRequiredPct *big.Int
	MinAcceptQuorumPct *big.Int
	VoteTime           uint64 // seconds
}

// VotingClass is the human readable voting policy.
type VotingClass struct {
	SupportPct   uint64 `json:"supportPct"`
	QuorumPct    uint64 `json:"quorumPct"`
	DurationDays uint64 `json:"durationDays"`
}

func ClassifyVoting(p VotingParams) VotingClass {
	return VotingClass{
		SupportPct:   Percent(p.SupportRequiredPct),
		QuorumPct:    Percent(p.MinAcceptQuorumPct),
		DurationDays: Days(p.VoteTime),
	}
}
