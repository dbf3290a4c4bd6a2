package rpc

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Client captures the read-only contract calls used to enrich a newly created committee.
// Every method is safe for concurrent use and fails independently of the others.
type Client interface {
	// token manager
	TokenManagerToken(ctx context.Context, tokenManager common.Address) (common.Address, error)
	MaxAccountTokens(ctx context.Context, tokenManager common.Address) (*big.Int, error)

	// token
	TokenSymbol(ctx context.Context, token common.Address) (string, error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	TransfersEnabled(ctx context.Context, token common.Address) (bool, error)

	// voting
	SupportRequiredPct(ctx context.Context, voting common.Address) (*big.Int, error)
	MinAcceptQuorumPct(ctx context.Context, voting common.Address) (*big.Int, error)
	VoteTime(ctx context.Context, voting common.Address) (uint64, error)

	// committees registry
	CommitteeFinance(ctx context.Context, registry, committee common.Address) (common.Address, error)

	// Roles lists the permission roles known to the organization.
	Roles(ctx context.Context) ([]Role, error)
}

// Role is a permission role as published by the organization's ACL.
type Role struct {
	// ID is the role constant name, e.g. "ADD_MEMBER_ROLE".
	ID string `json:"id"`
	// Name is the human readable label.
	Name string `json:"name"`
	// Bytes optionally carries the 0x-hex role identifier; derived from ID when empty.
	Bytes string `json:"bytes,omitempty"`
}

// Permission is an ACL grant: Entity may perform Role on App.
type Permission struct {
	Entity common.Address `json:"entity"`
	App    common.Address `json:"app"`
	Role   common.Hash    `json:"role"`
}

// PermissionReader lists the grants currently held by an entity.
type PermissionReader interface {
	Permissions(ctx context.Context, entity common.Address) ([]Permission, error)
}
