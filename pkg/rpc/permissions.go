package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrNoACL is returned by Permissions when no ACL address is configured.
var ErrNoACL = errors.New("no acl configured")

// knownRoles labels the roles declared by the apps a committee is made of.
var knownRoles = []Role{
	{ID: "CREATE_COMMITTEE_ROLE", Name: "Create committees"},
	{ID: "DELETE_COMMITTEE_ROLE", Name: "Delete committees"},
	{ID: "ADD_MEMBER_ROLE", Name: "Add members"},
	{ID: "REMOVE_MEMBER_ROLE", Name: "Remove members"},

	{ID: "MINT_ROLE", Name: "Mint tokens"},
	{ID: "ISSUE_ROLE", Name: "Issue tokens"},
	{ID: "ASSIGN_ROLE", Name: "Assign tokens"},
	{ID: "REVOKE_VESTINGS_ROLE", Name: "Revoke vestings"},
	{ID: "BURN_ROLE", Name: "Burn tokens"},

	{ID: "CREATE_VOTES_ROLE", Name: "Create new votes"},
	{ID: "MODIFY_SUPPORT_ROLE", Name: "Modify support"},
	{ID: "MODIFY_QUORUM_ROLE", Name: "Modify quorum"},

	{ID: "CREATE_PAYMENTS_ROLE", Name: "Create new payments"},
	{ID: "EXECUTE_PAYMENTS_ROLE", Name: "Execute payments"},
	{ID: "MANAGE_PAYMENTS_ROLE", Name: "Manage payments"},
	{ID: "CHANGE_PERIOD_ROLE", Name: "Change period duration"},
	{ID: "CHANGE_BUDGETS_ROLE", Name: "Change budgets"},
}

var knownRoleHashes = func() map[common.Hash]Role {
	out := make(map[common.Hash]Role, len(knownRoles))
	for _, r := range knownRoles {
		out[crypto.Keccak256Hash([]byte(r.ID))] = r
	}
	return out
}()

// Roles lists the roles granted anywhere in the organization's ACL, labelled from the
// known role catalog. Without an ACL the catalog itself is returned.
func (c *HTTPClient) Roles(ctx context.Context) ([]Role, error) {
	if c.acl == (common.Address{}) {
		out := make([]Role, len(knownRoles))
		copy(out, knownRoles)
		return out, nil
	}

	logs, err := c.permissionLogs(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch roles: %w", err)
	}
	seen := map[common.Hash]struct{}{}
	out := []Role{}
	for _, l := range logs {
		p, _, err := parseSetPermission(l)
		if err != nil {
			return nil, fmt.Errorf("fetch roles: %w", err)
		}
		if _, ok := seen[p.Role]; ok {
			continue
		}
		seen[p.Role] = struct{}{}
		role, ok := knownRoleHashes[p.Role]
		if !ok {
			role = Role{ID: p.Role.Hex()}
		}
		role.Bytes = p.Role.Hex()
		out = append(out, role)
	}
	return out, nil
}

// Permissions replays the ACL's SetPermission logs for entity and returns the grants
// still in force, ordered by app then role.
func (c *HTTPClient) Permissions(ctx context.Context, entity common.Address) ([]Permission, error) {
	if c.acl == (common.Address{}) {
		return nil, ErrNoACL
	}
	logs, err := c.permissionLogs(ctx, &entity)
	if err != nil {
		return nil, fmt.Errorf("fetch permissions of %s: %w", entity.Hex(), err)
	}

	granted := map[Permission]struct{}{}
	for _, l := range logs {
		p, allowed, err := parseSetPermission(l)
		if err != nil {
			return nil, fmt.Errorf("fetch permissions of %s: %w", entity.Hex(), err)
		}
		if p.Entity != entity {
			continue
		}
		if allowed {
			granted[p] = struct{}{}
		} else {
			delete(granted, p)
		}
	}

	out := make([]Permission, 0, len(granted))
	for p := range granted {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if cmp := bytes.Compare(out[i].App.Bytes(), out[j].App.Bytes()); cmp != 0 {
			return cmp < 0
		}
		return bytes.Compare(out[i].Role.Bytes(), out[j].Role.Bytes()) < 0
	})
	return out, nil
}

// permissionLogs fetches SetPermission logs, optionally narrowed to one entity, in chain order.
func (c *HTTPClient) permissionLogs(ctx context.Context, entity *common.Address) ([]types.Log, error) {
	topics := [][]common.Hash{{aclContract.Events[eventSetPermission].ID}}
	if entity != nil {
		topics = append(topics, []common.Hash{common.BytesToHash(entity.Bytes())})
	}
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(c.fromBlock),
		Addresses: []common.Address{c.acl},
		Topics:    topics,
	}

	var logs []types.Log
	err := c.do(ctx, func(eth *ethclient.Client) error {
		var err error
		logs, err = eth.FilterLogs(ctx, query)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
	return logs, nil
}

func parseSetPermission(l types.Log) (Permission, bool, error) {
	event := aclContract.Events[eventSetPermission]
	if len(l.Topics) != 4 || l.Topics[0] != event.ID {
		return Permission{}, false, fmt.Errorf("log %s/%d is not %s", l.TxHash.Hex(), l.Index, eventSetPermission)
	}
	values, err := aclContract.Unpack(eventSetPermission, l.Data)
	if err != nil {
		return Permission{}, false, fmt.Errorf("decode %s: %w", eventSetPermission, err)
	}
	if len(values) != 1 {
		return Permission{}, false, fmt.Errorf("decode %s: unexpected data", eventSetPermission)
	}
	allowed, ok := values[0].(bool)
	if !ok {
		return Permission{}, false, fmt.Errorf("decode %s: unexpected %T", eventSetPermission, values[0])
	}
	return Permission{
		Entity: common.BytesToAddress(l.Topics[1].Bytes()),
		App:    common.BytesToAddress(l.Topics[2].Bytes()),
		Role:   l.Topics[3],
	}, allowed, nil
}
