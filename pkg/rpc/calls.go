package rpc

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// call performs an eth_call of contract.method(args...) on to at the latest block and
// returns the raw return data.
func (c *HTTPClient) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]byte, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}

	var out []byte
	err = c.do(ctx, func(eth *ethclient.Client) error {
		var err error
		out, err = eth.CallContract(ctx, msg, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", to.Hex(), method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s.%s: empty result, no contract at address", to.Hex(), method)
	}
	return out, nil
}

// callOne calls a single-output view and asserts its Go type.
func callOne[T any](ctx context.Context, c *HTTPClient, to common.Address, contract abi.ABI, method string, args ...interface{}) (T, error) {
	var zero T
	out, err := c.call(ctx, to, contract, method, args...)
	if err != nil {
		return zero, err
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return zero, fmt.Errorf("call %s.%s: %w", to.Hex(), method, err)
	}
	if len(values) != 1 {
		return zero, fmt.Errorf("call %s.%s: %d return values", to.Hex(), method, len(values))
	}
	v, ok := values[0].(T)
	if !ok {
		return zero, fmt.Errorf("call %s.%s: unexpected %T result", to.Hex(), method, values[0])
	}
	return v, nil
}

func (c *HTTPClient) TokenManagerToken(ctx context.Context, tokenManager common.Address) (common.Address, error) {
	return callOne[common.Address](ctx, c, tokenManager, tokenManagerContract, methodToken)
}

func (c *HTTPClient) MaxAccountTokens(ctx context.Context, tokenManager common.Address) (*big.Int, error) {
	return callOne[*big.Int](ctx, c, tokenManager, tokenManagerContract, methodMaxAccountTokens)
}

func (c *HTTPClient) TokenSymbol(ctx context.Context, token common.Address) (string, error) {
	return callOne[string](ctx, c, token, miniMeTokenContract, methodSymbol)
}

func (c *HTTPClient) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	return callOne[uint8](ctx, c, token, miniMeTokenContract, methodDecimals)
}

func (c *HTTPClient) TransfersEnabled(ctx context.Context, token common.Address) (bool, error) {
	return callOne[bool](ctx, c, token, miniMeTokenContract, methodTransfersEnabled)
}

// SupportRequiredPct is expressed in parts of 1e18.
func (c *HTTPClient) SupportRequiredPct(ctx context.Context, voting common.Address) (*big.Int, error) {
	pct, err := callOne[uint64](ctx, c, voting, votingContract, methodSupportRequiredPct)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(pct), nil
}

func (c *HTTPClient) MinAcceptQuorumPct(ctx context.Context, voting common.Address) (*big.Int, error) {
	pct, err := callOne[uint64](ctx, c, voting, votingContract, methodMinAcceptQuorumPct)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(pct), nil
}

func (c *HTTPClient) VoteTime(ctx context.Context, voting common.Address) (uint64, error) {
	return callOne[uint64](ctx, c, voting, votingContract, methodVoteTime)
}

// CommitteeFinance reads registry.committees(committee).finance. The zero address means no finance app is linked.
func (c *HTTPClient) CommitteeFinance(ctx context.Context, registry, committee common.Address) (common.Address, error) {
	out, err := c.call(ctx, registry, committeesContract, methodCommittees, committee)
	if err != nil {
		return common.Address{}, err
	}
	fields := map[string]interface{}{}
	if err := committeesContract.UnpackIntoMap(fields, methodCommittees, out); err != nil {
		return common.Address{}, fmt.Errorf("call %s.%s: %w", registry.Hex(), methodCommittees, err)
	}
	finance, ok := fields["finance"].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("call %s.%s: missing finance", registry.Hex(), methodCommittees)
	}
	return finance, nil
}
