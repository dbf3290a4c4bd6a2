package rpc

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tmAddr       = common.HexToAddress("0xaa")
	tokenAddr    = common.HexToAddress("0x70")
	votingAddr   = common.HexToAddress("0xbb")
	registryAddr = common.HexToAddress("0xee")
	financeAddr  = common.HexToAddress("0xf1")
	aclAddr      = common.HexToAddress("0xac1")
)

var _ Client = (*HTTPClient)(nil)
var _ Client = (*CachedClient)(nil)
var _ PermissionReader = (*HTTPClient)(nil)

// fakeNode is a JSON-RPC node answering eth_call from a table keyed by address and
// calldata, and eth_getLogs from a fixed log list.
type fakeNode struct {
	t    *testing.T
	mu   sync.Mutex
	outs map[string][]byte
	logs []types.Log
	hits atomic.Int64
}

func newFakeNode(t *testing.T) *fakeNode {
	return &fakeNode{t: t, outs: map[string][]byte{}}
}

func (n *fakeNode) start() *httptest.Server {
	server := httptest.NewServer(n)
	n.t.Cleanup(server.Close)
	return server
}

// answer registers the ABI-encoded return values of contract.method(args...) on addr.
func (n *fakeNode) answer(addr common.Address, contract abi.ABI, method string, args []interface{}, outputs ...interface{}) {
	n.t.Helper()
	data, err := contract.Pack(method, args...)
	require.NoError(n.t, err)
	out, err := contract.Methods[method].Outputs.Pack(outputs...)
	require.NoError(n.t, err)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outs[addr.Hex()+hexutil.Encode(data)] = out
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.hits.Add(1)
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}

	n.mu.Lock()
	switch req.Method {
	case "eth_call":
		var arg struct {
			To    common.Address `json:"to"`
			Data  hexutil.Bytes  `json:"data"`
			Input hexutil.Bytes  `json:"input"`
		}
		assert.NoError(n.t, json.Unmarshal(req.Params[0], &arg))
		input := arg.Input
		if len(input) == 0 {
			input = arg.Data
		}
		if out, ok := n.outs[arg.To.Hex()+hexutil.Encode(input)]; ok {
			resp["result"] = hexutil.Bytes(out)
		} else {
			resp["error"] = map[string]interface{}{"code": 3, "message": "execution reverted"}
		}
	case "eth_getLogs":
		var q struct {
			Topics [][]common.Hash `json:"topics"`
		}
		assert.NoError(n.t, json.Unmarshal(req.Params[0], &q))
		out := []types.Log{}
		for _, l := range n.logs {
			if len(q.Topics) > 1 && len(q.Topics[1]) == 1 && l.Topics[1] != q.Topics[1][0] {
				continue
			}
			out = append(out, l)
		}
		resp["result"] = out
	default:
		resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
	}
	n.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func newClient(t *testing.T, opts Opts) *HTTPClient {
	t.Helper()
	client, err := NewHTTPWithOpts(opts)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestHTTPClientContractCalls(t *testing.T) {
	node := newFakeNode(t)
	node.answer(tmAddr, tokenManagerContract, methodToken, nil, tokenAddr)
	node.answer(tmAddr, tokenManagerContract, methodMaxAccountTokens, nil, big.NewInt(1))
	node.answer(tokenAddr, miniMeTokenContract, methodSymbol, nil, "CMT")
	node.answer(tokenAddr, miniMeTokenContract, methodDecimals, nil, uint8(0))
	node.answer(tokenAddr, miniMeTokenContract, methodTransfersEnabled, nil, true)
	node.answer(votingAddr, votingContract, methodSupportRequiredPct, nil, uint64(5e17))
	node.answer(votingAddr, votingContract, methodMinAcceptQuorumPct, nil, uint64(1e16))
	node.answer(votingAddr, votingContract, methodVoteTime, nil, uint64(259200))
	node.answer(registryAddr, committeesContract, methodCommittees, []interface{}{tmAddr},
		[32]byte{'B', 'o', 'a', 'r', 'd'}, "the board", votingAddr, financeAddr)
	server := node.start()

	ctx := context.Background()
	client := newClient(t, Opts{Endpoints: []string{server.URL}})

	token, err := client.TokenManagerToken(ctx, tmAddr)
	require.NoError(t, err)
	assert.Equal(t, tokenAddr, token)

	maxTokens, err := client.MaxAccountTokens(ctx, tmAddr)
	require.NoError(t, err)
	assert.Equal(t, "1", maxTokens.String())

	symbol, err := client.TokenSymbol(ctx, tokenAddr)
	require.NoError(t, err)
	assert.Equal(t, "CMT", symbol)

	decimals, err := client.TokenDecimals(ctx, tokenAddr)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), decimals)

	transferable, err := client.TransfersEnabled(ctx, tokenAddr)
	require.NoError(t, err)
	assert.True(t, transferable)

	support, err := client.SupportRequiredPct(ctx, votingAddr)
	require.NoError(t, err)
	assert.Equal(t, "500000000000000000", support.String())

	quorum, err := client.MinAcceptQuorumPct(ctx, votingAddr)
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000", quorum.String())

	voteTime, err := client.VoteTime(ctx, votingAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(259200), voteTime)

	finance, err := client.CommitteeFinance(ctx, registryAddr, tmAddr)
	require.NoError(t, err)
	assert.Equal(t, financeAddr, finance)
}

func TestHTTPClientRevertDoesNotFailOver(t *testing.T) {
	reverting := newFakeNode(t)
	first := reverting.start()

	other := newFakeNode(t)
	other.answer(tokenAddr, miniMeTokenContract, methodSymbol, nil, "CMT")
	second := other.start()

	client := newClient(t, Opts{Endpoints: []string{first.URL, second.URL}, BreakerFailures: 1})
	for i := 0; i < 2; i++ {
		_, err := client.TokenSymbol(context.Background(), tokenAddr)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "execution reverted")
	}
	assert.Equal(t, int64(2), reverting.hits.Load(), "a revert must not open the breaker")
	assert.Equal(t, int64(0), other.hits.Load())
}

func TestHTTPClientEmptyResult(t *testing.T) {
	node := newFakeNode(t)
	data, err := miniMeTokenContract.Pack(methodDecimals)
	require.NoError(t, err)
	node.outs[tokenAddr.Hex()+hexutil.Encode(data)] = []byte{}
	server := node.start()

	client := newClient(t, Opts{Endpoints: []string{server.URL}})
	_, err = client.TokenDecimals(context.Background(), tokenAddr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no contract")
}

func TestHTTPClientFailsOverAndOpensBreaker(t *testing.T) {
	var badHits int64
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&badHits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	node := newFakeNode(t)
	node.answer(tokenAddr, miniMeTokenContract, methodSymbol, nil, "CMT")
	good := node.start()

	client := newClient(t, Opts{
		Endpoints:       []string{bad.URL, good.URL},
		BreakerFailures: 2,
		BreakerCooldown: time.Minute,
	})

	for i := 0; i < 4; i++ {
		symbol, err := client.TokenSymbol(context.Background(), tokenAddr)
		require.NoError(t, err)
		assert.Equal(t, "CMT", symbol)
	}
	assert.Equal(t, int64(2), atomic.LoadInt64(&badHits), "breaker should skip the failing endpoint once open")
}

func TestHTTPClientNoEndpoints(t *testing.T) {
	client := newClient(t, Opts{})
	_, err := client.TokenSymbol(context.Background(), tokenAddr)
	require.Error(t, err)
}

func TestCachedClientMemoizesTokenMetadata(t *testing.T) {
	node := newFakeNode(t)
	node.answer(tokenAddr, miniMeTokenContract, methodSymbol, nil, "CMT")
	node.answer(tokenAddr, miniMeTokenContract, methodDecimals, nil, uint8(18))
	node.answer(tokenAddr, miniMeTokenContract, methodTransfersEnabled, nil, false)
	server := node.start()

	cached, err := NewCachedClient(newClient(t, Opts{Endpoints: []string{server.URL}}), 8)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		symbol, err := cached.TokenSymbol(ctx, tokenAddr)
		require.NoError(t, err)
		assert.Equal(t, "CMT", symbol)
		decimals, err := cached.TokenDecimals(ctx, tokenAddr)
		require.NoError(t, err)
		assert.Equal(t, uint8(18), decimals)
		_, err = cached.TransfersEnabled(ctx, tokenAddr)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(5), node.hits.Load(), "symbol and decimals fetched once, transfersEnabled every time")
	assert.Equal(t, 2, cached.Len())
}

func TestUniqueEndpoints(t *testing.T) {
	got := uniqueEndpoints([]string{"http://a:1/", "http://b:2", " http://a:1", "", "http://b:2//"})
	assert.Equal(t, []string{"http://a:1", "http://b:2"}, got)
}

func roleHash(id string) common.Hash { return crypto.Keccak256Hash([]byte(id)) }

// setPermission builds an ACL SetPermission log at the given block position.
func setPermission(t *testing.T, block uint64, index uint, entity, app common.Address, role common.Hash, allowed bool) types.Log {
	t.Helper()
	event := aclContract.Events[eventSetPermission]
	data, err := event.Inputs.NonIndexed().Pack(allowed)
	require.NoError(t, err)
	return types.Log{
		Address:     aclAddr,
		Topics:      []common.Hash{event.ID, common.BytesToHash(entity.Bytes()), common.BytesToHash(app.Bytes()), role},
		Data:        data,
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(big.NewInt(int64(block))),
	}
}

func TestPermissionsReplaysGrantsAndRevocations(t *testing.T) {
	financeApp := common.HexToAddress("0xf2")
	node := newFakeNode(t)
	node.logs = []types.Log{
		setPermission(t, 10, 0, tmAddr, financeApp, roleHash("CREATE_PAYMENTS_ROLE"), true),
		setPermission(t, 10, 1, tmAddr, votingAddr, roleHash("CREATE_VOTES_ROLE"), true),
		setPermission(t, 11, 0, votingAddr, tmAddr, roleHash("MINT_ROLE"), true),
		setPermission(t, 12, 0, tmAddr, financeApp, roleHash("CREATE_PAYMENTS_ROLE"), false),
		setPermission(t, 12, 1, tmAddr, registryAddr, roleHash("ADD_MEMBER_ROLE"), true),
	}
	server := node.start()

	client := newClient(t, Opts{Endpoints: []string{server.URL}, ACL: aclAddr})
	perms, err := client.Permissions(context.Background(), tmAddr)
	require.NoError(t, err)
	assert.Equal(t, []Permission{
		{Entity: tmAddr, App: votingAddr, Role: roleHash("CREATE_VOTES_ROLE")},
		{Entity: tmAddr, App: registryAddr, Role: roleHash("ADD_MEMBER_ROLE")},
	}, perms)

	group, err := client.Permissions(context.Background(), votingAddr)
	require.NoError(t, err)
	assert.Equal(t, []Permission{{Entity: votingAddr, App: tmAddr, Role: roleHash("MINT_ROLE")}}, group)
}

func TestPermissionsWithoutACL(t *testing.T) {
	client := newClient(t, Opts{Endpoints: []string{"http://127.0.0.1:1"}})
	_, err := client.Permissions(context.Background(), tmAddr)
	assert.ErrorIs(t, err, ErrNoACL)
}

func TestRolesFromACL(t *testing.T) {
	unknown := common.HexToHash("0x1234")
	node := newFakeNode(t)
	node.logs = []types.Log{
		setPermission(t, 1, 0, tmAddr, registryAddr, roleHash("ADD_MEMBER_ROLE"), true),
		setPermission(t, 2, 0, votingAddr, registryAddr, roleHash("ADD_MEMBER_ROLE"), true),
		setPermission(t, 3, 0, tmAddr, votingAddr, unknown, true),
	}
	server := node.start()

	client := newClient(t, Opts{Endpoints: []string{server.URL}, ACL: aclAddr})
	roles, err := client.Roles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Role{
		{ID: "ADD_MEMBER_ROLE", Name: "Add members", Bytes: roleHash("ADD_MEMBER_ROLE").Hex()},
		{ID: unknown.Hex(), Bytes: unknown.Hex()},
	}, roles)
}

func TestRolesCatalogWithoutACL(t *testing.T) {
	client := newClient(t, Opts{})
	roles, err := client.Roles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, knownRoles, roles)
}
