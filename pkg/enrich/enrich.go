// Package enrich resolves everything a CreateCommittee event does not carry:
// token metadata, voting parameters and the finance linkage.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"runtime"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/p2pmodels/committees/pkg/decode"
	"github.com/p2pmodels/committees/pkg/events"
	"github.com/p2pmodels/committees/pkg/rpc"
	"github.com/p2pmodels/committees/pkg/state"
)

// ErrEnrichment is matched by every *Error via errors.Is.
var ErrEnrichment = errors.New("enrichment failed")

// Lookup names used in errors and logs.
const (
	LookupToken              = "token"
	LookupMaxAccountTokens   = "maxAccountTokens"
	LookupSymbol             = "symbol"
	LookupDecimals           = "decimals"
	LookupTransfersEnabled   = "transfersEnabled"
	LookupSupportRequiredPct = "supportRequiredPct"
	LookupMinAcceptQuorumPct = "minAcceptQuorumPct"
	LookupVoteTime           = "voteTime"
	LookupFinance            = "finance"
	LookupDeadline           = "deadline"
)

// Error reports the first lookup that prevented a committee from being materialized.
type Error struct {
	Committee common.Address
	Lookup    string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("enrich committee %s: %s: %v", e.Committee.Hex(), e.Lookup, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrEnrichment }

// Request identifies the contracts to read. The committee address is also its token manager.
type Request struct {
	Committee common.Address
	Voting    common.Address
}

// Result holds every enrichment field for one committee.
type Result struct {
	TokenAddress     common.Address
	MaxAccountTokens *big.Int
	TokenSymbol      string
	Decimals         uint8
	Transferable     bool
	Voting           decode.VotingParams
	Finance          common.Address
}

// TokenParams derives the classification flags.
func (r Result) TokenParams() decode.TokenParams {
	return decode.TokenParams{
		Transferable: r.Transferable,
		Unique:       decode.IsUniqueHolding(r.MaxAccountTokens, r.Decimals),
	}
}

// Committee merges the raw creation event with the enrichment result.
func (r Result) Committee(ev events.CreateCommittee) state.Committee {
	params := r.TokenParams()
	return state.Committee{
		Address:        ev.Committee,
		Name:           ev.Name,
		Description:    ev.Description,
		VotingAddress:  ev.Voting,
		FinanceAddress: decode.OptionalAddress(r.Finance),
		TokenAddress:   r.TokenAddress,
		TokenParams:    params,
		TokenClass:     decode.ClassifyToken(params),
		Voting:         decode.ClassifyVoting(r.Voting),
		TokenSymbol:    r.TokenSymbol,
		Members:        []state.Member{},
	}
}

// Config tunes an Enricher.
type Config struct {
	// Registry is the committees app queried for finance linkage.
	Registry common.Address
	// Workers bounds concurrent lookups across all in-flight committees. Defaults to 4x CPU.
	Workers int
	// QueueSize bounds pending lookups. Defaults to 1024.
	QueueSize int
	// Timeout caps one committee's enrichment; expiry counts as failure. Zero disables it.
	Timeout time.Duration
}

// Enricher fans out the lookups for each committee on a shared worker pool.
type Enricher struct {
	client   rpc.Client
	registry common.Address
	timeout  time.Duration
	pool     pond.Pool
	logger   *zap.Logger
}

func New(client rpc.Client, cfg Config, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() * 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Enricher{
		client:   client,
		registry: cfg.Registry,
		timeout:  cfg.Timeout,
		pool:     pond.NewPool(workers, pond.WithQueueSize(queueSize)),
		logger:   logger,
	}
}

// Close waits for queued lookups and releases the pool.
func (e *Enricher) Close() {
	e.pool.StopAndWait()
}

// Enrich issues every independent lookup concurrently. The token address lookup gates
// the token metadata lookups, which start as soon as it resolves rather than after the
// whole first wave. Any failure, including the timeout, yields an *Error and no Result.
func (e *Enricher) Enrich(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var (
		res         Result
		tokenErr    error
		maxErr      error
		symbolErr   error
		decimalsErr error
		transferErr error
		supportErr  error
		quorumErr   error
		voteTimeErr error
		financeErr  error
	)

	group := e.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	tokenReady := make(chan struct{})

	// Token address first: its result addresses the dependent token lookups.
	group.Submit(func() {
		defer close(tokenReady)
		if err := groupCtx.Err(); err != nil {
			tokenErr = err
			return
		}
		res.TokenAddress, tokenErr = e.client.TokenManagerToken(groupCtx, req.Committee)
		if tokenErr == nil && res.TokenAddress == (common.Address{}) {
			tokenErr = errors.New("token manager has no token")
		}
	})

	group.Submit(func() {
		if err := groupCtx.Err(); err != nil {
			maxErr = err
			return
		}
		res.MaxAccountTokens, maxErr = e.client.MaxAccountTokens(groupCtx, req.Committee)
	})

	group.Submit(func() {
		if err := groupCtx.Err(); err != nil {
			supportErr = err
			return
		}
		res.Voting.SupportRequiredPct, supportErr = e.client.SupportRequiredPct(groupCtx, req.Voting)
	})

	group.Submit(func() {
		if err := groupCtx.Err(); err != nil {
			quorumErr = err
			return
		}
		res.Voting.MinAcceptQuorumPct, quorumErr = e.client.MinAcceptQuorumPct(groupCtx, req.Voting)
	})

	group.Submit(func() {
		if err := groupCtx.Err(); err != nil {
			voteTimeErr = err
			return
		}
		res.Voting.VoteTime, voteTimeErr = e.client.VoteTime(groupCtx, req.Voting)
	})

	group.Submit(func() {
		if err := groupCtx.Err(); err != nil {
			financeErr = err
			return
		}
		res.Finance, financeErr = e.client.CommitteeFinance(groupCtx, e.registry, req.Committee)
	})

	// Wait only for the token address, then release the dependent lookups.
	resolved := false
	select {
	case <-tokenReady:
		resolved = tokenErr == nil
	case <-ctx.Done():
	}

	var tokenGroup pond.TaskGroup
	if resolved {
		token := res.TokenAddress
		// Derived from ctx, not groupCtx: the first group may finish before these do.
		tokenGroup = e.pool.NewGroupContext(ctx)
		tokenCtx := tokenGroup.Context()

		tokenGroup.Submit(func() {
			if err := tokenCtx.Err(); err != nil {
				symbolErr = err
				return
			}
			res.TokenSymbol, symbolErr = e.client.TokenSymbol(tokenCtx, token)
		})
		tokenGroup.Submit(func() {
			if err := tokenCtx.Err(); err != nil {
				decimalsErr = err
				return
			}
			res.Decimals, decimalsErr = e.client.TokenDecimals(tokenCtx, token)
		})
		tokenGroup.Submit(func() {
			if err := tokenCtx.Err(); err != nil {
				transferErr = err
				return
			}
			res.Transferable, transferErr = e.client.TransfersEnabled(tokenCtx, token)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		e.logger.Warn("parallel enrichment fetch encountered error",
			zap.String("committee", req.Committee.Hex()),
			zap.Error(err),
		)
	}
	if tokenGroup != nil {
		if err := tokenGroup.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
			e.logger.Warn("token metadata fetch encountered error",
				zap.String("committee", req.Committee.Hex()),
				zap.Error(err),
			)
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, &Error{Committee: req.Committee, Lookup: LookupDeadline, Err: err}
	}

	lookups := []struct {
		name string
		err  error
	}{
		{LookupToken, tokenErr},
		{LookupMaxAccountTokens, maxErr},
		{LookupSupportRequiredPct, supportErr},
		{LookupMinAcceptQuorumPct, quorumErr},
		{LookupVoteTime, voteTimeErr},
		{LookupFinance, financeErr},
		{LookupSymbol, symbolErr},
		{LookupDecimals, decimalsErr},
		{LookupTransfersEnabled, transferErr},
	}
	for _, l := range lookups {
		if l.err != nil {
			return Result{}, &Error{Committee: req.Committee, Lookup: l.name, Err: l.err}
		}
	}
	if !resolved {
		return Result{}, &Error{Committee: req.Committee, Lookup: LookupToken, Err: errors.New("token address unresolved")}
	}

	e.logger.Debug("committee enriched",
		zap.String("committee", req.Committee.Hex()),
		zap.String("token", res.TokenAddress.Hex()),
		zap.String("symbol", res.TokenSymbol),
		zap.Duration("took", time.Since(start)),
	)
	return res, nil
}
