// Package reducer folds the ordered event stream into committee snapshots.
//
// Submit assigns every event a monotonically increasing sequence number and
// queues a pending commit for it. Creation events start enrichment right away,
// so several creations can resolve concurrently, but a single committer
// applies pending commits strictly in sequence order: a later event is never
// committed before an earlier one, however slow the earlier enrichment is.
package reducer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/p2pmodels/committees/pkg/decode"
	"github.com/p2pmodels/committees/pkg/enrich"
	"github.com/p2pmodels/committees/pkg/events"
	"github.com/p2pmodels/committees/pkg/state"
)

// ErrStopped is returned by Submit once the reducer has been closed.
var ErrStopped = errors.New("reducer stopped")

// Enricher resolves the fields a CreateCommittee event does not carry.
type Enricher interface {
	Enrich(ctx context.Context, req enrich.Request) (enrich.Result, error)
}

// Config tunes a Reducer.
type Config struct {
	// Buffer bounds submitted but uncommitted events. Submit blocks when full. Defaults to 1024.
	Buffer int
	// Validate checks structural invariants on every snapshot before it is published.
	Validate bool
}

// PendingCommit describes an event that has been sequenced but not yet committed.
type PendingCommit struct {
	Seq       uint64      `json:"seq"`
	Kind      events.Kind `json:"kind"`
	Committee string      `json:"committee,omitempty"`
	Ref       string      `json:"ref,omitempty"`
	Since     time.Time   `json:"since"`
}

type outcome struct {
	committee state.Committee
	err       error
}

// commit is the pending-commit token for one sequenced event.
type commit struct {
	seq      uint64
	raw      events.Raw
	event    events.Event
	parseErr error
	// enriched is non-nil for creations and receives exactly one outcome.
	enriched chan outcome
}

type Reducer struct {
	enricher Enricher
	logger   *zap.Logger
	validate bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// submitMu keeps sequence assignment and enqueueing atomic so queue order equals sequence order.
	submitMu sync.Mutex
	stopped  bool
	queue    chan *commit

	seq       atomic.Uint64
	committed atomic.Uint64
	current   atomic.Pointer[state.Snapshot]

	pending *xsync.Map[uint64, PendingCommit]

	subscribers  *xsync.Map[uint64, *subscriber]
	syncWatchers *xsync.Map[uint64, *syncWatcher]
	nextSubID   atomic.Uint64
	subsMu      sync.Mutex
	subsClosed  bool

	progressMu sync.Mutex
	progress   chan struct{}
}

// New starts a reducer over an empty snapshot. Enrichment and commits run until ctx is
// cancelled or Close is called; anything still pending at that point is dropped.
func New(ctx context.Context, enricher Enricher, cfg Config, logger *zap.Logger) *Reducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 1024
	}

	ctx, cancel := context.WithCancel(ctx)
	r := &Reducer{
		enricher:     enricher,
		logger:       logger,
		validate:     cfg.Validate,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		queue:        make(chan *commit, buffer),
		pending:      xsync.NewMap[uint64, PendingCommit](),
		subscribers:  xsync.NewMap[uint64, *subscriber](),
		syncWatchers: xsync.NewMap[uint64, *syncWatcher](),
		progress:     make(chan struct{}),
	}
	r.current.Store(state.Empty())

	go r.commitLoop()
	return r
}

// Snapshot returns the latest published snapshot. Callers must not modify it.
func (r *Reducer) Snapshot() *state.Snapshot {
	return r.current.Load()
}

// Committed returns the sequence number of the last event whose commit step has run,
// whether or not it changed the snapshot.
func (r *Reducer) Committed() uint64 {
	return r.committed.Load()
}

// Pending lists sequenced events that have not been committed yet, oldest first.
func (r *Reducer) Pending() []PendingCommit {
	out := make([]PendingCommit, 0, r.pending.Size())
	r.pending.Range(func(_ uint64, p PendingCommit) bool {
		out = append(out, p)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Submit sequences raw and queues it for commit. For creation events enrichment starts
// immediately. Submit blocks while the commit queue is full.
func (r *Reducer) Submit(raw events.Raw) (uint64, error) {
	r.submitMu.Lock()
	defer r.submitMu.Unlock()

	if r.stopped || r.ctx.Err() != nil {
		return 0, ErrStopped
	}

	seq := r.seq.Add(1)
	raw.Seq = seq
	ev, err := events.Parse(raw)
	c := &commit{seq: seq, raw: raw, event: ev, parseErr: err}

	info := PendingCommit{Seq: seq, Kind: events.DetectKind(raw.Name), Ref: raw.Ref, Since: time.Now()}
	if create, ok := ev.(events.CreateCommittee); ok && err == nil {
		info.Committee = create.Committee.Hex()
		c.enriched = make(chan outcome, 1)
		go r.enrich(c.enriched, create)
	}
	r.pending.Store(seq, info)

	select {
	case r.queue <- c:
		return seq, nil
	case <-r.ctx.Done():
		r.pending.Delete(seq)
		return 0, ErrStopped
	}
}

// Run submits every event from in until in is closed or ctx is done.
func (r *Reducer) Run(ctx context.Context, in <-chan events.Raw) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			if _, err := r.Submit(raw); err != nil {
				return err
			}
		}
	}
}

// WaitFor blocks until the event with sequence seq has been committed.
func (r *Reducer) WaitFor(ctx context.Context, seq uint64) error {
	for {
		r.progressMu.Lock()
		progress := r.progress
		r.progressMu.Unlock()

		if r.committed.Load() >= seq {
			return nil
		}
		select {
		case <-progress:
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			if r.committed.Load() >= seq {
				return nil
			}
			return ErrStopped
		}
	}
}

// Close stops accepting events, drops pending commits and closes every subscription.
func (r *Reducer) Close() {
	r.cancel()
	r.submitMu.Lock()
	r.stopped = true
	r.submitMu.Unlock()
	<-r.done
}

func (r *Reducer) enrich(out chan<- outcome, ev events.CreateCommittee) {
	res, err := r.enricher.Enrich(r.ctx, enrich.Request{Committee: ev.Committee, Voting: ev.Voting})
	if err != nil {
		out <- outcome{err: err}
		return
	}
	out <- outcome{committee: res.Committee(ev)}
}

func (r *Reducer) commitLoop() {
	defer close(r.done)
	defer r.closeSubscribers()

	for {
		select {
		case <-r.ctx.Done():
			r.dropPending()
			return
		case c := <-r.queue:
			var res outcome
			if c.enriched != nil {
				select {
				case res = <-c.enriched:
				case <-r.ctx.Done():
					r.logger.Debug("dropping pending creation on shutdown",
						zap.Uint64("seq", c.seq),
						zap.String("ref", c.raw.Ref))
					r.dropPending()
					return
				}
			}
			r.commit(c, res)
		}
	}
}

func (r *Reducer) dropPending() {
	if n := r.pending.Size(); n > 0 {
		r.logger.Info("reducer stopped with uncommitted events", zap.Int("pending", n))
	}
	r.pending.Clear()
}

// commit applies one token to the current snapshot and publishes the result if it changed.
func (r *Reducer) commit(c *commit, res outcome) {
	defer r.advance(c.seq)

	cur := r.current.Load()
	next, err := r.apply(cur, c, res)
	if err != nil {
		r.logFailure(c, err)
		return
	}
	if next == cur {
		return
	}
	if r.validate {
		if verr := next.Validate(); verr != nil {
			r.logger.Error("rejecting snapshot that violates invariants",
				zap.Uint64("seq", c.seq),
				zap.Error(verr))
			return
		}
	}
	r.current.Store(next)
	r.broadcast(next)
	if cur.IsSyncing && !next.IsSyncing {
		r.signalSynced()
	}
}

// apply is the pure (snapshot, event) -> snapshot step. A nil error with next == cur means no-op.
func (r *Reducer) apply(cur *state.Snapshot, c *commit, res outcome) (*state.Snapshot, error) {
	if c.parseErr != nil {
		return cur, c.parseErr
	}

	switch ev := c.event.(type) {
	case events.CreateCommittee:
		if res.err != nil {
			return cur, res.err
		}
		return cur.AddCommittee(c.seq, res.committee)
	case events.RemoveCommittee:
		return cur.RemoveCommittee(c.seq, ev.Committee)
	case events.AddMember:
		return cur.UpsertMember(c.seq, ev.Committee, ev.Member, ev.Stake)
	case events.RemoveMember:
		return cur.RemoveMember(c.seq, ev.Committee, ev.Member)
	case events.SyncStatusSyncing:
		return cur.SetSyncing(c.seq, true), nil
	case events.SyncStatusSynced:
		return cur.SetSyncing(c.seq, false), nil
	case events.Unknown:
		r.logger.Debug("ignoring unknown event",
			zap.Uint64("seq", c.seq),
			zap.String("name", ev.Name))
		return cur, nil
	default:
		return cur, nil
	}
}

func (r *Reducer) logFailure(c *commit, err error) {
	fields := []zap.Field{
		zap.Uint64("seq", c.seq),
		zap.String("event", c.raw.Name),
		zap.String("ref", c.raw.Ref),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, decode.ErrDecode):
		r.logger.Warn("skipping malformed event", fields...)
	case errors.Is(err, enrich.ErrEnrichment):
		r.logger.Warn("dropping committee creation, enrichment failed", fields...)
	case errors.Is(err, state.ErrReferentialMiss):
		r.logger.Debug("ignoring event for absent entity", fields...)
	case errors.Is(err, state.ErrDuplicate):
		r.logger.Debug("ignoring creation of existing committee", fields...)
	default:
		r.logger.Warn("event not applied", fields...)
	}
}

// advance records seq as committed and wakes WaitFor callers.
func (r *Reducer) advance(seq uint64) {
	r.pending.Delete(seq)
	r.committed.Store(seq)

	r.progressMu.Lock()
	close(r.progress)
	r.progress = make(chan struct{})
	r.progressMu.Unlock()
}
