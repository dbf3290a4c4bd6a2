package types

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/p2pmodels/committees/pkg/decode"
	"github.com/p2pmodels/committees/pkg/enrich"
	"github.com/p2pmodels/committees/pkg/events"
	"github.com/p2pmodels/committees/pkg/redis"
	"github.com/p2pmodels/committees/pkg/reducer"
	"github.com/p2pmodels/committees/pkg/roles"
	"github.com/p2pmodels/committees/pkg/rpc"
	"github.com/p2pmodels/committees/pkg/source"
	"github.com/p2pmodels/committees/pkg/state"
)

// Appender re-injects an event into the event source.
type Appender interface {
	Append(ctx context.Context, name string, payload decode.Payload) (string, error)
}

type App struct {
	// Reducer owns the committees snapshot.
	Reducer *reducer.Reducer
	// Enricher resolves new committees; closed on shutdown.
	Enricher *enrich.Enricher
	// Source feeds the reducer. Nil when events only arrive through the admin API.
	Source source.Source
	// Appender backs POST /admin/events. Nil means events are submitted to the reducer directly.
	Appender Appender

	Roles     *roles.Registry
	Scheduler *roles.Scheduler

	// Permissions serves per-committee ACL grants. Nil when no ACL is configured.
	Permissions rpc.PermissionReader
	// RPCClient is closed on shutdown.
	RPCClient   *rpc.HTTPClient

	// RedisClient announces snapshots on SnapshotChannel. Optional.
	RedisClient     *redis.Client
	SnapshotChannel string

	// Registry is the committees app address, exposed on /health.
	Registry common.Address

	AdminToken string
	JWTSecret  []byte

	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// SubmitEvent is the operator path for injecting an event: through the source when one
// can be appended to, so the event keeps its place in the log, otherwise straight into
// the reducer.
func (a *App) SubmitEvent(ctx context.Context, name string, payload decode.Payload) (string, error) {
	if a.Appender != nil {
		return a.Appender.Append(ctx, name, payload)
	}
	if events.DetectKind(name) == events.KindUnknown {
		return "", errors.New("unknown event " + name)
	}
	seq, err := a.Reducer.Submit(events.Raw{Name: name, Payload: payload, Ref: "admin"})
	if err != nil {
		return "", err
	}
	return "seq:" + strconv.FormatUint(seq, 10), nil
}

// Start runs the event pump, the snapshot announcer, the role scheduler and the HTTP
// server until ctx is done, then shuts everything down.
func (a *App) Start(ctx context.Context) {
	var wg sync.WaitGroup

	if a.Source != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.pump(ctx)
		}()
	}

	if a.RedisClient != nil && a.SnapshotChannel != "" {
		updates, cancel := a.Reducer.Subscribe(16)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			AnnounceSnapshots(ctx, updates, a.RedisClient, a.SnapshotChannel)
		}()
	}

	if a.Scheduler != nil {
		synced, cancel := a.Reducer.WatchSynced()
		wg.Add(2)
		go func() {
			defer wg.Done()
			a.loadRoles(ctx)
		}()
		go func() {
			defer wg.Done()
			defer cancel()
			a.Scheduler.WatchSync(ctx, synced)
		}()
		a.Scheduler.Start()
	}

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = a.Server.Shutdown(shutdownCtx)
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	a.Reducer.Close()
	wg.Wait()
	if a.Enricher != nil {
		a.Enricher.Close()
	}
	if a.RPCClient != nil {
		a.RPCClient.Close()
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}

// loadRoles runs the first role refresh next to the HTTP server; /roles serves an empty
// catalog until it lands.
func (a *App) loadRoles(ctx context.Context) {
	if err := a.Roles.Refresh(ctx); err != nil && ctx.Err() == nil {
		a.Logger.Warn("Initial role load failed, will retry on schedule", zap.Error(err))
	}
}

// pump feeds the source into the reducer.
func (a *App) pump(ctx context.Context) {
	in, errs := a.Source.Events(ctx)
	if err := a.Reducer.Run(ctx, in); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, reducer.ErrStopped) {
		a.Logger.Error("Event pump stopped", zap.Error(err))
	}
	for err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error("Event source failed", zap.Error(err))
		}
	}
}

// Publisher is the Pub/Sub side of the Redis client.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{})
}

// AnnounceSnapshots publishes a JSON summary of every snapshot it receives.
func AnnounceSnapshots(ctx context.Context, updates <-chan *state.Snapshot, pub Publisher, channel string) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			msg, err := SnapshotAnnouncement(snap)
			if err != nil {
				continue
			}
			pub.Publish(ctx, channel, msg)
		}
	}
}
