package types

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/p2pmodels/committees/pkg/enrich"
	"github.com/p2pmodels/committees/pkg/reducer"
	"github.com/p2pmodels/committees/pkg/retry"
	"github.com/p2pmodels/committees/pkg/roles"
	"github.com/p2pmodels/committees/pkg/rpc"
	"github.com/p2pmodels/committees/pkg/state"
)

type recordingPublisher struct {
	mu       sync.Mutex
	channels []string
	messages []string
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, message interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	p.messages = append(p.messages, message.(string))
}

func TestAnnounceSnapshots(t *testing.T) {
	updates := make(chan *state.Snapshot, 2)
	updates <- state.Empty()
	updates <- &state.Snapshot{Seq: 7, Committees: []state.Committee{}, IsSyncing: true}
	close(updates)

	pub := &recordingPublisher{}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	AnnounceSnapshots(ctx, updates, pub, "committees:snapshot.published")

	require.Len(t, pub.messages, 2)
	assert.Equal(t, []string{"committees:snapshot.published", "committees:snapshot.published"}, pub.channels)

	var doc struct {
		Seq        uint64            `json:"seq"`
		IsSyncing  bool              `json:"isSyncing"`
		Committees []json.RawMessage `json:"committees"`
	}
	require.NoError(t, json.Unmarshal([]byte(pub.messages[1]), &doc))
	assert.Equal(t, uint64(7), doc.Seq)
	assert.True(t, doc.IsSyncing)
	assert.NotNil(t, doc.Committees)
}

type nopEnricher struct{}

func (nopEnricher) Enrich(context.Context, enrich.Request) (enrich.Result, error) {
	return enrich.Result{}, nil
}

// blockingFetcher holds every role load until ctx is done.
type blockingFetcher struct {
	started chan struct{}
	once    sync.Once
}

func (f *blockingFetcher) Roles(ctx context.Context) ([]rpc.Role, error) {
	f.once.Do(func() { close(f.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestStartServesWhileRolesLoad(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &blockingFetcher{started: make(chan struct{})}
	registry := roles.NewRegistry(fetcher, retry.Config{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}, logger)
	scheduler, err := roles.NewScheduler(ctx, registry, "", logger)
	require.NoError(t, err)

	addr := freeAddr(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	app := &App{
		Reducer:   reducer.New(ctx, nopEnricher{}, reducer.Config{}, logger),
		Roles:     registry,
		Scheduler: scheduler,
		Logger:    logger,
		Server:    &http.Server{Addr: addr, Handler: mux},
	}
	stopped := make(chan struct{})
	go func() {
		app.Start(ctx)
		close(stopped)
	}()

	select {
	case <-fetcher.started:
	case <-time.After(2 * time.Second):
		t.Fatal("initial role load never started")
	}
	assert.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.Empty(t, registry.All())

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
