package roles

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/p2pmodels/committees/pkg/retry"
	"github.com/p2pmodels/committees/pkg/rpc"
)

type fakeFetcher struct {
	mu       sync.Mutex
	roles    []rpc.Role
	failures int
	calls    int
}

func (f *fakeFetcher) Roles(context.Context) ([]rpc.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("node unavailable")
	}
	return append([]rpc.Role(nil), f.roles...), nil
}

func (f *fakeFetcher) set(roles ...rpc.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles = roles
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestHashMatchesKeccak256(t *testing.T) {
	// keccak256("") is a well known constant.
	assert.Equal(t, "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", Hash(""))
	assert.Len(t, Hash("ADD_MEMBER_ROLE"), 66)
	assert.NotEqual(t, Hash("ADD_MEMBER_ROLE"), Hash("REMOVE_MEMBER_ROLE"))
}

func TestRegistryRefreshAndLookup(t *testing.T) {
	explicit := "0x" + "ab" + "00000000000000000000000000000000000000000000000000000000000000"
	fetcher := &fakeFetcher{roles: []rpc.Role{
		{ID: "REMOVE_MEMBER_ROLE", Name: "Remove members"},
		{ID: "ADD_MEMBER_ROLE", Name: "Add members"},
		{ID: "MANAGE_ROLE", Bytes: explicit},
		{ID: "BROKEN_ROLE", Bytes: "0x1234"},
	}}
	reg := NewRegistry(fetcher, fastRetry(), zaptest.NewLogger(t))

	_, loaded := reg.LoadedAt()
	assert.False(t, loaded)

	require.NoError(t, reg.Refresh(context.Background()))

	all := reg.All()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"ADD_MEMBER_ROLE", "MANAGE_ROLE", "REMOVE_MEMBER_ROLE"}, []string{all[0].ID, all[1].ID, all[2].ID})

	role, ok := reg.Lookup(Hash("ADD_MEMBER_ROLE"))
	require.True(t, ok)
	assert.Equal(t, "Add members", role.Label)

	role, ok = reg.Lookup("REMOVE_MEMBER_ROLE")
	require.True(t, ok)
	assert.Equal(t, "Remove members", role.Label)

	role, ok = reg.Lookup("0xAB00000000000000000000000000000000000000000000000000000000000000")
	require.True(t, ok)
	assert.Equal(t, "MANAGE_ROLE", role.Label, "label falls back to the id")

	_, ok = reg.Lookup("BROKEN_ROLE")
	assert.False(t, ok)

	_, loaded = reg.LoadedAt()
	assert.True(t, loaded)
}

func TestRegistryRefreshDropsRemovedRoles(t *testing.T) {
	fetcher := &fakeFetcher{roles: []rpc.Role{{ID: "A_ROLE"}, {ID: "B_ROLE"}}}
	reg := NewRegistry(fetcher, fastRetry(), zaptest.NewLogger(t))
	require.NoError(t, reg.Refresh(context.Background()))

	fetcher.set(rpc.Role{ID: "B_ROLE"})
	require.NoError(t, reg.Refresh(context.Background()))

	all := reg.All()
	require.Len(t, all, 1)
	assert.Equal(t, "B_ROLE", all[0].ID)
}

func TestRegistryRefreshRetriesAndKeepsPreviousOnFailure(t *testing.T) {
	fetcher := &fakeFetcher{roles: []rpc.Role{{ID: "A_ROLE"}}, failures: 2}
	reg := NewRegistry(fetcher, fastRetry(), zaptest.NewLogger(t))

	require.NoError(t, reg.Refresh(context.Background()))
	assert.Equal(t, 3, fetcher.callCount())

	fetcher.mu.Lock()
	fetcher.failures = 10
	fetcher.mu.Unlock()
	require.Error(t, reg.Refresh(context.Background()))
	assert.Len(t, reg.All(), 1)
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	reg := NewRegistry(&fakeFetcher{}, fastRetry(), nil)
	_, err := NewScheduler(context.Background(), reg, "not a spec", nil)
	require.Error(t, err)
}

func TestSchedulerRefreshesOnCron(t *testing.T) {
	fetcher := &fakeFetcher{roles: []rpc.Role{{ID: "A_ROLE"}}}
	reg := NewRegistry(fetcher, fastRetry(), nil)
	s, err := NewScheduler(context.Background(), reg, "* * * * * *", zaptest.NewLogger(t))
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return fetcher.callCount() > 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestWatchSyncRefreshesWhenCaughtUp(t *testing.T) {
	fetcher := &fakeFetcher{roles: []rpc.Role{{ID: "A_ROLE"}}}
	reg := NewRegistry(fetcher, fastRetry(), nil)
	s, err := NewScheduler(context.Background(), reg, "", zaptest.NewLogger(t))
	require.NoError(t, err)

	synced := make(chan struct{})
	done := make(chan struct{})
	go func() {
		s.WatchSync(context.Background(), synced)
		close(done)
	}()

	assert.Equal(t, 0, fetcher.callCount())
	synced <- struct{}{}
	synced <- struct{}{}
	close(synced)
	<-done

	assert.Equal(t, 2, fetcher.callCount())
	assert.Len(t, reg.All(), 1)
}

func TestWatchSyncStopsWithContext(t *testing.T) {
	reg := NewRegistry(&fakeFetcher{}, fastRetry(), nil)
	s, err := NewScheduler(context.Background(), reg, "", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.WatchSync(ctx, make(chan struct{}))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WatchSync did not return after cancel")
	}
}
