package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMirror struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (m *fakeMirror) SetOnline(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = append(m.online, userID)
	return nil
}

func (m *fakeMirror) SetOffline(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = append(m.offline, userID)
	return nil
}

func (m *fakeMirror) offlineCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.offline)
}

// presenceFixture wires a tracker whose events land on bob, alice's friend.
type presenceFixture struct {
	store    *fakeStore
	registry *Registry
	tracker  *PresenceTracker
	mirror   *fakeMirror
	bob      *fakeSender
}

func newPresenceFixture(t *testing.T, grace time.Duration) *presenceFixture {
	t.Helper()

	st := newFakeStore()
	st.friends["alice"] = []string{"bob"}

	registry := NewRegistry()
	rooms := NewRoomIndex(st)
	dispatcher := NewDispatcher(rooms, registry, testLogger())

	bobConn, bobSender := newTestConn("bob-1", "bob")
	registry.Register(bobConn)
	require.NoError(t, rooms.Join(context.Background(), bobConn, UserTopic("bob")))

	mirror := &fakeMirror{}
	tracker := NewPresenceTracker(st, dispatcher, registry, grace, testLogger())
	tracker.SetMirror(mirror)
	t.Cleanup(tracker.Stop)

	return &presenceFixture{
		store:    st,
		registry: registry,
		tracker:  tracker,
		mirror:   mirror,
		bob:      bobSender,
	}
}

func TestPresenceOnlineNotifiesFriends(t *testing.T) {
	fx := newPresenceFixture(t, 20*time.Millisecond)

	fx.tracker.HandleOnline("alice")

	kinds := fx.bob.kinds(t)
	require.Len(t, kinds, 1)
	assert.Equal(t, EventFriendOnline, kinds[0])
	assert.Equal(t, []string{"alice"}, fx.mirror.online)
}

func TestPresenceOfflineAfterGrace(t *testing.T) {
	fx := newPresenceFixture(t, 20*time.Millisecond)

	fx.tracker.HandleOffline("alice")
	assert.True(t, fx.tracker.PendingOffline("alice"))
	assert.Zero(t, fx.bob.count(), "nothing emitted inside the grace window")

	require.Eventually(t, func() bool {
		return fx.bob.count() == 1
	}, time.Second, 5*time.Millisecond)

	kinds := fx.bob.kinds(t)
	assert.Equal(t, EventFriendOffline, kinds[0])
	assert.False(t, fx.tracker.PendingOffline("alice"))
	assert.Equal(t, 1, fx.mirror.offlineCount())
}

func TestPresenceReconnectWithinGraceEmitsNothing(t *testing.T) {
	fx := newPresenceFixture(t, 50*time.Millisecond)

	fx.tracker.HandleOffline("alice")
	fx.tracker.HandleOnline("alice")

	assert.False(t, fx.tracker.PendingOffline("alice"))
	time.Sleep(120 * time.Millisecond)
	assert.Zero(t, fx.bob.count(), "reconnect inside grace suppresses both events")
}

func TestPresenceRegistryWinsTimerRace(t *testing.T) {
	fx := newPresenceFixture(t, 20*time.Millisecond)

	// The user is back online by the time the timer fires; the registry is
	// authoritative, so no offline goes out.
	conn, _ := newTestConn("alice-1", "alice")
	fx.registry.Register(conn)

	fx.tracker.HandleOffline("alice")
	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, fx.bob.count())
	assert.Zero(t, fx.mirror.offlineCount())
}

func TestPresenceFlappingCollapsesTimers(t *testing.T) {
	fx := newPresenceFixture(t, 30*time.Millisecond)

	for i := 0; i < 5; i++ {
		fx.tracker.HandleOffline("alice")
	}

	require.Eventually(t, func() bool {
		return fx.bob.count() >= 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, fx.bob.count(), "repeated disconnects collapse into one offline")
}

func TestPresenceZeroGraceStillUsesTimerPath(t *testing.T) {
	fx := newPresenceFixture(t, 0)

	fx.tracker.HandleOffline("alice")

	// Even with no grace the emission goes through the scheduled task, so the
	// registry re-check still applies and the event arrives asynchronously.
	require.Eventually(t, func() bool {
		return fx.bob.count() == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, EventFriendOffline, fx.bob.kinds(t)[0])
}

func TestPresenceStopCancelsPending(t *testing.T) {
	fx := newPresenceFixture(t, 20*time.Millisecond)

	fx.tracker.HandleOffline("alice")
	fx.tracker.Stop()

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, fx.bob.count())
	assert.False(t, fx.tracker.PendingOffline("alice"))
}

func TestPresenceFriendResolutionFailure(t *testing.T) {
	fx := newPresenceFixture(t, 20*time.Millisecond)
	fx.store.friendsErr = errStoreDown

	fx.tracker.HandleOnline("alice")
	assert.Zero(t, fx.bob.count(), "no partial fan-out when friends cannot be resolved")
}

func TestPresenceRefreshMirror(t *testing.T) {
	fx := newPresenceFixture(t, 20*time.Millisecond)

	fx.tracker.RefreshMirror(context.Background(), []string{"alice", "bob"})
	assert.Equal(t, []string{"alice", "bob"}, fx.mirror.online)
}
