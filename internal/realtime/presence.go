package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FriendSource resolves the set of users interested in a presence transition.
// Friends change rarely enough that resolving per transition is fine.
type FriendSource interface {
	GetFriendIDs(ctx context.Context, userID string) ([]string, error)
}

// PresenceMirror reflects confirmed transitions into a shared cache (Redis)
// so sibling processes and the HTTP API can answer "who is online" without
// asking every registry. Failures are logged, never propagated.
type PresenceMirror interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
}

const presenceResolveTimeout = 5 * time.Second

// PresenceTracker turns liveness transitions into friend-online /
// friend-offline events. Offline emissions are debounced: a disconnect only
// emits after a grace window with no reconnect, so page reloads and brief
// network drops do not flap presence.
type PresenceTracker struct {
	friends    FriendSource
	dispatcher *Dispatcher
	registry   *Registry
	mirror     PresenceMirror
	grace      time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
}

func NewPresenceTracker(friends FriendSource, dispatcher *Dispatcher, registry *Registry, grace time.Duration, logger *slog.Logger) *PresenceTracker {
	return &PresenceTracker{
		friends:    friends,
		dispatcher: dispatcher,
		registry:   registry,
		grace:      grace,
		logger:     logger,
		pending:    make(map[string]*time.Timer),
	}
}

// SetMirror attaches the shared presence cache.
func (p *PresenceTracker) SetMirror(mirror PresenceMirror) {
	p.mirror = mirror
}

// HandleOnline consumes a 0→1 liveness transition. If an offline emission is
// still pending for the user, the reconnect cancels it and nothing is
// emitted at all.
func (p *PresenceTracker) HandleOnline(userID string) {
	p.mu.Lock()
	if timer, ok := p.pending[userID]; ok {
		timer.Stop()
		delete(p.pending, userID)
		p.mu.Unlock()
		p.logger.Debug("Reconnect within grace window, presence unchanged", "userID", userID)
		return
	}
	p.mu.Unlock()

	p.emit(userID, EventFriendOnline)
	if p.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), presenceResolveTimeout)
		defer cancel()
		if err := p.mirror.SetOnline(ctx, userID); err != nil {
			p.logger.Error("Failed to mirror online status", "userID", userID, "error", err)
		}
	}
}

// HandleOffline consumes a 1→0 liveness transition by scheduling a
// cancellable offline emission after the grace window.
func (p *PresenceTracker) HandleOffline(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if timer, ok := p.pending[userID]; ok {
		timer.Stop()
	}
	p.pending[userID] = time.AfterFunc(p.grace, func() {
		p.fireOffline(userID)
	})
}

func (p *PresenceTracker) fireOffline(userID string) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	delete(p.pending, userID)
	p.mu.Unlock()

	// A reconnect may have raced the timer; the registry is authoritative.
	if p.registry.IsOnline(userID) {
		p.logger.Debug("User reconnected before offline fired", "userID", userID)
		return
	}

	p.emit(userID, EventFriendOffline)
	if p.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), presenceResolveTimeout)
		defer cancel()
		if err := p.mirror.SetOffline(ctx, userID); err != nil {
			p.logger.Error("Failed to mirror offline status", "userID", userID, "error", err)
		}
	}
}

func (p *PresenceTracker) emit(userID string, kind EventKind) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceResolveTimeout)
	defer cancel()

	friendIDs, err := p.friends.GetFriendIDs(ctx, userID)
	if err != nil {
		p.logger.Error("Failed to resolve friends for presence event", "userID", userID, "kind", kind, "error", err)
		return
	}

	event := NewEvent(kind, PresenceData{UserID: userID})
	for _, friendID := range friendIDs {
		p.dispatcher.Publish(UserTopic(friendID), event)
	}
	p.logger.Debug("Presence event emitted", "userID", userID, "kind", kind, "friends", len(friendIDs))
}

// RefreshMirror re-asserts the online status of currently connected users so
// their mirror entries do not expire mid-session. Called from the heartbeat
// sweep.
func (p *PresenceTracker) RefreshMirror(ctx context.Context, userIDs []string) {
	if p.mirror == nil {
		return
	}
	for _, userID := range userIDs {
		if err := p.mirror.SetOnline(ctx, userID); err != nil {
			p.logger.Debug("Failed to refresh presence mirror", "userID", userID, "error", err)
		}
	}
}

// PendingOffline reports whether an offline emission is scheduled for the
// user.
func (p *PresenceTracker) PendingOffline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[userID]
	return ok
}

// Stop cancels every pending offline task. No emissions fire after Stop.
func (p *PresenceTracker) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	for userID, timer := range p.pending {
		timer.Stop()
		delete(p.pending, userID)
	}
}
