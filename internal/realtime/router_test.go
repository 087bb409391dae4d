package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/EvaLM99/PictText/internal/models"
)

type fakeJournal struct {
	mu    sync.Mutex
	kinds []EventKind
}

func (j *fakeJournal) Append(event *Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.kinds = append(j.kinds, event.Kind)
}

func (j *fakeJournal) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.kinds)
}

type routerFixture struct {
	store    *fakeStore
	registry *Registry
	rooms    *RoomIndex
	presence *PresenceTracker
	router   *Router
	journal  *fakeJournal

	convID primitive.ObjectID
	alice  primitive.ObjectID
	bob    primitive.ObjectID
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	fx := &routerFixture{
		store:   newFakeStore(),
		journal: &fakeJournal{},
		convID:  primitive.NewObjectID(),
		alice:   primitive.NewObjectID(),
		bob:     primitive.NewObjectID(),
	}
	fx.store.participants[fx.convID.Hex()] = []string{fx.alice.Hex(), fx.bob.Hex()}

	fx.registry = NewRegistry()
	fx.rooms = NewRoomIndex(fx.store)
	dispatcher := NewDispatcher(fx.rooms, fx.registry, testLogger())
	fx.presence = NewPresenceTracker(fx.store, dispatcher, fx.registry, 20*time.Millisecond, testLogger())
	reconciler := NewReconciler(fx.store, dispatcher, testLogger())
	fx.router = NewRouter(fx.registry, fx.rooms, fx.presence, reconciler, dispatcher, 30*time.Second, testLogger())
	fx.router.SetJournal(fx.journal)
	t.Cleanup(fx.presence.Stop)
	return fx
}

// connect opens a connection for the user and subscribes its user topic, the
// way a real client does right after the websocket opens.
func (fx *routerFixture) connect(t *testing.T, connID string, userID primitive.ObjectID) (*Connection, *fakeSender) {
	t.Helper()
	conn, sender := newTestConn(connID, userID.Hex())
	fx.router.OnConnect(conn)
	require.NoError(t, fx.rooms.Join(context.Background(), conn, UserTopic(userID.Hex())))
	return conn, sender
}

func inbound(t *testing.T, kind EventKind, data any) []byte {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		raw = b
	}
	b, err := json.Marshal(InboundEvent{Type: kind, Data: raw})
	require.NoError(t, err)
	return b
}

// errorCode pulls the code field out of a delivered error event.
func errorCode(t *testing.T, ev receivedEvent) string {
	t.Helper()
	require.Equal(t, EventError, ev.Kind)
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &body))
	return body.Code
}

func TestRouterPresenceLifecycle(t *testing.T) {
	fx := newRouterFixture(t)
	fx.store.friends[fx.alice.Hex()] = []string{fx.bob.Hex()}

	_, bobSender := fx.connect(t, "b1", fx.bob)

	// First tab: one friend-online for bob.
	fx.connect(t, "a1", fx.alice)
	require.Eventually(t, func() bool { return bobSender.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, EventFriendOnline, bobSender.kinds(t)[0])

	// Second tab: no transition, nothing new.
	fx.connect(t, "a2", fx.alice)
	assert.Equal(t, 1, bobSender.count())

	// Closing one of two tabs is not a transition either.
	fx.router.OnDisconnect("a1")
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, bobSender.count())

	// Closing the last tab emits friend-offline once, after the grace window.
	fx.router.OnDisconnect("a2")
	require.Eventually(t, func() bool { return bobSender.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, EventFriendOffline, bobSender.kinds(t)[1])

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 2, bobSender.count(), "no duplicate offline")
}

func TestRouterReloadSuppressesPresenceFlap(t *testing.T) {
	fx := newRouterFixture(t)
	fx.store.friends[fx.alice.Hex()] = []string{fx.bob.Hex()}

	_, bobSender := fx.connect(t, "b1", fx.bob)
	fx.connect(t, "a1", fx.alice)
	require.Eventually(t, func() bool { return bobSender.count() == 1 }, time.Second, 5*time.Millisecond)

	// Page reload: disconnect then reconnect inside the grace window.
	fx.router.OnDisconnect("a1")
	fx.connect(t, "a2", fx.alice)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, bobSender.count(), "reload produced no presence events")
}

func TestRouterDisconnectPurgesSubscriptions(t *testing.T) {
	fx := newRouterFixture(t)

	conn, _ := fx.connect(t, "a1", fx.alice)
	fx.router.HandleInbound(context.Background(), conn, inbound(t, EventJoinConversation, JoinConversationData{ConversationID: fx.convID.Hex()}))
	require.True(t, fx.rooms.IsSubscribed("a1", ConversationTopic(fx.convID.Hex())))

	fx.router.OnDisconnect("a1")
	assert.Empty(t, fx.rooms.TopicsFor("a1"))
	assert.False(t, fx.registry.IsOnline(fx.alice.Hex()))
}

func TestRouterHandleInbound(t *testing.T) {
	fx := newRouterFixture(t)
	ctx := context.Background()

	t.Run("malformed payload", func(t *testing.T) {
		conn, sender := fx.connect(t, "m1", fx.alice)
		fx.router.HandleInbound(ctx, conn, []byte("{not json"))
		evs := sender.events(t)
		require.Len(t, evs, 1)
		assert.Equal(t, "INVALID_EVENT", errorCode(t, evs[0]))
		fx.router.OnDisconnect("m1")
	})

	t.Run("unknown event type", func(t *testing.T) {
		conn, sender := fx.connect(t, "m2", fx.alice)
		fx.router.HandleInbound(ctx, conn, inbound(t, "speak", nil))
		evs := sender.events(t)
		require.Len(t, evs, 1)
		assert.Equal(t, "UNKNOWN_EVENT", errorCode(t, evs[0]))
		fx.router.OnDisconnect("m2")
	})

	t.Run("join requires conversation id", func(t *testing.T) {
		conn, sender := fx.connect(t, "m3", fx.alice)
		fx.router.HandleInbound(ctx, conn, inbound(t, EventJoinConversation, JoinConversationData{}))
		evs := sender.events(t)
		require.Len(t, evs, 1)
		assert.Equal(t, "INVALID_EVENT", errorCode(t, evs[0]))
		fx.router.OnDisconnect("m3")
	})

	t.Run("join rejects non participant", func(t *testing.T) {
		eve := primitive.NewObjectID()
		conn, sender := newTestConn("m4", eve.Hex())
		fx.router.OnConnect(conn)
		fx.router.HandleInbound(ctx, conn, inbound(t, EventJoinConversation, JoinConversationData{ConversationID: fx.convID.Hex()}))
		evs := sender.events(t)
		require.Len(t, evs, 1)
		assert.Equal(t, "NOT_A_PARTICIPANT", errorCode(t, evs[0]))
		assert.False(t, fx.rooms.IsSubscribed("m4", ConversationTopic(fx.convID.Hex())))
		fx.router.OnDisconnect("m4")
	})

	t.Run("join unknown conversation", func(t *testing.T) {
		conn, sender := fx.connect(t, "m5", fx.alice)
		fx.router.HandleInbound(ctx, conn, inbound(t, EventJoinConversation, JoinConversationData{ConversationID: "missing"}))
		evs := sender.events(t)
		require.Len(t, evs, 1)
		assert.Equal(t, "CONVERSATION_NOT_FOUND", errorCode(t, evs[0]))
		fx.router.OnDisconnect("m5")
	})

	t.Run("store outage is retryable", func(t *testing.T) {
		fx.store.participantsErr = errStoreDown
		defer func() { fx.store.participantsErr = nil }()

		conn, sender := fx.connect(t, "m6", fx.alice)
		fx.router.HandleInbound(ctx, conn, inbound(t, EventJoinConversation, JoinConversationData{ConversationID: fx.convID.Hex()}))
		evs := sender.events(t)
		require.Len(t, evs, 1)
		assert.Equal(t, "JOIN_RETRYABLE", errorCode(t, evs[0]))
		fx.router.OnDisconnect("m6")
	})

	t.Run("leave conversation", func(t *testing.T) {
		conn, _ := fx.connect(t, "m7", fx.alice)
		fx.router.HandleInbound(ctx, conn, inbound(t, EventJoinConversation, JoinConversationData{ConversationID: fx.convID.Hex()}))
		require.True(t, fx.rooms.IsSubscribed("m7", ConversationTopic(fx.convID.Hex())))

		fx.router.HandleInbound(ctx, conn, inbound(t, EventLeaveConversation, JoinConversationData{ConversationID: fx.convID.Hex()}))
		assert.False(t, fx.rooms.IsSubscribed("m7", ConversationTopic(fx.convID.Hex())))
		fx.router.OnDisconnect("m7")
	})

	t.Run("seen ack for unknown message is dropped silently", func(t *testing.T) {
		conn, sender := fx.connect(t, "m8", fx.alice)
		fx.router.HandleInbound(ctx, conn, inbound(t, EventSeenMessage, SeenMessageData{MessageID: primitive.NewObjectID().Hex()}))
		assert.Zero(t, sender.count())
		fx.router.OnDisconnect("m8")
	})

	t.Run("heartbeat refreshes liveness", func(t *testing.T) {
		conn, _ := fx.connect(t, "m9", fx.alice)
		cutoff := time.Now()
		fx.router.HandleInbound(ctx, conn, inbound(t, EventHeartbeat, nil))
		for _, c := range fx.registry.Stale(cutoff) {
			assert.NotEqual(t, "m9", c.ID)
		}
		fx.router.OnDisconnect("m9")
	})
}

func TestRouterJoinMarksConversationSeen(t *testing.T) {
	fx := newRouterFixture(t)

	msg := newMessage(fx.convID, fx.alice, "unread")
	fx.store.addMessage(msg)

	conn, sender := fx.connect(t, "b1", fx.bob)
	fx.router.HandleInbound(context.Background(), conn, inbound(t, EventJoinConversation, JoinConversationData{ConversationID: fx.convID.Hex()}))

	require.True(t, fx.rooms.IsSubscribed("b1", ConversationTopic(fx.convID.Hex())))
	receipts := fx.store.receipts(msg.ID.Hex())
	require.Len(t, receipts, 1)
	assert.Equal(t, fx.bob, receipts[0].UserID)

	// The joining connection observes its own message_seen fan-out.
	kinds := sender.kinds(t)
	require.Len(t, kinds, 1)
	assert.Equal(t, EventMessageSeen, kinds[0])
}

func TestRouterMessageCreatedFanOut(t *testing.T) {
	fx := newRouterFixture(t)
	ctx := context.Background()

	aliceConn, aliceSender := fx.connect(t, "a1", fx.alice)
	_, bobSender := fx.connect(t, "b1", fx.bob)
	fx.router.HandleInbound(ctx, aliceConn, inbound(t, EventJoinConversation, JoinConversationData{ConversationID: fx.convID.Hex()}))

	msg := newMessage(fx.convID, fx.bob, "hello")
	conv := &models.Conversation{
		ID:           fx.convID,
		Participants: []primitive.ObjectID{fx.alice, fx.bob},
	}
	fx.router.OnMessageCreated(msg, conv)

	// Alice is in the conversation topic and her own user topic: new_message
	// plus the list preview refresh.
	assert.ElementsMatch(t, []EventKind{EventNewMessage, EventLastMessageUpdated}, aliceSender.kinds(t))

	// Bob only holds his user topic: preview refresh only.
	assert.Equal(t, []EventKind{EventLastMessageUpdated}, bobSender.kinds(t))

	assert.Equal(t, 2, fx.journal.count())
}

func TestRouterMessageUpdatedRefreshesPreviewOnlyForLastMessage(t *testing.T) {
	fx := newRouterFixture(t)

	_, bobSender := fx.connect(t, "b1", fx.bob)

	msg := newMessage(fx.convID, fx.alice, "edited")
	other := primitive.NewObjectID()
	conv := &models.Conversation{
		ID:            fx.convID,
		Participants:  []primitive.ObjectID{fx.alice, fx.bob},
		LastMessageID: &other,
	}

	fx.router.OnMessageUpdated(msg, conv)
	assert.Zero(t, bobSender.count(), "editing a non-last message leaves previews alone")

	conv.LastMessageID = &msg.ID
	fx.router.OnMessageUpdated(msg, conv)
	assert.Equal(t, []EventKind{EventLastMessageUpdated}, bobSender.kinds(t))
}

func TestRouterMessageDeletedFanOut(t *testing.T) {
	fx := newRouterFixture(t)

	_, aliceSender := fx.connect(t, "a1", fx.alice)
	_, bobSender := fx.connect(t, "b1", fx.bob)

	msg := newMessage(fx.convID, fx.alice, "oops")
	newLast := newMessage(fx.convID, fx.bob, "previous")
	conv := &models.Conversation{
		ID:            fx.convID,
		Participants:  []primitive.ObjectID{fx.alice, fx.bob},
		LastMessageID: &msg.ID,
	}

	fx.router.OnMessageDeleted(msg, conv, "forEveryone", fx.alice.Hex(), newLast)

	for _, sender := range []*fakeSender{aliceSender, bobSender} {
		kinds := sender.kinds(t)
		assert.ElementsMatch(t, []EventKind{EventMessageDeleted, EventLastMessageUpdated}, kinds)
	}

	evs := aliceSender.events(t)
	var body MessageDeletedData
	for _, ev := range evs {
		if ev.Kind == EventMessageDeleted {
			require.NoError(t, json.Unmarshal(ev.Data, &body))
		}
	}
	assert.Equal(t, msg.ID.Hex(), body.MessageID)
	assert.Equal(t, "forEveryone", body.DeleteType)
	assert.Equal(t, fx.alice.Hex(), body.UserID)
}

func TestRouterConversationCreatedReachesUnsubscribedUsers(t *testing.T) {
	fx := newRouterFixture(t)

	// Bob has a live connection but no subscriptions at all.
	conn, bobSender := newTestConn("b1", fx.bob.Hex())
	fx.router.OnConnect(conn)

	conv := &models.Conversation{
		ID:           primitive.NewObjectID(),
		Participants: []primitive.ObjectID{fx.alice, fx.bob},
	}
	first := newMessage(conv.ID, fx.alice, "welcome")
	fx.router.OnConversationCreated(conv, first)

	kinds := bobSender.kinds(t)
	require.Len(t, kinds, 1)
	assert.Equal(t, EventNewConversation, kinds[0])
}

func TestRouterConversationMetadataFanOut(t *testing.T) {
	fx := newRouterFixture(t)

	_, bobSender := fx.connect(t, "b1", fx.bob)
	conv := &models.Conversation{
		ID:           fx.convID,
		Participants: []primitive.ObjectID{fx.alice, fx.bob},
		Name:         "weekend plans",
		Color:        "#00FF00",
	}

	fx.router.OnConversationRenamed(conv)
	fx.router.OnConversationColorChanged(conv)
	fx.router.OnConversationPictureChanged(conv)

	assert.Equal(t, []EventKind{
		EventConversationName,
		EventConversationColor,
		EventConversationPicture,
	}, bobSender.kinds(t))
	assert.Equal(t, 3, fx.journal.count())
}

func TestRouterSweeperForcesDisconnect(t *testing.T) {
	fx := newRouterFixture(t)

	registry := fx.registry
	dispatcher := NewDispatcher(fx.rooms, registry, testLogger())
	reconciler := NewReconciler(fx.store, dispatcher, testLogger())
	router := NewRouter(registry, fx.rooms, fx.presence, reconciler, dispatcher, 10*time.Millisecond, testLogger())

	conn, sender := newTestConn("a1", fx.alice.Hex())
	router.OnConnect(conn)
	require.True(t, registry.IsOnline(fx.alice.Hex()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go router.RunSweeper(ctx)

	// No heartbeats arrive, so three intervals later the sweep closes and
	// deregisters the connection.
	require.Eventually(t, func() bool {
		return !registry.IsOnline(fx.alice.Hex())
	}, time.Second, 5*time.Millisecond)
	sender.mu.Lock()
	closed := sender.closed
	sender.mu.Unlock()
	assert.True(t, closed)
}
