package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/EvaLM99/PictText/internal/models"
	"github.com/EvaLM99/PictText/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSender records every frame delivered to one connection.
type fakeSender struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	failSend bool
}

func (s *fakeSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSend || s.closed {
		return ErrClientDisconnected
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *fakeSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// receivedEvent is the decoded shape of one delivered frame.
type receivedEvent struct {
	ID        string          `json:"id"`
	Kind      EventKind       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func (s *fakeSender) events(t *testing.T) []receivedEvent {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]receivedEvent, 0, len(s.frames))
	for _, f := range s.frames {
		var ev receivedEvent
		require.NoError(t, json.Unmarshal(f, &ev))
		out = append(out, ev)
	}
	return out
}

func (s *fakeSender) kinds(t *testing.T) []EventKind {
	t.Helper()
	evs := s.events(t)
	kinds := make([]EventKind, 0, len(evs))
	for _, ev := range evs {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func newTestConn(id, userID string) (*Connection, *fakeSender) {
	sender := &fakeSender{}
	return NewConnection(id, userID, sender), sender
}

// fakeStore backs the room index, presence tracker and reconciler in tests.
type fakeStore struct {
	mu           sync.Mutex
	participants map[string][]string
	friends      map[string][]string
	messages     map[string]*models.Message

	participantsErr error
	friendsErr      error
	upsertErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		participants: make(map[string][]string),
		friends:      make(map[string][]string),
		messages:     make(map[string]*models.Message),
	}
}

func (f *fakeStore) GetConversationParticipants(_ context.Context, conversationID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.participantsErr != nil {
		return nil, f.participantsErr
	}
	p, ok := f.participants[conversationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) GetFriendIDs(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.friendsErr != nil {
		return nil, f.friendsErr
	}
	return f.friends[userID], nil
}

func (f *fakeStore) GetMessage(_ context.Context, messageID string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (f *fakeStore) GetUnseenMessages(_ context.Context, conversationID, userID string) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, store.ErrInvalidID
	}
	var unseen []*models.Message
	for _, msg := range f.messages {
		if msg.ConversationID.Hex() != conversationID || msg.DeletedForEveryone {
			continue
		}
		if msg.SenderID == uid || msg.SeenByUser(uid) {
			continue
		}
		cp := *msg
		unseen = append(unseen, &cp)
	}
	return unseen, nil
}

func (f *fakeStore) UpsertSeenReceipt(_ context.Context, messageID, userID string, seenAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	msg, ok := f.messages[messageID]
	if !ok {
		return store.ErrNotFound
	}
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return store.ErrInvalidID
	}
	for i, r := range msg.SeenBy {
		if r.UserID == uid {
			msg.SeenBy[i].SeenAt = seenAt
			return nil
		}
	}
	msg.SeenBy = append(msg.SeenBy, models.SeenReceipt{UserID: uid, SeenAt: seenAt})
	return nil
}

func (f *fakeStore) addMessage(msg *models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[msg.ID.Hex()] = msg
}

func (f *fakeStore) receipts(messageID string) []models.SeenReceipt {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok {
		return nil
	}
	out := make([]models.SeenReceipt, len(msg.SeenBy))
	copy(out, msg.SeenBy)
	return out
}

var errStoreDown = errors.New("store down")

func newMessage(conversationID primitive.ObjectID, sender primitive.ObjectID, text string) *models.Message {
	return &models.Message{
		ID:             primitive.NewObjectID(),
		ConversationID: conversationID,
		SenderID:       sender,
		Text:           text,
		CreatedAt:      time.Now(),
	}
}
