package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/EvaLM99/PictText/internal/store"
)

// ParticipantSource answers join-time membership checks from the persisted
// store. The index validates at join time only; it does not re-validate on
// every fan-out.
type ParticipantSource interface {
	GetConversationParticipants(ctx context.Context, conversationID string) ([]string, error)
}

// RoomIndex tracks which connections are subscribed to which topics.
// Subscriptions live as long as the owning connection or until an explicit
// leave.
type RoomIndex struct {
	src ParticipantSource

	mu     sync.RWMutex
	topics map[Topic]map[string]*Connection
	byConn map[string]map[Topic]struct{}
}

func NewRoomIndex(src ParticipantSource) *RoomIndex {
	return &RoomIndex{
		src:    src,
		topics: make(map[Topic]map[string]*Connection),
		byConn: make(map[string]map[Topic]struct{}),
	}
}

// Join subscribes the connection to the topic. For conversation topics the
// owning user must be a current participant; the store read happens before
// the index lock is taken so a slow store never blocks other joins. A store
// failure is surfaced as retryable and grants nothing. Joining is idempotent.
func (ri *RoomIndex) Join(ctx context.Context, conn *Connection, topic Topic) error {
	switch topic.Kind {
	case TopicKindUser:
		// A connection may only subscribe to its own user topic.
		if topic.ID != conn.UserID {
			return ErrNotAParticipant
		}
	case TopicKindConversation:
		participants, err := ri.src.GetConversationParticipants(ctx, topic.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrConversationNotFound
			}
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if !containsID(participants, conn.UserID) {
			return ErrNotAParticipant
		}
	default:
		return fmt.Errorf("unknown topic kind %q", topic.Kind)
	}

	ri.mu.Lock()
	defer ri.mu.Unlock()
	if ri.topics[topic] == nil {
		ri.topics[topic] = make(map[string]*Connection)
	}
	ri.topics[topic][conn.ID] = conn

	if ri.byConn[conn.ID] == nil {
		ri.byConn[conn.ID] = make(map[Topic]struct{})
	}
	ri.byConn[conn.ID][topic] = struct{}{}
	return nil
}

// Leave removes one subscription.
func (ri *RoomIndex) Leave(connID string, topic Topic) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.remove(connID, topic)
}

// LeaveAll purges every subscription held by the connection. Called on
// disconnect so events are never delivered to dead connections.
func (ri *RoomIndex) LeaveAll(connID string) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	for topic := range ri.byConn[connID] {
		ri.remove(connID, topic)
	}
}

func (ri *RoomIndex) remove(connID string, topic Topic) {
	if conns, ok := ri.topics[topic]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(ri.topics, topic)
		}
	}
	if topics, ok := ri.byConn[connID]; ok {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(ri.byConn, connID)
		}
	}
}

// Subscribers returns the current connection set for fan-out.
func (ri *RoomIndex) Subscribers(topic Topic) []*Connection {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	conns := make([]*Connection, 0, len(ri.topics[topic]))
	for _, c := range ri.topics[topic] {
		conns = append(conns, c)
	}
	return conns
}

// IsSubscribed reports whether the connection currently holds the
// subscription.
func (ri *RoomIndex) IsSubscribed(connID string, topic Topic) bool {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	_, ok := ri.byConn[connID][topic]
	return ok
}

// TopicsFor returns the connection's current subscriptions.
func (ri *RoomIndex) TopicsFor(connID string) []Topic {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	topics := make([]Topic, 0, len(ri.byConn[connID]))
	for t := range ri.byConn[connID] {
		topics = append(topics, t)
	}
	return topics
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
