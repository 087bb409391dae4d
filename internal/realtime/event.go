package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TopicKind distinguishes user-scoped from conversation-scoped topics.
type TopicKind string

const (
	TopicKindUser         TopicKind = "user"
	TopicKindConversation TopicKind = "conversation"
)

// Topic is a named channel connections subscribe to for event delivery.
// User topics carry cross-conversation notifications (conversation list
// updates, presence); conversation topics carry message-level events.
type Topic struct {
	Kind TopicKind
	ID   string
}

func UserTopic(userID string) Topic {
	return Topic{Kind: TopicKindUser, ID: userID}
}

func ConversationTopic(conversationID string) Topic {
	return Topic{Kind: TopicKindConversation, ID: conversationID}
}

func (t Topic) String() string {
	return fmt.Sprintf("%s:%s", t.Kind, t.ID)
}

// EventKind names a real-time event on the wire.
type EventKind string

const (
	// Inbound client events
	EventJoinConversation  EventKind = "join_conversation"
	EventJoinUser          EventKind = "join_user"
	EventLeaveConversation EventKind = "leave_conversation"
	EventHeartbeat         EventKind = "heartbeat"
	EventSeenMessage       EventKind = "seen_message"

	// Outbound message events
	EventNewMessage     EventKind = "new_message"
	EventMessageUpdated EventKind = "message_updated"
	EventMessageDeleted EventKind = "message_deleted"
	EventMessageSeen    EventKind = "message_seen"

	// Outbound conversation events
	EventNewConversation     EventKind = "new_conversation"
	EventConversationName    EventKind = "conversation_name_updated"
	EventConversationColor   EventKind = "conversation_color_updated"
	EventConversationPicture EventKind = "conversation_groupPicture_updated"
	EventLastMessageUpdated  EventKind = "last_message_updated"

	// Outbound presence events. These two are hyphenated on the wire,
	// unlike the rest of the event vocabulary.
	EventFriendOnline  EventKind = "friend-online"
	EventFriendOffline EventKind = "friend-offline"

	// Error events reported back to the originating connection only
	EventError EventKind = "error"
)

func (k EventKind) String() string {
	return string(k)
}

// IsInbound reports whether the kind is a client-originated event the router
// accepts over the wire.
func (k EventKind) IsInbound() bool {
	switch k {
	case EventJoinConversation, EventJoinUser, EventLeaveConversation,
		EventHeartbeat, EventSeenMessage:
		return true
	default:
		return false
	}
}

// Event is the immutable payload the dispatcher operates on. Events are
// transient: they are never persisted by this subsystem. Bodies mirror the
// persisted record shape so clients can apply them as state replacements.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"type"`
	Data      any       `json:"data"`
	Timestamp int64     `json:"timestamp"`
}

func NewEvent(kind EventKind, data any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
}

// Encode marshals the event once for delivery to every subscriber.
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// NewErrorEvent builds the error payload sent back to a single connection
// when one of its inbound events is rejected.
func NewErrorEvent(code, message string) *Event {
	return NewEvent(EventError, map[string]string{
		"code":    code,
		"message": message,
	})
}

// InboundEvent is the envelope clients send over the websocket.
type InboundEvent struct {
	Type EventKind       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Inbound payload shapes.

type JoinConversationData struct {
	ConversationID string `json:"conversationId"`
}

type SeenMessageData struct {
	MessageID string `json:"messageId"`
}

// Outbound payload shapes for events that do not carry a full record.

type PresenceData struct {
	UserID string `json:"userId"`
}

type MessageDeletedData struct {
	MessageID  string `json:"messageId"`
	DeleteType string `json:"deleteType"`
	UserID     string `json:"userId"`
}

type LastMessageData struct {
	ConversationID string `json:"conversationId"`
	Conversation   any    `json:"conversation"`
}
