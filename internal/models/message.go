package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SeenReceipt records that a user has seen a message. At most one receipt
// exists per (message, user) pair; a later acknowledgement overwrites the
// timestamp instead of appending a duplicate.
type SeenReceipt struct {
	UserID primitive.ObjectID `json:"userId" bson:"user"`
	SeenAt time.Time          `json:"seenAt" bson:"seenAt"`
}

// Message represents a chat message document. A message must carry text or an
// image. Deletion is soft: per-user via DeletedFor, for everyone via
// DeletedForEveryone.
type Message struct {
	ID                 primitive.ObjectID   `json:"id" bson:"_id,omitempty"`
	ConversationID     primitive.ObjectID   `json:"conversationId" bson:"conversationId"`
	SenderID           primitive.ObjectID   `json:"sender" bson:"sender"`
	Text               string               `json:"text,omitempty" bson:"text,omitempty"`
	Image              string               `json:"image,omitempty" bson:"image,omitempty"`
	EditedAt           *time.Time           `json:"editedAt" bson:"editedAt"`
	DeletedFor         []primitive.ObjectID `json:"deletedFor,omitempty" bson:"deletedFor,omitempty"`
	DeletedForEveryone bool                 `json:"deletedForEveryone" bson:"deletedForEveryone"`
	SeenBy             []SeenReceipt        `json:"seenBy" bson:"seenBy"`
	CreatedAt          time.Time            `json:"createdAt" bson:"createdAt"`
	UpdatedAt          time.Time            `json:"updatedAt" bson:"updatedAt"`
}

// SeenByUser reports whether the message already carries a receipt for the
// given user.
func (m *Message) SeenByUser(userID primitive.ObjectID) bool {
	for _, r := range m.SeenBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// VisibleTo reports whether the message should be shown to the given user.
func (m *Message) VisibleTo(userID primitive.ObjectID) bool {
	if m.DeletedForEveryone {
		return false
	}
	for _, id := range m.DeletedFor {
		if id == userID {
			return false
		}
	}
	return true
}
