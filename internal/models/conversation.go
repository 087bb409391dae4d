package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const DefaultConversationColor = "#FF0000"

// Conversation represents a chat conversation document. Direct conversations
// hold exactly two participants; group conversations carry a name and an
// optional picture.
type Conversation struct {
	ID            primitive.ObjectID   `json:"id" bson:"_id,omitempty"`
	Participants  []primitive.ObjectID `json:"participants" bson:"participants"`
	LastMessageID *primitive.ObjectID  `json:"lastMessage" bson:"lastMessage,omitempty"`
	Name          string               `json:"name" bson:"name"`
	GroupPicture  string               `json:"groupPicture" bson:"groupPicture"`
	Color         string               `json:"color" bson:"color"`
	DeletedFor    []primitive.ObjectID `json:"deletedFor,omitempty" bson:"deletedFor,omitempty"`
	CreatedAt     time.Time            `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt" bson:"updatedAt"`
}

// HasParticipant reports whether the user is a participant of the
// conversation.
func (c *Conversation) HasParticipant(userID primitive.ObjectID) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// ConversationPreview is the shape fanned out on last_message_updated events:
// the conversation with its last message inlined so clients can replace their
// list entry directly.
type ConversationPreview struct {
	Conversation `bson:",inline"`
	LastMessage  *Message `json:"lastMessagePreview,omitempty" bson:"-"`
}
