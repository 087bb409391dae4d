package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMessageSeenByUser(t *testing.T) {
	alice := primitive.NewObjectID()
	bob := primitive.NewObjectID()

	msg := &Message{
		SeenBy: []SeenReceipt{{UserID: alice, SeenAt: time.Now()}},
	}
	assert.True(t, msg.SeenByUser(alice))
	assert.False(t, msg.SeenByUser(bob))
}

func TestMessageVisibleTo(t *testing.T) {
	alice := primitive.NewObjectID()
	bob := primitive.NewObjectID()

	msg := &Message{DeletedFor: []primitive.ObjectID{alice}}
	assert.False(t, msg.VisibleTo(alice), "hidden for the user who deleted it")
	assert.True(t, msg.VisibleTo(bob))

	msg.DeletedForEveryone = true
	assert.False(t, msg.VisibleTo(bob), "deleted for everyone hides for all")
}

func TestConversationHasParticipant(t *testing.T) {
	alice := primitive.NewObjectID()
	eve := primitive.NewObjectID()

	conv := &Conversation{Participants: []primitive.ObjectID{alice}}
	assert.True(t, conv.HasParticipant(alice))
	assert.False(t, conv.HasParticipant(eve))
}
