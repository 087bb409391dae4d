package store

import (
	"context"
	"errors"
	"time"

	"github.com/EvaLM99/PictText/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidID is returned when an identifier cannot be parsed.
	ErrInvalidID = errors.New("invalid identifier")
)

// MessageQuery narrows message history reads.
type MessageQuery struct {
	Limit  int64
	Before *time.Time
}

// Store is the persisted-state collaborator of the real-time core. It is
// shared across server processes, so every write the core depends on for
// correctness is an idempotent upsert rather than something protected by
// in-process locks.
type Store interface {
	// Reads consumed by the real-time core.
	GetMessage(ctx context.Context, messageID string) (*models.Message, error)
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	GetConversationParticipants(ctx context.Context, conversationID string) ([]string, error)
	GetFriendIDs(ctx context.Context, userID string) ([]string, error)
	GetUnseenMessages(ctx context.Context, conversationID, userID string) ([]*models.Message, error)

	// UpsertSeenReceipt atomically records that the user has seen the message
	// at the given time, replacing any prior receipt for the same pair.
	UpsertSeenReceipt(ctx context.Context, messageID, userID string, seenAt time.Time) error

	// Writes performed by the request layer.
	CreateMessage(ctx context.Context, msg *models.Message) error
	UpdateMessageText(ctx context.Context, messageID, text string, editedAt time.Time) (*models.Message, error)
	MarkMessageDeletedFor(ctx context.Context, messageID, userID string) (*models.Message, error)
	MarkMessageDeletedForEveryone(ctx context.Context, messageID string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string, q MessageQuery) ([]*models.Message, error)
	LatestVisibleMessage(ctx context.Context, conversationID string) (*models.Message, error)

	CreateConversation(ctx context.Context, conv *models.Conversation) error
	FindDirectConversation(ctx context.Context, userA, userB string) (*models.Conversation, error)
	SetConversationLastMessage(ctx context.Context, conversationID string, messageID *string) error
	SetConversationName(ctx context.Context, conversationID, name string) (*models.Conversation, error)
	SetConversationColor(ctx context.Context, conversationID, color string) (*models.Conversation, error)
	SetConversationPicture(ctx context.Context, conversationID, picture string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error)
	DeleteConversationFor(ctx context.Context, conversationID, userID string) error

	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
}
