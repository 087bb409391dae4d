package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/EvaLM99/PictText/internal/models"
	"github.com/EvaLM99/PictText/internal/store"
)

// ReceiptStore is the slice of the persisted store the reconciler needs.
type ReceiptStore interface {
	GetMessage(ctx context.Context, messageID string) (*models.Message, error)
	GetUnseenMessages(ctx context.Context, conversationID, userID string) ([]*models.Message, error)
	UpsertSeenReceipt(ctx context.Context, messageID, userID string, seenAt time.Time) error
}

// Reconciler merges client seen-acknowledgements with the persisted receipt
// ledger. The store upsert is idempotent across processes, so concurrent
// batch-on-join and explicit acks for the same (message, user) pair converge
// on a single receipt; at worst the client observes the same seen state
// applied twice.
type Reconciler struct {
	store      ReceiptStore
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewReconciler(store ReceiptStore, dispatcher *Dispatcher, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// MarkSeen upserts a receipt for an explicit single-message acknowledgement
// and fans the updated message out to its conversation topic. Acknowledging
// your own message is a no-op: sending counts as having seen.
func (r *Reconciler) MarkSeen(ctx context.Context, messageID, userID string) error {
	msg, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidID) {
			r.logger.Debug("Seen ack for missing message dropped", "messageID", messageID, "userID", userID)
			return ErrMessageNotFound
		}
		return fmt.Errorf("load message %s: %w", messageID, err)
	}
	return r.markSeen(ctx, msg, userID)
}

// MarkConversationSeen marks every currently-unseen message in the
// conversation not authored by the user as seen, simulating "opened the
// conversation". Called on every conversation join; a second join in
// succession finds nothing unseen and does nothing.
func (r *Reconciler) MarkConversationSeen(ctx context.Context, conversationID, userID string) (int, error) {
	unseen, err := r.store.GetUnseenMessages(ctx, conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("load unseen messages for %s: %w", conversationID, err)
	}

	marked := 0
	for _, msg := range unseen {
		if err := r.markSeen(ctx, msg, userID); err != nil {
			// Per-message failures do not abort the batch.
			r.logger.Error("Failed to mark message seen in batch", "messageID", msg.ID.Hex(), "userID", userID, "error", err)
			continue
		}
		if msg.SenderID.Hex() != userID {
			marked++
		}
	}
	return marked, nil
}

func (r *Reconciler) markSeen(ctx context.Context, msg *models.Message, userID string) error {
	if msg.DeletedForEveryone {
		r.logger.Debug("Seen ack for deleted message dropped", "messageID", msg.ID.Hex(), "userID", userID)
		return nil
	}
	if msg.SenderID.Hex() == userID {
		return nil
	}

	if err := r.store.UpsertSeenReceipt(ctx, msg.ID.Hex(), userID, time.Now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Debug("Message vanished during seen upsert", "messageID", msg.ID.Hex(), "userID", userID)
			return ErrMessageNotFound
		}
		return fmt.Errorf("upsert receipt for %s: %w", msg.ID.Hex(), err)
	}

	// Re-read so the fan-out carries the full, current receipt set; clients
	// apply it as a state replacement.
	updated, err := r.store.GetMessage(ctx, msg.ID.Hex())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("reload message %s: %w", msg.ID.Hex(), err)
	}

	r.dispatcher.Publish(
		ConversationTopic(updated.ConversationID.Hex()),
		NewEvent(EventMessageSeen, updated),
	)
	return nil
}
