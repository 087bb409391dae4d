package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/EvaLM99/PictText/internal/models"
)

// Journal receives a copy of every persisted-state mutation event for
// external consumers. Appends are fire-and-forget.
type Journal interface {
	Append(event *Event)
}

// Router is the single entry point for inbound client events and for
// persisted-state mutation notifications from the request layer. Mutation
// entry points are only ever called after a committed write; fan-out is a
// consequence of persistence, never a cause.
type Router struct {
	registry   *Registry
	rooms      *RoomIndex
	presence   *PresenceTracker
	seen       *Reconciler
	dispatcher *Dispatcher
	journal    Journal
	logger     *slog.Logger

	heartbeatInterval time.Duration
	missedHeartbeats  int
}

func NewRouter(
	registry *Registry,
	rooms *RoomIndex,
	presence *PresenceTracker,
	seen *Reconciler,
	dispatcher *Dispatcher,
	heartbeatInterval time.Duration,
	logger *slog.Logger,
) *Router {
	return &Router{
		registry:          registry,
		rooms:             rooms,
		presence:          presence,
		seen:              seen,
		dispatcher:        dispatcher,
		heartbeatInterval: heartbeatInterval,
		missedHeartbeats:  3,
		logger:            logger,
	}
}

// SetJournal attaches the mutation-event journal.
func (r *Router) SetJournal(j Journal) {
	r.journal = j
}

// Transport hooks

// OnConnect registers the connection and, when it takes the user from zero
// to one live connections, hands the transition to the presence tracker.
func (r *Router) OnConnect(conn *Connection) {
	first := r.registry.Register(conn)
	r.logger.Info("Connection registered", "connID", conn.ID, "userID", conn.UserID, "first", first)
	if first {
		r.presence.HandleOnline(conn.UserID)
	}
}

// OnDisconnect purges the connection's subscriptions atomically with its
// registry removal and signals the presence tracker on a 1→0 transition.
func (r *Router) OnDisconnect(connID string) {
	r.rooms.LeaveAll(connID)
	userID, last, ok := r.registry.Deregister(connID)
	if !ok {
		return
	}
	r.logger.Info("Connection deregistered", "connID", connID, "userID", userID, "last", last)
	if last {
		r.presence.HandleOffline(userID)
	}
}

// RunSweeper force-deregisters connections that have missed too many
// heartbeats, through the same path as an explicit disconnect. Blocks until
// the context is cancelled.
func (r *Router) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-time.Duration(r.missedHeartbeats) * r.heartbeatInterval)
			for _, conn := range r.registry.Stale(cutoff) {
				r.logger.Warn("Sweeping silent connection", "connID", conn.ID, "userID", conn.UserID)
				if err := conn.Close(); err != nil {
					r.logger.Debug("Error closing swept connection", "connID", conn.ID, "error", err)
				}
				r.OnDisconnect(conn.ID)
			}
			r.presence.RefreshMirror(ctx, r.registry.OnlineUsers())
		case <-ctx.Done():
			return
		}
	}
}

// Inbound client events

// HandleInbound decodes one client event and dispatches it. Validation
// failures are reported back to the originating connection only.
func (r *Router) HandleInbound(ctx context.Context, conn *Connection, raw []byte) {
	var in InboundEvent
	if err := json.Unmarshal(raw, &in); err != nil {
		r.logger.Debug("Malformed inbound event", "connID", conn.ID, "error", err)
		r.replyError(conn, "INVALID_EVENT", "malformed event payload")
		return
	}

	switch in.Type {
	case EventJoinConversation:
		var data JoinConversationData
		if err := json.Unmarshal(in.Data, &data); err != nil || data.ConversationID == "" {
			r.replyError(conn, "INVALID_EVENT", "conversationId is required")
			return
		}
		r.handleJoinConversation(ctx, conn, data.ConversationID)

	case EventLeaveConversation:
		var data JoinConversationData
		if err := json.Unmarshal(in.Data, &data); err != nil || data.ConversationID == "" {
			r.replyError(conn, "INVALID_EVENT", "conversationId is required")
			return
		}
		r.rooms.Leave(conn.ID, ConversationTopic(data.ConversationID))

	case EventJoinUser:
		if err := r.rooms.Join(ctx, conn, UserTopic(conn.UserID)); err != nil {
			r.logger.Error("Failed to join user topic", "connID", conn.ID, "userID", conn.UserID, "error", err)
			r.replyError(conn, "JOIN_FAILED", "could not join user topic")
		}

	case EventHeartbeat:
		if err := r.registry.Heartbeat(conn.ID); err != nil {
			r.logger.Debug("Heartbeat for unknown connection", "connID", conn.ID)
		}

	case EventSeenMessage:
		var data SeenMessageData
		if err := json.Unmarshal(in.Data, &data); err != nil || data.MessageID == "" {
			r.replyError(conn, "INVALID_EVENT", "messageId is required")
			return
		}
		if err := r.seen.MarkSeen(ctx, data.MessageID, conn.UserID); err != nil {
			if errors.Is(err, ErrMessageNotFound) {
				// Client will reconcile on its next fetch; drop, don't retry.
				return
			}
			r.logger.Error("Failed to mark message seen", "messageID", data.MessageID, "userID", conn.UserID, "error", err)
			r.replyError(conn, "SEEN_FAILED", "could not record seen receipt")
		}

	default:
		r.replyError(conn, "UNKNOWN_EVENT", "unknown event type: "+in.Type.String())
	}
}

func (r *Router) handleJoinConversation(ctx context.Context, conn *Connection, conversationID string) {
	if err := r.rooms.Join(ctx, conn, ConversationTopic(conversationID)); err != nil {
		switch {
		case errors.Is(err, ErrNotAParticipant):
			r.replyError(conn, "NOT_A_PARTICIPANT", "you are not a participant of this conversation")
		case errors.Is(err, ErrConversationNotFound):
			r.replyError(conn, "CONVERSATION_NOT_FOUND", "conversation does not exist")
		default:
			// Store outage: retryable, and the subscription was not granted.
			r.logger.Error("Join validation failed", "connID", conn.ID, "conversationID", conversationID, "error", err)
			r.replyError(conn, "JOIN_RETRYABLE", "could not validate membership, retry")
		}
		return
	}

	// Opening the conversation marks everything unseen (and not self-authored)
	// as seen in one batch.
	marked, err := r.seen.MarkConversationSeen(ctx, conversationID, conn.UserID)
	if err != nil {
		r.logger.Error("Batch seen on join failed", "conversationID", conversationID, "userID", conn.UserID, "error", err)
		return
	}
	r.logger.Debug("Joined conversation", "connID", conn.ID, "conversationID", conversationID, "markedSeen", marked)
}

// TouchHeartbeat refreshes the connection's heartbeat from transport-level
// liveness signals (websocket pongs).
func (r *Router) TouchHeartbeat(connID string) {
	if err := r.registry.Heartbeat(connID); err != nil {
		r.logger.Debug("Heartbeat for unknown connection", "connID", connID)
	}
}

func (r *Router) replyError(conn *Connection, code, message string) {
	data, err := NewErrorEvent(code, message).Encode()
	if err != nil {
		return
	}
	if err := conn.Send(data); err != nil {
		r.logger.Debug("Could not deliver error to connection", "connID", conn.ID, "error", err)
	}
}

// Persisted-state mutation entry points. Each is called by the request layer
// synchronously after a successful write, takes the already-persisted
// record(s), and returns nothing: failures here are logged, never surfaced as
// request failures.

// OnMessageCreated fans the new message out to its conversation topic and
// refreshes every participant's conversation-list preview.
func (r *Router) OnMessageCreated(msg *models.Message, conv *models.Conversation) {
	event := NewEvent(EventNewMessage, msg)
	r.dispatcher.Publish(ConversationTopic(msg.ConversationID.Hex()), event)
	r.appendJournal(event)
	r.fanOutLastMessage(conv, msg)
}

// OnMessageUpdated fans the edited message out to its conversation topic;
// when the edited message is the conversation's last message, list previews
// are refreshed as well.
func (r *Router) OnMessageUpdated(msg *models.Message, conv *models.Conversation) {
	event := NewEvent(EventMessageUpdated, msg)
	r.dispatcher.Publish(ConversationTopic(msg.ConversationID.Hex()), event)
	r.appendJournal(event)

	if conv != nil && conv.LastMessageID != nil && *conv.LastMessageID == msg.ID {
		r.fanOutLastMessage(conv, msg)
	}
}

// OnMessageDeleted notifies every participant's user topic of the soft
// delete. newLast carries the conversation's recomputed last message when the
// deleted one was it; nil leaves previews untouched.
func (r *Router) OnMessageDeleted(msg *models.Message, conv *models.Conversation, deleteType, actorID string, newLast *models.Message) {
	event := NewEvent(EventMessageDeleted, MessageDeletedData{
		MessageID:  msg.ID.Hex(),
		DeleteType: deleteType,
		UserID:     actorID,
	})
	r.publishToParticipants(conv, event)
	r.appendJournal(event)

	if newLast != nil || (conv.LastMessageID != nil && *conv.LastMessageID == msg.ID) {
		r.fanOutLastMessage(conv, newLast)
	}
}

// OnConversationCreated notifies each participant directly via their live
// connections: a brand-new conversation has no topic anyone has joined yet.
func (r *Router) OnConversationCreated(conv *models.Conversation, firstMessage *models.Message) {
	event := NewEvent(EventNewConversation, models.ConversationPreview{
		Conversation: *conv,
		LastMessage:  firstMessage,
	})
	for _, p := range conv.Participants {
		r.dispatcher.PublishToUser(p.Hex(), event)
	}
	r.appendJournal(event)
}

// OnConversationRenamed refreshes participant conversation lists.
func (r *Router) OnConversationRenamed(conv *models.Conversation) {
	event := NewEvent(EventConversationName, conv)
	r.publishToParticipants(conv, event)
	r.appendJournal(event)
}

// OnConversationColorChanged refreshes participant conversation lists.
func (r *Router) OnConversationColorChanged(conv *models.Conversation) {
	event := NewEvent(EventConversationColor, conv)
	r.publishToParticipants(conv, event)
	r.appendJournal(event)
}

// OnConversationPictureChanged refreshes participant conversation lists.
func (r *Router) OnConversationPictureChanged(conv *models.Conversation) {
	event := NewEvent(EventConversationPicture, conv)
	r.publishToParticipants(conv, event)
	r.appendJournal(event)
}

// OnLastMessageChanged refreshes participant conversation lists with the
// conversation's current last message.
func (r *Router) OnLastMessageChanged(conv *models.Conversation, last *models.Message) {
	r.fanOutLastMessage(conv, last)
}

func (r *Router) fanOutLastMessage(conv *models.Conversation, last *models.Message) {
	if conv == nil {
		return
	}
	event := NewEvent(EventLastMessageUpdated, LastMessageData{
		ConversationID: conv.ID.Hex(),
		Conversation: models.ConversationPreview{
			Conversation: *conv,
			LastMessage:  last,
		},
	})
	r.publishToParticipants(conv, event)
	r.appendJournal(event)
}

func (r *Router) publishToParticipants(conv *models.Conversation, event *Event) {
	if conv == nil {
		return
	}
	for _, p := range conv.Participants {
		r.dispatcher.Publish(UserTopic(p.Hex()), event)
	}
}

func (r *Router) appendJournal(event *Event) {
	if r.journal != nil {
		r.journal.Append(event)
	}
}
