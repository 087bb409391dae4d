package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/EvaLM99/PictText/internal/api/middleware"
	"github.com/EvaLM99/PictText/internal/models"
	"github.com/EvaLM99/PictText/internal/realtime"
	"github.com/EvaLM99/PictText/internal/store"
	"github.com/EvaLM99/PictText/pkg/response"
)

const (
	deleteForMe       = "forMe"
	deleteForEveryone = "forEveryone"
)

// MessageHandler is request/response plumbing around the persisted store.
// Every successful write hands the committed record to the event router;
// fan-out failures never surface as request failures.
type MessageHandler struct {
	store  store.Store
	router *realtime.Router
}

func NewMessageHandler(s store.Store, router *realtime.Router) *MessageHandler {
	return &MessageHandler{store: s, router: router}
}

func (h *MessageHandler) RegisterRoutes(r *gin.RouterGroup) {
	msgs := r.Group("/messages")
	{
		msgs.POST("", h.Create)
		msgs.GET("/:conversationId", h.List)
		msgs.PATCH("/:messageId", h.Update)
		msgs.DELETE("/:messageId", h.Delete)
	}
}

type createMessageRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
	Text           string `json:"text"`
	Image          string `json:"image"`
}

// Create godoc
// @Summary Send a message to a conversation
// @Tags messages
// @Accept json
// @Produce json
// @Param message body createMessageRequest true "Message"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /messages [post]
func (h *MessageHandler) Create(c *gin.Context) {
	userID := middleware.UserID(c)

	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "conversationId is required")
		return
	}
	if req.Text == "" && req.Image == "" {
		response.Error(c, http.StatusBadRequest, "a message must carry text or an image")
		return
	}

	ctx := c.Request.Context()
	conv, err := h.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidID) {
			response.Error(c, http.StatusNotFound, "conversation not found")
			return
		}
		response.Error(c, http.StatusInternalServerError, "could not load conversation")
		return
	}

	senderID, err := primitive.ObjectIDFromHex(userID)
	if err != nil || !conv.HasParticipant(senderID) {
		response.Error(c, http.StatusForbidden, "you are not a participant of this conversation")
		return
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Text:           req.Text,
		Image:          req.Image,
	}
	if err := h.store.CreateMessage(ctx, msg); err != nil {
		response.Error(c, http.StatusInternalServerError, "could not create message")
		return
	}

	msgID := msg.ID.Hex()
	if err := h.store.SetConversationLastMessage(ctx, req.ConversationID, &msgID); err != nil {
		slog.Error("Failed to update last message", "conversationID", req.ConversationID, "error", err)
	}
	if updated, err := h.store.GetConversation(ctx, req.ConversationID); err == nil {
		conv = updated
	}

	h.router.OnMessageCreated(msg, conv)
	response.OK(c, http.StatusCreated, msg)
}

type updateMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// Update edits a message's text. Only the sender may edit.
func (h *MessageHandler) Update(c *gin.Context) {
	userID := middleware.UserID(c)
	messageID := c.Param("messageId")

	var req updateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "text is required")
		return
	}

	ctx := c.Request.Context()
	msg, err := h.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidID) {
			response.Error(c, http.StatusNotFound, "message not found")
			return
		}
		response.Error(c, http.StatusInternalServerError, "could not load message")
		return
	}
	if msg.SenderID.Hex() != userID {
		response.Error(c, http.StatusForbidden, "only the sender may edit a message")
		return
	}

	updated, err := h.store.UpdateMessageText(ctx, messageID, req.Text, time.Now())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "could not update message")
		return
	}

	conv, err := h.store.GetConversation(ctx, updated.ConversationID.Hex())
	if err != nil {
		slog.Error("Failed to load conversation after edit", "messageID", messageID, "error", err)
		conv = nil
	}

	h.router.OnMessageUpdated(updated, conv)
	response.OK(c, http.StatusOK, updated)
}

// Delete soft-deletes a message, either for the requester only or for
// everyone (sender only).
func (h *MessageHandler) Delete(c *gin.Context) {
	userID := middleware.UserID(c)
	messageID := c.Param("messageId")
	deleteType := c.DefaultQuery("type", deleteForMe)

	if deleteType != deleteForMe && deleteType != deleteForEveryone {
		response.Error(c, http.StatusBadRequest, "type must be forMe or forEveryone")
		return
	}

	ctx := c.Request.Context()
	msg, err := h.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidID) {
			response.Error(c, http.StatusNotFound, "message not found")
			return
		}
		response.Error(c, http.StatusInternalServerError, "could not load message")
		return
	}

	conv, err := h.store.GetConversation(ctx, msg.ConversationID.Hex())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "could not load conversation")
		return
	}

	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil || !conv.HasParticipant(uid) {
		response.Error(c, http.StatusForbidden, "you are not a participant of this conversation")
		return
	}

	var updated *models.Message
	switch deleteType {
	case deleteForMe:
		updated, err = h.store.MarkMessageDeletedFor(ctx, messageID, userID)
	case deleteForEveryone:
		if msg.SenderID.Hex() != userID {
			response.Error(c, http.StatusForbidden, "only the sender may delete for everyone")
			return
		}
		updated, err = h.store.MarkMessageDeletedForEveryone(ctx, messageID)
	}
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "could not delete message")
		return
	}

	// Deleting the conversation's last message for everyone re-points the
	// preview at the newest still-visible message.
	var newLast *models.Message
	if deleteType == deleteForEveryone && conv.LastMessageID != nil && *conv.LastMessageID == msg.ID {
		newLast, err = h.store.LatestVisibleMessage(ctx, conv.ID.Hex())
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Error("Failed to recompute last message", "conversationID", conv.ID.Hex(), "error", err)
		}
		var lastID *string
		if newLast != nil {
			hex := newLast.ID.Hex()
			lastID = &hex
		}
		if err := h.store.SetConversationLastMessage(ctx, conv.ID.Hex(), lastID); err != nil {
			slog.Error("Failed to update last message", "conversationID", conv.ID.Hex(), "error", err)
		}
		if refreshed, err := h.store.GetConversation(ctx, conv.ID.Hex()); err == nil {
			conv = refreshed
		}
	}

	h.router.OnMessageDeleted(updated, conv, deleteType, userID, newLast)
	response.OK(c, http.StatusOK, updated)
}

// List returns the conversation's message history, newest first, hiding
// messages deleted for the requester.
func (h *MessageHandler) List(c *gin.Context) {
	userID := middleware.UserID(c)
	conversationID := c.Param("conversationId")

	ctx := c.Request.Context()
	conv, err := h.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidID) {
			response.Error(c, http.StatusNotFound, "conversation not found")
			return
		}
		response.Error(c, http.StatusInternalServerError, "could not load conversation")
		return
	}
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil || !conv.HasParticipant(uid) {
		response.Error(c, http.StatusForbidden, "you are not a participant of this conversation")
		return
	}

	q := store.MessageQuery{}
	if raw := c.Query("limit"); raw != "" {
		if limit, err := strconv.ParseInt(raw, 10, 64); err == nil {
			q.Limit = limit
		}
	}
	if raw := c.Query("before"); raw != "" {
		if before, err := time.Parse(time.RFC3339, raw); err == nil {
			q.Before = &before
		}
	}

	msgs, err := h.store.ListMessages(ctx, conversationID, q)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "could not load messages")
		return
	}

	visible := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.VisibleTo(uid) {
			visible = append(visible, m)
		}
	}
	response.OK(c, http.StatusOK, visible)
}
