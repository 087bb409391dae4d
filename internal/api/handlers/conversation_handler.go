package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/EvaLM99/PictText/internal/api/middleware"
	"github.com/EvaLM99/PictText/internal/models"
	"github.com/EvaLM99/PictText/internal/realtime"
	"github.com/EvaLM99/PictText/internal/store"
	"github.com/EvaLM99/PictText/pkg/response"
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

type ConversationHandler struct {
	store  store.Store
	router *realtime.Router
}

func NewConversationHandler(s store.Store, router *realtime.Router) *ConversationHandler {
	return &ConversationHandler{store: s, router: router}
}

func (h *ConversationHandler) RegisterRoutes(r *gin.RouterGroup) {
	convs := r.Group("/conversations")
	{
		convs.POST("", h.Create)
		convs.GET("", h.List)
		convs.PATCH("/:conversationId/name", h.Rename)
		convs.PATCH("/:conversationId/color", h.ChangeColor)
		convs.PATCH("/:conversationId/picture", h.ChangePicture)
		convs.DELETE("/:conversationId", h.Delete)
	}
}

type createConversationRequest struct {
	Participants []string `json:"participants" binding:"required,min=1"`
	Name         string   `json:"name"`
	Text         string   `json:"text"`
	Image        string   `json:"image"`
}

// Create godoc
// @Summary Create a conversation, optionally with a first message
// @Tags conversations
// @Accept json
// @Produce json
// @Param conversation body createConversationRequest true "Conversation"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /conversations [post]
func (h *ConversationHandler) Create(c *gin.Context) {
	userID := middleware.UserID(c)

	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "participants are required")
		return
	}

	// Deduplicate and always include the requester.
	seen := map[string]bool{userID: true}
	ids := []string{userID}
	for _, p := range req.Participants {
		if !seen[p] {
			seen[p] = true
			ids = append(ids, p)
		}
	}
	if len(ids) < 2 {
		response.Error(c, http.StatusBadRequest, "a conversation needs at least two participants")
		return
	}

	participants := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			response.Error(c, http.StatusBadRequest, "invalid participant id: "+id)
			return
		}
		participants = append(participants, oid)
	}

	ctx := c.Request.Context()

	// Two-party conversations are unique per pair: reuse the existing one
	// instead of creating a duplicate.
	if len(ids) == 2 && req.Name == "" {
		existing, err := h.store.FindDirectConversation(ctx, ids[0], ids[1])
		if err == nil {
			msg := h.appendFirstMessage(c, existing, req.Text, req.Image)
			if c.IsAborted() {
				return
			}
			if msg != nil {
				h.router.OnMessageCreated(msg, existing)
			}
			response.OK(c, http.StatusOK, existing)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			response.Error(c, http.StatusInternalServerError, "could not look up conversation")
			return
		}
	}

	conv := &models.Conversation{
		Participants: participants,
		Name:         req.Name,
		Color:        models.DefaultConversationColor,
	}
	if err := h.store.CreateConversation(ctx, conv); err != nil {
		response.Error(c, http.StatusInternalServerError, "could not create conversation")
		return
	}

	msg := h.appendFirstMessage(c, conv, req.Text, req.Image)
	if c.IsAborted() {
		return
	}

	h.router.OnConversationCreated(conv, msg)
	response.OK(c, http.StatusCreated, conv)
}

// appendFirstMessage persists an optional opening message and points the
// conversation's lastMessage at it. Aborts the request on store failure.
func (h *ConversationHandler) appendFirstMessage(c *gin.Context, conv *models.Conversation, text, image string) *models.Message {
	if text == "" && image == "" {
		return nil
	}
	ctx := c.Request.Context()
	sender, err := primitive.ObjectIDFromHex(middleware.UserID(c))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid user id")
		return nil
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       sender,
		Text:           text,
		Image:          image,
	}
	if err := h.store.CreateMessage(ctx, msg); err != nil {
		response.Error(c, http.StatusInternalServerError, "could not create message")
		return nil
	}

	msgID := msg.ID.Hex()
	if err := h.store.SetConversationLastMessage(ctx, conv.ID.Hex(), &msgID); err != nil {
		slog.Error("Failed to update last message", "conversationID", conv.ID.Hex(), "error", err)
	} else {
		conv.LastMessageID = &msg.ID
	}
	return msg
}

// List returns the requester's conversations, hiding ones they deleted.
func (h *ConversationHandler) List(c *gin.Context) {
	userID := middleware.UserID(c)

	convs, err := h.store.ListConversations(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "could not load conversations")
		return
	}
	response.OK(c, http.StatusOK, convs)
}

type renameRequest struct {
	Name string `json:"name" binding:"required"`
}

// Rename changes a group conversation's name and notifies participants.
func (h *ConversationHandler) Rename(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "name is required")
		return
	}
	if n := utf8.RuneCountInString(req.Name); n < 3 || n > 40 {
		response.Error(c, http.StatusBadRequest, "name must be between 3 and 40 characters")
		return
	}

	conv, ok := h.authorize(c)
	if !ok {
		return
	}

	updated, err := h.store.SetConversationName(c.Request.Context(), conv.ID.Hex(), req.Name)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "could not rename conversation")
		return
	}

	h.router.OnConversationRenamed(updated)
	response.OK(c, http.StatusOK, updated)
}

type colorRequest struct {
	Color string `json:"color" binding:"required"`
}

// ChangeColor sets the conversation's theme color and notifies participants.
func (h *ConversationHandler) ChangeColor(c *gin.Context) {
	var req colorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "color is required")
		return
	}
	if !colorPattern.MatchString(req.Color) {
		response.Error(c, http.StatusBadRequest, "color must be a hex value like #1A2B3C")
		return
	}

	conv, ok := h.authorize(c)
	if !ok {
		return
	}

	updated, err := h.store.SetConversationColor(c.Request.Context(), conv.ID.Hex(), req.Color)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "could not change conversation color")
		return
	}

	h.router.OnConversationColorChanged(updated)
	response.OK(c, http.StatusOK, updated)
}

type pictureRequest struct {
	GroupPicture string `json:"groupPicture" binding:"required"`
}

// ChangePicture sets the group picture and notifies participants.
func (h *ConversationHandler) ChangePicture(c *gin.Context) {
	var req pictureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "groupPicture is required")
		return
	}

	conv, ok := h.authorize(c)
	if !ok {
		return
	}

	updated, err := h.store.SetConversationPicture(c.Request.Context(), conv.ID.Hex(), req.GroupPicture)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "could not change group picture")
		return
	}

	h.router.OnConversationPictureChanged(updated)
	response.OK(c, http.StatusOK, updated)
}

// Delete hides the conversation and its current messages for the requester
// only. Other participants keep everything.
func (h *ConversationHandler) Delete(c *gin.Context) {
	conv, ok := h.authorize(c)
	if !ok {
		return
	}

	userID := middleware.UserID(c)
	if err := h.store.DeleteConversationFor(c.Request.Context(), conv.ID.Hex(), userID); err != nil {
		response.Error(c, http.StatusInternalServerError, "could not delete conversation")
		return
	}
	response.OK(c, http.StatusOK, gin.H{"deleted": true})
}

// authorize loads the conversation from the path and checks the requester is
// a participant. Writes the error response itself when the check fails.
func (h *ConversationHandler) authorize(c *gin.Context) (*models.Conversation, bool) {
	conversationID := c.Param("conversationId")

	conv, err := h.store.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidID) {
			response.Error(c, http.StatusNotFound, "conversation not found")
			return nil, false
		}
		response.Error(c, http.StatusInternalServerError, "could not load conversation")
		return nil, false
	}

	uid, err := primitive.ObjectIDFromHex(middleware.UserID(c))
	if err != nil || !conv.HasParticipant(uid) {
		response.Error(c, http.StatusForbidden, "you are not a participant of this conversation")
		return nil, false
	}
	return conv, true
}
