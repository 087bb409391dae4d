package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EvaLM99/PictText/internal/api/middleware"
	"github.com/EvaLM99/PictText/internal/services"
	"github.com/EvaLM99/PictText/internal/store"
	"github.com/EvaLM99/PictText/pkg/response"
)

// PresenceHandler answers snapshot queries against the Redis presence
// mirror. Live transitions flow over the websocket; this endpoint exists for
// initial page loads.
type PresenceHandler struct {
	store    store.Store
	presence *services.PresenceService
}

func NewPresenceHandler(s store.Store, presence *services.PresenceService) *PresenceHandler {
	return &PresenceHandler{store: s, presence: presence}
}

func (h *PresenceHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/presence/online", h.OnlineFriends)
}

// OnlineFriends godoc
// @Summary List the requester's currently online friends
// @Tags presence
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /presence/online [get]
func (h *PresenceHandler) OnlineFriends(c *gin.Context) {
	userID := middleware.UserID(c)
	ctx := c.Request.Context()

	friends, err := h.store.GetFriendIDs(ctx, userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "could not load friends")
		return
	}

	online, err := h.presence.GetOnlineUsers(ctx, friends)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "could not query presence")
		return
	}
	response.OK(c, http.StatusOK, gin.H{"online": online})
}
