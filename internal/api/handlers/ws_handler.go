package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EvaLM99/PictText/internal/api/middleware"
	"github.com/EvaLM99/PictText/internal/realtime"
	"github.com/EvaLM99/PictText/pkg/response"
)

// WSHandler upgrades authenticated requests to websocket connections and
// hands them to the real-time core.
type WSHandler struct {
	router *realtime.Router
}

func NewWSHandler(router *realtime.Router) *WSHandler {
	return &WSHandler{router: router}
}

// Serve godoc
// @Summary Open the real-time websocket
// @Tags realtime
// @Param token query string true "JWT access token"
// @Success 101 {string} string "Switching Protocols"
// @Router /ws [get]
func (h *WSHandler) Serve(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		response.Error(c, http.StatusUnauthorized, "authentication required")
		return
	}

	conn, err := realtime.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		slog.Error("Websocket upgrade failed", "userID", userID, "error", err)
		return
	}

	realtime.ServeWS(h.router, conn, userID)
}
