// Package httpserver wires the HTTP routes: health, the voice WebSocket, and
// a read-only view of session history.
package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nkotha/voicebridge/internal/app"
	"github.com/nkotha/voicebridge/internal/protocol"
	"github.com/nkotha/voicebridge/internal/ws"
)

type healthResponse struct {
	Status           string `json:"status"`
	APIKeyConfigured bool   `json:"api_key_configured"`
	ActiveSessions   int    `json:"active_sessions"`
}

type historyResponse struct {
	SessionID string                      `json:"session_id"`
	History   []protocol.ConversationTurn `json:"history"`
}

// New creates the configured echo instance.
func New(a *app.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, healthResponse{
			Status:           "ok",
			APIKeyConfigured: a.Config.SarvamAPIKey != "",
			ActiveSessions:   a.SessionCount(),
		})
	})

	e.GET("/ws", ws.NewHandler(a).HandleWS)

	e.POST("/api/chat/voice", handleVoiceChat(a, newVoiceChatStore()))

	e.GET("/api/history/:id", func(c echo.Context) error {
		sess := a.Session(c.Param("id"))
		if sess == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
		}
		return c.JSON(http.StatusOK, historyResponse{
			SessionID: sess.ID,
			History:   sess.History(),
		})
	})

	return e
}
