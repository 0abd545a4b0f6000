package server

import (
	"log/slog"

	"coldfront/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// StorageEventsHandler streams storage request events to managers.
// @Summary Storage request event feed
// @Description WebSocket stream of request_created, request_denied and request_completed events.
// @Tags storage
// @Security BearerAuth
// @Param token query string false "Bearer token for clients that cannot set headers"
// @Success 101 "Switching Protocols"
// @Failure 426 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /ws/storage-requests [get]
func (s *Server) StorageEventsHandler() fiber.Handler {
	upgrade := websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("userID").(uint)

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			middleware.Logger.Warn("Rejected storage event feed connection",
				slog.Uint64("user_id", uint64(userID)),
				slog.String("error", err.Error()))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		middleware.Logger.Info("Storage event feed connected", slog.Uint64("user_id", uint64(userID)))
		go client.WritePump()
		client.ReadPump()
		middleware.Logger.Info("Storage event feed disconnected", slog.Uint64("user_id", uint64(userID)))
	})

	return func(c *fiber.Ctx) error {
		if s.hub == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Event feed unavailable",
			})
		}
		if !websocket.IsWebSocketUpgrade(c) {
			return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
				"error": "WebSocket upgrade required",
			})
		}
		return upgrade(c)
	}
}
