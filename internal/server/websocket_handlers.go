package server

import (
	"fmt"
	"log"
	"time"

	"plistings/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const wsTicketTTL = 30 * time.Second

// IssueWSTicket handles POST /api/ws/ticket. Browsers cannot set an
// Authorization header on the WebSocket handshake, so an authenticated caller
// trades their bearer token for a short-lived single-use ticket passed as a
// query parameter instead.
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	if s.redis == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewInternalError(fmt.Errorf("ticket store unavailable")))
	}

	ticket := uuid.New().String()
	key := "ws_ticket:" + ticket
	userID := currentUserID(c)

	if err := s.redis.SetEx(c.Context(), key, fmt.Sprintf("%d", userID), wsTicketTTL).Err(); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"ticket": ticket, "expires_in": int(wsTicketTTL.Seconds())})
}

// WebSocketHandler upgrades GET /api/ws connections and hands them to the
// realtime registry. AuthRequired has already resolved the user, either from
// a bearer token or a ticket.
func (s *Server) WebSocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, ok := conn.Locals("userID").(uint)
		if !ok || userID == 0 {
			log.Printf("websocket connection without resolved user, closing")
			conn.Close()
			return
		}

		client := s.registry.Register(conn, userID)
		go client.WritePump()
		client.ReadPump()
	})
}
