package server

import (
	"errors"
	"strconv"

	"plistings/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// GetChatrooms handles GET /api/chatrooms. Rooms the caller has deleted are
// excluded, and the remainder is ordered by most recent message activity.
func (s *Server) GetChatrooms(c *fiber.Ctx) error {
	rooms, err := s.chatRepo.GetUserChatrooms(c.Context(), currentUserID(c))
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"status": "success", "length": len(rooms), "data": rooms})
}

// GetChatMessages handles GET /api/chatrooms/:id/messages. Only the two
// participants may read a room's history.
func (s *Server) GetChatMessages(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	}

	room, err := s.chatRepo.GetChatroom(c.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.RespondWithError(c, fiber.StatusNotFound,
				models.NewNotFoundError("chatroom", id))
		}
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	userID := currentUserID(c)
	if room.BuyerID != userID && room.SellerID != userID {
		return models.RespondWithError(c, fiber.StatusForbidden,
			models.NewUnauthorizedError("You are not a participant of this chatroom"))
	}

	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	messages, err := s.chatRepo.GetMessages(c.Context(), id, limit, offset)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"status": "success", "length": len(messages), "data": messages})
}

// DeleteChatroom handles DELETE /api/chatrooms/:id. The room disappears from
// the caller's list; once both participants delete it, the row and its
// messages are removed for good.
func (s *Server) DeleteChatroom(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	}

	if err := s.chatRepo.DeleteForUser(c.Context(), id, currentUserID(c)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.RespondWithError(c, fiber.StatusNotFound,
				models.NewNotFoundError("chatroom", id))
		}
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"status": "success"})
}
