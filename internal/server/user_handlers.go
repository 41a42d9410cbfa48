package server

import (
	"errors"

	"plistings/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// GetMyProfile handles GET /api/users/me.
func (s *Server) GetMyProfile(c *fiber.Ctx) error {
	user, err := s.userRepo.GetByID(c.Context(), currentUserID(c))
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"status": "success", "data": user})
}

// UpdateMyProfile handles PUT /api/users/me.
func (s *Server) UpdateMyProfile(c *fiber.Ctx) error {
	user, err := s.userRepo.GetByID(c.Context(), currentUserID(c))
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	var req struct {
		Name     *string          `json:"name"`
		Photo    *string          `json:"photo"`
		Location *models.Location `json:"location"`
		Role     *string          `json:"role"`
		Email    *string          `json:"email"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if req.Role != nil || req.Email != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewBadRequestError("Field cannot be changed through this endpoint"))
	}

	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Photo != nil {
		user.Photo = *req.Photo
	}
	if req.Location != nil {
		user.Location = *req.Location
	}

	if err := s.userRepo.Update(c.Context(), user); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"status": "success", "data": user})
}

// DeleteMyAccount handles DELETE /api/users/me. The account is soft-deleted;
// listings and conversations the user owned remain addressable by id.
func (s *Server) DeleteMyAccount(c *fiber.Ctx) error {
	if err := s.userRepo.Delete(c.Context(), currentUserID(c)); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"status": "success"})
}

// GetUserProfile handles GET /api/users/:id. Other users only see the public
// projection.
func (s *Server) GetUserProfile(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	}

	user, err := s.userRepo.GetByID(c.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.RespondWithError(c, fiber.StatusNotFound,
				models.NewNotFoundError("user", id))
		}
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	if id == currentUserID(c) {
		return c.JSON(fiber.Map{"status": "success", "data": user})
	}
	return c.JSON(fiber.Map{"status": "success", "data": user.Public()})
}

// SuspendUser handles POST /api/users/:id/suspend (admin only).
func (s *Server) SuspendUser(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	}

	if err := s.userRepo.UpdateStatus(c.Context(), id, models.UserStatusSuspended); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"status": "success"})
}

// FavoriteListing handles POST /api/listings/:id/favorite.
func (s *Server) FavoriteListing(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	}
	if _, err := s.listingRepo.GetByID(c.Context(), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.RespondWithError(c, fiber.StatusNotFound,
				models.NewNotFoundError("listing", id))
		}
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	if err := s.listingRepo.Favorite(c.Context(), currentUserID(c), id); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"status": "success"})
}

// UnfavoriteListing handles DELETE /api/listings/:id/favorite.
func (s *Server) UnfavoriteListing(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	}

	if err := s.listingRepo.Unfavorite(c.Context(), currentUserID(c), id); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"status": "success"})
}

// GetMyFavorites handles GET /api/users/me/favorites.
func (s *Server) GetMyFavorites(c *fiber.Ctx) error {
	listings, err := s.listingRepo.FavoritesOf(c.Context(), currentUserID(c))
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"status": "success", "length": len(listings), "data": listings})
}
