package server

import (
	"context"
	"errors"

	"plistings/internal/cache"
	"plistings/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// browsePage is the cacheable browse result for one query string.
type browsePage struct {
	Data  []*models.Listing `json:"data"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

// GetListings handles GET /api/listings. Query parameters drive the
// filter/sort/select/paginate pipeline; the response envelope is
// {status, length, data}. Results are cached briefly per query string and the
// cache is flushed on any listing write.
func (s *Server) GetListings(c *fiber.Ctx) error {
	var result browsePage
	key := cache.ListingListKey(string(c.Request().URI().QueryString()))
	err := cache.Aside(c.Context(), key, &result, cache.ListingListTTL, func() error {
		listings, page, limit, err := s.listingRepo.Browse(c.Context(), c.Queries())
		if err != nil {
			return err
		}
		result = browsePage{Data: listings, Page: page, Limit: limit}
		return nil
	})
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	return c.JSON(fiber.Map{
		"status": "success",
		"length": len(result.Data),
		"data":   result.Data,
		"page":   result.Page,
		"limit":  result.Limit,
	})
}

// GetListing handles GET /api/listings/:id. A view by anyone but the owner
// bumps the visit counter.
func (s *Server) GetListing(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	}

	listing, err := s.listingRepo.GetByID(c.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.RespondWithError(c, fiber.StatusNotFound,
				models.NewNotFoundError("listing", id))
		}
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	favorited := false
	if viewerID, ok := optionalUserID(c); !ok || viewerID != listing.OwnerID {
		if err := s.listingRepo.IncrementVisits(c.Context(), id); err == nil {
			listing.Visits++
		}
		if ok {
			favorited, _ = s.listingRepo.IsFavorited(c.Context(), viewerID, id)
		}
	}

	return c.JSON(fiber.Map{"status": "success", "data": listing, "favorited": favorited})
}

// CreateListing handles POST /api/listings.
func (s *Server) CreateListing(c *fiber.Ctx) error {
	var listing models.Listing
	if err := c.BodyParser(&listing); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	// Server-owned fields never come from the client.
	listing.ID = 0
	listing.OwnerID = currentUserID(c)
	listing.Visits = 0
	listing.Favorites = 0
	listing.Active = true
	listing.Sold = false

	if err := s.listingRepo.Create(c.Context(), &listing); err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return models.RespondWithError(c, fiber.StatusBadRequest, appErr)
		}
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "success", "data": listing})
}

// UpdateListing handles PUT /api/listings/:id. Owner only; counters and
// ownership cannot be changed through this endpoint.
func (s *Server) UpdateListing(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	}

	listing, err := s.requireOwnedListing(c, id)
	if err != nil {
		return err
	}

	var req struct {
		Title       *string          `json:"title"`
		Description *string          `json:"description"`
		Price       *float64         `json:"price"`
		Category    *string          `json:"category"`
		Subcategory *string          `json:"subcategory"`
		Photos      models.PhotoList `json:"photos"`
		Location    *models.Location `json:"location"`
		OwnerID     *uint            `json:"owner_id"`
		Visits      *int             `json:"visits"`
		Favorites   *int             `json:"favorites"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if req.OwnerID != nil || req.Visits != nil || req.Favorites != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewBadRequestError("Field cannot be changed through this endpoint"))
	}

	if req.Title != nil {
		listing.Title = *req.Title
	}
	if req.Description != nil {
		listing.Description = *req.Description
	}
	if req.Price != nil {
		listing.Price = *req.Price
	}
	if req.Category != nil {
		listing.Category = *req.Category
	}
	if req.Subcategory != nil {
		listing.Subcategory = *req.Subcategory
	}
	if req.Photos != nil {
		listing.Photos = req.Photos
	}
	if req.Location != nil {
		listing.Location = *req.Location
	}

	if err := s.listingRepo.Update(c.Context(), listing); err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return models.RespondWithError(c, fiber.StatusBadRequest, appErr)
		}
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	return c.JSON(fiber.Map{"status": "success", "data": listing})
}

// DeleteListing handles DELETE /api/listings/:id. Deleting a listing also
// removes its chatrooms and tears down its realtime namespace.
func (s *Server) DeleteListing(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	}

	if _, err := s.requireOwnedListing(c, id); err != nil {
		return err
	}

	if err := s.listingRepo.Delete(c.Context(), id); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	if err := s.chatRepo.DeleteByListing(c.Context(), id); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	s.registry.Teardown(id)

	return c.JSON(fiber.Map{"status": "success"})
}

// MarkListingSold handles POST /api/listings/:id/sold.
func (s *Server) MarkListingSold(c *fiber.Ctx) error {
	return s.setListingState(c, s.listingRepo.MarkSold)
}

// RenewListing handles POST /api/listings/:id/renew.
func (s *Server) RenewListing(c *fiber.Ctx) error {
	return s.setListingState(c, s.listingRepo.Renew)
}

func (s *Server) setListingState(c *fiber.Ctx, op func(ctx context.Context, id uint) error) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	}
	if _, err := s.requireOwnedListing(c, id); err != nil {
		return err
	}
	if err := op(c.Context(), id); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"status": "success"})
}

// GetMyListings handles GET /api/listings/me.
func (s *Server) GetMyListings(c *fiber.Ctx) error {
	listings, err := s.listingRepo.ByOwner(c.Context(), currentUserID(c))
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"status": "success", "length": len(listings), "data": listings})
}

// requireOwnedListing loads the listing and enforces that the caller owns it
// (admins pass). On failure it writes the error response and returns it.
func (s *Server) requireOwnedListing(c *fiber.Ctx, id uint) (*models.Listing, error) {
	listing, err := s.listingRepo.GetByID(c.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.RespondWithError(c, fiber.StatusNotFound,
				models.NewNotFoundError("listing", id))
		}
		return nil, models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	userID := currentUserID(c)
	if listing.OwnerID != userID {
		user, err := s.userRepo.GetByID(c.Context(), userID)
		if err != nil || user.Role != models.RoleAdmin {
			return nil, models.RespondWithError(c, fiber.StatusForbidden,
				models.NewUnauthorizedError("You do not own this listing"))
		}
	}
	return listing, nil
}
