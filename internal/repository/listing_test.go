package repository

import (
	"context"
	"testing"

	"plistings/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListingRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewListingRepository(db)
	ctx := context.Background()

	owner := &models.User{Name: "owner", Email: "owner@example.com", Password: "x"}
	require.NoError(t, db.Create(owner).Error)

	t.Run("CreateValidatesCategory", func(t *testing.T) {
		err := repo.Create(ctx, &models.Listing{
			Title:    "Mystery box",
			Price:    10,
			Category: "NotACategory",
			OwnerID:  owner.ID,
		})
		assert.Error(t, err)

		err = repo.Create(ctx, &models.Listing{
			Title:       "Drill",
			Price:       35,
			Category:    "Tools",
			Subcategory: "Phones",
			OwnerID:     owner.ID,
			Active:      true,
		})
		assert.Error(t, err, "subcategory must belong to the category")
	})

	t.Run("IncrementVisitsIsAtomicSQL", func(t *testing.T) {
		listing := &models.Listing{Title: "Drill", Price: 35, Category: "Tools", OwnerID: owner.ID, Active: true}
		require.NoError(t, repo.Create(ctx, listing))

		for i := 0; i < 3; i++ {
			require.NoError(t, repo.IncrementVisits(ctx, listing.ID))
		}

		var stored models.Listing
		require.NoError(t, db.First(&stored, listing.ID).Error)
		assert.Equal(t, 3, stored.Visits)
	})

	t.Run("SoldAndRenew", func(t *testing.T) {
		listing := &models.Listing{Title: "Couch", Price: 120, Category: "Furniture", OwnerID: owner.ID, Active: true}
		require.NoError(t, repo.Create(ctx, listing))

		require.NoError(t, repo.MarkSold(ctx, listing.ID))
		var stored models.Listing
		require.NoError(t, db.First(&stored, listing.ID).Error)
		assert.True(t, stored.Sold)
		assert.False(t, stored.Active)

		require.NoError(t, repo.Renew(ctx, listing.ID))
		require.NoError(t, db.First(&stored, listing.ID).Error)
		assert.False(t, stored.Sold)
		assert.True(t, stored.Active)
	})

	t.Run("BrowseOnlyActive", func(t *testing.T) {
		inactive := &models.Listing{Title: "Hidden", Price: 1, Category: "Tools", OwnerID: owner.ID, Active: false}
		require.NoError(t, db.Create(inactive).Error)

		listings, page, limit, err := repo.Browse(ctx, map[string]string{})
		require.NoError(t, err)
		assert.Equal(t, 1, page)
		assert.Positive(t, limit)
		for _, l := range listings {
			assert.True(t, l.Active)
		}
	})

	t.Run("BrowseFiltersByCityAlias", func(t *testing.T) {
		local := &models.Listing{
			Title:    "Bike",
			Price:    80,
			Category: "Vehicles",
			OwnerID:  owner.ID,
			Active:   true,
			Location: models.Location{City: "Portland"},
		}
		require.NoError(t, db.Create(local).Error)

		listings, _, _, err := repo.Browse(ctx, map[string]string{"city": "Portland"})
		require.NoError(t, err)
		require.Len(t, listings, 1)
		assert.Equal(t, "Bike", listings[0].Title)
	})

	t.Run("BrowseDropsUnknownFields", func(t *testing.T) {
		listings, _, _, err := repo.Browse(ctx, map[string]string{
			"no_such_column":      "x",
			"no_such_column[gte]": "1",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, listings)
	})
}

func TestFavorites(t *testing.T) {
	db := setupTestDB(t)
	repo := NewListingRepository(db)
	ctx := context.Background()

	owner := &models.User{Name: "owner", Email: "owner@example.com", Password: "x"}
	fan := &models.User{Name: "fan", Email: "fan@example.com", Password: "x"}
	require.NoError(t, db.Create(owner).Error)
	require.NoError(t, db.Create(fan).Error)

	listing := &models.Listing{Title: "Guitar", Price: 279, Category: "Entertainment", OwnerID: owner.ID, Active: true}
	require.NoError(t, repo.Create(ctx, listing))

	t.Run("FavoriteIsIdempotent", func(t *testing.T) {
		require.NoError(t, repo.Favorite(ctx, fan.ID, listing.ID))
		require.NoError(t, repo.Favorite(ctx, fan.ID, listing.ID))

		var stored models.Listing
		require.NoError(t, db.First(&stored, listing.ID).Error)
		assert.Equal(t, 1, stored.Favorites)

		favorited, err := repo.IsFavorited(ctx, fan.ID, listing.ID)
		require.NoError(t, err)
		assert.True(t, favorited)
	})

	t.Run("UnfavoriteNeverGoesNegative", func(t *testing.T) {
		require.NoError(t, repo.Unfavorite(ctx, fan.ID, listing.ID))
		require.NoError(t, repo.Unfavorite(ctx, fan.ID, listing.ID))

		var stored models.Listing
		require.NoError(t, db.First(&stored, listing.ID).Error)
		assert.Equal(t, 0, stored.Favorites)
	})

	t.Run("FavoritesOf", func(t *testing.T) {
		require.NoError(t, repo.Favorite(ctx, fan.ID, listing.ID))
		listings, err := repo.FavoritesOf(ctx, fan.ID)
		require.NoError(t, err)
		require.Len(t, listings, 1)
		assert.Equal(t, listing.ID, listings[0].ID)
	})
}
