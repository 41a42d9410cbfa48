package repository

import (
	"context"
	"strings"

	"plistings/internal/cache"
	"plistings/internal/models"
	"plistings/internal/query"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ListingRepository defines the interface for listing data operations
type ListingRepository interface {
	Create(ctx context.Context, listing *models.Listing) error
	GetByID(ctx context.Context, id uint) (*models.Listing, error)
	Browse(ctx context.Context, params map[string]string) ([]*models.Listing, int, int, error)
	ByOwner(ctx context.Context, ownerID uint) ([]*models.Listing, error)
	Update(ctx context.Context, listing *models.Listing) error
	Delete(ctx context.Context, id uint) error
	IncrementVisits(ctx context.Context, id uint) error
	MarkSold(ctx context.Context, id uint) error
	Renew(ctx context.Context, id uint) error
	Favorite(ctx context.Context, userID, listingID uint) error
	Unfavorite(ctx context.Context, userID, listingID uint) error
	IsFavorited(ctx context.Context, userID, listingID uint) (bool, error)
	FavoritesOf(ctx context.Context, userID uint) ([]*models.Listing, error)
}

// listingRepository implements ListingRepository
type listingRepository struct {
	db *gorm.DB
}

// NewListingRepository creates a new listing repository
func NewListingRepository(db *gorm.DB) ListingRepository {
	return &listingRepository{db: db}
}

func (r *listingRepository) Create(ctx context.Context, listing *models.Listing) error {
	if err := listing.Validate(); err != nil {
		return err
	}
	err := r.db.WithContext(ctx).Create(listing).Error
	if err == nil {
		cache.InvalidateListingLists(ctx)
	}
	return err
}

func (r *listingRepository) GetByID(ctx context.Context, id uint) (*models.Listing, error) {
	var listing models.Listing
	err := cache.Aside(ctx, cache.ListingKey(id), &listing, cache.ListingTTL, func() error {
		return r.db.WithContext(ctx).Preload("Owner").First(&listing, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// browseAliases maps public filter names onto the embedded location columns.
var browseAliases = map[string]string{
	"location": "location_city",
	"city":     "location_city",
	"state":    "location_state",
	"country":  "location_country",
}

// browseFields whitelists the columns the browse endpoint may filter on. The
// query engine is permissive so the sanitizing happens here.
var browseFields = map[string]struct{}{
	"category":         {},
	"subcategory":      {},
	"price":            {},
	"sold":             {},
	"location_city":    {},
	"location_state":   {},
	"location_country": {},
}

// browseReserved are the pipeline control keys that pass through untouched.
var browseReserved = map[string]struct{}{
	"page":   {},
	"sort":   {},
	"limit":  {},
	"fields": {},
}

// Browse runs the filter/sort/select/paginate pipeline over active listings
// and returns the page along with the resolved page number and limit.
func (r *listingRepository) Browse(ctx context.Context, params map[string]string) ([]*models.Listing, int, int, error) {
	remapped := make(map[string]string, len(params))
	for key, value := range params {
		if _, ok := browseReserved[key]; ok {
			remapped[key] = value
			continue
		}

		field, suffix := key, ""
		if open := strings.IndexByte(key, '['); open > 0 {
			field, suffix = key[:open], key[open:]
		}
		if alias, ok := browseAliases[field]; ok {
			field = alias
		}
		if _, ok := browseFields[field]; !ok {
			continue
		}
		remapped[field+suffix] = value
	}

	var listings []*models.Listing
	f := query.New(
		r.db.WithContext(ctx).Model(&models.Listing{}).Where("active = ?", true),
		remapped,
	).Filter().Sort().Select().Paginate()
	if err := f.Find(&listings); err != nil {
		return nil, 0, 0, err
	}
	return listings, f.Page(), f.Limit(), nil
}

func (r *listingRepository) ByOwner(ctx context.Context, ownerID uint) ([]*models.Listing, error) {
	var listings []*models.Listing
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&listings).Error
	return listings, err
}

func (r *listingRepository) Update(ctx context.Context, listing *models.Listing) error {
	if err := listing.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(listing).Error; err != nil {
		return err
	}
	cache.InvalidateListing(ctx, listing.ID)
	cache.InvalidateListingLists(ctx)
	return nil
}

func (r *listingRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&models.Listing{}, id).Error; err != nil {
		return err
	}
	cache.InvalidateListing(ctx, id)
	cache.InvalidateListingLists(ctx)
	return nil
}

// IncrementVisits bumps the visit counter in SQL so concurrent views never
// lose increments.
func (r *listingRepository) IncrementVisits(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ?", id).
		UpdateColumn("visits", gorm.Expr("visits + 1")).Error
	if err == nil {
		cache.InvalidateListing(ctx, id)
	}
	return err
}

func (r *listingRepository) MarkSold(ctx context.Context, id uint) error {
	return r.setFlags(ctx, id, map[string]interface{}{"sold": true, "active": false})
}

func (r *listingRepository) Renew(ctx context.Context, id uint) error {
	return r.setFlags(ctx, id, map[string]interface{}{"sold": false, "active": true})
}

func (r *listingRepository) setFlags(ctx context.Context, id uint, flags map[string]interface{}) error {
	err := r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ?", id).
		Updates(flags).Error
	if err != nil {
		return err
	}
	cache.InvalidateListing(ctx, id)
	cache.InvalidateListingLists(ctx)
	return nil
}

// Favorite inserts the favorite row and bumps the listing counter in one
// transaction. A repeat favorite is a no-op: the insert hits the composite
// primary key and the counter is left alone.
func (r *listingRepository) Favorite(ctx context.Context, userID, listingID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Favorite{UserID: userID, ListingID: listingID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Model(&models.Listing{}).
			Where("id = ?", listingID).
			UpdateColumn("favorites", gorm.Expr("favorites + 1")).Error
	})
	if err == nil {
		cache.InvalidateListing(ctx, listingID)
	}
	return err
}

func (r *listingRepository) Unfavorite(ctx context.Context, userID, listingID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND listing_id = ?", userID, listingID).
			Delete(&models.Favorite{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Model(&models.Listing{}).
			Where("id = ? AND favorites > 0", listingID).
			UpdateColumn("favorites", gorm.Expr("favorites - 1")).Error
	})
	if err == nil {
		cache.InvalidateListing(ctx, listingID)
	}
	return err
}

func (r *listingRepository) IsFavorited(ctx context.Context, userID, listingID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Favorite{}).
		Where("user_id = ? AND listing_id = ?", userID, listingID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *listingRepository) FavoritesOf(ctx context.Context, userID uint) ([]*models.Listing, error) {
	var listings []*models.Listing
	err := r.db.WithContext(ctx).
		Joins("JOIN favorites ON favorites.listing_id = listings.id").
		Where("favorites.user_id = ?", userID).
		Order("favorites.created_at DESC").
		Find(&listings).Error
	return listings, err
}
