package models

import "time"

// Favorite marks a listing saved by a user. The (user, listing) pair is
// unique; every insert/delete is paired with an atomic adjustment of the
// listing's favorites counter in the same transaction.
type Favorite struct {
	UserID    uint      `gorm:"primaryKey" json:"user_id"`
	ListingID uint      `gorm:"primaryKey" json:"listing_id"`
	CreatedAt time.Time `json:"created_at"`
}
