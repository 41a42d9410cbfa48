package models

import (
	"time"

	"gorm.io/gorm"
)

// Location holds a geographic point plus its human-readable place names.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	City      string  `json:"city"`
	State     string  `json:"state"`
	Country   string  `json:"country"`
}

// Categories maps each listing category to its allowed subcategories.
// A subcategory is only valid within its parent category.
var Categories = map[string][]string{
	"Tools":         {"Hand Tools", "Power Tools", "Garden"},
	"BabyAndKids":   {"Clothing", "Toys", "Strollers", "Furniture"},
	"Electronics":   {"Phones", "Computers", "Cameras", "Audio", "TV"},
	"Entertainment": {"Books", "Games", "Music", "Movies"},
	"Furniture":     {"Living Room", "Bedroom", "Office", "Outdoor"},
	"Vehicles":      {"Cars", "Motorcycles", "Bicycles", "Parts"},
}

// ValidSubcategory reports whether sub belongs to the given category.
// The empty subcategory is always valid.
func ValidSubcategory(category, sub string) bool {
	if sub == "" {
		return true
	}
	for _, s := range Categories[category] {
		if s == sub {
			return true
		}
	}
	return false
}

// Listing represents an item offered for sale.
type Listing struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Title       string         `gorm:"not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	Price       float64        `gorm:"not null;index" json:"price"`
	Category    string         `gorm:"not null;index" json:"category"`
	Subcategory string         `gorm:"index" json:"subcategory"`
	Photos      PhotoList      `gorm:"type:text" json:"photos"`
	Location    Location       `gorm:"embedded;embeddedPrefix:location_" json:"location"`
	OwnerID     uint           `gorm:"not null;index" json:"owner_id"`
	Owner       *User          `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Visits      int            `gorm:"not null;default:0" json:"visits"`
	Favorites   int            `gorm:"not null;default:0" json:"favorites"`
	Active      bool           `gorm:"not null;default:true;index" json:"active"`
	Sold        bool           `gorm:"not null;default:false" json:"sold"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// Validate checks cross-field invariants before persistence.
func (l *Listing) Validate() error {
	if l.Title == "" {
		return NewValidationError("Title is required")
	}
	if l.Price < 0 {
		return NewValidationError("Price must not be negative")
	}
	if _, ok := Categories[l.Category]; !ok {
		return NewValidationError("Unknown category: " + l.Category)
	}
	if !ValidSubcategory(l.Category, l.Subcategory) {
		return NewValidationError("Subcategory " + l.Subcategory + " does not belong to category " + l.Category)
	}
	return nil
}
