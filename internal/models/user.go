// Package models contains data structures for the application's domain models.
package models

import (
	"time"

	"gorm.io/gorm"
)

// UserRole defines the authorization level of a user account.
type UserRole string

const (
	// RoleUser is the default role for registered accounts.
	RoleUser UserRole = "user"
	// RoleAdmin grants access to moderation endpoints.
	RoleAdmin UserRole = "admin"
)

// UserStatus defines the lifecycle state of a user account.
type UserStatus string

const (
	// UserStatusActive indicates a usable account.
	UserStatusActive UserStatus = "active"
	// UserStatusInactive indicates a deactivated account.
	UserStatusInactive UserStatus = "inactive"
	// UserStatusSuspended indicates an account disabled by moderation.
	UserStatusSuspended UserStatus = "suspended"
)

// User represents a registered account in the marketplace.
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"not null" json:"name"`
	Email     string         `gorm:"unique;not null" json:"email"`
	Password  string         `gorm:"not null" json:"-"`
	Role      UserRole       `gorm:"type:varchar(20);not null;default:'user'" json:"role"`
	Status    UserStatus     `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	Photo     string         `json:"photo"`
	Location  Location       `gorm:"embedded;embeddedPrefix:location_" json:"location"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Listings  []Listing      `gorm:"foreignKey:OwnerID" json:"listings,omitempty"`
}

// PublicProfile is the reduced user shape embedded in chatroom and listing
// responses. It never carries credentials or account status.
type PublicProfile struct {
	ID       uint     `json:"id"`
	Name     string   `json:"name"`
	Photo    string   `json:"photo"`
	Location Location `json:"location"`
}

// Public returns the reduced profile projection of the user.
func (u *User) Public() PublicProfile {
	return PublicProfile{
		ID:       u.ID,
		Name:     u.Name,
		Photo:    u.Photo,
		Location: u.Location,
	}
}
