// Package seed populates the database with development fixtures.
package seed

import (
	"fmt"
	"log"

	"plistings/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultPassword is the password every seeded account logs in with.
const DefaultPassword = "password123"

// FakeUser builds an unsaved user with realistic fake data.
func FakeUser() *models.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.DefaultCost)
	return &models.User{
		Name:     gofakeit.Name(),
		Email:    gofakeit.Email(),
		Password: string(hash),
		Photo:    gofakeit.ImageURL(200, 200),
		Location: FakeLocation(),
	}
}

// FakeLocation builds a random location.
func FakeLocation() models.Location {
	return models.Location{
		Latitude:  gofakeit.Latitude(),
		Longitude: gofakeit.Longitude(),
		City:      gofakeit.City(),
		State:     gofakeit.State(),
		Country:   "United States",
	}
}

// FakeListing builds an unsaved listing in a random valid category for the
// given owner.
func FakeListing(ownerID uint) *models.Listing {
	category := gofakeit.RandomString(categoryNames())
	subs := models.Categories[category]
	return &models.Listing{
		Title:       gofakeit.ProductName(),
		Description: gofakeit.ProductDescription(),
		Price:       gofakeit.Price(1, 500),
		Category:    category,
		Subcategory: gofakeit.RandomString(subs),
		Photos:      models.PhotoList{gofakeit.ImageURL(640, 480)},
		Location:    FakeLocation(),
		OwnerID:     ownerID,
		Active:      true,
	}
}

func categoryNames() []string {
	names := make([]string, 0, len(models.Categories))
	for name := range models.Categories {
		names = append(names, name)
	}
	return names
}

// Random inserts n users each owning a handful of random listings.
func Random(db *gorm.DB, n int) error {
	for i := 0; i < n; i++ {
		user := FakeUser()
		if err := db.Create(user).Error; err != nil {
			return fmt.Errorf("seed user: %w", err)
		}
		for j := 0; j < gofakeit.Number(1, 4); j++ {
			if err := db.Create(FakeListing(user.ID)).Error; err != nil {
				return fmt.Errorf("seed listing: %w", err)
			}
		}
	}
	log.Printf("seeded %d users with random listings", n)
	return nil
}

// catalogItem is one fixed entry of the demo catalog.
type catalogItem struct {
	title    string
	price    float64
	category string
	sub      string
}

// demoCatalog is a small fixed inventory with a known price distribution,
// handy for demoing filtering, sorting and pagination.
var demoCatalog = []catalogItem{
	{"Cordless drill", 35, "Tools", "Power Tools"},
	{"Garden pruner set", 14, "Tools", "Garden"},
	{"Wooden stacking blocks", 4, "BabyAndKids", "Toys"},
	{"Mirrorless camera", 120, "Electronics", "Cameras"},
	{"Bluetooth earbuds", 15, "Electronics", "Audio"},
	{"Paperback thriller", 3, "Entertainment", "Books"},
	{"Gaming laptop", 354, "Electronics", "Computers"},
	{"Vinyl record collection", 279, "Entertainment", "Music"},
}

// Demo inserts a deterministic demo account plus the fixed catalog. Safe to run
// repeatedly; the account is matched by email and listings skip duplicates by
// title.
func Demo(db *gorm.DB) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	owner := &models.User{
		Name:     "Demo Seller",
		Email:    "demo@plistings.local",
		Password: string(hash),
		Location: models.Location{City: "Portland", State: "OR", Country: "United States"},
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(owner).Error; err != nil {
		return fmt.Errorf("seed demo user: %w", err)
	}
	if owner.ID == 0 {
		if err := db.Where("email = ?", owner.Email).First(owner).Error; err != nil {
			return fmt.Errorf("lookup demo user: %w", err)
		}
	}

	for _, item := range demoCatalog {
		var count int64
		if err := db.Model(&models.Listing{}).
			Where("owner_id = ? AND title = ?", owner.ID, item.title).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}

		listing := &models.Listing{
			Title:       item.title,
			Description: gofakeit.ProductDescription(),
			Price:       item.price,
			Category:    item.category,
			Subcategory: item.sub,
			Location:    owner.Location,
			OwnerID:     owner.ID,
			Active:      true,
		}
		if err := db.Create(listing).Error; err != nil {
			return fmt.Errorf("seed catalog item %q: %w", item.title, err)
		}
	}

	log.Printf("seeded demo catalog (%d items) for %s", len(demoCatalog), owner.Email)
	return seedDemoChat(db, owner, hash)
}

// seedDemoChat adds a buyer account and a short conversation on the first
// catalog item so the chat surfaces have data out of the box.
func seedDemoChat(db *gorm.DB, seller *models.User, hash []byte) error {
	buyer := &models.User{
		Name:     "Demo Buyer",
		Email:    "buyer@plistings.local",
		Password: string(hash),
		Location: models.Location{City: "Portland", State: "OR", Country: "United States"},
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(buyer).Error; err != nil {
		return fmt.Errorf("seed demo buyer: %w", err)
	}
	if buyer.ID == 0 {
		if err := db.Where("email = ?", buyer.Email).First(buyer).Error; err != nil {
			return fmt.Errorf("lookup demo buyer: %w", err)
		}
	}

	var listing models.Listing
	if err := db.Where("owner_id = ? AND title = ?", seller.ID, demoCatalog[0].title).
		First(&listing).Error; err != nil {
		return fmt.Errorf("lookup demo listing: %w", err)
	}

	room := &models.Chatroom{ListingID: listing.ID, BuyerID: buyer.ID, SellerID: seller.ID}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(room)
	if res.Error != nil {
		return fmt.Errorf("seed demo chatroom: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Conversation already seeded on a previous run.
		return nil
	}

	messages := []models.Message{
		{ChatroomID: room.ID, SenderID: buyer.ID, Content: "Hi, is the drill still available?", Status: models.MessageSeen},
		{ChatroomID: room.ID, SenderID: seller.ID, Content: "It is! Pickup works any evening this week.", Status: models.MessageDelivered},
	}
	for i := range messages {
		if err := db.Create(&messages[i]).Error; err != nil {
			return fmt.Errorf("seed demo message: %w", err)
		}
	}
	log.Printf("seeded demo conversation for listing %q", listing.Title)
	return nil
}
