package seed

import (
	"testing"

	"plistings/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Listing{},
		&models.Chatroom{},
		&models.Message{},
	))
	return db
}

func TestDemoIsIdempotent(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, Demo(db))
	require.NoError(t, Demo(db))

	var users, listings, rooms, messages int64
	require.NoError(t, db.Model(&models.User{}).Count(&users).Error)
	require.NoError(t, db.Model(&models.Listing{}).Count(&listings).Error)
	require.NoError(t, db.Model(&models.Chatroom{}).Count(&rooms).Error)
	require.NoError(t, db.Model(&models.Message{}).Count(&messages).Error)
	assert.Equal(t, int64(2), users)
	assert.Equal(t, int64(len(demoCatalog)), listings)
	assert.Equal(t, int64(1), rooms)
	assert.Equal(t, int64(2), messages)
}

func TestFakeListingIsValid(t *testing.T) {
	for i := 0; i < 20; i++ {
		listing := FakeListing(1)
		assert.NoError(t, listing.Validate())
	}
}

func TestRandomSeedsOwnedListings(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, Random(db, 3))

	var users int64
	require.NoError(t, db.Model(&models.User{}).Count(&users).Error)
	assert.Equal(t, int64(3), users)

	var orphans int64
	require.NoError(t, db.Model(&models.Listing{}).
		Where("owner_id NOT IN (SELECT id FROM users)").
		Count(&orphans).Error)
	assert.Zero(t, orphans)
}
