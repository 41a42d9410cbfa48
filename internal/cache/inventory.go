package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	UserKeyPrefix         = "user:%d"
	ListingKeyPrefix      = "listing:%d"
	ListingListKeyPrefix  = "listings:%s"
	ChatroomListKeyPrefix = "chatrooms:user:%d"
)

const (
	UserTTL         = 5 * time.Minute
	ListingTTL      = 10 * time.Minute
	ListingListTTL  = 1 * time.Minute
	ChatroomListTTL = 1 * time.Minute
)

func UserKey(userID uint) string {
	return fmt.Sprintf(UserKeyPrefix, userID)
}

func ListingKey(listingID uint) string {
	return fmt.Sprintf(ListingKeyPrefix, listingID)
}

// ListingListKey keys a cached browse result by the canonical query string.
func ListingListKey(query string) string {
	return fmt.Sprintf(ListingListKeyPrefix, query)
}

func ChatroomListKey(userID uint) string {
	return fmt.Sprintf(ChatroomListKeyPrefix, userID)
}

func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

func InvalidateUser(ctx context.Context, userID uint) {
	Invalidate(ctx, UserKey(userID))
}

func InvalidateListing(ctx context.Context, listingID uint) {
	Invalidate(ctx, ListingKey(listingID))
}

// InvalidateListingLists drops every cached browse result. Listing writes are
// rare relative to reads so a coarse flush keeps the invalidation simple.
func InvalidateListingLists(ctx context.Context) {
	if client == nil {
		return
	}
	iter := client.Scan(ctx, 0, "listings:*", 100).Iterator()
	for iter.Next(ctx) {
		client.Del(ctx, iter.Val())
	}
}
