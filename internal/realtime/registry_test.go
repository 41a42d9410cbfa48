package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"plistings/internal/models"
	"plistings/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Listing{},
		&models.Chatroom{},
		&models.Message{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

type fixture struct {
	registry *Registry
	db       *gorm.DB
	buyer    *models.User
	seller   *models.User
	listing  *models.Listing
}

func setupRegistry(t *testing.T) *fixture {
	db := setupTestDB(t)

	buyer := &models.User{Name: "buyer", Email: "buyer@example.com", Password: "x"}
	seller := &models.User{Name: "seller", Email: "seller@example.com", Password: "x"}
	require.NoError(t, db.Create(buyer).Error)
	require.NoError(t, db.Create(seller).Error)

	listing := &models.Listing{Title: "Record player", Price: 354, Category: "Entertainment", OwnerID: seller.ID, Active: true}
	require.NoError(t, db.Create(listing).Error)

	registry := NewRegistry(
		repository.NewChatRepository(db),
		repository.NewListingRepository(db),
		NewNotifier(nil),
	)

	return &fixture{registry: registry, db: db, buyer: buyer, seller: seller, listing: listing}
}

func connect(f *fixture, userID uint) *Client {
	return f.registry.Register(nil, userID)
}

func send(f *fixture, c *Client, event string, payload interface{}) {
	f.registry.Dispatch(c, Encode(event, payload))
}

// frames drains everything queued on the client's send channel.
func frames(c *Client) []Envelope {
	var out []Envelope
	for {
		select {
		case raw := <-c.Send:
			var env Envelope
			if err := json.Unmarshal(raw, &env); err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func countEvent(envs []Envelope, event string) int {
	n := 0
	for _, e := range envs {
		if e.Event == event {
			n++
		}
	}
	return n
}

func TestCreateNamespaceIdempotent(t *testing.T) {
	f := setupRegistry(t)
	buyer := connect(f, f.buyer.ID)
	watcher := connect(f, f.seller.ID)

	send(f, buyer, EventCreateNamespace, CreateNamespacePayload{ListingID: f.listing.ID})
	send(f, buyer, EventCreateNamespace, CreateNamespacePayload{ListingID: f.listing.ID})

	assert.True(t, f.registry.NamespaceExists(f.listing.ID))
	assert.Equal(t, 1, countEvent(frames(buyer), EventNamespaceCreated))
	assert.Equal(t, 1, countEvent(frames(watcher), EventNamespaceCreated))
}

func TestCreateNamespaceMissingListing(t *testing.T) {
	f := setupRegistry(t)
	buyer := connect(f, f.buyer.ID)

	send(f, buyer, EventCreateNamespace, CreateNamespacePayload{ListingID: 9999})

	envs := frames(buyer)
	require.Equal(t, 1, countEvent(envs, EventError))
	assert.False(t, f.registry.NamespaceExists(9999))
}

func TestCreateRoom(t *testing.T) {
	f := setupRegistry(t)
	buyer := connect(f, f.buyer.ID)
	sellerClient := connect(f, f.seller.ID)

	// Seller is watching the listing's namespace.
	send(f, sellerClient, EventCreateNamespace, CreateNamespacePayload{ListingID: f.listing.ID})
	frames(sellerClient)

	send(f, buyer, EventCreateRoom, CreateRoomPayload{ListingID: f.listing.ID})

	t.Run("ChatroomPersisted", func(t *testing.T) {
		var count int64
		f.db.Model(&models.Chatroom{}).
			Where("listing_id = ? AND buyer_id = ? AND seller_id = ?", f.listing.ID, f.buyer.ID, f.seller.ID).
			Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("DescriptorBroadcastToNamespace", func(t *testing.T) {
		assert.Equal(t, 1, countEvent(frames(sellerClient), EventNewRoomCreated))
		assert.Equal(t, 1, countEvent(frames(buyer), EventNewRoomCreated))
	})

	t.Run("SellerCannotOpenOwnRoom", func(t *testing.T) {
		send(f, sellerClient, EventCreateRoom, CreateRoomPayload{ListingID: f.listing.ID})
		assert.Equal(t, 1, countEvent(frames(sellerClient), EventError))
	})
}

func TestMessageFlow(t *testing.T) {
	f := setupRegistry(t)
	buyer := connect(f, f.buyer.ID)
	sellerClient := connect(f, f.seller.ID)

	send(f, sellerClient, EventCreateNamespace, CreateNamespacePayload{ListingID: f.listing.ID})
	send(f, buyer, EventCreateRoom, CreateRoomPayload{ListingID: f.listing.ID})

	var room models.Chatroom
	require.NoError(t, f.db.First(&room).Error)
	send(f, sellerClient, EventJoinRoom, JoinRoomPayload{ChatroomID: room.ID})
	frames(buyer)
	frames(sellerClient)

	send(f, buyer, EventMessage, MessagePayload{ChatroomID: room.ID, Content: "is this still available?"})

	var msg models.Message
	require.NoError(t, f.db.First(&msg).Error)

	t.Run("PersistedAsSent", func(t *testing.T) {
		assert.Equal(t, models.MessageSent, msg.Status)
		assert.Equal(t, f.buyer.ID, msg.SenderID)
	})

	t.Run("BroadcastToBothSides", func(t *testing.T) {
		assert.Equal(t, 1, countEvent(frames(buyer), EventMessageSent))
		assert.Equal(t, 1, countEvent(frames(sellerClient), EventMessageSent))
	})

	t.Run("DeliveredIsServerAuthoritative", func(t *testing.T) {
		send(f, sellerClient, EventMessageReceived, MessageReceivedPayload{ChatroomID: room.ID, MessageID: msg.ID})

		var stored models.Message
		require.NoError(t, f.db.First(&stored, msg.ID).Error)
		assert.Equal(t, models.MessageDelivered, stored.Status)
		assert.Equal(t, 1, countEvent(frames(buyer), EventMessageReceived))

		// A repeat acknowledgment is dropped without error or broadcast.
		send(f, sellerClient, EventMessageReceived, MessageReceivedPayload{ChatroomID: room.ID, MessageID: msg.ID})
		assert.Zero(t, countEvent(frames(buyer), EventMessageReceived))
		assert.Zero(t, countEvent(frames(sellerClient), EventError))
	})

	t.Run("SeenMarksIncomingOnly", func(t *testing.T) {
		send(f, sellerClient, EventMessageSeen, MessageSeenPayload{ChatroomID: room.ID})

		var stored models.Message
		require.NoError(t, f.db.First(&stored, msg.ID).Error)
		assert.Equal(t, models.MessageSeen, stored.Status)

		envs := frames(buyer)
		require.Equal(t, 1, countEvent(envs, EventMessageSeen))
		for _, e := range envs {
			if e.Event == EventMessageSeen {
				var p MessageSeenPayload
				require.NoError(t, json.Unmarshal(e.Payload, &p))
				assert.Equal(t, []uint{msg.ID}, p.MessageIDs)
				assert.Equal(t, f.seller.ID, p.ReaderID)
			}
		}

		// Nothing left unseen: no second broadcast.
		send(f, sellerClient, EventMessageSeen, MessageSeenPayload{ChatroomID: room.ID})
		assert.Zero(t, countEvent(frames(buyer), EventMessageSeen))
	})

	t.Run("StrangerRejected", func(t *testing.T) {
		stranger := connect(f, 9999)
		send(f, stranger, EventMessage, MessagePayload{ChatroomID: room.ID, Content: "hi"})
		assert.Equal(t, 1, countEvent(frames(stranger), EventError))
	})

	t.Run("MissingChatroomGetsErrorAck", func(t *testing.T) {
		send(f, buyer, EventMessage, MessagePayload{ChatroomID: 4242, Content: "hello?"})
		assert.Equal(t, 1, countEvent(frames(buyer), EventError))
	})
}

func TestAckAuthorization(t *testing.T) {
	f := setupRegistry(t)
	buyer := connect(f, f.buyer.ID)
	sellerClient := connect(f, f.seller.ID)

	send(f, buyer, EventCreateRoom, CreateRoomPayload{ListingID: f.listing.ID})
	var room models.Chatroom
	require.NoError(t, f.db.First(&room).Error)
	send(f, sellerClient, EventJoinRoom, JoinRoomPayload{ChatroomID: room.ID})
	send(f, buyer, EventMessage, MessagePayload{ChatroomID: room.ID, Content: "still for sale?"})
	var msg models.Message
	require.NoError(t, f.db.First(&msg).Error)
	frames(buyer)
	frames(sellerClient)

	assertStatus := func(t *testing.T, id uint, want models.MessageStatus) {
		var stored models.Message
		require.NoError(t, f.db.First(&stored, id).Error)
		assert.Equal(t, want, stored.Status)
	}

	t.Run("StrangerCannotAckDelivery", func(t *testing.T) {
		stranger := connect(f, 9999)
		send(f, stranger, EventMessageReceived, MessageReceivedPayload{ChatroomID: room.ID, MessageID: msg.ID})
		assert.Equal(t, 1, countEvent(frames(stranger), EventError))
		assertStatus(t, msg.ID, models.MessageSent)
	})

	t.Run("StrangerCannotMarkSeen", func(t *testing.T) {
		stranger := connect(f, 9998)
		send(f, stranger, EventMessageSeen, MessageSeenPayload{ChatroomID: room.ID})
		assert.Equal(t, 1, countEvent(frames(stranger), EventError))
		assertStatus(t, msg.ID, models.MessageSent)

		// Nothing leaked into the room either.
		assert.Zero(t, countEvent(frames(buyer), EventMessageSeen))
		assert.Zero(t, countEvent(frames(sellerClient), EventMessageSeen))
	})

	t.Run("SenderCannotAckOwnMessage", func(t *testing.T) {
		send(f, buyer, EventMessageReceived, MessageReceivedPayload{ChatroomID: room.ID, MessageID: msg.ID})
		assert.Equal(t, 1, countEvent(frames(buyer), EventError))
		assertStatus(t, msg.ID, models.MessageSent)
	})

	t.Run("AckRejectsMessageFromAnotherRoom", func(t *testing.T) {
		other := &models.Chatroom{ListingID: f.listing.ID, BuyerID: 7777, SellerID: f.seller.ID}
		require.NoError(t, f.db.Create(other).Error)
		foreign := &models.Message{ChatroomID: other.ID, SenderID: 7777, Content: "wrong room", Status: models.MessageSent}
		require.NoError(t, f.db.Create(foreign).Error)

		send(f, sellerClient, EventMessageReceived, MessageReceivedPayload{ChatroomID: room.ID, MessageID: foreign.ID})
		assert.Equal(t, 1, countEvent(frames(sellerClient), EventError))
		assertStatus(t, foreign.ID, models.MessageSent)
	})

	t.Run("RecipientAckStillAdvances", func(t *testing.T) {
		send(f, sellerClient, EventMessageReceived, MessageReceivedPayload{ChatroomID: room.ID, MessageID: msg.ID})
		assert.Zero(t, countEvent(frames(sellerClient), EventError))
		assertStatus(t, msg.ID, models.MessageDelivered)
	})
}

func TestTypingRelay(t *testing.T) {
	f := setupRegistry(t)
	buyer := connect(f, f.buyer.ID)
	sellerClient := connect(f, f.seller.ID)

	send(f, buyer, EventCreateRoom, CreateRoomPayload{ListingID: f.listing.ID})
	var room models.Chatroom
	require.NoError(t, f.db.First(&room).Error)
	send(f, sellerClient, EventJoinRoom, JoinRoomPayload{ChatroomID: room.ID})
	frames(buyer)
	frames(sellerClient)

	send(f, buyer, EventTyping, TypingPayload{ChatroomID: room.ID})
	send(f, buyer, EventStopTyping, TypingPayload{ChatroomID: room.ID})

	sellerEnvs := frames(sellerClient)
	assert.Equal(t, 1, countEvent(sellerEnvs, EventTyping))
	assert.Equal(t, 1, countEvent(sellerEnvs, EventStopTyping))

	// The sender never receives their own typing signals.
	buyerEnvs := frames(buyer)
	assert.Zero(t, countEvent(buyerEnvs, EventTyping))
	assert.Zero(t, countEvent(buyerEnvs, EventStopTyping))
}

func TestTeardown(t *testing.T) {
	f := setupRegistry(t)
	buyer := connect(f, f.buyer.ID)

	send(f, buyer, EventCreateRoom, CreateRoomPayload{ListingID: f.listing.ID})
	var room models.Chatroom
	require.NoError(t, f.db.First(&room).Error)
	frames(buyer)

	f.registry.Teardown(f.listing.ID)
	assert.False(t, f.registry.NamespaceExists(f.listing.ID))

	// Ephemeral signals for the dropped room now get explicit errors.
	send(f, buyer, EventTyping, TypingPayload{ChatroomID: room.ID})
	assert.Equal(t, 1, countEvent(frames(buyer), EventError))
}

func TestUnregisterCleansRooms(t *testing.T) {
	f := setupRegistry(t)
	buyer := connect(f, f.buyer.ID)
	sellerClient := connect(f, f.seller.ID)

	send(f, buyer, EventCreateRoom, CreateRoomPayload{ListingID: f.listing.ID})
	var room models.Chatroom
	require.NoError(t, f.db.First(&room).Error)
	send(f, sellerClient, EventJoinRoom, JoinRoomPayload{ChatroomID: room.ID})
	frames(buyer)
	frames(sellerClient)

	f.registry.UnregisterClient(buyer)

	// Messages still reach the remaining participant; the dead client is
	// gone from the room.
	send(f, sellerClient, EventMessage, MessagePayload{ChatroomID: room.ID, Content: "ping"})
	assert.Equal(t, 1, countEvent(frames(sellerClient), EventMessageSent))

	// Double unregister is a no-op.
	f.registry.UnregisterClient(buyer)
}

func TestRedisRelay(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db := setupTestDB(t)
	buyer := &models.User{Name: "buyer", Email: "buyer@example.com", Password: "x"}
	seller := &models.User{Name: "seller", Email: "seller@example.com", Password: "x"}
	require.NoError(t, db.Create(buyer).Error)
	require.NoError(t, db.Create(seller).Error)
	listing := &models.Listing{Title: "Camera", Price: 120, Category: "Electronics", OwnerID: seller.ID, Active: true}
	require.NoError(t, db.Create(listing).Error)

	chatRepo := repository.NewChatRepository(db)
	listingRepo := repository.NewListingRepository(db)

	// Two instances sharing one Redis.
	a := NewRegistry(chatRepo, listingRepo, NewNotifier(rdb))
	b := NewRegistry(chatRepo, listingRepo, NewNotifier(rdb))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, a.StartWiring(ctx))
	require.NoError(t, b.StartWiring(ctx))

	buyerClient := a.Register(nil, buyer.ID)
	sellerClient := b.Register(nil, seller.ID)

	a.Dispatch(buyerClient, Encode(EventCreateRoom, CreateRoomPayload{ListingID: listing.ID}))
	var room models.Chatroom
	require.NoError(t, db.First(&room).Error)
	b.Dispatch(sellerClient, Encode(EventJoinRoom, JoinRoomPayload{ChatroomID: room.ID, ListingID: listing.ID}))
	frames(buyerClient)
	frames(sellerClient)

	a.Dispatch(buyerClient, Encode(EventMessage, MessagePayload{ChatroomID: room.ID, Content: "over the wire"}))

	// The frame crosses instances asynchronously.
	assert.Eventually(t, func() bool {
		return countEvent(frames(sellerClient), EventMessageSent) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The publishing instance delivered locally exactly once, not twice.
	assert.Equal(t, 1, countEvent(frames(buyerClient), EventMessageSent))
}
