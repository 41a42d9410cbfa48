package repository

import (
	"context"
	"errors"
	"sort"

	"plistings/internal/cache"
	"plistings/internal/models"
	"plistings/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidStatusTransition is returned when a message status update would
// move backwards (e.g. Seen back to Delivered).
var ErrInvalidStatusTransition = errors.New("invalid message status transition")

// ChatRepository defines the interface for chatroom and message data operations
type ChatRepository interface {
	GetOrCreateChatroom(ctx context.Context, listingID, buyerID, sellerID uint) (*models.Chatroom, bool, error)
	GetChatroom(ctx context.Context, id uint) (*models.Chatroom, error)
	GetUserChatrooms(ctx context.Context, userID uint) ([]*models.Chatroom, error)
	DeleteForUser(ctx context.Context, chatroomID, userID uint) error
	DeleteByListing(ctx context.Context, listingID uint) error
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id uint) (*models.Message, error)
	GetMessages(ctx context.Context, chatroomID uint, limit, offset int) ([]*models.Message, error)
	AdvanceMessageStatus(ctx context.Context, msgID uint, next models.MessageStatus) error
	MarkIncomingSeen(ctx context.Context, chatroomID, readerID uint) ([]uint, error)
}

// chatRepository implements ChatRepository
type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository creates a new chat repository
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

// GetOrCreateChatroom returns the chatroom for the (listing, buyer, seller)
// triple, creating it if absent. The boolean reports whether a new room was
// created. Concurrent creates race on the unique index and both callers get
// the same row back.
func (r *chatRepository) GetOrCreateChatroom(ctx context.Context, listingID, buyerID, sellerID uint) (*models.Chatroom, bool, error) {
	room := &models.Chatroom{ListingID: listingID, BuyerID: buyerID, SellerID: sellerID}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(room)
	if res.Error != nil {
		return nil, false, res.Error
	}
	created := res.RowsAffected > 0

	var found models.Chatroom
	err := r.db.WithContext(ctx).
		Preload("Buyer").
		Preload("Seller").
		Preload("Listing").
		Where("listing_id = ? AND buyer_id = ? AND seller_id = ?", listingID, buyerID, sellerID).
		First(&found).Error
	if err != nil {
		return nil, false, err
	}

	// A returning participant gets their side of the room restored.
	if restoreFor(&found, buyerID) || restoreFor(&found, sellerID) {
		if err := r.db.WithContext(ctx).Model(&found).Updates(map[string]interface{}{
			"deleted_by_buyer":  found.DeletedByBuyer,
			"deleted_by_seller": found.DeletedBySeller,
		}).Error; err != nil {
			return nil, false, err
		}
		cache.Invalidate(ctx, cache.ChatroomListKey(buyerID))
		cache.Invalidate(ctx, cache.ChatroomListKey(sellerID))
	}

	if created {
		cache.Invalidate(ctx, cache.ChatroomListKey(buyerID))
		cache.Invalidate(ctx, cache.ChatroomListKey(sellerID))
	}
	return &found, created, nil
}

func restoreFor(room *models.Chatroom, userID uint) bool {
	switch {
	case userID == room.BuyerID && room.DeletedByBuyer:
		room.DeletedByBuyer = false
		return true
	case userID == room.SellerID && room.DeletedBySeller:
		room.DeletedBySeller = false
		return true
	}
	return false
}

func (r *chatRepository) GetChatroom(ctx context.Context, id uint) (*models.Chatroom, error) {
	var room models.Chatroom
	err := r.db.WithContext(ctx).
		Preload("Buyer").
		Preload("Seller").
		Preload("Listing").
		First(&room, id).Error
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// GetUserChatrooms returns every chatroom the user participates in and has
// not deleted, each carrying its most recent message. Rooms are ordered by
// last activity, newest first; rooms without messages sort last.
func (r *chatRepository) GetUserChatrooms(ctx context.Context, userID uint) ([]*models.Chatroom, error) {
	span, ctx := observability.NewSpan(ctx, "repository.GetUserChatrooms")
	defer span.End()
	span.AddAttributes(attribute.Int64("user.id", int64(userID)))

	var rooms []*models.Chatroom
	err := cache.Aside(ctx, cache.ChatroomListKey(userID), &rooms, cache.ChatroomListTTL, func() error {
		return r.fetchUserChatrooms(ctx, userID, &rooms)
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	return rooms, nil
}

func (r *chatRepository) fetchUserChatrooms(ctx context.Context, userID uint, out *[]*models.Chatroom) error {
	var rooms []*models.Chatroom
	err := r.db.WithContext(ctx).
		Preload("Buyer").
		Preload("Seller").
		Preload("Listing").
		Where("(buyer_id = ? AND deleted_by_buyer = ?) OR (seller_id = ? AND deleted_by_seller = ?)",
			userID, false, userID, false).
		Find(&rooms).Error
	if err != nil {
		return err
	}

	if len(rooms) > 0 {
		if err := r.attachLastMessages(ctx, rooms); err != nil {
			return err
		}
	}

	sort.SliceStable(rooms, func(i, j int) bool {
		li, lj := rooms[i].LastMessage, rooms[j].LastMessage
		switch {
		case li == nil && lj == nil:
			return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
		case li == nil:
			return false
		case lj == nil:
			return true
		default:
			return li.CreatedAt.After(lj.CreatedAt)
		}
	})
	*out = rooms
	return nil
}

// invalidateRoomLists drops both participants' cached chatroom lists after a
// write that changes a list's content or ordering.
func (r *chatRepository) invalidateRoomLists(ctx context.Context, chatroomID uint) {
	if !cache.Enabled() {
		return
	}
	var room models.Chatroom
	if err := r.db.WithContext(ctx).Select("buyer_id", "seller_id").First(&room, chatroomID).Error; err != nil {
		return
	}
	cache.Invalidate(ctx, cache.ChatroomListKey(room.BuyerID))
	cache.Invalidate(ctx, cache.ChatroomListKey(room.SellerID))
}

// attachLastMessages fills LastMessage for every room with a single query.
func (r *chatRepository) attachLastMessages(ctx context.Context, rooms []*models.Chatroom) error {
	ids := make([]uint, 0, len(rooms))
	byID := make(map[uint]*models.Chatroom, len(rooms))
	for _, room := range rooms {
		ids = append(ids, room.ID)
		byID[room.ID] = room
	}

	var latest []models.Message
	err := r.db.WithContext(ctx).
		Where("id IN (?)",
			r.db.Model(&models.Message{}).
				Select("MAX(id)").
				Where("chatroom_id IN ?", ids).
				Group("chatroom_id"),
		).
		Find(&latest).Error
	if err != nil {
		return err
	}

	for i := range latest {
		if room, ok := byID[latest[i].ChatroomID]; ok {
			room.LastMessage = &latest[i]
		}
	}
	return nil
}

// DeleteForUser hides the chatroom from one participant. Once both sides have
// deleted it the row and its messages are removed for good.
func (r *chatRepository) DeleteForUser(ctx context.Context, chatroomID, userID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room models.Chatroom
		if err := tx.First(&room, chatroomID).Error; err != nil {
			return err
		}

		switch userID {
		case room.BuyerID:
			room.DeletedByBuyer = true
		case room.SellerID:
			room.DeletedBySeller = true
		default:
			return gorm.ErrRecordNotFound
		}

		if err := tx.Model(&room).Updates(map[string]interface{}{
			"deleted_by_buyer":  room.DeletedByBuyer,
			"deleted_by_seller": room.DeletedBySeller,
		}).Error; err != nil {
			return err
		}

		// Once both sides are gone the row is removed for real, so a new
		// conversation on the same listing can reuse the unique triple.
		if room.DeletedByBuyer && room.DeletedBySeller {
			if err := tx.Delete(&models.Message{}, "chatroom_id = ?", room.ID).Error; err != nil {
				return err
			}
			if err := tx.Unscoped().Delete(&room).Error; err != nil {
				return err
			}
		}

		cache.Invalidate(ctx, cache.ChatroomListKey(userID))
		return nil
	})
}

// DeleteByListing removes every chatroom attached to a listing. Called when
// the listing itself is deleted.
func (r *chatRepository) DeleteByListing(ctx context.Context, listingID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rooms []models.Chatroom
		if err := tx.Where("listing_id = ?", listingID).Find(&rooms).Error; err != nil {
			return err
		}
		for _, room := range rooms {
			if err := tx.Delete(&models.Message{}, "chatroom_id = ?", room.ID).Error; err != nil {
				return err
			}
			cache.Invalidate(ctx, cache.ChatroomListKey(room.BuyerID))
			cache.Invalidate(ctx, cache.ChatroomListKey(room.SellerID))
		}
		return tx.Unscoped().Delete(&models.Chatroom{}, "listing_id = ?", listingID).Error
	})
}

func (r *chatRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.Status == "" {
		msg.Status = models.MessageSent
	}
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return err
	}
	// A new message changes both participants' list ordering and lastMessage.
	r.invalidateRoomLists(ctx, msg.ChatroomID)
	return nil
}

func (r *chatRepository) GetMessage(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	if err := r.db.WithContext(ctx).First(&msg, id).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *chatRepository) GetMessages(ctx context.Context, chatroomID uint, limit, offset int) ([]*models.Message, error) {
	var messages []*models.Message
	err := r.db.WithContext(ctx).
		Where("chatroom_id = ?", chatroomID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	// Fetched newest-first to page from the tail; clients want chronological.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// AdvanceMessageStatus moves a message's status forward. Transitions only go
// Sent -> Delivered -> Seen; anything else is rejected.
func (r *chatRepository) AdvanceMessageStatus(ctx context.Context, msgID uint, next models.MessageStatus) error {
	var chatroomID uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg models.Message
		if err := tx.First(&msg, msgID).Error; err != nil {
			return err
		}
		if !msg.Status.CanAdvanceTo(next) {
			return ErrInvalidStatusTransition
		}
		chatroomID = msg.ChatroomID
		return tx.Model(&msg).Update("status", next).Error
	})
	if err != nil {
		return err
	}
	r.invalidateRoomLists(ctx, chatroomID)
	return nil
}

// MarkIncomingSeen marks every message in the room not authored by the reader
// as Seen and returns the affected message IDs.
func (r *chatRepository) MarkIncomingSeen(ctx context.Context, chatroomID, readerID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("chatroom_id = ? AND sender_id <> ? AND status <> ?", chatroomID, readerID, models.MessageSeen).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	err = r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id IN ?", ids).
		Update("status", models.MessageSeen).Error
	if err != nil {
		return nil, err
	}
	r.invalidateRoomLists(ctx, chatroomID)
	return ids, nil
}
