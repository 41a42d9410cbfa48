package models

import (
	"time"

	"gorm.io/gorm"
)

// MessageStatus tracks delivery progress of a chat message.
// Transitions only move forward: Sent -> Delivered -> Seen.
type MessageStatus string

const (
	// MessageSent means the server persisted the message.
	MessageSent MessageStatus = "Sent"
	// MessageDelivered means a recipient client acknowledged receipt.
	MessageDelivered MessageStatus = "Delivered"
	// MessageSeen means the recipient viewed the conversation.
	MessageSeen MessageStatus = "Seen"
)

// rank orders statuses so transitions never move backwards.
func (s MessageStatus) rank() int {
	switch s {
	case MessageSent:
		return 0
	case MessageDelivered:
		return 1
	case MessageSeen:
		return 2
	}
	return -1
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return next.rank() > s.rank()
}

// Chatroom is the persisted record of a buyer-seller conversation about one
// listing. At most one chatroom exists per (listing, buyer, seller) triple.
type Chatroom struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	ListingID       uint           `gorm:"not null;uniqueIndex:idx_chatroom_triple" json:"listing_id"`
	Listing         *Listing       `gorm:"foreignKey:ListingID" json:"listing,omitempty"`
	BuyerID         uint           `gorm:"not null;uniqueIndex:idx_chatroom_triple" json:"buyer_id"`
	Buyer           *User          `gorm:"foreignKey:BuyerID" json:"buyer,omitempty"`
	SellerID        uint           `gorm:"not null;uniqueIndex:idx_chatroom_triple" json:"seller_id"`
	Seller          *User          `gorm:"foreignKey:SellerID" json:"seller,omitempty"`
	DeletedByBuyer  bool           `gorm:"not null;default:false" json:"deleted_by_buyer"`
	DeletedBySeller bool           `gorm:"not null;default:false" json:"deleted_by_seller"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
	Messages        []Message      `gorm:"foreignKey:ChatroomID" json:"messages,omitempty"`

	// LastMessage is not persisted; populated by the chatroom aggregation.
	LastMessage *Message `gorm:"-" json:"last_message,omitempty"`
}

// VisibleTo reports whether the room should appear in the given user's
// chatroom list, honoring per-participant soft deletion.
func (r *Chatroom) VisibleTo(userID uint) bool {
	if userID == r.BuyerID {
		return !r.DeletedByBuyer
	}
	if userID == r.SellerID {
		return !r.DeletedBySeller
	}
	return false
}

// OtherParticipant returns the counterpart of userID in this room, or 0 when
// userID is not a participant.
func (r *Chatroom) OtherParticipant(userID uint) uint {
	switch userID {
	case r.BuyerID:
		return r.SellerID
	case r.SellerID:
		return r.BuyerID
	}
	return 0
}

// Message is one chat message inside a chatroom. Messages are append-only;
// only the Status field is ever mutated after creation.
type Message struct {
	ID         uint          `gorm:"primaryKey" json:"id"`
	ChatroomID uint          `gorm:"not null;index" json:"chatroom_id"`
	SenderID   uint          `gorm:"not null;index" json:"sender_id"`
	Sender     *User         `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Content    string        `gorm:"type:text;not null" json:"content"`
	Status     MessageStatus `gorm:"type:varchar(12);not null;default:'Sent'" json:"status"`
	CreatedAt  time.Time     `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}
