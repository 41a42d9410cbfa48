// Package realtime provides the per-listing messaging transport: namespaces,
// rooms, and the socket event loop that drives chat.
package realtime

import "encoding/json"

// Socket event vocabulary. These names are part of the wire contract and must
// not change.
const (
	EventCreateNamespace  = "Create namespace"
	EventNamespaceCreated = "Namespace created"
	EventJoinRoom         = "Join room"
	EventCreateRoom       = "Create room"
	EventNewRoomCreated   = "New room created"
	EventTyping           = "Typing"
	EventStopTyping       = "StopTyping"
	EventMessage          = "Message"
	EventMessageSent      = "Message sent"
	EventMessageReceived  = "Message received"
	EventMessageSeen      = "Message seen"

	// EventError is the explicit acknowledgment sent to the originating
	// socket when an event cannot be served (missing listing, missing
	// chatroom, malformed payload).
	EventError = "Error"
)

// Envelope is the frame exchanged on the socket: an event name plus an
// event-specific payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals an envelope with the given payload. Marshal failures return
// nil; callers treat a nil frame as nothing to send.
func Encode(event string, payload interface{}) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	frame, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		return nil
	}
	return frame
}

// ErrorPayload is sent with EventError.
type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// CreateNamespacePayload accompanies EventCreateNamespace.
type CreateNamespacePayload struct {
	ListingID uint `json:"listing_id"`
}

// NamespaceCreatedPayload accompanies EventNamespaceCreated.
type NamespaceCreatedPayload struct {
	ListingID uint `json:"listing_id"`
}

// CreateRoomPayload accompanies EventCreateRoom. The buyer is the sender of
// the event; the seller is resolved from the listing.
type CreateRoomPayload struct {
	ListingID uint `json:"listing_id"`
}

// JoinRoomPayload accompanies EventJoinRoom. The listing id lets a client
// announce a room the server has not indexed yet (e.g. after a restart)
// without a database round trip.
type JoinRoomPayload struct {
	ChatroomID uint `json:"chatroom_id"`
	ListingID  uint `json:"listing_id,omitempty"`
}

// TypingPayload accompanies EventTyping and EventStopTyping.
type TypingPayload struct {
	ChatroomID uint `json:"chatroom_id"`
	UserID     uint `json:"user_id,omitempty"`
}

// MessagePayload accompanies EventMessage.
type MessagePayload struct {
	ChatroomID uint   `json:"chatroom_id"`
	Content    string `json:"content"`
}

// MessageReceivedPayload accompanies EventMessageReceived: the recipient's
// client acknowledges delivery of one message.
type MessageReceivedPayload struct {
	ChatroomID uint `json:"chatroom_id"`
	MessageID  uint `json:"message_id"`
}

// MessageSeenPayload accompanies EventMessageSeen. Sent client-to-server with
// just the chatroom; the broadcast back carries the affected message IDs.
type MessageSeenPayload struct {
	ChatroomID uint   `json:"chatroom_id"`
	MessageIDs []uint `json:"message_ids,omitempty"`
	ReaderID   uint   `json:"reader_id,omitempty"`
}
