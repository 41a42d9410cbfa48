package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"

	"plistings/internal/middleware"
	"plistings/internal/models"
	"plistings/internal/repository"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Namespace is the isolated channel for one listing. It tracks which clients
// are watching the listing and which rooms (chatrooms) exist within it.
type Namespace struct {
	ListingID uint

	mu      sync.RWMutex
	clients map[*Client]bool
	rooms   map[uint]map[*Client]bool
}

func newNamespace(listingID uint) *Namespace {
	return &Namespace{
		ListingID: listingID,
		clients:   make(map[*Client]bool),
		rooms:     make(map[uint]map[*Client]bool),
	}
}

func (ns *Namespace) addClient(c *Client) {
	ns.mu.Lock()
	ns.clients[c] = true
	ns.mu.Unlock()
}

func (ns *Namespace) removeClient(c *Client) {
	ns.mu.Lock()
	delete(ns.clients, c)
	for roomID, members := range ns.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(ns.rooms, roomID)
		}
	}
	ns.mu.Unlock()
}

// joinRoom registers room membership. Idempotent.
func (ns *Namespace) joinRoom(roomID uint, c *Client) {
	ns.mu.Lock()
	if ns.rooms[roomID] == nil {
		ns.rooms[roomID] = make(map[*Client]bool)
	}
	ns.rooms[roomID][c] = true
	ns.clients[c] = true
	ns.mu.Unlock()
}

// broadcast sends a frame to every client in the namespace, skipping exclude.
func (ns *Namespace) broadcast(frame []byte, exclude *Client) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	for c := range ns.clients {
		if c == exclude {
			continue
		}
		c.TrySend(frame)
	}
}

// broadcastRoom sends a frame to every member of one room, skipping exclude.
func (ns *Namespace) broadcastRoom(roomID uint, frame []byte, exclude *Client) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	for c := range ns.rooms[roomID] {
		if c == exclude {
			continue
		}
		c.TrySend(frame)
	}
}

// Registry owns every namespace and connected client, and drives the socket
// event loop. It has an explicit lifecycle: created at transport startup,
// namespaces added on first reference, torn down when their listing is
// deleted.
type Registry struct {
	mu         sync.RWMutex
	namespaces map[uint]*Namespace
	roomIndex  map[uint]*Namespace
	clients    map[*Client]bool

	chat     repository.ChatRepository
	listings repository.ListingRepository
	notifier *Notifier

	// origin identifies this process on the Redis relay so it can skip its
	// own publications.
	origin string
}

// NewRegistry creates the transport registry.
func NewRegistry(chat repository.ChatRepository, listings repository.ListingRepository, notifier *Notifier) *Registry {
	return &Registry{
		namespaces: make(map[uint]*Namespace),
		roomIndex:  make(map[uint]*Namespace),
		clients:    make(map[*Client]bool),
		chat:       chat,
		listings:   listings,
		notifier:   notifier,
		origin:     uuid.NewString(),
	}
}

// Name identifies the registry in logs and metrics.
func (r *Registry) Name() string { return "listings" }

// StartWiring connects the registry to the Redis relay so frames published by
// other instances reach locally connected sockets.
func (r *Registry) StartWiring(ctx context.Context) error {
	if r.notifier == nil {
		return nil
	}
	return r.notifier.StartRoomSubscriber(ctx, r.origin, func(chatroomID uint, frame []byte) {
		r.broadcastRoomLocal(chatroomID, frame, nil)
	})
}

// Register wires a new websocket connection into the registry.
func (r *Registry) Register(conn *websocket.Conn, userID uint) *Client {
	client := NewClient(r, conn, userID)
	client.IncomingHandler = r.Dispatch

	r.mu.Lock()
	r.clients[client] = true
	r.mu.Unlock()

	middleware.ActiveWebSockets.Inc()
	log.Printf("Registry: registered user %d", userID)
	return client
}

// UnregisterClient removes a dead connection from every namespace and room.
func (r *Registry) UnregisterClient(c *Client) {
	r.mu.Lock()
	if !r.clients[c] {
		r.mu.Unlock()
		return
	}
	delete(r.clients, c)
	for _, ns := range r.namespaces {
		ns.removeClient(c)
	}
	r.mu.Unlock()

	close(c.Send)
	middleware.ActiveWebSockets.Dec()
	log.Printf("Registry: unregistered user %d", c.UserID)
}

// CreateNamespace provisions the namespace for a listing, verifying the
// listing exists. Idempotent: a second call for the same listing returns the
// existing namespace and reports created == false.
func (r *Registry) CreateNamespace(ctx context.Context, listingID uint) (*Namespace, bool, error) {
	r.mu.RLock()
	ns, ok := r.namespaces[listingID]
	r.mu.RUnlock()
	if ok {
		return ns, false, nil
	}

	if _, err := r.listings.GetByID(ctx, listingID); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check under the write lock; a concurrent caller may have won.
	if ns, ok := r.namespaces[listingID]; ok {
		return ns, false, nil
	}
	ns = newNamespace(listingID)
	r.namespaces[listingID] = ns
	return ns, true, nil
}

// ensureNamespace returns the namespace for a listing, creating the entry
// without touching the database. Used by event paths where the listing was
// already validated or where the contract forbids a lookup.
func (r *Registry) ensureNamespace(listingID uint) *Namespace {
	r.mu.Lock()
	defer r.mu.Unlock()
	ns, ok := r.namespaces[listingID]
	if !ok {
		ns = newNamespace(listingID)
		r.namespaces[listingID] = ns
	}
	return ns
}

// Teardown drops the namespace for a deleted listing along with its room
// index entries. Connected clients stay registered; their next room event
// gets an explicit error acknowledgment.
func (r *Registry) Teardown(listingID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ns, ok := r.namespaces[listingID]
	if !ok {
		return
	}
	delete(r.namespaces, listingID)
	for roomID, indexed := range r.roomIndex {
		if indexed == ns {
			delete(r.roomIndex, roomID)
		}
	}
}

// NamespaceExists reports whether a namespace is currently provisioned.
func (r *Registry) NamespaceExists(listingID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.namespaces[listingID]
	return ok
}

func (r *Registry) namespaceForRoom(chatroomID uint) *Namespace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roomIndex[chatroomID]
}

func (r *Registry) indexRoom(chatroomID uint, ns *Namespace) {
	r.mu.Lock()
	r.roomIndex[chatroomID] = ns
	r.mu.Unlock()
}

func (r *Registry) broadcastAll(frame []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.clients {
		c.TrySend(frame)
	}
}

func (r *Registry) broadcastRoomLocal(chatroomID uint, frame []byte, exclude *Client) {
	ns := r.namespaceForRoom(chatroomID)
	if ns == nil {
		return
	}
	ns.broadcastRoom(chatroomID, frame, exclude)
}

// relayRoom delivers a frame to local room members and hands it to the Redis
// relay for other instances.
func (r *Registry) relayRoom(ctx context.Context, chatroomID uint, frame []byte, exclude *Client) {
	r.broadcastRoomLocal(chatroomID, frame, exclude)
	if r.notifier == nil {
		return
	}
	if err := r.notifier.PublishRoomFrame(ctx, r.origin, chatroomID, frame); err != nil {
		log.Printf("Registry: relay publish failed for room %d: %v", chatroomID, err)
	}
}

func (r *Registry) sendError(c *Client, event, message string) {
	c.TrySend(Encode(EventError, ErrorPayload{Event: event, Message: message}))
}

// Dispatch routes one incoming frame to its event handler. Failures never
// vanish: the originating socket always gets an explicit Error acknowledgment.
func (r *Registry) Dispatch(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.sendError(c, "", "malformed frame")
		return
	}
	middleware.WebSocketEventsTotal.WithLabelValues(env.Event).Inc()

	ctx := context.Background()
	switch env.Event {
	case EventCreateNamespace:
		r.handleCreateNamespace(ctx, c, env.Payload)
	case EventCreateRoom:
		r.handleCreateRoom(ctx, c, env.Payload)
	case EventJoinRoom:
		r.handleJoinRoom(c, env.Payload)
	case EventTyping, EventStopTyping:
		r.handleTyping(ctx, c, env.Event, env.Payload)
	case EventMessage:
		r.handleMessage(ctx, c, env.Payload)
	case EventMessageReceived:
		r.handleMessageReceived(ctx, c, env.Payload)
	case EventMessageSeen:
		r.handleMessageSeen(ctx, c, env.Payload)
	default:
		r.sendError(c, env.Event, "unknown event")
	}
}

func (r *Registry) handleCreateNamespace(ctx context.Context, c *Client, raw json.RawMessage) {
	var p CreateNamespacePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ListingID == 0 {
		r.sendError(c, EventCreateNamespace, "listing_id required")
		return
	}

	ns, created, err := r.CreateNamespace(ctx, p.ListingID)
	if err != nil {
		r.sendError(c, EventCreateNamespace, "listing not found")
		return
	}
	ns.addClient(c)

	if created {
		r.broadcastAll(Encode(EventNamespaceCreated, NamespaceCreatedPayload{ListingID: p.ListingID}))
	}
}

func (r *Registry) handleCreateRoom(ctx context.Context, c *Client, raw json.RawMessage) {
	var p CreateRoomPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ListingID == 0 {
		r.sendError(c, EventCreateRoom, "listing_id required")
		return
	}

	listing, err := r.listings.GetByID(ctx, p.ListingID)
	if err != nil {
		r.sendError(c, EventCreateRoom, "listing not found")
		return
	}
	if listing.OwnerID == c.UserID {
		r.sendError(c, EventCreateRoom, "cannot open a room on your own listing")
		return
	}

	room, _, err := r.chat.GetOrCreateChatroom(ctx, listing.ID, c.UserID, listing.OwnerID)
	if err != nil {
		r.sendError(c, EventCreateRoom, "could not create chatroom")
		return
	}

	ns := r.ensureNamespace(listing.ID)
	ns.addClient(c)
	ns.joinRoom(room.ID, c)
	r.indexRoom(room.ID, ns)

	// Namespace participants get the full descriptor so the seller's
	// connected clients can join.
	ns.broadcast(Encode(EventNewRoomCreated, room), nil)
}

func (r *Registry) handleJoinRoom(c *Client, raw json.RawMessage) {
	var p JoinRoomPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ChatroomID == 0 {
		r.sendError(c, EventJoinRoom, "chatroom_id required")
		return
	}

	ns := r.namespaceForRoom(p.ChatroomID)
	if ns == nil {
		if p.ListingID == 0 {
			r.sendError(c, EventJoinRoom, "unknown chatroom")
			return
		}
		ns = r.ensureNamespace(p.ListingID)
		r.indexRoom(p.ChatroomID, ns)
	}
	ns.joinRoom(p.ChatroomID, c)
}

func (r *Registry) handleTyping(ctx context.Context, c *Client, event string, raw json.RawMessage) {
	var p TypingPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ChatroomID == 0 {
		r.sendError(c, event, "chatroom_id required")
		return
	}
	if r.namespaceForRoom(p.ChatroomID) == nil {
		r.sendError(c, event, "unknown chatroom")
		return
	}

	p.UserID = c.UserID
	r.relayRoomExcludingSender(ctx, c, p.ChatroomID, Encode(event, p))
}

// relayRoomExcludingSender is relayRoom for ephemeral signals the sender
// should not receive back.
func (r *Registry) relayRoomExcludingSender(ctx context.Context, c *Client, chatroomID uint, frame []byte) {
	r.relayRoom(ctx, chatroomID, frame, c)
}

func (r *Registry) handleMessage(ctx context.Context, c *Client, raw json.RawMessage) {
	var p MessagePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ChatroomID == 0 {
		r.sendError(c, EventMessage, "chatroom_id required")
		return
	}
	if p.Content == "" {
		r.sendError(c, EventMessage, "content required")
		return
	}

	room, ok := r.participantRoom(ctx, c, EventMessage, p.ChatroomID)
	if !ok {
		return
	}

	msg := &models.Message{
		ChatroomID: room.ID,
		SenderID:   c.UserID,
		Content:    p.Content,
	}
	if err := r.chat.CreateMessage(ctx, msg); err != nil {
		r.sendError(c, EventMessage, "could not persist message")
		return
	}
	middleware.MessagesPersisted.WithLabelValues(strconv.FormatUint(uint64(room.ListingID), 10)).Inc()

	// Make sure the sender is wired into the room before the broadcast so
	// the acknowledgment reaches them too.
	ns := r.namespaceForRoom(room.ID)
	if ns == nil {
		ns = r.ensureNamespace(room.ListingID)
		r.indexRoom(room.ID, ns)
	}
	ns.joinRoom(room.ID, c)

	r.relayRoom(ctx, room.ID, Encode(EventMessageSent, msg), nil)
}

// participantRoom loads the chatroom and checks the sender is one of its two
// participants. Failures are acked back as Error frames; status mutations must
// never run for a socket outside the room.
func (r *Registry) participantRoom(ctx context.Context, c *Client, event string, chatroomID uint) (*models.Chatroom, bool) {
	room, err := r.chat.GetChatroom(ctx, chatroomID)
	if err != nil {
		r.sendError(c, event, "chatroom not found")
		return nil, false
	}
	if c.UserID != room.BuyerID && c.UserID != room.SellerID {
		r.sendError(c, event, "not a participant")
		return nil, false
	}
	return room, true
}

func (r *Registry) handleMessageReceived(ctx context.Context, c *Client, raw json.RawMessage) {
	var p MessageReceivedPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.MessageID == 0 || p.ChatroomID == 0 {
		r.sendError(c, EventMessageReceived, "chatroom_id and message_id required")
		return
	}

	room, ok := r.participantRoom(ctx, c, EventMessageReceived, p.ChatroomID)
	if !ok {
		return
	}

	msg, err := r.chat.GetMessage(ctx, p.MessageID)
	if err != nil {
		r.sendError(c, EventMessageReceived, "message not found")
		return
	}
	// Only the recipient may acknowledge, and only for a message that really
	// belongs to the acknowledged room.
	if msg.ChatroomID != room.ID {
		r.sendError(c, EventMessageReceived, "message not found")
		return
	}
	if msg.SenderID == c.UserID {
		r.sendError(c, EventMessageReceived, "cannot acknowledge own message")
		return
	}

	err = r.chat.AdvanceMessageStatus(ctx, p.MessageID, models.MessageDelivered)
	switch {
	case errors.Is(err, repository.ErrInvalidStatusTransition):
		// Repeat acknowledgment; already delivered or seen.
		return
	case errors.Is(err, gorm.ErrRecordNotFound):
		r.sendError(c, EventMessageReceived, "message not found")
		return
	case err != nil:
		r.sendError(c, EventMessageReceived, "could not update message")
		return
	}

	r.relayRoom(ctx, p.ChatroomID, Encode(EventMessageReceived, p), nil)
}

func (r *Registry) handleMessageSeen(ctx context.Context, c *Client, raw json.RawMessage) {
	var p MessageSeenPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ChatroomID == 0 {
		r.sendError(c, EventMessageSeen, "chatroom_id required")
		return
	}
	if _, ok := r.participantRoom(ctx, c, EventMessageSeen, p.ChatroomID); !ok {
		return
	}

	ids, err := r.chat.MarkIncomingSeen(ctx, p.ChatroomID, c.UserID)
	if err != nil {
		r.sendError(c, EventMessageSeen, "could not update messages")
		return
	}
	if len(ids) == 0 {
		return
	}

	p.MessageIDs = ids
	p.ReaderID = c.UserID
	r.relayRoom(ctx, p.ChatroomID, Encode(EventMessageSeen, p), nil)
}

// Shutdown closes every connected socket and clears all state.
func (r *Registry) Shutdown(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c := range r.clients {
		if c.Conn != nil {
			_ = c.Conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"event":"Error","payload":{"message":"server shutting down"}}`))
			_ = c.Conn.Close()
		}
	}

	r.namespaces = make(map[uint]*Namespace)
	r.roomIndex = make(map[uint]*Namespace)
	r.clients = make(map[*Client]bool)
	return nil
}
