package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Notifier fans chat frames out through Redis pub/sub so every server
// instance can deliver to its locally connected sockets.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// relayEnvelope wraps a socket frame with the publishing instance's identity
// so the publisher can ignore its own messages on the subscription side.
type relayEnvelope struct {
	Origin string          `json:"origin"`
	Frame  json.RawMessage `json:"frame"`
}

// RoomChannel derives the Redis channel name for a chatroom.
func RoomChannel(chatroomID uint) string {
	return "chat:room:" + strconv.FormatUint(uint64(chatroomID), 10)
}

// PublishRoomFrame publishes an already-encoded socket frame to a chatroom
// channel. A nil Redis client makes this a no-op; single-instance deployments
// deliver locally only.
func (n *Notifier) PublishRoomFrame(ctx context.Context, origin string, chatroomID uint, frame []byte) error {
	if n.rdb == nil || frame == nil {
		return nil
	}
	payload, err := json.Marshal(relayEnvelope{Origin: origin, Frame: frame})
	if err != nil {
		return fmt.Errorf("marshal relay envelope: %w", err)
	}
	return n.rdb.Publish(ctx, RoomChannel(chatroomID), payload).Err()
}

// StartRoomSubscriber subscribes to every chatroom channel and calls onFrame
// for each frame published by another instance.
func (n *Notifier) StartRoomSubscriber(
	ctx context.Context, selfOrigin string, onFrame func(chatroomID uint, frame []byte),
) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, "chat:room:*")
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("PANIC in RoomSubscriber: %v\n%s", r, debug.Stack())
						}
					}()

					var chatroomID uint
					if _, err := fmt.Sscanf(msg.Channel, "chat:room:%d", &chatroomID); err != nil {
						log.Printf("RoomSubscriber: invalid channel format: %s", msg.Channel)
						return
					}

					var env relayEnvelope
					if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
						log.Printf("RoomSubscriber: failed to parse payload on %s: %v", msg.Channel, err)
						return
					}
					if env.Origin == selfOrigin {
						return
					}
					onFrame(chatroomID, env.Frame)
				}()
			}
		}
	}()

	return nil
}
