package bus

import "time"

// Event kinds published by room sessions and the outbox.
const (
	RoomHydrated        = "room.hydrated"
	RoomMessageUpserted = "room.message_upserted"
	RoomMessageRemoved  = "room.message_removed"
	RoomRead            = "room.read"
	RoomAttachment      = "room.attachment"
	RoomAnchorLocked    = "room.anchor_locked"
	RoomPositioned      = "room.positioned"
	RoomSignal          = "room.signal"
	RoomStateChanged    = "room.state_changed"

	MessageSendAck    = "message.send_ack"
	MessageSendFailed = "message.send_failed"

	LiveConnected    = "live.connected"
	LiveDisconnected = "live.disconnected"
)

// Event is a single engine notification. RoomID is zero for events that are
// not scoped to a room.
type Event struct {
	Kind      string
	RoomID    int64
	Timestamp time.Time
	Payload   any
}
