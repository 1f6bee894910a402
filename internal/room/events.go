package room

import "github.com/matheus3301/chatsync/internal/msgstore"

// Upserted is the payload of room.message_upserted.
type Upserted struct {
	MessageID    int64
	ClientTempID string
	Result       msgstore.MergeResult
}

// AnchorLocked is the payload of room.anchor_locked.
type AnchorLocked struct {
	MessageID int64
	Present   bool
}

// AttachmentSettled is the payload of room.attachment.
type AttachmentSettled struct {
	MessageID int64
	OK        bool
}
