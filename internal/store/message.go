package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

const messageColumns = `
		SELECT message_idx, room_idx, sender_idx, receiver_idx, message_content, message_type,
			message_senddate, message_readdate, parent_idx, attach_idx, unique_id
		FROM messages`

func scanMessage(s interface{ Scan(...any) error }) (chat.Message, error) {
	var (
		m      chat.Message
		typ    string
		sent   int64
		readAt sql.NullInt64
	)
	if err := s.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.ReceiverID, &m.Content, &typ,
		&sent, &readAt, &m.ParentID, &m.AttachmentID, &m.ClientTempID); err != nil {
		return chat.Message{}, err
	}
	m.Type = chat.MessageType(typ)
	m.SentAt = fromMillis(sent)
	if readAt.Valid {
		t := fromMillis(readAt.Int64)
		m.ReadAt = &t
	}
	return m, nil
}

// InsertMessage stores m and returns it with its id and send date. It is
// idempotent on (room, unique_id): a retried send returns the stored row
// and created=false.
func (db *DB) InsertMessage(m chat.Message) (stored chat.Message, created bool, err error) {
	if m.ClientTempID != "" {
		existing, err := scanMessage(db.QueryRow(messageColumns+` WHERE room_idx = ? AND unique_id = ?`, m.RoomID, m.ClientTempID))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return chat.Message{}, false, err
		}
	}
	if m.Type == "" {
		m.Type = chat.TypeText
	}
	if m.SentAt.IsZero() {
		m.SentAt = db.now()
	}
	res, err := db.Exec(`
		INSERT INTO messages (room_idx, sender_idx, receiver_idx, message_content, message_type,
			message_senddate, parent_idx, unique_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RoomID, m.SenderID, m.ReceiverID, m.Content, string(m.Type),
		millis(m.SentAt), m.ParentID, m.ClientTempID)
	if err != nil {
		return chat.Message{}, false, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.Message{}, false, err
	}
	got, err := db.GetMessage(id)
	if err != nil {
		return chat.Message{}, false, err
	}
	if got == nil {
		return chat.Message{}, false, ErrNotFound
	}
	return *got, true, nil
}

// GetMessage returns a message by id, or nil if unknown.
func (db *DB) GetMessage(id int64) (*chat.Message, error) {
	m, err := scanMessage(db.QueryRow(messageColumns+` WHERE message_idx = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns the full history of a room in (send date, id) order.
func (db *DB) ListMessages(roomID int64) ([]chat.Message, error) {
	rows, err := db.Query(messageColumns+`
		WHERE room_idx = ?
		ORDER BY message_senddate ASC, message_idx ASC`, roomID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkRead records that readerID read messageID. Only the receiver can mark
// a message, and only once; changed is false when nothing was updated.
func (db *DB) MarkRead(messageID, readerID int64, at time.Time) (m *chat.Message, changed bool, err error) {
	res, err := db.Exec(`
		UPDATE messages SET message_readdate = ?
		WHERE message_idx = ? AND message_readdate IS NULL
			AND sender_idx != ? AND (receiver_idx = ? OR receiver_idx = 0)`,
		millis(at), messageID, readerID, readerID)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	m, err = db.GetMessage(messageID)
	if err != nil {
		return nil, false, err
	}
	if m == nil {
		return nil, false, ErrNotFound
	}
	return m, n > 0, nil
}

// UnreadCount returns how many messages in roomID memberID has not read.
func (db *DB) UnreadCount(roomID, memberID int64) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE room_idx = ? AND sender_idx != ? AND message_readdate IS NULL`,
		roomID, memberID).Scan(&n)
	return n, err
}

// DeleteMessage removes a message on behalf of senderID.
func (db *DB) DeleteMessage(messageID, senderID int64) error {
	m, err := db.GetMessage(messageID)
	if err != nil {
		return err
	}
	if m == nil {
		return ErrNotFound
	}
	if m.SenderID != senderID {
		return ErrNotOwner
	}
	_, err = db.Exec(`DELETE FROM messages WHERE message_idx = ?`, messageID)
	return err
}
