package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/matheus3301/chatsync/internal/chat"
)

// PutAttachment stores or replaces the attachment of messageID and links it
// from the message row.
func (db *DB) PutAttachment(messageID int64, a chat.Attachment) (chat.Attachment, error) {
	tx, err := db.Begin()
	if err != nil {
		return chat.Attachment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM messages WHERE message_idx = ?`, messageID).Scan(&exists); err != nil {
		return chat.Attachment{}, err
	}
	if exists == 0 {
		return chat.Attachment{}, ErrNotFound
	}
	_, err = tx.Exec(`
		INSERT INTO attachments (message_idx, cloudinary_url, original_filename, mime_type, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_idx) DO UPDATE SET
			cloudinary_url = excluded.cloudinary_url,
			original_filename = excluded.original_filename,
			mime_type = excluded.mime_type,
			size_bytes = excluded.size_bytes`,
		messageID, a.URL, a.OriginalFilename, a.MimeType, a.SizeBytes, millis(db.now()))
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("upsert attachment: %w", err)
	}
	var attachID int64
	if err := tx.QueryRow(`SELECT attach_idx FROM attachments WHERE message_idx = ?`, messageID).Scan(&attachID); err != nil {
		return chat.Attachment{}, err
	}
	if _, err := tx.Exec(`UPDATE messages SET attach_idx = ? WHERE message_idx = ?`, attachID, messageID); err != nil {
		return chat.Attachment{}, err
	}
	if err := tx.Commit(); err != nil {
		return chat.Attachment{}, err
	}
	a.MessageID = messageID
	a.AttachmentID = attachID
	return a, nil
}

// GetAttachment returns the attachment of messageID, or nil if none.
func (db *DB) GetAttachment(messageID int64) (*chat.Attachment, error) {
	var a chat.Attachment
	err := db.QueryRow(`
		SELECT attach_idx, message_idx, cloudinary_url, original_filename, mime_type, size_bytes
		FROM attachments WHERE message_idx = ?`, messageID).
		Scan(&a.AttachmentID, &a.MessageID, &a.URL, &a.OriginalFilename, &a.MimeType, &a.SizeBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
