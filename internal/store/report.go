package store

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// Report files a report by reporterID against messageID. A member can
// report a message once; repeats return ErrDuplicate.
func (db *DB) Report(messageID, reporterID int64, content string) error {
	m, err := db.GetMessage(messageID)
	if err != nil {
		return err
	}
	if m == nil {
		return ErrNotFound
	}
	_, err = db.Exec(`
		INSERT INTO reports (message_idx, reporter_idx, report_content, created_at)
		VALUES (?, ?, ?, ?)`,
		messageID, reporterID, content, millis(db.now()))
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return ErrDuplicate
	}
	return err
}

// ReportCount returns how many reports messageID has received.
func (db *DB) ReportCount(messageID int64) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM reports WHERE message_idx = ?`, messageID).Scan(&n)
	return n, err
}
