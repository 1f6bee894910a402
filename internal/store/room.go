package store

import (
	"database/sql"
	"errors"

	"github.com/matheus3301/chatsync/internal/chat"
)

const roomColumns = `
		SELECT r.room_idx, r.trainer_idx, r.user_idx, r.created_at,
			COALESCE(t.name, ''), COALESCE(u.name, '')
		FROM rooms r
		LEFT JOIN members t ON t.member_idx = r.trainer_idx
		LEFT JOIN members u ON u.member_idx = r.user_idx`

func scanRoom(s interface{ Scan(...any) error }) (chat.Room, error) {
	var r chat.Room
	var created int64
	if err := s.Scan(&r.ID, &r.TrainerID, &r.MemberID, &created, &r.TrainerName, &r.MemberName); err != nil {
		return chat.Room{}, err
	}
	r.CreatedAt = fromMillis(created)
	return r, nil
}

// EnsureRoom returns the room pairing trainerID and memberID, creating it
// on first use.
func (db *DB) EnsureRoom(trainerID, memberID int64) (chat.Room, error) {
	_, err := db.Exec(`
		INSERT INTO rooms (trainer_idx, user_idx, created_at) VALUES (?, ?, ?)
		ON CONFLICT(trainer_idx, user_idx) DO NOTHING`,
		trainerID, memberID, millis(db.now()))
	if err != nil {
		return chat.Room{}, err
	}
	return scanRoom(db.QueryRow(roomColumns+` WHERE r.trainer_idx = ? AND r.user_idx = ?`, trainerID, memberID))
}

// GetRoom returns a room by id, or nil if unknown.
func (db *DB) GetRoom(id int64) (*chat.Room, error) {
	r, err := scanRoom(db.QueryRow(roomColumns+` WHERE r.room_idx = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRooms returns the rooms memberID belongs to, most recently active
// first.
func (db *DB) ListRooms(memberID int64) ([]chat.Room, error) {
	rows, err := db.Query(roomColumns+`
		LEFT JOIN (
			SELECT room_idx, MAX(message_senddate) AS last_at FROM messages GROUP BY room_idx
		) m ON m.room_idx = r.room_idx
		WHERE r.trainer_idx = ? OR r.user_idx = ?
		ORDER BY COALESCE(m.last_at, r.created_at) DESC, r.room_idx DESC`, memberID, memberID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rooms []chat.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// CanAccess reports whether memberID is one of the two parties of roomID.
// It returns ErrNotFound for unknown rooms.
func (db *DB) CanAccess(roomID, memberID int64) (bool, error) {
	var trainer, member int64
	err := db.QueryRow(`SELECT trainer_idx, user_idx FROM rooms WHERE room_idx = ?`, roomID).Scan(&trainer, &member)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return trainer == memberID || member == memberID, nil
}
