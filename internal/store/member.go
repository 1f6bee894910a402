package store

import (
	"database/sql"
	"errors"
)

// Roles a member can hold. A room pairs one trainer with one member.
const (
	RoleTrainer = "trainer"
	RoleMember  = "member"
)

// Member is an account known to the dev server.
type Member struct {
	ID   int64
	Name string
	Role string
}

// UpsertMember inserts or renames a member.
func (db *DB) UpsertMember(m *Member) error {
	if m.Role == "" {
		m.Role = RoleMember
	}
	_, err := db.Exec(`
		INSERT INTO members (member_idx, name, role, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(member_idx) DO UPDATE SET
			name = excluded.name,
			role = excluded.role`,
		m.ID, m.Name, m.Role, millis(db.now()))
	return err
}

// GetMember returns a member by id, or nil if unknown.
func (db *DB) GetMember(id int64) (*Member, error) {
	var m Member
	err := db.QueryRow(`SELECT member_idx, name, role FROM members WHERE member_idx = ?`, id).
		Scan(&m.ID, &m.Name, &m.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
