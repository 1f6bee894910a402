package devserver

import (
	"errors"
	"fmt"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/store"
)

// Seed registers a trainer and a member and opens their room. It takes the
// data dir lock, so it fails while the server is running.
func Seed(p Params, trainer, member store.Member) (room chat.Room, err error) {
	if trainer.ID <= 0 || member.ID <= 0 || trainer.ID == member.ID {
		return chat.Room{}, fmt.Errorf("seed: need two distinct member ids, got %d and %d", trainer.ID, member.ID)
	}
	l, err := lock.Acquire(p.dataDir(), component)
	if err != nil {
		return chat.Room{}, err
	}
	defer func() { err = errors.Join(err, l.Release()) }()

	db, err := store.Open(p.dbPath())
	if err != nil {
		return chat.Room{}, err
	}
	defer func() { err = errors.Join(err, db.Close()) }()
	if _, err := db.Migrate(); err != nil {
		return chat.Room{}, err
	}

	trainer.Role = store.RoleTrainer
	member.Role = store.RoleMember
	for _, m := range []*store.Member{&trainer, &member} {
		if err := db.UpsertMember(m); err != nil {
			return chat.Room{}, fmt.Errorf("seed member %d: %w", m.ID, err)
		}
	}
	return db.EnsureRoom(trainer.ID, member.ID)
}
