// Package model caches what the TUI shows outside an open room.
package model

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/chat"
)

// RoomSource is the part of the backend client the room list needs.
type RoomSource interface {
	MemberInfo(ctx context.Context) (int64, error)
	ListRooms(ctx context.Context) ([]chat.Room, error)
	UnreadCount(ctx context.Context, roomID int64) (int, error)
}

// RoomItem is one row of the room list.
type RoomItem struct {
	Room   chat.Room
	Title  string
	Unread int
}

// Rooms is the room list of the current member.
type Rooms struct {
	src RoomSource
	log *zap.Logger

	mu    sync.RWMutex
	me    int64
	items []RoomItem
}

// NewRooms creates an empty list backed by src.
func NewRooms(src RoomSource, log *zap.Logger) *Rooms {
	if log == nil {
		log = zap.NewNop()
	}
	return &Rooms{src: src, log: log}
}

// Load refreshes the list. A failed unread count leaves that room at zero.
func (r *Rooms) Load(ctx context.Context) error {
	r.mu.RLock()
	me := r.me
	r.mu.RUnlock()
	if me == 0 {
		id, err := r.src.MemberInfo(ctx)
		if err != nil {
			return err
		}
		me = id
	}

	rooms, err := r.src.ListRooms(ctx)
	if err != nil {
		return err
	}
	items := make([]RoomItem, 0, len(rooms))
	for _, room := range rooms {
		n, err := r.src.UnreadCount(ctx, room.ID)
		if err != nil {
			r.log.Debug("unread count failed", zap.Int64("room_idx", room.ID), zap.Error(err))
		}
		title := room.Name
		if title == "" {
			title = room.DisplayName(me)
		}
		items = append(items, RoomItem{Room: room, Title: title, Unread: n})
	}

	r.mu.Lock()
	r.me = me
	r.items = items
	r.mu.Unlock()
	return nil
}

// Me returns the member id, or zero before the first Load.
func (r *Rooms) Me() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.me
}

// Items returns a copy of the list.
func (r *Rooms) Items() []RoomItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoomItem, len(r.items))
	copy(out, r.items)
	return out
}

// Find returns the room with id.
func (r *Rooms) Find(id int64) (RoomItem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, it := range r.items {
		if it.Room.ID == id {
			return it, true
		}
	}
	return RoomItem{}, false
}

// ClearUnread zeroes the badge of a room the member just opened.
func (r *Rooms) ClearUnread(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].Room.ID == id {
			r.items[i].Unread = 0
		}
	}
}
