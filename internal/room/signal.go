package room

import (
	"errors"

	"github.com/matheus3301/chatsync/internal/backend"
)

// Signal tells the UI to leave the room view.
type Signal string

const (
	LoginRequired Signal = "LOGIN_REQUIRED"
	AccessDenied  Signal = "ACCESS_DENIED"
	LeaveRoom     Signal = "LEAVE_ROOM"
)

// signalFor maps a collaborator error to a signal. notFound controls
// whether 404 means the room is gone; a missing attachment does not.
func signalFor(err error, notFound bool) (Signal, bool) {
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		return LoginRequired, true
	case errors.Is(err, backend.ErrForbidden):
		return AccessDenied, true
	case notFound && errors.Is(err, backend.ErrNotFound):
		return LeaveRoom, true
	}
	return "", false
}
