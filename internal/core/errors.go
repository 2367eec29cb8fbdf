package core

import "errors"

// Domain conditions reported to the transport layer. All of these are
// expected, locally recoverable, and map onto user-facing failures.
var (
	ErrRoomNotFound         = errors.New("room not found")
	ErrInvalidToken         = errors.New("invalid room token")
	ErrInviteAlreadyUsed    = errors.New("invite link already used")
	ErrRoleAlreadyConnected = errors.New("participant already connected")
	ErrRoomFull             = errors.New("room is full")
	ErrNotInRoom            = errors.New("connection is not in a room")
	ErrInvalidMessage       = errors.New("invalid message")
)
