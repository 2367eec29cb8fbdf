package core

import (
	"fmt"
	"time"

	"duochat/internal/models"
)

type participant struct {
	role  models.Role
	token string
}

// room is the single source of truth for one two-party session. All access
// is serialized by the Manager mutex.
type room struct {
	id             string
	hostToken      Token
	guestToken     Token
	guestTokenUsed bool
	state          State
	participants   map[string]participant // conn id -> participant
	history        []models.Message
	resources      map[string]struct{} // storage refs owned by the room
	createdAt      time.Time
	lastActivityAt time.Time
	typingRoles    map[models.Role]struct{}
}

func newRoom(now time.Time) *room {
	r := &room{
		id:             NewRoomID(),
		hostToken:      NewToken(),
		guestToken:     NewToken(),
		state:          StateCreated,
		participants:   make(map[string]participant),
		resources:      make(map[string]struct{}),
		createdAt:      now,
		lastActivityAt: now,
		typingRoles:    make(map[models.Role]struct{}),
	}
	// CREATED is never observable from outside; creation advances immediately.
	if err := r.transition(StateWaitingSecond); err != nil {
		panic(err)
	}
	return r
}

// transition guards the state machine. An illegal transition is a logic
// defect: the operation is aborted loudly and state is left untouched.
func (r *room) transition(next State) error {
	if !canTransition(r.state, next) {
		return fmt.Errorf("invalid room state transition: %s -> %s", r.state, next)
	}
	r.state = next
	return nil
}

func (r *room) roleForToken(token string) (models.Role, bool) {
	if r.hostToken.Matches(token) {
		return models.RoleHost, true
	}
	if r.guestToken.Matches(token) {
		return models.RoleGuest, true
	}
	return "", false
}

func (r *room) roleConnected(role models.Role) bool {
	for _, p := range r.participants {
		if p.role == role {
			return true
		}
	}
	return false
}

func (r *room) findMessage(id string) *models.Message {
	for i := range r.history {
		if r.history[i].ID == id {
			return &r.history[i]
		}
	}
	return nil
}

func (r *room) touch(now time.Time) {
	r.lastActivityAt = now
}
