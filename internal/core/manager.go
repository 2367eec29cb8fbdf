package core

import (
	"log"
	"strings"
	"sync"
	"time"

	"duochat/internal/models"
	"duochat/internal/observability"
)

// ResourceReleaser frees an external resource handle owned by a room,
// typically a stored upload on disk.
type ResourceReleaser interface {
	Release(ref string) error
}

// Options configure a Manager.
type Options struct {
	MaxMessageLength int
	RoomTTL          time.Duration
	Releaser         ResourceReleaser
	// OnReleaseFailure is invoked for every resource that could not be
	// released during teardown. Optional.
	OnReleaseFailure func(roomID, ref string, err error)
}

// Manager owns the room table and the connection bindings. It is the single
// serialization point for every join, message, typing and destroy decision
// on every room, which keeps the two-slot admission policy race-free.
type Manager struct {
	mu       sync.Mutex
	rooms    map[string]*room
	connRoom map[string]string // conn id -> room id

	maxMessageLength int
	roomTTL          time.Duration
	releaser         ResourceReleaser
	onReleaseFailure func(roomID, ref string, err error)
	now              func() time.Time
}

// NewManager builds an empty room manager.
func NewManager(opts Options) *Manager {
	return &Manager{
		rooms:            make(map[string]*room),
		connRoom:         make(map[string]string),
		maxMessageLength: opts.MaxMessageLength,
		roomTTL:          opts.RoomTTL,
		releaser:         opts.Releaser,
		onReleaseFailure: opts.OnReleaseFailure,
		now:              time.Now,
	}
}

// RoomCredentials is handed to the creator so both share links can be built.
// The guest token is the single-use invite; the host token is not single-use
// because the host link is never shared.
type RoomCredentials struct {
	RoomID     string
	HostToken  string
	GuestToken string
}

// CreateRoom mints a new room in WAITING_SECOND with fresh tokens.
func (m *Manager) CreateRoom() RoomCredentials {
	r := newRoom(m.now())

	m.mu.Lock()
	m.rooms[r.id] = r
	active := len(m.rooms)
	m.mu.Unlock()

	observability.IncRoomCreated()
	observability.SetRoomsActive(active)
	return RoomCredentials{
		RoomID:     r.id,
		HostToken:  string(r.hostToken),
		GuestToken: string(r.guestToken),
	}
}

// JoinResult is everything the transport needs to welcome a connection:
// replayable history plus advisory notices to fan out. Notices are data,
// not side effects; broadcasting them is the caller's job.
type JoinResult struct {
	RoomID            string
	Role              models.Role
	RoleLabel         string
	ParticipantsCount int
	History           []models.Message
	// SelfNotice is shown only to the joining connection.
	SelfNotice string
	// RoomNotice is broadcast to the whole room.
	RoomNotice string
}

// Join admits a connection into a room under the role its token resolves to.
// Admission is check-then-set under one lock, so two connections racing on
// the same guest link can never both succeed.
func (m *Manager) Join(roomID, token, connID string) (*JoinResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok || r.state == StateDestroyed {
		return nil, ErrRoomNotFound
	}
	role, ok := r.roleForToken(token)
	if !ok {
		return nil, ErrInvalidToken
	}
	if role == models.RoleGuest && r.guestTokenUsed {
		return nil, ErrInviteAlreadyUsed
	}
	if r.roleConnected(role) {
		return nil, ErrRoleAlreadyConnected
	}
	// Defensive, independent of the role check above.
	if len(r.participants) >= 2 {
		return nil, ErrRoomFull
	}

	if role == models.RoleGuest {
		r.guestTokenUsed = true
	}
	r.participants[connID] = participant{role: role, token: token}
	m.connRoom[connID] = r.id
	r.touch(m.now())

	if len(r.participants) == 2 && r.state == StateWaitingSecond {
		if err := r.transition(StateActive); err != nil {
			log.Printf("room %s: %v", r.id, err)
			return nil, err
		}
	}

	res := &JoinResult{
		RoomID:            r.id,
		Role:              role,
		RoleLabel:         role.Label(),
		ParticipantsCount: len(r.participants),
		History:           append([]models.Message(nil), r.history...),
	}
	switch len(r.participants) {
	case 1:
		res.SelfNotice = "Waiting for the second participant..."
	case 2:
		res.RoomNotice = "Both participants are in the room. You can talk now."
	}
	return res, nil
}

// Outbound couples a stored message with the room it must be broadcast to.
type Outbound struct {
	RoomID  string
	Message models.Message
}

// AppendText validates, stores and returns a text message from a connected
// participant. An unresolved reply reference yields a message without a
// reply snapshot rather than an error.
func (m *Manager) AppendText(connID, text, replyToID string) (*Outbound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.roomByConn(connID)
	if r == nil || r.state == StateDestroyed {
		return nil, ErrNotInRoom
	}
	p, ok := r.participants[connID]
	if !ok {
		return nil, ErrNotInRoom
	}

	text = strings.TrimSpace(text)
	if text == "" || len([]rune(text)) > m.maxMessageLength {
		return nil, ErrInvalidMessage
	}

	var reply *models.ReplyPreview
	if replyToID = strings.TrimSpace(replyToID); replyToID != "" {
		reply = models.BuildReplyPreview(r.findMessage(replyToID))
	}

	msg := models.NewTextMessage(p.role, text, reply)
	r.history = append(r.history, msg)
	r.touch(m.now())

	observability.IncMessage(string(msg.Type))
	return &Outbound{RoomID: r.id, Message: msg}, nil
}

// AppendAttachment records a stored upload against the room and appends the
// matching image/file message. Uploads arrive over plain HTTP, so the role
// is re-derived from the token; the role must already be present as a live
// participant.
func (m *Manager) AppendAttachment(roomID, token string, fd models.FileDescriptor) (*Outbound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok || r.state == StateDestroyed {
		return nil, ErrRoomNotFound
	}
	role, ok := r.roleForToken(token)
	if !ok {
		return nil, ErrInvalidToken
	}
	if !r.roleConnected(role) {
		return nil, ErrNotInRoom
	}
	if fd.StorageRef == "" {
		return nil, ErrInvalidMessage
	}

	r.resources[fd.StorageRef] = struct{}{}
	r.touch(m.now())

	msg := models.NewAttachmentMessage(role, fd)
	r.history = append(r.history, msg)

	observability.IncMessage(string(msg.Type))
	return &Outbound{RoomID: r.id, Message: msg}, nil
}

// TypingUpdate is relayed to the other participant only, never echoed back.
type TypingUpdate struct {
	RoomID      string
	Sender      models.Role
	SenderLabel string
	IsTyping    bool
}

// SetTyping flips the typing flag for the connection's role. Returns nil
// when the connection is not part of an active room.
func (m *Manager) SetTyping(connID string, isTyping bool) *TypingUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.roomByConn(connID)
	if r == nil || r.state == StateDestroyed {
		return nil
	}
	p, ok := r.participants[connID]
	if !ok {
		return nil
	}

	if isTyping {
		r.typingRoles[p.role] = struct{}{}
	} else {
		delete(r.typingRoles, p.role)
	}
	r.touch(m.now())

	return &TypingUpdate{
		RoomID:      r.id,
		Sender:      p.role,
		SenderLabel: p.role.Label(),
		IsTyping:    isTyping,
	}
}

// DestroyResult tells the transport exactly which connections to notify and
// disconnect. Produced at most once per room.
type DestroyResult struct {
	RoomID          string
	ConnIDs         []string
	Reason          string
	InitiatorConnID string
}

// Destroy tears a room down exactly once. Missing or already-destroyed rooms
// are a no-op. In-memory state is gone before any file I/O happens, so a
// join racing with destruction deterministically sees RoomNotFound.
func (m *Manager) Destroy(roomID, reason, initiatorConnID string) *DestroyResult {
	return m.destroy(roomID, reason, initiatorConnID, "explicit")
}

func (m *Manager) destroy(roomID, reason, initiatorConnID, trigger string) *DestroyResult {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok || r.state == StateDestroyed {
		m.mu.Unlock()
		return nil
	}

	if err := r.transition(StateDestroyed); err != nil {
		m.mu.Unlock()
		log.Printf("room %s: %v", roomID, err)
		return nil
	}

	connIDs := make([]string, 0, len(r.participants))
	for connID := range r.participants {
		connIDs = append(connIDs, connID)
	}
	refs := make([]string, 0, len(r.resources))
	for ref := range r.resources {
		refs = append(refs, ref)
	}

	delete(m.rooms, roomID)
	for _, connID := range connIDs {
		delete(m.connRoom, connID)
	}
	r.participants = nil
	r.history = nil
	r.resources = nil
	r.typingRoles = nil
	active := len(m.rooms)
	m.mu.Unlock()

	// Best-effort release outside the lock. A leaked file is an accepted
	// degraded outcome; a blocked room table is not.
	if len(refs) > 0 && m.releaser != nil {
		go m.releaseAll(roomID, refs)
	}

	observability.IncRoomDestroyed(trigger)
	observability.SetRoomsActive(active)
	return &DestroyResult{
		RoomID:          roomID,
		ConnIDs:         connIDs,
		Reason:          reason,
		InitiatorConnID: initiatorConnID,
	}
}

func (m *Manager) releaseAll(roomID string, refs []string) {
	for _, ref := range refs {
		if err := m.releaser.Release(ref); err != nil {
			log.Printf("room %s: release %s failed: %v", roomID, ref, err)
			observability.IncReleaseFailure()
			if m.onReleaseFailure != nil {
				m.onReleaseFailure(roomID, ref, err)
			}
		}
	}
}

// Leave destroys the room the connection belongs to. No-op for unbound
// connections.
func (m *Manager) Leave(connID, reason string) *DestroyResult {
	return m.destroyByConn(connID, reason, "leave")
}

// Disconnect handles an abrupt socket loss; same teardown path as Leave.
func (m *Manager) Disconnect(connID, reason string) *DestroyResult {
	return m.destroyByConn(connID, reason, "disconnect")
}

func (m *Manager) destroyByConn(connID, reason, trigger string) *DestroyResult {
	m.mu.Lock()
	roomID, ok := m.connRoom[connID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.destroy(roomID, reason, connID, trigger)
}

// SweepIdle destroys every room whose last activity is older than the TTL.
// The candidate snapshot is taken without holding the lock across the whole
// sweep; each destruction re-checks under the lock.
func (m *Manager) SweepIdle(reason string) []*DestroyResult {
	now := m.now()

	m.mu.Lock()
	var expired []string
	for id, r := range m.rooms {
		if r.state != StateDestroyed && now.Sub(r.lastActivityAt) >= m.roomTTL {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	results := make([]*DestroyResult, 0, len(expired))
	for _, id := range expired {
		if res := m.destroy(id, reason, "", "idle"); res != nil {
			results = append(results, res)
		}
	}
	return results
}

// roomByConn must be called with the lock held.
func (m *Manager) roomByConn(connID string) *room {
	roomID, ok := m.connRoom[connID]
	if !ok {
		return nil
	}
	return m.rooms[roomID]
}
