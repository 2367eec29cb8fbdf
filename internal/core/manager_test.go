package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duochat/internal/models"
)

func newTestManager() *Manager {
	return NewManager(Options{MaxMessageLength: 2000, RoomTTL: time.Hour})
}

func TestCreateRoomCredentials(t *testing.T) {
	m := newTestManager()
	creds := m.CreateRoom()

	require.NotEmpty(t, creds.RoomID)
	require.NotEmpty(t, creds.HostToken)
	require.NotEmpty(t, creds.GuestToken)
	assert.NotEqual(t, creds.HostToken, creds.GuestToken)

	r := m.rooms[creds.RoomID]
	require.NotNil(t, r)
	assert.Equal(t, StateWaitingSecond, r.state)
}

func TestFullRoomScenario(t *testing.T) {
	m := newTestManager()
	creds := m.CreateRoom()

	hostJoin, err := m.Join(creds.RoomID, creds.HostToken, "host-conn")
	require.NoError(t, err)
	assert.Equal(t, models.RoleHost, hostJoin.Role)
	assert.Equal(t, "Participant A", hostJoin.RoleLabel)
	assert.Equal(t, 1, hostJoin.ParticipantsCount)
	assert.NotEmpty(t, hostJoin.SelfNotice)
	assert.Empty(t, hostJoin.RoomNotice)

	guestJoin, err := m.Join(creds.RoomID, creds.GuestToken, "guest-conn")
	require.NoError(t, err)
	assert.Equal(t, models.RoleGuest, guestJoin.Role)
	assert.Equal(t, 2, guestJoin.ParticipantsCount)
	assert.NotEmpty(t, guestJoin.RoomNotice)
	assert.Equal(t, StateActive, m.rooms[creds.RoomID].state)

	out, err := m.AppendText("host-conn", "hello", "")
	require.NoError(t, err)
	assert.Equal(t, models.RoleHost, out.Message.Sender)
	assert.Equal(t, "hello", out.Message.Text)

	history := m.rooms[creds.RoomID].history
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Text)

	reply, err := m.AppendText("guest-conn", "hi back", out.Message.ID)
	require.NoError(t, err)
	require.NotNil(t, reply.Message.ReplyTo)
	assert.Equal(t, out.Message.ID, reply.Message.ReplyTo.ID)
	assert.Contains(t, reply.Message.ReplyTo.Preview, "hello")

	res := m.Leave("host-conn", "host left")
	require.NotNil(t, res)
	assert.Equal(t, creds.RoomID, res.RoomID)
	assert.Equal(t, "host left", res.Reason)
	assert.Equal(t, "host-conn", res.InitiatorConnID)
	assert.ElementsMatch(t, []string{"host-conn", "guest-conn"}, res.ConnIDs)

	_, err = m.Join(creds.RoomID, creds.HostToken, "host-again")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = m.Join(creds.RoomID, creds.GuestToken, "guest-again")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestJoinUnknownRoom(t *testing.T) {
	m := newTestManager()
	_, err := m.Join("missing", "token", "conn")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestJoinInvalidToken(t *testing.T) {
	m := newTestManager()
	creds := m.CreateRoom()
	_, err := m.Join(creds.RoomID, "not-a-token", "conn")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGuestTokenSingleUse(t *testing.T) {
	m := newTestManager()
	creds := m.CreateRoom()

	_, err := m.Join(creds.RoomID, creds.GuestToken, "guest-conn")
	require.NoError(t, err)

	_, err = m.Join(creds.RoomID, creds.GuestToken, "third-conn")
	assert.ErrorIs(t, err, ErrInviteAlreadyUsed)
}

func TestJoinRoleAlreadyConnected(t *testing.T) {
	m := newTestManager()
	creds := m.CreateRoom()

	_, err := m.Join(creds.RoomID, creds.HostToken, "host-1")
	require.NoError(t, err)

	_, err = m.Join(creds.RoomID, creds.HostToken, "host-2")
	assert.ErrorIs(t, err, ErrRoleAlreadyConnected)
}

func TestJoinRoomFullDefensiveCheck(t *testing.T) {
	m := newTestManager()
	creds := m.CreateRoom()

	// Force two occupied slots without the host role being taken so the
	// defensive capacity check is reachable on its own.
	r := m.rooms[creds.RoomID]
	r.participants["a"] = participant{role: models.RoleGuest}
	r.participants["b"] = participant{role: models.RoleGuest}

	_, err := m.Join(creds.RoomID, creds.HostToken, "host-conn")
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestJoinOrderSymmetry(t *testing.T) {
	m := newTestManager()
	creds := m.CreateRoom()

	// The guest may arrive before the host.
	guestJoin, err := m.Join(creds.RoomID, creds.GuestToken, "guest-conn")
	require.NoError(t, err)
	assert.Equal(t, 1, guestJoin.ParticipantsCount)
	assert.NotEmpty(t, guestJoin.SelfNotice)

	hostJoin, err := m.Join(creds.RoomID, creds.HostToken, "host-conn")
	require.NoError(t, err)
	assert.Equal(t, 2, hostJoin.ParticipantsCount)
	assert.Equal(t, StateActive, m.rooms[creds.RoomID].state)
}

func TestConcurrentGuestJoinsSingleWinner(t *testing.T) {
	m := newTestManager()
	creds := m.CreateRoom()

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Join(creds.RoomID, creds.GuestToken, string(rune('a'+i)))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrInviteAlreadyUsed)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestAppendTextValidation(t *testing.T) {
	m := NewManager(Options{MaxMessageLength: 10, RoomTTL: time.Hour})
	creds := m.CreateRoom()
	_, err := m.Join(creds.RoomID, creds.HostToken, "host-conn")
	require.NoError(t, err)

	_, err = m.AppendText("host-conn", "", "")
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = m.AppendText("host-conn", "   \t  ", "")
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = m.AppendText("host-conn", "this is far too long", "")
	assert.ErrorIs(t, err, ErrInvalidMessage)

	out, err := m.AppendText("host-conn", "  short  ", "")
	require.NoError(t, err)
	assert.Equal(t, "short", out.Message.Text)
}

func TestAppendTextNotInRoom(t *testing.T) {
	m := newTestManager()
	_, err := m.AppendText("ghost", "hello", "")
	assert.ErrorIs(t, err, ErrNotInRoom)
}

func TestUnresolvedReplyIsDropped(t *testing.T) {
	m := newTestManager()
	creds := m.CreateRoom()
	_, err := m.Join(creds.RoomID, creds.HostToken, "host-conn")
	require.NoError(t, err)

	out, err := m.AppendText("host-conn", "hello", "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, out.Message.ReplyTo)
}

func TestReplyPreviewIsSnapshot(t *testing.T) {
	m := newTestManager()
	creds := m.CreateRoom()
	_, err := m.Join(creds.RoomID, creds.HostToken, "host-conn")
	require.NoError(t, err)

	original, err := m.AppendText("host-conn", "hello", "")
	require.NoError(t, err)

	reply, err := m.AppendText("host-conn", "replying", original.Message.ID)
	require.NoError(t, err)
	require.NotNil(t, reply.Message.ReplyTo)

	snapshot := *reply.Message.ReplyTo
	assert.Equal(t, "hello", snapshot.Preview)
	assert.Equal(t, models.RoleHost, snapshot.Sender)

	stored := m.rooms[creds.RoomID].findMessage(reply.Message.ID)
	require.NotNil(t, stored)
	assert.Equal(t, snapshot, *stored.ReplyTo)
}

func TestAppendAttachment(t *testing.T) {
	m := newTestManager()
	creds := m.CreateRoom()
	_, err := m.Join(creds.RoomID, creds.HostToken, "host-conn")
	require.NoError(t, err)

	fd := models.FileDescriptor{
		OriginalName: "photo.png",
		MimeType:     "image/png",
		Size:         1024,
		StorageRef:   "/tmp/uploads/123-photo.png",
		URL:          "/uploads/123-photo.png",
	}

	out, err := m.AppendAttachment(creds.RoomID, creds.HostToken, fd)
	require.NoError(t, err)
	assert.Equal(t, models.MessageImage, out.Message.Type)
	require.NotNil(t, out.Message.Attachment)
	assert.Equal(t, "photo.png", out.Message.Attachment.OriginalName)

	_, tracked := m.rooms[creds.RoomID].resources[fd.StorageRef]
	assert.True(t, tracked)
}

func TestAppendAttachmentFailures(t *testing.T) {
	m := newTestManager()
	creds := m.CreateRoom()
	fd := models.FileDescriptor{StorageRef: "/tmp/x"}

	_, err := m.AppendAttachment("missing", creds.HostToken, fd)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = m.AppendAttachment(creds.RoomID, "bogus", fd)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Valid token but the role never joined.
	_, err = m.AppendAttachment(creds.RoomID, creds.HostToken, fd)
	assert.ErrorIs(t, err, ErrNotInRoom)

	_, err = m.Join(creds.RoomID, creds.HostToken, "host-conn")
	require.NoError(t, err)

	_, err = m.AppendAttachment(creds.RoomID, creds.HostToken, models.FileDescriptor{})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestSetTyping(t *testing.T) {
	m := newTestManager()
	creds := m.CreateRoom()
	_, err := m.Join(creds.RoomID, creds.HostToken, "host-conn")
	require.NoError(t, err)

	upd := m.SetTyping("host-conn", true)
	require.NotNil(t, upd)
	assert.Equal(t, models.RoleHost, upd.Sender)
	assert.True(t, upd.IsTyping)
	_, typing := m.rooms[creds.RoomID].typingRoles[models.RoleHost]
	assert.True(t, typing)

	upd = m.SetTyping("host-conn", false)
	require.NotNil(t, upd)
	assert.False(t, upd.IsTyping)
	_, typing = m.rooms[creds.RoomID].typingRoles[models.RoleHost]
	assert.False(t, typing)

	assert.Nil(t, m.SetTyping("ghost", true))
}

func TestDestroyIdempotent(t *testing.T) {
	m := newTestManager()
	creds := m.CreateRoom()
	_, err := m.Join(creds.RoomID, creds.HostToken, "host-conn")
	require.NoError(t, err)

	first := m.Destroy(creds.RoomID, "done", "")
	require.NotNil(t, first)
	assert.Equal(t, []string{"host-conn"}, first.ConnIDs)

	second := m.Destroy(creds.RoomID, "done again", "")
	assert.Nil(t, second)

	assert.Nil(t, m.Destroy("never-existed", "x", ""))
}

func TestDestroyClearsBindings(t *testing.T) {
	m := newTestManager()
	creds := m.CreateRoom()
	_, err := m.Join(creds.RoomID, creds.HostToken, "host-conn")
	require.NoError(t, err)

	require.NotNil(t, m.Destroy(creds.RoomID, "done", ""))

	_, err = m.AppendText("host-conn", "hello", "")
	assert.ErrorIs(t, err, ErrNotInRoom)
	assert.Nil(t, m.SetTyping("host-conn", true))
	assert.Nil(t, m.Leave("host-conn", "late leave"))
}

type recordingReleaser struct {
	refs chan string
	err  error
}

func (r *recordingReleaser) Release(ref string) error {
	r.refs <- ref
	return r.err
}

func TestDestroyReleasesResources(t *testing.T) {
	releaser := &recordingReleaser{refs: make(chan string, 4)}
	m := NewManager(Options{MaxMessageLength: 2000, RoomTTL: time.Hour, Releaser: releaser})

	creds := m.CreateRoom()
	_, err := m.Join(creds.RoomID, creds.HostToken, "host-conn")
	require.NoError(t, err)

	fd := models.FileDescriptor{OriginalName: "doc.pdf", MimeType: "application/pdf", StorageRef: "/tmp/doc.pdf"}
	_, err = m.AppendAttachment(creds.RoomID, creds.HostToken, fd)
	require.NoError(t, err)

	require.NotNil(t, m.Destroy(creds.RoomID, "done", ""))

	select {
	case ref := <-releaser.refs:
		assert.Equal(t, "/tmp/doc.pdf", ref)
	case <-time.After(2 * time.Second):
		t.Fatal("resource was not released")
	}
}

func TestReleaseFailureInvokesHook(t *testing.T) {
	releaser := &recordingReleaser{refs: make(chan string, 4), err: assert.AnError}
	failed := make(chan string, 4)

	m := NewManager(Options{
		MaxMessageLength: 2000,
		RoomTTL:          time.Hour,
		Releaser:         releaser,
		OnReleaseFailure: func(roomID, ref string, err error) {
			failed <- ref
		},
	})

	creds := m.CreateRoom()
	_, err := m.Join(creds.RoomID, creds.HostToken, "host-conn")
	require.NoError(t, err)
	_, err = m.AppendAttachment(creds.RoomID, creds.HostToken, models.FileDescriptor{StorageRef: "/tmp/gone"})
	require.NoError(t, err)

	require.NotNil(t, m.Destroy(creds.RoomID, "done", ""))

	select {
	case ref := <-failed:
		assert.Equal(t, "/tmp/gone", ref)
	case <-time.After(2 * time.Second):
		t.Fatal("release failure hook was not invoked")
	}
}

func TestSweepIdleDestroysOnlyExpiredRooms(t *testing.T) {
	m := NewManager(Options{MaxMessageLength: 2000, RoomTTL: time.Hour})

	stale := m.CreateRoom()
	_, err := m.Join(stale.RoomID, stale.HostToken, "stale-conn")
	require.NoError(t, err)
	fresh := m.CreateRoom()

	m.rooms[stale.RoomID].lastActivityAt = time.Now().Add(-2 * time.Hour)

	results := m.SweepIdle("room expired")
	require.Len(t, results, 1)
	assert.Equal(t, stale.RoomID, results[0].RoomID)
	assert.Equal(t, "room expired", results[0].Reason)
	assert.Empty(t, results[0].InitiatorConnID)
	assert.Equal(t, []string{"stale-conn"}, results[0].ConnIDs)

	_, ok := m.rooms[fresh.RoomID]
	assert.True(t, ok)
	_, ok = m.rooms[stale.RoomID]
	assert.False(t, ok)
}

func TestDisconnectDestroysRoom(t *testing.T) {
	m := newTestManager()
	creds := m.CreateRoom()
	_, err := m.Join(creds.RoomID, creds.HostToken, "host-conn")
	require.NoError(t, err)
	_, err = m.Join(creds.RoomID, creds.GuestToken, "guest-conn")
	require.NoError(t, err)

	res := m.Disconnect("guest-conn", "connection lost")
	require.NotNil(t, res)
	assert.Equal(t, "guest-conn", res.InitiatorConnID)
	assert.ElementsMatch(t, []string{"host-conn", "guest-conn"}, res.ConnIDs)

	assert.Nil(t, m.Disconnect("host-conn", "connection lost"))
}
