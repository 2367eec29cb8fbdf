package ws

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"duochat/internal/core"
	"duochat/internal/models"
	"duochat/internal/observability"
)

// Browser protocol event names.
const (
	evtJoin    = "join"
	evtMessage = "message"
	evtTyping  = "typing"
	evtLeave   = "leave"

	evtJoined    = "joined"
	evtSystem    = "system"
	evtError     = "error"
	evtRoomEnded = "room-ended"
)

const (
	reasonLeft         = "One of the participants left the room. The chat has ended."
	reasonDisconnected = "One of the participants disconnected. The chat has ended."
)

type inboundEvent struct {
	Type      string `json:"type"`
	RoomID    string `json:"room_id"`
	Token     string `json:"token"`
	Text      string `json:"text"`
	ReplyToID string `json:"reply_to_id"`
	IsTyping  bool   `json:"is_typing"`
}

type outboundEvent struct {
	Type         string           `json:"type"`
	Error        string           `json:"error,omitempty"`
	Text         string           `json:"text,omitempty"`
	RoomID       string           `json:"room_id,omitempty"`
	Role         models.Role      `json:"role,omitempty"`
	RoleLabel    string           `json:"role_label,omitempty"`
	Participants int              `json:"participants,omitempty"`
	History      []models.Message `json:"history,omitempty"`
	Message      *models.Message  `json:"message,omitempty"`
	SenderRole   models.Role      `json:"sender_role,omitempty"`
	SenderLabel  string           `json:"sender_label,omitempty"`
	IsTyping     bool             `json:"is_typing,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	BySelf       bool             `json:"by_self,omitempty"`
}

// MessageEvent wraps a stored message for broadcast, for callers outside
// this package (the upload handler).
func MessageEvent(msg models.Message) any {
	return outboundEvent{Type: evtMessage, Message: &msg}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RoomSocketHandler drives the per-connection event loop against the core.
// The core returns data; this layer does all the socket I/O.
type RoomSocketHandler struct {
	hub     *Hub
	manager *core.Manager
}

// NewRoomSocketHandler constructs a RoomSocketHandler.
func NewRoomSocketHandler(hub *Hub, manager *core.Manager) *RoomSocketHandler {
	return &RoomSocketHandler{hub: hub, manager: manager}
}

// Handle upgrades the connection and serves it until it leaves or drops.
func (h *RoomSocketHandler) Handle(c *gin.Context) {
	_, span := otel.Tracer("duochat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	connID := newConnID()
	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	log.Printf("ws connect conn=%s ip=%s", connID, observability.IPFromRequest(c.Request))

	var roomID string
	defer func() {
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		if roomID != "" {
			h.hub.Remove(roomID, connID)
			h.FanoutDestroyed(h.manager.Disconnect(connID, reasonDisconnected))
		}
		conn.Close()
	}()

	for {
		var evt inboundEvent
		if err := conn.ReadJSON(&evt); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) &&
				closeErr.Code != websocket.CloseNormalClosure && closeErr.Code != websocket.CloseGoingAway {
				observability.IncWSEvent("ws_error")
			}
			return
		}

		switch evt.Type {
		case evtJoin:
			res, err := h.manager.Join(evt.RoomID, evt.Token, connID)
			if err != nil {
				h.sendError(conn, roomID, connID, joinErrorText(err))
				continue
			}
			roomID = res.RoomID
			h.hub.Add(roomID, connID, conn)
			h.hub.SendTo(roomID, connID, outboundEvent{
				Type:         evtJoined,
				RoomID:       roomID,
				Role:         res.Role,
				RoleLabel:    res.RoleLabel,
				Participants: res.ParticipantsCount,
				History:      res.History,
			})
			if res.SelfNotice != "" {
				h.hub.SendTo(roomID, connID, outboundEvent{Type: evtSystem, Text: res.SelfNotice})
			}
			if res.RoomNotice != "" {
				h.hub.Broadcast(roomID, "", outboundEvent{Type: evtSystem, Text: res.RoomNotice})
			}

		case evtMessage:
			out, err := h.manager.AppendText(connID, evt.Text, evt.ReplyToID)
			if err != nil {
				// Invalid messages are dropped, not answered.
				continue
			}
			h.hub.Broadcast(out.RoomID, "", outboundEvent{Type: evtMessage, Message: &out.Message})

		case evtTyping:
			upd := h.manager.SetTyping(connID, evt.IsTyping)
			if upd == nil {
				continue
			}
			h.hub.Broadcast(upd.RoomID, connID, outboundEvent{
				Type:        evtTyping,
				SenderRole:  upd.Sender,
				SenderLabel: upd.SenderLabel,
				IsTyping:    upd.IsTyping,
			})

		case evtLeave:
			res := h.manager.Leave(connID, reasonLeft)
			roomID = ""
			h.FanoutDestroyed(res)
			return
		}
	}
}

// FanoutDestroyed notifies and disconnects every connection captured by a
// destroy, exactly once. Safe to call with nil.
func (h *RoomSocketHandler) FanoutDestroyed(res *core.DestroyResult) {
	if res == nil {
		return
	}
	clients := h.hub.takeRoom(res.RoomID)
	for _, connID := range res.ConnIDs {
		cl, ok := clients[connID]
		if !ok {
			continue
		}
		if err := cl.send(outboundEvent{
			Type:   evtRoomEnded,
			Reason: res.Reason,
			BySelf: connID == res.InitiatorConnID,
		}); err != nil {
			log.Printf("websocket write error: %v", err)
		}
		cl.conn.Close()
	}
	observability.IncWSEvent("room_ended")
}

// sendError replies to the connection. Before the connection is registered
// with the hub only the read loop writes, so a direct write is safe then.
func (h *RoomSocketHandler) sendError(conn *websocket.Conn, roomID, connID, text string) {
	if roomID != "" {
		h.hub.SendTo(roomID, connID, outboundEvent{Type: evtError, Error: text})
		return
	}
	_ = conn.WriteJSON(outboundEvent{Type: evtError, Error: text})
}

func joinErrorText(err error) string {
	switch {
	case errors.Is(err, core.ErrRoomNotFound):
		return "This room does not exist or has already ended."
	case errors.Is(err, core.ErrInvalidToken):
		return "Invalid room access token."
	case errors.Is(err, core.ErrInviteAlreadyUsed):
		return "The invite link has already been used."
	case errors.Is(err, core.ErrRoleAlreadyConnected):
		return "This participant is already connected."
	case errors.Is(err, core.ErrRoomFull):
		return "The room is full."
	}
	return "Could not join the room."
}
