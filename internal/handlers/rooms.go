package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"duochat/internal/core"
	"duochat/internal/observability"
	"duochat/internal/storage"
	"duochat/internal/telemetry"
	"duochat/internal/ws"
)

// RoomHandler serves room creation and the upload middleware.
type RoomHandler struct {
	manager       *core.Manager
	store         *storage.UploadStore
	hub           *ws.Hub
	audit         *telemetry.AuditEmitter
	publicBaseURL string
	port          string
}

// NewRoomHandler builds a RoomHandler.
func NewRoomHandler(manager *core.Manager, store *storage.UploadStore, hub *ws.Hub, audit *telemetry.AuditEmitter, publicBaseURL, port string) *RoomHandler {
	return &RoomHandler{
		manager:       manager,
		store:         store,
		hub:           hub,
		audit:         audit,
		publicBaseURL: publicBaseURL,
		port:          port,
	}
}

// CreateRoom mints a room and returns both share links, relative and
// absolute, so the creator can hand the invite link to the other party.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	creds := h.manager.CreateRoom()
	local, public := h.resolveOrigins(c.Request)

	hostPath := fmt.Sprintf("/room/%s?t=%s", creds.RoomID, creds.HostToken)
	invitePath := fmt.Sprintf("/room/%s?t=%s", creds.RoomID, creds.GuestToken)

	h.audit.Emit(c.Request.Context(), "INFO", "room created",
		observability.RequestIDFromRequest(c.Request), creds.RoomID)

	c.JSON(http.StatusOK, gin.H{
		"room_id":           creds.RoomID,
		"host_url":          hostPath,
		"invite_url":        invitePath,
		"host_url_local":    local + hostPath,
		"invite_url_local":  local + invitePath,
		"host_url_public":   public + hostPath,
		"invite_url_public": public + invitePath,
	})
}

// Upload receives a multipart file, stores it, and appends the attachment
// message through the core. The stored file is removed again whenever the
// core rejects the upload.
func (h *RoomHandler) Upload(c *gin.Context) {
	roomID := c.Param("room_id")
	token := c.Query("t")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file provided"})
		return
	}

	fd, err := h.store.Save(fileHeader)
	if err != nil {
		log.Printf("upload store failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
		return
	}

	out, err := h.manager.AppendAttachment(roomID, token, fd)
	if err != nil {
		if relErr := h.store.Release(fd.StorageRef); relErr != nil {
			log.Printf("upload rollback failed: %v", relErr)
		}
		c.JSON(uploadStatus(err), gin.H{"error": uploadErrorText(err)})
		return
	}

	h.audit.Emit(c.Request.Context(), "INFO", "attachment stored: "+fd.OriginalName,
		observability.RequestIDFromRequest(c.Request), out.RoomID)

	h.hub.Broadcast(out.RoomID, "", ws.MessageEvent(out.Message))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func uploadStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidToken), errors.Is(err, core.ErrNotInRoom):
		return http.StatusForbidden
	case errors.Is(err, core.ErrInvalidMessage):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func uploadErrorText(err error) string {
	switch {
	case errors.Is(err, core.ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, core.ErrInvalidToken):
		return "invalid access token"
	case errors.Is(err, core.ErrNotInRoom):
		return "join the room first"
	case errors.Is(err, core.ErrInvalidMessage):
		return "no file provided"
	}
	return "upload failed"
}
