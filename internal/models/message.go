package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies one of the two fixed participants in a room. Either role
// may join first; only the guest token is single-use.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Label returns the display name shown to participants.
func (r Role) Label() string {
	if r == RoleHost {
		return "Participant A"
	}
	return "Participant B"
}

// MessageType selects which payload field of a Message is set.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

// Attachment describes a stored upload referenced by an image or file message.
type Attachment struct {
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	URL          string `json:"url"`
}

// ReplyPreview is an immutable snapshot of a referenced message, captured
// when the reply is created. It never points back into live history, so it
// stays valid no matter what happens to the original.
type ReplyPreview struct {
	ID          string      `json:"id"`
	Sender      Role        `json:"sender"`
	SenderLabel string      `json:"sender_label"`
	Type        MessageType `json:"type"`
	Preview     string      `json:"preview"`
}

// Message is one entry in a room's history. It is immutable once appended.
// Exactly one payload field (Text or Attachment) is set, selected by Type;
// system messages carry Text and no sender.
type Message struct {
	ID          string        `json:"id"`
	Type        MessageType   `json:"type"`
	Sender      Role          `json:"sender,omitempty"`
	SenderLabel string        `json:"sender_label,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	Text        string        `json:"text,omitempty"`
	Attachment  *Attachment   `json:"attachment,omitempty"`
	ReplyTo     *ReplyPreview `json:"reply_to,omitempty"`
}

// FileDescriptor is what the upload middleware hands the core for a file it
// has already persisted. StorageRef is the resource handle released when the
// room is destroyed.
type FileDescriptor struct {
	OriginalName string
	MimeType     string
	Size         int64
	StorageRef   string
	URL          string
}

// NewTextMessage builds a text message with a fresh id.
func NewTextMessage(sender Role, text string, replyTo *ReplyPreview) Message {
	return Message{
		ID:          uuid.NewString(),
		Type:        MessageText,
		Sender:      sender,
		SenderLabel: sender.Label(),
		Timestamp:   time.Now(),
		Text:        text,
		ReplyTo:     replyTo,
	}
}

// NewAttachmentMessage builds an image or file message from a stored upload.
// The kind is decided by the sniffed media type, not the client's claim.
func NewAttachmentMessage(sender Role, fd FileDescriptor) Message {
	msgType := MessageFile
	if strings.HasPrefix(fd.MimeType, "image/") {
		msgType = MessageImage
	}
	return Message{
		ID:          uuid.NewString(),
		Type:        msgType,
		Sender:      sender,
		SenderLabel: sender.Label(),
		Timestamp:   time.Now(),
		Attachment: &Attachment{
			OriginalName: fd.OriginalName,
			MimeType:     fd.MimeType,
			Size:         fd.Size,
			URL:          fd.URL,
		},
	}
}

// NewSystemMessage builds a sender-less system notice.
func NewSystemMessage(text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      MessageSystem,
		Timestamp: time.Now(),
		Text:      text,
	}
}

const replyPreviewLimit = 120

// BuildReplyPreview snapshots a message for use as a reply reference. It
// returns nil for missing originals and for system messages; replies are
// advisory, so an unresolved reference is dropped rather than rejected.
func BuildReplyPreview(original *Message) *ReplyPreview {
	if original == nil {
		return nil
	}

	switch original.Type {
	case MessageText:
		preview := original.Text
		if runes := []rune(preview); len(runes) > replyPreviewLimit {
			preview = string(runes[:replyPreviewLimit])
		}
		return &ReplyPreview{
			ID:          original.ID,
			Sender:      original.Sender,
			SenderLabel: original.SenderLabel,
			Type:        MessageText,
			Preview:     preview,
		}
	case MessageImage, MessageFile:
		preview := "Attachment"
		if original.Attachment != nil && original.Attachment.OriginalName != "" {
			preview = original.Attachment.OriginalName
		}
		return &ReplyPreview{
			ID:          original.ID,
			Sender:      original.Sender,
			SenderLabel: original.SenderLabel,
			Type:        original.Type,
			Preview:     preview,
		}
	}
	return nil
}
