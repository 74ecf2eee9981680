// Package channels defines the transport abstraction between the Second
// Brain assistant and messaging platforms. A channel delivers ordered text
// chunks and file attachments to a destination and surfaces inbound
// messages (with their attachment descriptors) on a Go channel.
package channels

import (
	"context"
	"fmt"
	"time"
)

// Channel is the contract every messaging transport implements.
type Channel interface {
	// Name returns the channel identifier (e.g. "discord").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send delivers one text chunk to the destination chat.
	Send(ctx context.Context, to string, msg *OutgoingMessage) error

	// Receive returns a Go channel emitting inbound messages.
	Receive() <-chan *IncomingMessage

	// IsConnected reports whether the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// MediaChannel extends Channel with file transfer capabilities.
type MediaChannel interface {
	Channel

	// SendFile delivers a file attachment to the destination chat.
	SendFile(ctx context.Context, to string, file *FileMessage) error

	// DownloadAttachment fetches the raw bytes of an inbound attachment.
	DownloadAttachment(ctx context.Context, att *Attachment) ([]byte, error)
}

// PresenceChannel extends Channel with a typing indicator.
type PresenceChannel interface {
	Channel

	// SendTyping shows a "typing..." indicator in the destination chat.
	SendTyping(ctx context.Context, to string) error
}

// IncomingMessage is a message received from a channel.
type IncomingMessage struct {
	// ID is the platform message identifier.
	ID string

	// Channel identifies the source transport (e.g. "discord").
	Channel string

	// From is the author's platform identifier.
	From string

	// FromName is the author's display name, when available.
	FromName string

	// ChatID is the channel or thread the message arrived in. Replies go
	// back here.
	ChatID string

	// ParentID is the parent channel id when ChatID is a thread. Session
	// state collapses onto the parent, so threads continue their
	// channel's conversation.
	ParentID string

	// FromBot marks messages authored by bots (including this one).
	FromBot bool

	// Content is the text content.
	Content string

	// Attachments lists the files attached to the message. Discord
	// permits several per message.
	Attachments []*Attachment

	// Timestamp is when the message was sent.
	Timestamp time.Time
}

// SessionKey returns the conversational-isolation key for the message:
// a thread's parent channel, or the channel itself.
func (m *IncomingMessage) SessionKey() string {
	if m.ParentID != "" {
		return m.ParentID
	}
	return m.ChatID
}

// OutgoingMessage is one text chunk to deliver. Callers are responsible for
// keeping Content within the platform's size limit.
type OutgoingMessage struct {
	Content string
}

// FileMessage is a file to deliver to a chat. Either Data or Path is set.
type FileMessage struct {
	// Filename is the name shown to the recipient.
	Filename string

	// Data is the file content, when sending from memory.
	Data []byte

	// Path is a local file to send, when Data is empty.
	Path string

	// Caption is optional text accompanying the file.
	Caption string
}

// Attachment describes an inbound file available for download.
type Attachment struct {
	// Filename is the original file name.
	Filename string

	// URL is the platform download location.
	URL string

	// MimeType is the declared content type.
	MimeType string

	// Size is the declared size in bytes.
	Size int64
}

// HealthStatus reports the health of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
}

// Errors shared by channel implementations.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrDownloadFailed      = fmt.Errorf("failed to download attachment")
)
