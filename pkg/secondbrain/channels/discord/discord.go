// Package discord implements the Discord transport using discordgo.
//
// Features:
//   - Send/receive text and file attachments
//   - Typing indicators
//   - Thread support (threads map onto their parent channel's session)
//   - Channel allowlist
//   - Automatic reconnection via discordgo's gateway
package discord

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/secondbrain/pkg/secondbrain/channels"
)

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string

	// AllowedChannels restricts which channel IDs the bot responds in.
	// Empty means respond everywhere.
	AllowedChannels []string

	// SendTyping enables the "typing..." indicator while processing.
	SendTyping bool
}

// Discord implements channels.Channel, channels.MediaChannel, and
// channels.PresenceChannel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	// messages carries inbound messages to the assistant.
	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// httpClient downloads inbound attachments.
	httpClient *http.Client
}

// New creates a Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:        cfg,
		logger:     logger.With("component", "discord"),
		messages:   make(chan *channels.IncomingMessage, 256),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)
	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	if d.session != nil {
		d.session.Close()
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Send delivers one text chunk. The caller keeps chunks within Discord's
// 2000 character limit; oversized content is truncated defensively rather
// than rejected by the API.
func (d *Discord) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error {
	if d.session == nil {
		return channels.ErrChannelDisconnected
	}

	content := msg.Content
	if len(content) > 2000 {
		content = content[:2000]
	}
	_, err := d.session.ChannelMessageSend(to, content)
	if err != nil {
		d.errorCount.Add(1)
	}
	return err
}

// Receive returns the inbound message stream.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected reports whether the gateway connection is open.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
	}
}

// ---------- MediaChannel Interface ----------

// SendFile delivers a file attachment to the chat.
func (d *Discord) SendFile(ctx context.Context, to string, file *channels.FileMessage) error {
	if d.session == nil {
		return channels.ErrChannelDisconnected
	}

	var reader io.Reader
	filename := file.Filename
	switch {
	case len(file.Data) > 0:
		reader = bytes.NewReader(file.Data)
	case file.Path != "":
		f, err := os.Open(file.Path)
		if err != nil {
			return fmt.Errorf("discord: opening file: %w", err)
		}
		defer f.Close()
		reader = f
		if filename == "" {
			filename = filepath.Base(file.Path)
		}
	default:
		return fmt.Errorf("discord: no file data or path")
	}
	if filename == "" {
		filename = "file"
	}

	msgSend := &discordgo.MessageSend{
		Files: []*discordgo.File{{Name: filename, Reader: reader}},
	}
	if file.Caption != "" {
		msgSend.Content = file.Caption
	}

	_, err := d.session.ChannelMessageSendComplex(to, msgSend)
	return err
}

// DownloadAttachment fetches an inbound attachment's bytes.
func (d *Discord) DownloadAttachment(ctx context.Context, att *channels.Attachment) ([]byte, error) {
	if att == nil || att.URL == "" {
		return nil, channels.ErrDownloadFailed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("discord: building download request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discord: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discord: download: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("discord: reading attachment: %w", err)
	}
	return data, nil
}

// ---------- PresenceChannel Interface ----------

// SendTyping shows a typing indicator in the chat.
func (d *Discord) SendTyping(ctx context.Context, to string) error {
	if d.session == nil || !d.cfg.SendTyping {
		return nil
	}
	return d.session.ChannelTyping(to)
}

// ---------- Event Handlers ----------

// onMessageCreate converts Discord messages into the transport-neutral form.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore our own and other bots' messages.
	if m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}

	if len(d.cfg.AllowedChannels) > 0 {
		allowed := false
		for _, id := range d.cfg.AllowedChannels {
			if id == m.ChannelID || id == d.parentOf(s, m.ChannelID) {
				allowed = true
				break
			}
		}
		if !allowed {
			return
		}
	}

	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  m.Author.Username,
		ChatID:    m.ChannelID,
		ParentID:  d.parentOf(s, m.ChannelID),
		FromBot:   m.Author.Bot,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}

	for _, att := range m.Attachments {
		incoming.Attachments = append(incoming.Attachments, &channels.Attachment{
			Filename: att.Filename,
			URL:      att.URL,
			MimeType: att.ContentType,
			Size:     int64(att.Size),
		})
	}

	d.lastMsg.Store(time.Now())

	select {
	case d.messages <- incoming:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

// parentOf returns the parent channel id when channelID is a thread,
// otherwise "".
func (d *Discord) parentOf(s *discordgo.Session, channelID string) string {
	ch, err := s.State.Channel(channelID)
	if err != nil {
		ch, err = s.Channel(channelID)
		if err != nil {
			return ""
		}
	}
	if ch.IsThread() {
		return ch.ParentID
	}
	return ""
}

// Compile-time interface verification.
var (
	_ channels.Channel         = (*Discord)(nil)
	_ channels.MediaChannel    = (*Discord)(nil)
	_ channels.PresenceChannel = (*Discord)(nil)
)
