// Package assistant wires the channel manager, the Claude CLI runner, the
// session store and the vault into the Second Brain bot: one personal
// assistant that answers its owner on Discord and keeps notes.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/secondbrain/pkg/secondbrain/channels"
	"github.com/jholhewres/secondbrain/pkg/secondbrain/claude"
	"github.com/jholhewres/secondbrain/pkg/secondbrain/mcp"
	"github.com/jholhewres/secondbrain/pkg/secondbrain/session"
	"github.com/jholhewres/secondbrain/pkg/secondbrain/splitter"
	"github.com/jholhewres/secondbrain/pkg/secondbrain/vault"
)

const (
	// maxErrorPreview bounds how much of a failed run's output is echoed
	// back to the chat.
	maxErrorPreview = 300

	// typingInterval refreshes the typing indicator while a run is in
	// flight. Discord's indicator expires after ~10 seconds.
	typingInterval = 8 * time.Second
)

// Options configures an Assistant.
type Options struct {
	// OwnerID is the only user the bot talks to. Everyone else is
	// silently ignored.
	OwnerID string

	// DownloadDir receives inbound attachments.
	DownloadDir string
}

// Assistant is the turn orchestrator. One instance serves every channel;
// turns on the same session key are serialized, different keys run in
// parallel (subject to the runner's one-process-per-key rule).
type Assistant struct {
	runner     claude.Client
	store      *session.Store
	channelMgr *channels.Manager
	vault      *vault.Manager
	mcpMgr     *mcp.Manager
	opts       Options
	logger     *slog.Logger

	mu        sync.Mutex
	turnLocks map[string]*sync.Mutex
}

// New creates an Assistant. vaultMgr and mcpMgr may be nil; the
// corresponding commands then report the feature as unavailable.
func New(runner claude.Client, store *session.Store, channelMgr *channels.Manager, vaultMgr *vault.Manager, mcpMgr *mcp.Manager, opts Options, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		runner:     runner,
		store:      store,
		channelMgr: channelMgr,
		vault:      vaultMgr,
		mcpMgr:     mcpMgr,
		opts:       opts,
		logger:     logger.With("component", "assistant"),
		turnLocks:  make(map[string]*sync.Mutex),
	}
}

// Start consumes the channel manager's message stream until ctx is
// cancelled or the stream closes. Each message is handled on its own
// goroutine; per-session serialization happens inside HandleMessage.
func (a *Assistant) Start(ctx context.Context) {
	for {
		select {
		case msg, ok := <-a.channelMgr.Messages():
			if !ok {
				return
			}
			go a.HandleMessage(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

// HandleMessage processes one inbound message end to end: owner check →
// command → attachment download → Claude run → chunked reply.
func (a *Assistant) HandleMessage(ctx context.Context, msg *channels.IncomingMessage) {
	traceID := uuid.NewString()[:8]
	logger := a.logger.With(
		"trace", traceID,
		"channel", msg.Channel,
		"chat_id", msg.ChatID,
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in message handler",
				"panic", r,
				"stack", string(debug.Stack()))
			a.sendText(ctx, msg, "Something went wrong handling that message. Check the logs.")
		}
	}()

	if msg.FromBot {
		return
	}
	if msg.From != a.opts.OwnerID {
		logger.Info("message ignored (not owner)", "from", msg.From)
		return
	}

	logger.Info("incoming message",
		"content_preview", truncate(msg.Content, 50),
		"attachments", len(msg.Attachments))

	if IsCommand(msg.Content) {
		result := a.HandleCommand(ctx, msg)
		if result.Handled {
			if result.Response != "" {
				a.sendText(ctx, msg, result.Response)
			}
			for _, file := range result.Files {
				a.sendFile(ctx, msg, file, logger)
			}
			return
		}
	}

	// Serialize turns per session key so a burst of messages becomes an
	// ordered conversation instead of a pile of rejected runs.
	lock := a.turnLock(msg.SessionKey())
	lock.Lock()
	defer lock.Unlock()

	a.runTurn(ctx, msg, logger)
}

// runTurn executes one conversational turn against the Claude CLI.
func (a *Assistant) runTurn(ctx context.Context, msg *channels.IncomingMessage, logger *slog.Logger) {
	start := time.Now()
	key := msg.SessionKey()
	prompt := strings.TrimSpace(msg.Content)

	if len(msg.Attachments) > 0 {
		paths, err := a.downloadAttachments(ctx, msg)
		if err != nil {
			logger.Warn("attachment download failed", "error", err)
			a.sendText(ctx, msg, "I couldn't download that attachment, so I'm skipping this message.")
			return
		}
		prompt = buildFilePrompt(paths, prompt)
	}

	if prompt == "" {
		logger.Info("empty message dropped")
		return
	}

	stopTyping := a.startTyping(ctx, msg)
	defer stopTyping()

	sess := a.store.Get(key)
	resp := a.runner.Run(ctx, claude.Request{
		Prompt:       prompt,
		ChannelKey:   key,
		Model:        sess.Model,
		SessionID:    sess.ID,
		SystemPrompt: sess.SystemPrompt,
	})

	if resp.IsError {
		logger.Warn("claude run failed",
			"duration_ms", time.Since(start).Milliseconds(),
			"error_preview", truncate(resp.Text, 120))
		a.sendText(ctx, msg, fmt.Sprintf("⚠️ Claude returned an error:\n```\n%s\n```", truncate(resp.Text, maxErrorPreview)))
		return
	}

	a.store.UpdateAfterResponse(key, resp.SessionID, resp.CostUSD)

	for _, chunk := range splitter.Split(resp.Text) {
		if chunk == "" {
			continue
		}
		if err := a.channelMgr.Send(ctx, msg.Channel, msg.ChatID, &channels.OutgoingMessage{Content: chunk}); err != nil {
			logger.Error("sending reply chunk failed", "error", err)
			return
		}
	}

	// Files Claude reports having written land in the chat too. A failed
	// upload is not worth aborting the turn over.
	for _, path := range DetectOutputFiles(resp.Text) {
		a.sendFile(ctx, msg, &channels.FileMessage{Path: path}, logger)
	}

	a.store.AddHistory(key, prompt, resp.Text)

	// Degraded plain-text responses carry no cost; skip the footer then.
	sess = a.store.Get(key)
	if resp.CostUSD > 0 {
		footer := fmt.Sprintf("-# %s · Turn %d · $%.4f · %.1fs",
			sess.Model, sess.TurnCount, resp.CostUSD, resp.DurationSecs)
		a.sendText(ctx, msg, footer)
	}

	logger.Info("turn complete",
		"turn", sess.TurnCount,
		"cost_usd", resp.CostUSD,
		"duration_ms", time.Since(start).Milliseconds())
}

// turnLock returns the mutex serializing turns for one session key.
func (a *Assistant) turnLock(key string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.turnLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		a.turnLocks[key] = lock
	}
	return lock
}

// startTyping keeps the typing indicator alive until the returned stop
// function is called. No-op when the transport has no presence support.
func (a *Assistant) startTyping(ctx context.Context, msg *channels.IncomingMessage) func() {
	ch, ok := a.channelMgr.Channel(msg.Channel)
	if !ok {
		return func() {}
	}
	presence, ok := ch.(channels.PresenceChannel)
	if !ok {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		_ = presence.SendTyping(ctx, msg.ChatID)
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = presence.SendTyping(ctx, msg.ChatID)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { close(done) }
}

// sendText delivers text to the message's chat, splitting it into
// platform-sized chunks.
func (a *Assistant) sendText(ctx context.Context, msg *channels.IncomingMessage, text string) {
	for _, chunk := range splitter.Split(text) {
		if chunk == "" {
			continue
		}
		if err := a.channelMgr.Send(ctx, msg.Channel, msg.ChatID, &channels.OutgoingMessage{Content: chunk}); err != nil {
			a.logger.Error("send failed", "channel", msg.Channel, "error", err)
			return
		}
	}
}

func (a *Assistant) sendFile(ctx context.Context, msg *channels.IncomingMessage, file *channels.FileMessage, logger *slog.Logger) {
	ch, ok := a.channelMgr.Channel(msg.Channel)
	if !ok {
		return
	}
	media, ok := ch.(channels.MediaChannel)
	if !ok {
		logger.Warn("channel has no file support", "channel", msg.Channel)
		return
	}
	if err := media.SendFile(ctx, msg.ChatID, file); err != nil {
		logger.Warn("file upload failed", "path", file.Path, "filename", file.Filename, "error", err)
	}
}

// truncate shortens s to max characters, cutting on a rune boundary so
// multibyte text never ends up mangled in previews.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
