package assistant

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/secondbrain/pkg/secondbrain/channels"
	"github.com/jholhewres/secondbrain/pkg/secondbrain/claude"
	"github.com/jholhewres/secondbrain/pkg/secondbrain/session"
)

const testOwner = "owner-1"

// fakeChannel is an in-memory transport recording everything sent through
// it. Implements MediaChannel and PresenceChannel.
type fakeChannel struct {
	mu          sync.Mutex
	sent        []string
	files       []*channels.FileMessage
	typingCalls int
	downloadErr error
	recv        chan *channels.IncomingMessage
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{recv: make(chan *channels.IncomingMessage, 8)}
}

func (f *fakeChannel) Name() string { return "discord" }
func (f *fakeChannel) Connect(ctx context.Context) error { return nil }
func (f *fakeChannel) Disconnect() error { return nil }
func (f *fakeChannel) IsConnected() bool { return true }
func (f *fakeChannel) Health() channels.HealthStatus { return channels.HealthStatus{Connected: true} }

func (f *fakeChannel) Receive() <-chan *channels.IncomingMessage { return f.recv }

func (f *fakeChannel) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg.Content)
	return nil
}

func (f *fakeChannel) SendFile(ctx context.Context, to string, file *channels.FileMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, file)
	return nil
}

func (f *fakeChannel) DownloadAttachment(ctx context.Context, att *channels.Attachment) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return []byte("file-bytes-" + att.Filename), nil
}

func (f *fakeChannel) SendTyping(ctx context.Context, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typingCalls++
	return nil
}

func (f *fakeChannel) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeChannel) sentFiles() []*channels.FileMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*channels.FileMessage(nil), f.files...)
}

var (
	_ channels.MediaChannel    = (*fakeChannel)(nil)
	_ channels.PresenceChannel = (*fakeChannel)(nil)
)

// stubRunner returns a canned response and records the last request.
type stubRunner struct {
	mu       sync.Mutex
	resp     claude.Response
	lastReq  claude.Request
	runCalls int
	killed   int
	budget   float64
}

func (s *stubRunner) Run(ctx context.Context, req claude.Request) claude.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReq = req
	s.runCalls++
	return s.resp
}

func (s *stubRunner) Kill(channelKey string) int { return s.killed }
func (s *stubRunner) KillAll() int { return s.killed }
func (s *stubRunner) IsRunning(channelKey string) bool { return false }
func (s *stubRunner) IsAnyRunning() bool { return false }
func (s *stubRunner) RunningCount() int { return 0 }
func (s *stubRunner) MaxBudget() float64 { return s.budget }
func (s *stubRunner) SetMaxBudget(usd float64)        { s.budget = usd }

func (s *stubRunner) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCalls
}

func (s *stubRunner) request() claude.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReq
}

var _ claude.Client = (*stubRunner)(nil)

func newTestAssistant(t *testing.T, runner claude.Client) (*Assistant, *fakeChannel, *session.Store) {
	t.Helper()
	ch := newFakeChannel()
	mgr := channels.NewManager(nil)
	if err := mgr.Register(ch); err != nil {
		t.Fatal(err)
	}
	store := session.NewStore("sonnet")
	a := New(runner, store, mgr, nil, nil, Options{
		OwnerID:     testOwner,
		DownloadDir: t.TempDir(),
	}, nil)
	return a, ch, store
}

func ownerMessage(content string) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		ID:        "m1",
		Channel:   "discord",
		From:      testOwner,
		ChatID:    "42",
		Content:   content,
		Timestamp: time.Now(),
	}
}

func TestTurnSuccess(t *testing.T) {
	runner := &stubRunner{resp: claude.Response{
		Text:         "hi there",
		SessionID:    "s1",
		CostUSD:      0.05,
		DurationSecs: 1.2,
	}}
	a, ch, store := newTestAssistant(t, runner)

	a.HandleMessage(context.Background(), ownerMessage("hello"))

	sent := ch.sentMessages()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want reply + footer: %q", len(sent), sent)
	}
	if sent[0] != "hi there" {
		t.Errorf("reply = %q", sent[0])
	}
	wantFooter := "-# sonnet · Turn 1 · $0.0500 · 1.2s"
	if sent[1] != wantFooter {
		t.Errorf("footer = %q, want %q", sent[1], wantFooter)
	}

	sess := store.Get("42")
	if sess.ID != "s1" || sess.TurnCount != 1 || sess.TotalCostUSD != 0.05 {
		t.Errorf("session not updated: %+v", sess)
	}
	if len(sess.History) != 1 || sess.History[0].UserMessage != "hello" {
		t.Errorf("history = %+v", sess.History)
	}

	req := runner.request()
	if req.ChannelKey != "42" || req.Prompt != "hello" || req.Model != "sonnet" {
		t.Errorf("request = %+v", req)
	}
	if req.SessionID != "" {
		t.Errorf("first turn should not resume, got session id %q", req.SessionID)
	}
}

func TestTurnResumesSession(t *testing.T) {
	runner := &stubRunner{resp: claude.Response{Text: "ok", SessionID: "s1"}}
	a, _, store := newTestAssistant(t, runner)

	a.HandleMessage(context.Background(), ownerMessage("first"))
	a.HandleMessage(context.Background(), ownerMessage("second"))

	if req := runner.request(); req.SessionID != "s1" {
		t.Errorf("second turn session id = %q, want s1", req.SessionID)
	}
	if sess := store.Get("42"); sess.TurnCount != 2 {
		t.Errorf("TurnCount = %d, want 2", sess.TurnCount)
	}
}

func TestTurnError(t *testing.T) {
	longErr := strings.Repeat("x", 500)
	runner := &stubRunner{resp: claude.Response{Text: longErr, IsError: true}}
	a, ch, store := newTestAssistant(t, runner)

	a.HandleMessage(context.Background(), ownerMessage("do something"))

	sent := ch.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1 error reply", len(sent))
	}
	if !strings.HasPrefix(sent[0], "⚠️") || !strings.Contains(sent[0], "```") {
		t.Errorf("error reply = %q", sent[0])
	}
	if !strings.Contains(sent[0], strings.Repeat("x", maxErrorPreview)+"...") {
		t.Errorf("error preview not truncated to %d: %q", maxErrorPreview, sent[0])
	}

	sess := store.Get("42")
	if sess.ID != "" || sess.TurnCount != 0 || len(sess.History) != 0 {
		t.Errorf("failed turn mutated the session: %+v", sess)
	}
}

func TestNonOwnerIgnored(t *testing.T) {
	runner := &stubRunner{resp: claude.Response{Text: "nope"}}
	a, ch, _ := newTestAssistant(t, runner)

	msg := ownerMessage("hello")
	msg.From = "stranger"
	a.HandleMessage(context.Background(), msg)

	if runner.calls() != 0 {
		t.Error("runner invoked for non-owner message")
	}
	if len(ch.sentMessages()) != 0 {
		t.Error("replied to non-owner message")
	}
}

func TestBotMessageIgnored(t *testing.T) {
	runner := &stubRunner{}
	a, ch, _ := newTestAssistant(t, runner)

	msg := ownerMessage("hello")
	msg.FromBot = true
	a.HandleMessage(context.Background(), msg)

	if runner.calls() != 0 || len(ch.sentMessages()) != 0 {
		t.Error("bot message was processed")
	}
}

func TestEmptyMessageDropped(t *testing.T) {
	runner := &stubRunner{}
	a, ch, _ := newTestAssistant(t, runner)

	a.HandleMessage(context.Background(), ownerMessage("   \n "))

	if runner.calls() != 0 || len(ch.sentMessages()) != 0 {
		t.Error("blank message was processed")
	}
}

func TestThreadSharesParentSession(t *testing.T) {
	runner := &stubRunner{resp: claude.Response{Text: "ok", SessionID: "s1"}}
	a, _, store := newTestAssistant(t, runner)

	a.HandleMessage(context.Background(), ownerMessage("in channel"))

	threadMsg := ownerMessage("in thread")
	threadMsg.ChatID = "thread-9"
	threadMsg.ParentID = "42"
	a.HandleMessage(context.Background(), threadMsg)

	if sess := store.Get("42"); sess.TurnCount != 2 {
		t.Errorf("thread turn did not land on parent session: %+v", sess)
	}
	if req := runner.request(); req.ChannelKey != "42" {
		t.Errorf("thread run keyed by %q, want parent 42", req.ChannelKey)
	}
}

func TestAttachmentTurn(t *testing.T) {
	runner := &stubRunner{resp: claude.Response{Text: "read it", SessionID: "s1"}}
	a, _, store := newTestAssistant(t, runner)

	msg := ownerMessage("summarize this")
	msg.Attachments = []*channels.Attachment{{Filename: "notes.txt", URL: "https://x/notes.txt"}}
	a.HandleMessage(context.Background(), msg)

	req := runner.request()
	if !strings.Contains(req.Prompt, "notes.txt") {
		t.Errorf("prompt missing attachment path: %q", req.Prompt)
	}
	if !strings.Contains(req.Prompt, "summarize this") {
		t.Errorf("prompt missing user text: %q", req.Prompt)
	}

	// History records what was actually sent, file paths included.
	hist := store.Get("42").History
	if len(hist) != 1 || !strings.Contains(hist[0].UserMessage, "notes.txt") {
		t.Errorf("history = %+v, want the attachment-augmented prompt", hist)
	}
}

func TestAttachmentDownloadFailureAbortsTurn(t *testing.T) {
	runner := &stubRunner{}
	a, ch, _ := newTestAssistant(t, runner)

	fake, _ := a.channelMgr.Channel("discord")
	fake.(*fakeChannel).downloadErr = channels.ErrDownloadFailed

	msg := ownerMessage("summarize this")
	msg.Attachments = []*channels.Attachment{{Filename: "notes.txt"}}
	a.HandleMessage(context.Background(), msg)

	if runner.calls() != 0 {
		t.Error("runner invoked despite failed download")
	}
	sent := ch.sentMessages()
	if len(sent) != 1 || !strings.Contains(sent[0], "couldn't download") {
		t.Errorf("sent = %q", sent)
	}
}

func TestLongReplyIsChunked(t *testing.T) {
	runner := &stubRunner{resp: claude.Response{
		Text:      strings.Repeat("line of output\n", 300),
		SessionID: "s1",
	}}
	a, ch, _ := newTestAssistant(t, runner)

	a.HandleMessage(context.Background(), ownerMessage("go"))

	sent := ch.sentMessages()
	if len(sent) < 3 {
		t.Fatalf("expected multiple chunks, got %d messages", len(sent))
	}
	for i, chunk := range sent {
		if len(chunk) > 2000 {
			t.Errorf("message %d is %d chars, over the platform limit", i, len(chunk))
		}
	}
}

func TestZeroCostTurnOmitsFooter(t *testing.T) {
	runner := &stubRunner{resp: claude.Response{Text: "plain text answer", SessionID: "s1"}}
	a, ch, _ := newTestAssistant(t, runner)

	a.HandleMessage(context.Background(), ownerMessage("hello"))

	sent := ch.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want the reply alone: %q", len(sent), sent)
	}
	if strings.HasPrefix(sent[0], "-#") {
		t.Errorf("footer emitted for zero-cost turn: %q", sent[0])
	}
}
