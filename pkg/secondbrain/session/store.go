// Package session tracks per-channel conversation state for the bot: which
// Claude session to resume, which model to use, accumulated spend, and a
// transcript of completed turns. State is in-memory only; a restart starts
// every channel fresh.
package session

import (
	"sync"
	"time"
)

// maxUserMessageLen bounds user messages stored in history. Assistant
// messages are kept in full so /export reproduces complete responses.
const maxUserMessageLen = 200

// Exchange is one completed turn: what the user sent and what came back.
type Exchange struct {
	UserMessage      string
	AssistantMessage string
}

// Session holds the conversation state for one channel. Threads share their
// parent channel's session, so one Session exists per channel key.
type Session struct {
	// ID is the resumable Claude session id. Empty until the first
	// successful turn.
	ID string

	// Model is the Claude model used for the next turn.
	Model string

	// SystemPrompt overrides the CLI default when non-empty.
	SystemPrompt string

	// TotalCostUSD accumulates the cost of every completed turn.
	TotalCostUSD float64

	// TurnCount is the number of completed non-error turns.
	TurnCount int

	CreatedAt  time.Time
	LastUsedAt time.Time

	// History is the ordered transcript of completed turns.
	History []Exchange
}

// Store maps channel keys to sessions. All methods are safe for concurrent
// use. Sessions are created lazily on first access and destroyed only by
// Reset.
type Store struct {
	mu           sync.Mutex
	sessions     map[string]*Session
	defaultModel string
}

// NewStore creates an empty store. New sessions start on defaultModel.
func NewStore(defaultModel string) *Store {
	return &Store{
		sessions:     make(map[string]*Session),
		defaultModel: defaultModel,
	}
}

// Get returns the session for key, creating a fresh one if none exists.
// Repeated calls with the same key return the same pointer until Reset.
func (s *Store) Get(key string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *Store) getLocked(key string) *Session {
	sess, ok := s.sessions[key]
	if !ok {
		now := time.Now()
		sess = &Session{
			Model:      s.defaultModel,
			CreatedAt:  now,
			LastUsedAt: now,
		}
		s.sessions[key] = sess
	}
	return sess
}

// Reset discards the session for key. The next Get creates a default one.
func (s *Store) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
}

// SetModel changes the model used for the channel's next turn.
func (s *Store) SetModel(key, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getLocked(key).Model = model
}

// SetSystemPrompt sets or clears the channel's system prompt.
func (s *Store) SetSystemPrompt(key, prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getLocked(key).SystemPrompt = prompt
}

// UpdateAfterResponse records a completed turn: the resumable session id,
// the turn's cost, and the bumped turn counter.
func (s *Store) UpdateAfterResponse(key, sessionID string, costUSD float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getLocked(key)
	sess.ID = sessionID
	sess.TotalCostUSD += costUSD
	sess.TurnCount++
	sess.LastUsedAt = time.Now()
}

// AddHistory appends a turn to the channel's transcript. The user message is
// truncated to 200 characters; the assistant message is stored whole.
func (s *Store) AddHistory(key, userMsg, assistantMsg string) {
	if runes := []rune(userMsg); len(runes) > maxUserMessageLen {
		userMsg = string(runes[:maxUserMessageLen])
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getLocked(key)
	sess.History = append(sess.History, Exchange{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
	})
}

// TotalCost sums the accumulated cost of every live session. Channels
// removed by Reset no longer contribute.
func (s *Store) TotalCost() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total float64
	for _, sess := range s.sessions {
		total += sess.TotalCostUSD
	}
	return total
}

// All returns a snapshot of the session map keyed by channel. The returned
// sessions are the live objects; callers must treat them as read-only.
func (s *Store) All() map[string]*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*Session, len(s.sessions))
	for k, v := range s.sessions {
		out[k] = v
	}
	return out
}
