// Package chat holds study sessions in memory. Sessions are ordered newest
// first and their messages are append-only.
package chat

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/shikkha/pkg/core"
	"github.com/vango-go/shikkha/pkg/core/types"
)

// DisplayTitleLength is the number of characters of the first message shown
// as a session's title.
const DisplayTitleLength = 30

// NewSessionTitle is the title of a session before it has messages.
func NewSessionTitle(lang types.Language) string {
	if lang == types.LanguageBengali {
		return "নতুন পড়া"
	}
	return "New Study Session"
}

// Store is safe for concurrent use. Every value it returns is a copy.
type Store struct {
	mu        sync.RWMutex
	sessions  []*types.ChatSession
	currentID string
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

// Create prepends a new empty session and makes it current.
func (s *Store) Create(subject types.Subject, lang types.Language) types.ChatSession {
	sess := &types.ChatSession{
		ID:        uuid.NewString(),
		Title:     NewSessionTitle(lang),
		Subject:   subject,
		Language:  lang,
		Messages:  []types.Message{},
		CreatedAt: s.now(),
	}
	s.mu.Lock()
	s.sessions = append([]*types.ChatSession{sess}, s.sessions...)
	s.currentID = sess.ID
	out := sess.Clone()
	s.mu.Unlock()
	return out
}

// Append adds msg to the end of the session. A missing ID or timestamp is
// filled in; the stored message is returned.
func (s *Store) Append(sessionID string, msg types.Message) (types.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	msg = msg.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.find(sessionID)
	if sess == nil {
		return types.Message{}, notFound(sessionID)
	}
	sess.Messages = append(sess.Messages, msg)
	return msg.Clone(), nil
}

// Current returns the current session, if any.
func (s *Store) Current() (types.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess := s.find(s.currentID); sess != nil {
		return sess.Clone(), true
	}
	return types.ChatSession{}, false
}

// Select makes the session with id current.
func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.find(id) == nil {
		return notFound(id)
	}
	s.currentID = id
	return nil
}

func (s *Store) Get(id string) (types.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess := s.find(id); sess != nil {
		return sess.Clone(), true
	}
	return types.ChatSession{}, false
}

// List returns every session, newest first.
func (s *Store) List() []types.ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ChatSession, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = sess.Clone()
	}
	return out
}

func (s *Store) find(id string) *types.ChatSession {
	if id == "" {
		return nil
	}
	for _, sess := range s.sessions {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

func notFound(id string) error {
	return core.NewInvalidRequestErrorWithParam(fmt.Sprintf("session %q not found", id), "session_id")
}

// DisplayTitle is the first message cut to DisplayTitleLength characters,
// or the session title when there are no messages.
func DisplayTitle(sess types.ChatSession) string {
	if len(sess.Messages) == 0 {
		return sess.Title
	}
	r := []rune(sess.Messages[0].Content)
	if len(r) > DisplayTitleLength {
		r = r[:DisplayTitleLength]
	}
	return string(r)
}
