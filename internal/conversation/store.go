// ABOUTME: In-memory per-chat history with a fixed cap on retained turns
// ABOUTME: Also hands out per-chat locks so one chat is dispatched at a time

package conversation

import (
	"sort"
	"sync"
)

// DefaultHistoryCap is the number of turns kept per chat.
const DefaultHistoryCap = 20

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatStats is the per-chat part of Stats.
type ChatStats struct {
	ChatID       string `json:"chatId"`
	MessageCount int    `json:"messages"`
}

// Stats is a read-only snapshot of the store.
type Stats struct {
	ActiveConversations int         `json:"activeConversations"`
	Chats               []ChatStats `json:"chats"`
}

// Store holds the history of every active chat.
type Store struct {
	mu      sync.RWMutex
	chats   map[string][]Message
	capTurn int

	locksMu sync.Mutex
	locks   map[string]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates a store keeping at most historyCap turns per chat.
// Non-positive values use DefaultHistoryCap.
func NewStore(historyCap int) *Store {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	return &Store{
		chats:   make(map[string][]Message),
		capTurn: historyCap,
		locks:   make(map[string]*chatLock),
	}
}

// HistoryCap returns the configured cap.
func (s *Store) HistoryCap() int { return s.capTurn }

// GetOrCreateHistory returns a copy of the chat's history, creating an empty
// entry when the chat is new.
func (s *Store) GetOrCreateHistory(chatID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.chats[chatID]
	if !ok {
		history = []Message{}
		s.chats[chatID] = history
	}
	out := make([]Message, len(history))
	copy(out, history)
	return out
}

// AppendAndTrim appends a turn and drops the oldest turns beyond the cap.
func (s *Store) AppendAndTrim(chatID string, role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.chats[chatID], Message{Role: role, Content: content})
	if over := len(history) - s.capTurn; over > 0 {
		trimmed := make([]Message, s.capTurn)
		copy(trimmed, history[over:])
		history = trimmed
	}
	s.chats[chatID] = history
}

// Clear removes the chat entirely. Clearing an unknown chat is a no-op.
func (s *Store) Clear(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
}

// Stats returns the number of chats and the size of each, ordered by chat id.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chats := make([]ChatStats, 0, len(s.chats))
	for id, history := range s.chats {
		chats = append(chats, ChatStats{ChatID: id, MessageCount: len(history)})
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].ChatID < chats[j].ChatID })

	return Stats{ActiveConversations: len(chats), Chats: chats}
}

// Lock blocks until the caller holds the chat's dispatch lock and returns the
// function that releases it. Locks are dropped once no caller references them.
func (s *Store) Lock(chatID string) (unlock func()) {
	s.locksMu.Lock()
	l, ok := s.locks[chatID]
	if !ok {
		l = &chatLock{}
		s.locks[chatID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, chatID)
		}
		s.locksMu.Unlock()
	}
}
