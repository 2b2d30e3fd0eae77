package hub

import (
	"sort"
	"sync"
	"time"

	"sitechat/internal/types"
)

// Conversation is the server-side history of one chat session.
type Conversation struct {
	ID        string          `json:"id"`
	SiteID    string          `json:"siteId"`
	PageID    string          `json:"pageId"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Messages  []types.Message `json:"messages"`
}

// ShortID returns the first 8 characters of the conversation ID for display.
func (c Conversation) ShortID() string {
	if len(c.ID) >= 8 {
		return c.ID[:8]
	}
	return c.ID
}

// ConversationStore keeps conversations in memory, each bounded to the last limit messages.
type ConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	limit         int
}

func NewConversationStore(limit int) *ConversationStore {
	return &ConversationStore{conversations: make(map[string]*Conversation), limit: limit}
}

// Append records msg in the session's conversation, creating it on first use.
func (s *ConversationStore) Append(sessionID, siteID, pageID string, msg types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	conv, ok := s.conversations[sessionID]
	if !ok {
		conv = &Conversation{ID: sessionID, SiteID: siteID, PageID: pageID, CreatedAt: now}
		s.conversations[sessionID] = conv
	}
	if pageID != "" {
		conv.PageID = pageID
	}
	conv.Messages = append(conv.Messages, msg)
	if s.limit > 0 && len(conv.Messages) > s.limit {
		conv.Messages = append([]types.Message(nil), conv.Messages[len(conv.Messages)-s.limit:]...)
	}
	conv.UpdatedAt = now
}

// Get returns a copy of the conversation.
func (s *ConversationStore) Get(sessionID string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[sessionID]
	if !ok {
		return Conversation{}, false
	}
	out := *conv
	out.Messages = append([]types.Message(nil), conv.Messages...)
	return out, true
}

// History returns the session's messages, oldest first.
func (s *ConversationStore) History(sessionID string) []types.Message {
	conv, _ := s.Get(sessionID)
	return conv.Messages
}

// List returns conversations most recently updated first, without their messages.
func (s *ConversationStore) List(limit int) []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out := *conv
		out.Messages = nil
		result = append(result, out)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.After(result[j].UpdatedAt) })
	if limit > 0 && limit < len(result) {
		return result[:limit]
	}
	return result
}

func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}
