package types

import "time"

type Role string

const (
	RoleUser         Role = "user"
	RoleAssistant    Role = "assistant"
	RoleSystem       Role = "system"
	RolePrescription Role = "prescription"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RolePrescription:
		return true
	default:
		return false
	}
}

// Kind classifies assistant output for UI treatment and prioritisation.
type Kind string

const (
	KindChatter        Kind = "chatter"
	KindInsight        Kind = "insight"
	KindRecommendation Kind = "recommendation"
	KindWarning        Kind = "warning"
	KindBlocker        Kind = "blocker"
	KindQuestion       Kind = "question"
	KindAction         Kind = "action"
)

// Kinds lists every kind in display order.
func Kinds() []Kind {
	return []Kind{KindChatter, KindInsight, KindRecommendation, KindWarning, KindBlocker, KindQuestion, KindAction}
}

func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// CursorMarker is appended to the displayed content of a message that is still streaming.
const CursorMarker = "|"

// Content never carries the cursor marker.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Kind      Kind      `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Title     string    `json:"title,omitempty"`
	Severity  string    `json:"severity,omitempty"`
	TurnID    string    `json:"turnId,omitempty"`
	Streaming bool      `json:"-"`
}

// Display returns the content as the UI shows it.
func (m Message) Display() string {
	if m.Streaming {
		return m.Content + CursorMarker
	}
	return m.Content
}

// Chunk is one incremental delta of a streamed reply.
type Chunk struct {
	MessageID string `json:"messageId"`
	Delta     string `json:"delta"`
	Done      bool   `json:"done"`
	Role      Role   `json:"role,omitempty"`
	Kind      Kind   `json:"kind,omitempty"`
	// Seq is an optional per-message sequence number used to restore order below the transport.
	Seq *int `json:"seq,omitempty"`
	// TurnID echoes the UserMessage that started the reply.
	TurnID string `json:"turnId,omitempty"`
}

// AdvisoryMeta is the out-of-band guidance signal carried by prescriptive_meta events.
type AdvisoryMeta struct {
	Intent         string    `json:"intent"`
	Confidence     float64   `json:"confidence"`
	Blocking       bool      `json:"blocking"`
	RelatedContext []string  `json:"relatedContext,omitempty"`
	ExpiresAt      time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the advisory is stale at now. A zero ExpiresAt never expires.
func (a AdvisoryMeta) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

// UserMessage is the payload of the client-originated user_message event.
type UserMessage struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	TurnID    string         `json:"turnId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TurnRequest is what the request/response transport posts for one turn.
type TurnRequest struct {
	SiteID    string      `json:"siteId"`
	PageID    string      `json:"pageId"`
	SessionID string      `json:"sessionId"`
	Message   UserMessage `json:"message"`
}
