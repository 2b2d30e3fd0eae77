// Package transport defines the chat transport contract and its three implementations.
package transport

import (
	"sitechat/internal/config"
	"sitechat/internal/types"
	"sitechat/internal/utils"
)

// Params are forwarded opaquely to the backend; they are fixed at construction time.
type Params struct {
	SiteID    string
	PageID    string
	SessionID string
}

// NewSessionID returns an identifier meant to be generated once per browser or process session.
func NewSessionID() string {
	return utils.NewID("sess")
}

// EventKind is the closed set of server-originated events.
type EventKind int

const (
	EventConnect EventKind = iota + 1
	EventDisconnect
	EventMessage
	EventMessageChunk
	EventPrescriptiveMeta
)

// Wire names of events, shared by every framing.
const (
	NameConnect          = "connect"
	NameDisconnect       = "disconnect"
	NameMessage          = "message"
	NameMessageChunk     = "message_chunk"
	NamePrescriptiveMeta = "prescriptive_meta"
	NameUserMessage      = "user_message"
	NameCancel           = "cancel"
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return NameConnect
	case EventDisconnect:
		return NameDisconnect
	case EventMessage:
		return NameMessage
	case EventMessageChunk:
		return NameMessageChunk
	case EventPrescriptiveMeta:
		return NamePrescriptiveMeta
	default:
		return "unknown"
	}
}

// Event is a tagged union; only the field matching Kind is meaningful.
type Event struct {
	Kind     EventKind
	Message  types.Message
	Chunk    types.Chunk
	Advisory types.AdvisoryMeta
}

// Handlers has one typed slot per event kind. Nil slots are skipped.
type Handlers struct {
	OnConnect    func()
	OnDisconnect func()
	OnMessage    func(types.Message)
	OnChunk      func(types.Chunk)
	OnAdvisory   func(types.AdvisoryMeta)
}

// Subscription identifies one Subscribe call.
type Subscription uint64

// Disconnect is final and must not be called from an event handler.
// Emit never blocks on the network; failures surface as events.
type Transport interface {
	Kind() config.TransportKind
	Connect()
	Disconnect()
	Emit(msg types.UserMessage)
	Subscribe(h Handlers) Subscription
	Unsubscribe(sub Subscription)
}

// Aborter is implemented by transports that can ask the backend to stop the in-flight turn.
type Aborter interface {
	Abort()
}
