package session

import (
	"sitechat/internal/config"
	"sitechat/internal/types"
)

// ConnState follows the transport's connect and disconnect events.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// TurnState tracks the reply to the most recent user message.
type TurnState int

const (
	Idle TurnState = iota
	AwaitingReply
	Streaming
)

func (s TurnState) String() string {
	switch s {
	case AwaitingReply:
		return "awaiting-reply"
	case Streaming:
		return "streaming"
	default:
		return "idle"
	}
}

// UIState is presentation only; changing it never touches the network.
type UIState struct {
	Open     bool
	Expanded bool
}

// State is a point-in-time copy of everything a session owns.
type State struct {
	Transport config.TransportKind
	Conn      ConnState
	Turn      TurnState
	Messages  []types.Message
	// Advisory is nil until the first prescriptive_meta arrives.
	Advisory *types.AdvisoryMeta
	UI       UIState
}

// Connected reports whether the transport currently considers the backend reachable.
func (s State) Connected() bool {
	return s.Conn == Connected
}

func (s State) clone() State {
	out := s
	out.Messages = append([]types.Message(nil), s.Messages...)
	if s.Advisory != nil {
		adv := *s.Advisory
		adv.RelatedContext = append([]string(nil), s.Advisory.RelatedContext...)
		out.Advisory = &adv
	}
	return out
}

// CountKinds tallies message kinds; it backs the inspector's running counts.
func CountKinds(messages []types.Message) map[types.Kind]int {
	counts := make(map[types.Kind]int, len(types.Kinds()))
	for _, m := range messages {
		counts[m.Kind]++
	}
	return counts
}
