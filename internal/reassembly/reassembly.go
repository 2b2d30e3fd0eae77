package reassembly

import (
	"errors"
	"strings"
	"time"

	"sitechat/internal/types"
	"sitechat/internal/utils"
)

var ErrEmptyContent = errors.New("message content is empty")

// NewUserMessage stamps a fresh user message. Blank content is rejected.
func NewUserMessage(content string) (types.Message, error) {
	if strings.TrimSpace(content) == "" {
		return types.Message{}, ErrEmptyContent
	}
	return types.Message{
		ID:        utils.NewID("msg"),
		Role:      types.RoleUser,
		Kind:      types.KindChatter,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Index returns the position of the message with the given id, or -1.
func Index(messages []types.Message, id string) int {
	for i := range messages {
		if messages[i].ID == id {
			return i
		}
	}
	return -1
}

// ApplyChunk returns a new list with chunk folded into its message, appending unknown ids.
func ApplyChunk(messages []types.Message, chunk types.Chunk) []types.Message {
	out := make([]types.Message, len(messages), len(messages)+1)
	copy(out, messages)

	if i := Index(out, chunk.MessageID); i >= 0 {
		msg := out[i]
		msg.Content += chunk.Delta
		msg.Streaming = !chunk.Done
		if chunk.Role != "" {
			msg.Role = chunk.Role
		}
		if chunk.Kind != "" {
			msg.Kind = chunk.Kind
		}
		out[i] = msg
		return out
	}

	msg := types.Message{
		ID:        chunk.MessageID,
		Role:      types.RoleAssistant,
		Kind:      types.KindChatter,
		Content:   chunk.Delta,
		CreatedAt: time.Now().UTC(),
		TurnID:    chunk.TurnID,
		Streaming: !chunk.Done,
	}
	if chunk.Role != "" {
		msg.Role = chunk.Role
	}
	if chunk.Kind != "" {
		msg.Kind = chunk.Kind
	}
	return append(out, msg)
}

// Freeze ends streaming for the message with the given id, keeping its content as final.
func Freeze(messages []types.Message, id string) []types.Message {
	i := Index(messages, id)
	if i < 0 {
		return messages
	}
	out := make([]types.Message, len(messages))
	copy(out, messages)
	out[i].Streaming = false
	return out
}

func Upsert(messages []types.Message, msg types.Message) []types.Message {
	msg.Streaming = false
	if msg.Role == "" {
		msg.Role = types.RoleAssistant
	}
	if msg.Kind == "" {
		msg.Kind = types.KindChatter
	}
	out := make([]types.Message, len(messages), len(messages)+1)
	copy(out, messages)
	if i := Index(out, msg.ID); i >= 0 {
		msg.CreatedAt = out[i].CreatedAt
		out[i] = msg
		return out
	}
	msg.CreatedAt = time.Now().UTC()
	return append(out, msg)
}
