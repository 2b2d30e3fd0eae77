package hub

import (
	"context"
	"encoding/json"
	"time"

	"sitechat/internal/jsonrpc"
)

func (s *Server) registerHandlers() {
	s.handler.Register("hub/status", s.handleStatus)
	s.handler.Register("hub/assistants/list", s.handleAssistantsList)
	s.handler.Register("hub/assistants/use", s.handleAssistantsUse)
	s.handler.Register("hub/conversations/list", s.handleConversationsList)
	s.handler.Register("hub/conversations/get", s.handleConversationsGet)
}

// Status is the hub/status result.
type Status struct {
	Version       string `json:"version"`
	Uptime        int    `json:"uptime"`
	Assistant     string `json:"assistant"`
	Assistants    int    `json:"assistants"`
	Conversations int    `json:"conversations"`
	ActiveTurns   int    `json:"activeTurns"`
	TotalTurns    int64  `json:"totalTurns"`
	FailedTurns   int64  `json:"failedTurns"`
}

func (s *Server) Status() Status {
	return Status{
		Version:       Version,
		Uptime:        int(time.Since(s.startTime).Seconds()),
		Assistant:     s.registry.ActiveID(),
		Assistants:    len(s.registry.List()),
		Conversations: s.store.Len(),
		ActiveTurns:   s.ActiveTurns(),
		TotalTurns:    s.turns.Load(),
		FailedTurns:   s.failed.Load(),
	}
}

func (s *Server) handleStatus(ctx context.Context, params json.RawMessage) (any, *jsonrpc.RPCError) {
	return s.Status(), nil
}

func (s *Server) handleAssistantsList(ctx context.Context, params json.RawMessage) (any, *jsonrpc.RPCError) {
	active := s.registry.ActiveID()
	infos := s.registry.List()
	result := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		result = append(result, map[string]any{
			"id":           info.Assistant.ID(),
			"name":         info.Assistant.Name(),
			"description":  info.Assistant.Description(),
			"active":       info.Assistant.ID() == active,
			"registeredAt": info.RegisteredAt.Format(time.RFC3339Nano),
		})
	}
	return result, nil
}

func (s *Server) handleAssistantsUse(ctx context.Context, params json.RawMessage) (any, *jsonrpc.RPCError) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &req); err != nil || req.ID == "" {
		return nil, &jsonrpc.RPCError{Code: jsonrpc.ErrInvalidParams, Message: "id required"}
	}
	if err := s.UseAssistant(req.ID); err != nil {
		return nil, &jsonrpc.RPCError{Code: jsonrpc.ErrAssistantNotFound, Message: err.Error()}
	}
	return map[string]any{"active": s.registry.ActiveID()}, nil
}

func (s *Server) handleConversationsList(ctx context.Context, params json.RawMessage) (any, *jsonrpc.RPCError) {
	var req struct {
		Limit int `json:"limit"`
	}
	_ = json.Unmarshal(params, &req)
	return s.store.List(req.Limit), nil
}

func (s *Server) handleConversationsGet(ctx context.Context, params json.RawMessage) (any, *jsonrpc.RPCError) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(params, &req); err != nil || req.SessionID == "" {
		return nil, &jsonrpc.RPCError{Code: jsonrpc.ErrInvalidParams, Message: "sessionId required"}
	}
	conv, ok := s.store.Get(req.SessionID)
	if !ok {
		return nil, &jsonrpc.RPCError{Code: jsonrpc.ErrConversationNotFound, Message: "conversation not found"}
	}
	return conv, nil
}
