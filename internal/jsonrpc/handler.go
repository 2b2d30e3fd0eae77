package jsonrpc

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, *RPCError)

type Handler struct {
	mu      sync.RWMutex
	methods map[string]HandlerFunc
}

func NewHandler() *Handler {
	return &Handler{methods: make(map[string]HandlerFunc)}
}

func (h *Handler) Register(method string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.methods[method] = fn
}

// Methods lists the registered method names in order.
func (h *Handler) Methods() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.methods))
	for name := range h.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *Handler) Handle(ctx context.Context, req Request) Response {
	if req.JSONRPC != Version || req.Method == "" {
		return errorResponse(req.ID, ErrInvalidRequest, "Invalid Request")
	}
	h.mu.RLock()
	fn, ok := h.methods[req.Method]
	h.mu.RUnlock()
	if !ok {
		return errorResponse(req.ID, ErrMethodNotFound, "Method not found")
	}
	result, rpcErr := fn(ctx, req.Params)
	if rpcErr != nil {
		return Response{JSONRPC: Version, Error: rpcErr, ID: req.ID}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, ErrInternalError, err.Error())
	}
	return Response{JSONRPC: Version, Result: data, ID: req.ID}
}

// HandleBytes parses one encoded request and answers it.
func (h *Handler) HandleBytes(ctx context.Context, data []byte) Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return errorResponse(nil, ErrParseError, "Parse error")
	}
	return h.Handle(ctx, req)
}

const (
	ErrParseError     = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternalError  = -32603

	ErrAssistantNotFound    = -32001
	ErrConversationNotFound = -32002
	ErrTurnFailed           = -32003
)
