package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"sitechat/internal/a2a"
	"sitechat/internal/config"
	"sitechat/internal/hub"
	"sitechat/internal/transport"
	"sitechat/internal/types"
	"sitechat/internal/utils"
)

const (
	SocketPath     = "/chat/ws"
	HealthPath     = "/health"
	AssistantsPath = "/assistants"
	RPCPath        = "/rpc"

	maxTurnBody = 1 << 20
)

type Server struct {
	cfg      config.Config
	hub      *hub.Server
	logger   *utils.Logger
	a2a      *a2a.Server
	upgrader websocket.Upgrader
}

func New(cfg config.Config, h *hub.Server, logger *utils.Logger) *Server {
	return &Server{
		cfg:    cfg,
		hub:    h,
		logger: logger,
		a2a:    a2a.NewServer(h, ""),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Routes returns the HTTP handler for every endpoint.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(transport.TurnPath, s.handleTurn)
	mux.HandleFunc(SocketPath, s.handleSocket)
	mux.HandleFunc(HealthPath, s.handleHealth)
	mux.HandleFunc(RPCPath, s.handleRPC)
	mux.HandleFunc(AssistantsPath, s.handleAssistants)
	s.a2a.RegisterRoutes(mux)
	return mux
}

// streamSink writes deltas straight into a plain-text response, flushing after each.
type streamSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *streamSink) Advise(types.AdvisoryMeta) error { return nil }

func (s *streamSink) Chunk(c types.Chunk) error {
	if !s.started {
		s.started = true
		s.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set(transport.HeaderMessageID, c.MessageID)
		s.w.WriteHeader(http.StatusOK)
	}
	if c.Delta != "" {
		if _, err := io.WriteString(s.w, c.Delta); err != nil {
			return err
		}
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req types.TurnRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTurnBody)).Decode(&req); err != nil {
		http.Error(w, "invalid turn request", http.StatusBadRequest)
		return
	}
	if req.SiteID == "" {
		req.SiteID = r.Header.Get(transport.HeaderSiteID)
	}
	if req.PageID == "" {
		req.PageID = r.Header.Get(transport.HeaderPageID)
	}
	if req.SessionID == "" {
		req.SessionID = r.Header.Get(transport.HeaderSessionID)
	}

	flusher, _ := w.(http.Flusher)
	sink := &streamSink{w: w, flusher: flusher}
	reply, err := s.hub.StreamTurn(r.Context(), req, sink)
	if err == nil {
		return
	}
	if r.Context().Err() != nil {
		return
	}
	if !sink.started {
		status := http.StatusBadGateway
		if errors.Is(err, hub.ErrEmptyTurn) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.logger.Warnf("turn %s interrupted: %v", utils.ShortID(reply.ID), err)
	_, _ = fmt.Fprintf(w, "\n\n%s", transport.ErrTextInterrupted)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "assistant": s.hub.Registry().ActiveID()})
}

type assistantView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
}

func (s *Server) handleAssistants(w http.ResponseWriter, r *http.Request) {
	registry := s.hub.Registry()
	active := registry.ActiveID()
	list := registry.List()
	views := make([]assistantView, 0, len(list))
	for _, info := range list {
		a := info.Assistant
		views = append(views, assistantView{ID: a.ID(), Name: a.Name(), Description: a.Description(), Active: a.ID() == active})
	}
	writeJSON(w, views)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTurnBody))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, s.hub.Handler().HandleBytes(r.Context(), body))
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}

// failureText is what a chat socket client sees when a turn fails.
func failureText(partial string, err error) string {
	if strings.TrimSpace(partial) != "" {
		return strings.TrimSpace(partial + "\n\n" + transport.ErrTextInterrupted)
	}
	if errors.Is(err, hub.ErrEmptyTurn) {
		return "Please type a message first."
	}
	return "Sorry, the assistant couldn't answer that."
}
