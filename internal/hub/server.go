package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sitechat/internal/advisor"
	"sitechat/internal/agents"
	"sitechat/internal/config"
	"sitechat/internal/jsonrpc"
	"sitechat/internal/types"
	"sitechat/internal/utils"
)

const Version = "1.0.0"

var (
	ErrEmptyTurn   = errors.New("turn has no content")
	ErrNoAssistant = errors.New("no assistant registered")
)

// Sink receives one turn's output in order.
type Sink interface {
	Advise(types.AdvisoryMeta) error
	Chunk(types.Chunk) error
}

type Server struct {
	cfg       config.Config
	logger    *utils.Logger
	registry  *AssistantRegistry
	store     *ConversationStore
	advisor   *advisor.Advisor
	handler   *jsonrpc.Handler
	startTime time.Time

	mu     sync.Mutex
	active map[string]map[uint64]context.CancelFunc
	nextID uint64

	turns  atomic.Int64
	failed atomic.Int64
}

func NewServer(cfg config.Config, logger *utils.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		registry:  NewAssistantRegistry(logger),
		store:     NewConversationStore(cfg.Server.History),
		advisor:   advisor.New(cfg.Server.AdviceTTL),
		handler:   jsonrpc.NewHandler(),
		startTime: time.Now().UTC(),
		active:    make(map[string]map[uint64]context.CancelFunc),
	}
	s.registerHandlers()
	return s
}

func (s *Server) InitAssistants(ctx context.Context) error {
	s.registry.Register(agents.NewScripted(s.cfg.Server.ChunkDelay))
	command := s.cfg.Server.Command
	switch {
	case strings.TrimSpace(command.Preset) != "":
		preset, err := agents.NewPreset(command.Preset, command.Exec)
		if err != nil {
			return err
		}
		s.registry.Register(preset)
	case strings.TrimSpace(command.Exec) != "":
		s.registry.Register(agents.NewCommand(agents.CommandConfig{Exec: strings.TrimSpace(command.Exec), Args: command.Args}))
	}
	if url := strings.TrimSpace(s.cfg.Server.Remote.CardURL); url != "" {
		remote, err := agents.NewRemote(ctx, url, s.cfg.Server.Remote.Alias)
		if err != nil {
			s.logger.Warnf("remote assistant unavailable: %v", err)
		} else {
			s.registry.Register(remote)
		}
	}
	return s.UseAssistant(s.cfg.Server.Assistant)
}

// UseAssistant activates an assistant by ID; "remote" picks the first remote assistant.
func (s *Server) UseAssistant(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	if id == "remote" {
		for _, info := range s.registry.List() {
			if _, ok := info.Assistant.(*agents.Remote); ok {
				id = info.Assistant.ID()
				break
			}
		}
	}
	return s.registry.SetActive(id)
}

func (s *Server) Registry() *AssistantRegistry      { return s.registry }
func (s *Server) Conversations() *ConversationStore { return s.store }
func (s *Server) Handler() *jsonrpc.Handler         { return s.handler }
func (s *Server) Config() config.Config             { return s.cfg }

func (s *Server) Close() {
	s.CancelAll()
	s.registry.CloseAll()
}

// StreamTurn sends the advisory, then the reply as sequenced chunks ending with a done chunk.
func (s *Server) StreamTurn(ctx context.Context, req types.TurnRequest, sink Sink) (types.Message, error) {
	content := req.Message.Content
	if strings.TrimSpace(content) == "" {
		return types.Message{}, ErrEmptyTurn
	}
	assistant, ok := s.registry.Active()
	if !ok {
		return types.Message{}, ErrNoAssistant
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "anonymous"
	}

	ctx, done := s.track(ctx, sessionID)
	defer done()
	s.turns.Add(1)

	cls := s.advisor.Classify(content)
	turn := agents.Turn{
		SessionID: sessionID,
		SiteID:    req.SiteID,
		PageID:    req.PageID,
		Content:   content,
		Intent:    cls.Meta.Intent,
		History:   s.store.History(sessionID),
	}
	if edit, ok := types.SectionEditFromMetadata(content, req.Message.Metadata); ok {
		turn.Edit = &edit
	}

	sentAt := req.Message.Timestamp
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	s.store.Append(sessionID, req.SiteID, req.PageID, types.Message{
		ID:        utils.NewID("msg"),
		Role:      types.RoleUser,
		Kind:      types.KindChatter,
		Content:   content,
		CreatedAt: sentAt,
	})

	if err := sink.Advise(cls.Meta); err != nil {
		return types.Message{}, err
	}

	turnID := req.Message.TurnID
	reply := types.Message{
		ID:        utils.NewID("msg"),
		Role:      types.RoleAssistant,
		Kind:      types.KindChatter,
		CreatedAt: time.Now().UTC(),
		TurnID:    turnID,
	}
	var body strings.Builder
	seq := 0
	err := assistant.Reply(ctx, turn, func(delta string) error {
		if delta == "" {
			return nil
		}
		n := seq
		seq++
		body.WriteString(delta)
		return sink.Chunk(types.Chunk{MessageID: reply.ID, Delta: delta, Seq: &n, TurnID: turnID})
	})
	reply.Content = body.String()
	if err != nil {
		s.failed.Add(1)
		s.logger.Warnf("turn %s failed on %s: %v", utils.ShortID(reply.ID), assistant.ID(), err)
		return reply, fmt.Errorf("%s: %w", assistant.ID(), err)
	}

	reply.Kind = cls.Kind
	last := seq
	if err := sink.Chunk(types.Chunk{MessageID: reply.ID, Done: true, Kind: cls.Kind, Seq: &last, TurnID: turnID}); err != nil {
		return reply, err
	}
	s.store.Append(sessionID, req.SiteID, req.PageID, reply)
	return reply, nil
}

// Cancel stops every turn in flight for the session.
func (s *Server) Cancel(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.active[sessionID]
	for _, cancel := range turns {
		cancel()
	}
	return len(turns)
}

func (s *Server) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, turns := range s.active {
		for _, cancel := range turns {
			cancel()
		}
	}
}

func (s *Server) ActiveTurns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, turns := range s.active {
		n += len(turns)
	}
	return n
}

func (s *Server) track(parent context.Context, sessionID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.active[sessionID] == nil {
		s.active[sessionID] = make(map[uint64]context.CancelFunc)
	}
	s.active[sessionID][id] = cancel
	s.mu.Unlock()
	return ctx, func() {
		s.mu.Lock()
		delete(s.active[sessionID], id)
		if len(s.active[sessionID]) == 0 {
			delete(s.active, sessionID)
		}
		s.mu.Unlock()
		cancel()
	}
}
