package transport

import (
	"context"
	"sync"
	"time"

	"sitechat/internal/advisor"
	"sitechat/internal/config"
	"sitechat/internal/types"
	"sitechat/internal/utils"
)

// Script turns a user message into the deltas of the scripted reply.
type Script func(content string) []string

// DefaultScript always answers "Sure, done." in two chunks.
func DefaultScript(string) []string {
	return []string{"Sure, ", "done."}
}

// Simulated replies to every user message with a scripted, chunked reply.
type Simulated struct {
	*dispatcher
	params  Params
	delay   time.Duration
	script  Script
	advisor *advisor.Advisor
	logger  *utils.Logger

	mu        sync.Mutex
	connected bool
	closed    bool
	turnCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type SimulatedOption func(*Simulated)

func WithScript(script Script) SimulatedOption {
	return func(s *Simulated) { s.script = script }
}

func WithDelay(delay time.Duration) SimulatedOption {
	return func(s *Simulated) { s.delay = delay }
}

// WithAdvisor makes the simulator raise a prescriptive_meta before each reply.
func WithAdvisor(a *advisor.Advisor) SimulatedOption {
	return func(s *Simulated) { s.advisor = a }
}

func NewSimulated(params Params, logger *utils.Logger, opts ...SimulatedOption) *Simulated {
	s := &Simulated{
		dispatcher: newDispatcher(),
		params:     params,
		delay:      120 * time.Millisecond,
		script:     DefaultScript,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.turnCtx, s.cancel = context.WithCancel(context.Background())
	return s
}

func (s *Simulated) Kind() config.TransportKind {
	return config.TransportSimulated
}

func (s *Simulated) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected || s.closed {
		return
	}
	s.connected = true
	s.start()
	s.raise(Event{Kind: EventConnect})
}

func (s *Simulated) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	wasConnected := s.connected
	s.connected = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	var final *Event
	if wasConnected {
		final = &Event{Kind: EventDisconnect}
	}
	s.close(final)
}

func (s *Simulated) Emit(msg types.UserMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		s.logger.Debugf("simulated transport: dropping user message while offline")
		return
	}
	ctx := s.turnCtx
	s.wg.Add(1)
	go s.play(ctx, msg)
}

// Abort stops every scripted reply still playing.
func (s *Simulated) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.cancel()
	s.turnCtx, s.cancel = context.WithCancel(context.Background())
}

func (s *Simulated) play(ctx context.Context, msg types.UserMessage) {
	defer s.wg.Done()
	content := msg.Content

	id := utils.NewID("msg")
	kind := types.Kind("")
	if s.advisor != nil {
		cls := s.advisor.Classify(content)
		kind = cls.Kind
		s.raise(Event{Kind: EventPrescriptiveMeta, Advisory: cls.Meta})
	}

	deltas := s.script(content)
	if len(deltas) == 0 {
		deltas = []string{""}
	}
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	for i, delta := range deltas {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		chunk := types.Chunk{MessageID: id, Delta: delta, Done: i == len(deltas)-1, TurnID: msg.TurnID}
		if chunk.Done {
			chunk.Kind = kind
		}
		if ctx.Err() != nil {
			return
		}
		s.raise(Event{Kind: EventMessageChunk, Chunk: chunk})
		timer.Reset(s.delay)
	}
}
