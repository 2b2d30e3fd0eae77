package sectionedit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"sitechat/internal/reassembly"
	"sitechat/internal/transport"
	"sitechat/internal/types"
	"sitechat/internal/utils"
)

var (
	ErrClosed         = errors.New("section editor is closed")
	ErrEmptyRequest   = errors.New("section edit needs a section instance and an instruction")
	ErrRejected       = errors.New("section edit rejected")
	ErrMalformedReply = errors.New("section edit reply is not an updated section")
)

// Editor runs one section edit at a time. It does not own the transport.
type Editor struct {
	transport transport.Transport
	sub       transport.Subscription
	logger    *utils.Logger

	apply sync.Mutex

	mu      sync.Mutex
	closed  bool
	pending *exchange
}

// exchange collects the reply to the edit in flight.
type exchange struct {
	id       string
	messages []types.Message
	result   chan types.Message
}

func New(t transport.Transport, logger *utils.Logger) *Editor {
	e := &Editor{transport: t, logger: logger}
	e.sub = t.Subscribe(transport.Handlers{
		OnChunk:   e.onChunk,
		OnMessage: e.onMessage,
	})
	return e
}

// Apply sends the edit and blocks until the assistant's reply is complete or ctx is done.
func (e *Editor) Apply(ctx context.Context, req types.SectionEditRequest) (types.UpdatedSection, error) {
	if strings.TrimSpace(req.SectionInstanceID) == "" || strings.TrimSpace(req.Instruction) == "" {
		return types.UpdatedSection{}, ErrEmptyRequest
	}
	e.apply.Lock()
	defer e.apply.Unlock()

	ex := &exchange{result: make(chan types.Message, 1)}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return types.UpdatedSection{}, ErrClosed
	}
	e.pending = ex
	e.mu.Unlock()
	defer e.clear(ex)

	e.transport.Connect()
	e.transport.Emit(types.UserMessage{
		Role:      types.RoleUser,
		Content:   req.Instruction,
		Timestamp: time.Now().UTC(),
		Metadata:  req.Metadata(),
	})
	e.logger.Debugf("section edit sent for %s", req.SectionInstanceID)

	select {
	case <-ctx.Done():
		if a, ok := e.transport.(transport.Aborter); ok {
			a.Abort()
		}
		return types.UpdatedSection{}, ctx.Err()
	case msg := <-ex.result:
		return decode(req, msg)
	}
}

// Close detaches the editor. An Apply in flight keeps waiting for its context.
func (e *Editor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.pending = nil
	e.mu.Unlock()
	e.transport.Unsubscribe(e.sub)
}

func (e *Editor) clear(ex *exchange) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == ex {
		e.pending = nil
	}
}

func (e *Editor) onChunk(chunk types.Chunk) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ex := e.pending
	if ex == nil {
		return
	}
	if ex.id == "" {
		ex.id = chunk.MessageID
	}
	if chunk.MessageID != ex.id {
		return
	}
	ex.messages = reassembly.ApplyChunk(ex.messages, chunk)
	if chunk.Done {
		e.finish(ex, ex.messages[reassembly.Index(ex.messages, ex.id)])
	}
}

func (e *Editor) onMessage(msg types.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ex := e.pending
	if ex == nil || msg.Role != types.RoleAssistant {
		return
	}
	if ex.id != "" && msg.ID != ex.id {
		return
	}
	e.finish(ex, msg)
}

// finish hands the reply to Apply; mu must be held.
func (e *Editor) finish(ex *exchange, msg types.Message) {
	e.pending = nil
	select {
	case ex.result <- msg:
	default:
	}
}

func decode(req types.SectionEditRequest, msg types.Message) (types.UpdatedSection, error) {
	body := stripFence(msg.Content)
	var out types.UpdatedSection
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		if msg.Kind == types.KindWarning || msg.Kind == types.KindBlocker {
			return types.UpdatedSection{}, fmt.Errorf("%w: %s", ErrRejected, strings.TrimSpace(msg.Content))
		}
		return types.UpdatedSection{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if out.SectionInstanceID == "" {
		out.SectionInstanceID = req.SectionInstanceID
	}
	if out.SectionInstanceID != req.SectionInstanceID {
		return types.UpdatedSection{}, fmt.Errorf("%w: reply is for section %q", ErrMalformedReply, out.SectionInstanceID)
	}
	if out.PageID == "" {
		out.PageID = req.PageID
	}
	if out.SectionID == "" {
		out.SectionID = req.SectionID
	}
	return out, nil
}

// stripFence removes a surrounding markdown code fence, which model-backed assistants often add.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
