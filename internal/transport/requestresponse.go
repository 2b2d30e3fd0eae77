package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	"sitechat/internal/config"
	"sitechat/internal/types"
	"sitechat/internal/utils"
)

const (
	TurnPath        = "/chat/turn"
	HeaderSiteID    = "X-Site-Id"
	HeaderPageID    = "X-Page-Id"
	HeaderSessionID = "X-Session-Id"
	HeaderMessageID = "X-Message-Id"

	segmentSize = 4096
)

// Error texts shown to the user when a turn fails.
const (
	ErrTextUnreachable = "Sorry, I couldn't reach the assistant. Please try again."
	ErrTextRejected    = "Sorry, the assistant couldn't answer that (status %d)."
	ErrTextEmpty       = "Sorry, the assistant returned an empty reply."
	ErrTextInterrupted = "[reply interrupted]"
)

// RequestResponse issues one HTTP request per turn and streams the body back as chunks.
type RequestResponse struct {
	*dispatcher
	params Params
	client *resty.Client
	logger *utils.Logger

	mu        sync.Mutex
	connected bool
	online    bool
	closed    bool
	gen       uint64
	turnCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewRequestResponse(baseURL string, params Params, logger *utils.Logger) *RequestResponse {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader(HeaderSiteID, params.SiteID).
		SetHeader(HeaderPageID, params.PageID).
		SetHeader(HeaderSessionID, params.SessionID)
	return newRequestResponse(client, params, logger)
}

func newRequestResponse(client *resty.Client, params Params, logger *utils.Logger) *RequestResponse {
	t := &RequestResponse{
		dispatcher: newDispatcher(),
		params:     params,
		client:     client,
		logger:     logger,
	}
	t.turnCtx, t.cancel = context.WithCancel(context.Background())
	return t
}

func (t *RequestResponse) Kind() config.TransportKind {
	return config.TransportRequestResponse
}

func (t *RequestResponse) Connect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected || t.closed {
		return
	}
	t.connected = true
	t.online = true
	t.start()
	t.raise(Event{Kind: EventConnect})
}

func (t *RequestResponse) Disconnect() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	wasOnline := t.connected && t.online
	t.connected = false
	t.cancel()
	t.mu.Unlock()

	t.wg.Wait()
	var final *Event
	if wasOnline {
		final = &Event{Kind: EventDisconnect}
	}
	t.close(final)
}

func (t *RequestResponse) Emit(msg types.UserMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		t.logger.Debugf("request/response transport: dropping user message before connect")
		return
	}
	t.wg.Add(1)
	go t.turn(t.turnCtx, t.gen, msg)
}

// Abort cancels every in-flight request. Anything read afterwards is discarded.
func (t *RequestResponse) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.gen++
	t.cancel()
	t.turnCtx, t.cancel = context.WithCancel(context.Background())
}

// live reports whether results of the turn started in generation gen may still be applied.
func (t *RequestResponse) live(ctx context.Context, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ctx.Err() == nil && gen == t.gen && !t.closed
}

func (t *RequestResponse) emitIfLive(ctx context.Context, gen uint64, ev Event) bool {
	if !t.live(ctx, gen) {
		return false
	}
	t.raise(ev)
	return true
}

func (t *RequestResponse) setOnline(online bool) {
	t.mu.Lock()
	if t.online == online || t.closed {
		t.mu.Unlock()
		return
	}
	t.online = online
	t.mu.Unlock()
	if online {
		t.raise(Event{Kind: EventConnect})
	} else {
		t.raise(Event{Kind: EventDisconnect})
	}
}

func (t *RequestResponse) turn(ctx context.Context, gen uint64, msg types.UserMessage) {
	defer t.wg.Done()

	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "text/plain").
		SetBody(types.TurnRequest{
			SiteID:    t.params.SiteID,
			PageID:    t.params.PageID,
			SessionID: t.params.SessionID,
			Message:   msg,
		}).
		SetDoNotParseResponse(true).
		Post(TurnPath)

	var body io.ReadCloser
	if resp != nil {
		body = resp.RawBody()
	}
	if body != nil {
		defer body.Close()
	}
	if ctx.Err() != nil {
		return
	}

	id := ""
	if resp != nil {
		id = resp.Header().Get(HeaderMessageID)
	}
	if id == "" {
		id = utils.NewID("msg")
	}

	if err != nil {
		t.logger.Warnf("chat turn failed: %v", err)
		t.emitIfLive(ctx, gen, terminalError(id, msg.TurnID, ErrTextUnreachable))
		t.setOnline(false)
		return
	}
	t.setOnline(true)

	if !resp.IsSuccess() {
		t.logger.Warnf("chat turn rejected: status %d", resp.StatusCode())
		t.emitIfLive(ctx, gen, terminalError(id, msg.TurnID, fmt.Sprintf(ErrTextRejected, resp.StatusCode())))
		return
	}
	if body == nil || body == http.NoBody {
		t.emitIfLive(ctx, gen, terminalError(id, msg.TurnID, ErrTextEmpty))
		return
	}

	t.stream(ctx, gen, id, msg.TurnID, body)
}

// stream pulls the body one segment at a time until it is exhausted.
func (t *RequestResponse) stream(ctx context.Context, gen uint64, id, turnID string, body io.Reader) {
	var content strings.Builder
	var pending []byte
	buf := make([]byte, segmentSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			cut := completeRunes(pending)
			if cut > 0 {
				delta := string(pending[:cut])
				pending = append(pending[:0], pending[cut:]...)
				content.WriteString(delta)
				if !t.emitIfLive(ctx, gen, Event{Kind: EventMessageChunk, Chunk: types.Chunk{MessageID: id, Delta: delta, TurnID: turnID}}) {
					return
				}
			}
		}
		if errors.Is(err, io.EOF) {
			t.emitIfLive(ctx, gen, Event{Kind: EventMessageChunk, Chunk: types.Chunk{MessageID: id, Delta: string(pending), Done: true, TurnID: turnID}})
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warnf("chat turn %s interrupted: %v", id, err)
			content.Write(pending)
			text := strings.TrimSpace(content.String() + "\n\n" + ErrTextInterrupted)
			t.emitIfLive(ctx, gen, terminalError(id, turnID, text))
			return
		}
	}
}

// completeRunes returns the length of the longest prefix of b that does not end inside a UTF-8 sequence.
func completeRunes(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}

func terminalError(id, turnID, text string) Event {
	return Event{Kind: EventMessage, Message: types.Message{
		ID:        id,
		Role:      types.RoleAssistant,
		Kind:      types.KindWarning,
		Content:   text,
		CreatedAt: time.Now().UTC(),
		TurnID:    turnID,
	}}
}
