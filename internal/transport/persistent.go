package transport

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sitechat/internal/config"
	"sitechat/internal/reassembly"
	"sitechat/internal/types"
	"sitechat/internal/utils"
)

const (
	minBackoff = 250 * time.Millisecond
	writeWait  = 10 * time.Second
)

// Persistent keeps one websocket open, redialling after drops.
type Persistent struct {
	*dispatcher
	url        string
	dialer     *websocket.Dialer
	logger     *utils.Logger
	maxBackoff time.Duration

	mu        sync.Mutex
	started   bool
	closed    bool
	connected bool
	conn      *websocket.Conn
	outbox    []Frame
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// wake nudges the connection's writer when the outbox grows.
	wake chan struct{}
}

// NewPersistent builds the transport; endpoint is the ws:// or wss:// URL of the chat socket.
func NewPersistent(endpoint string, params Params, logger *utils.Logger, maxBackoff time.Duration) *Persistent {
	if maxBackoff < minBackoff {
		maxBackoff = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Persistent{
		dispatcher: newDispatcher(),
		url:        socketURL(endpoint, params),
		dialer:     websocket.DefaultDialer,
		logger:     logger,
		maxBackoff: maxBackoff,
		ctx:        ctx,
		cancel:     cancel,
		wake:       make(chan struct{}, 1),
	}
}

func socketURL(endpoint string, params Params) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	q.Set("siteId", params.SiteID)
	q.Set("pageId", params.PageID)
	q.Set("sessionId", params.SessionID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *Persistent) Kind() config.TransportKind {
	return config.TransportPersistent
}

func (p *Persistent) Connect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	p.start()
	p.wg.Add(1)
	go p.run()
}

func (p *Persistent) Disconnect() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	wasConnected := p.connected
	p.connected = false
	conn := p.conn
	p.conn = nil
	p.outbox = nil
	p.cancel()
	p.mu.Unlock()

	if conn != nil {
		// WriteControl and Close may run alongside the writer.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	p.wg.Wait()

	var final *Event
	if wasConnected {
		final = &Event{Kind: EventDisconnect}
	}
	p.close(final)
}

// Emit queues a user_message frame for the writer. It never waits on the network.
func (p *Persistent) Emit(msg types.UserMessage) {
	frame, err := NewFrame(NameUserMessage, msg)
	if err != nil {
		p.logger.Errorf("persistent transport: %v", err)
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.outbox = append(p.outbox, frame)
	p.mu.Unlock()
	p.notifyWriter()
}

// Abort is best-effort and only queues a cancel while a socket is up.
func (p *Persistent) Abort() {
	frame, _ := NewFrame(NameCancel, nil)
	p.mu.Lock()
	if p.closed || p.conn == nil {
		p.mu.Unlock()
		return
	}
	p.outbox = append(p.outbox, frame)
	p.mu.Unlock()
	p.notifyWriter()
}

func (p *Persistent) notifyWriter() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest queued frame while conn is still the live connection.
func (p *Persistent) next(conn *websocket.Conn) (Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != conn || len(p.outbox) == 0 {
		return Frame{}, false
	}
	frame := p.outbox[0]
	p.outbox = p.outbox[1:]
	return frame, true
}

func (p *Persistent) requeue(frame Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || frame.Event != NameUserMessage {
		return
	}
	p.outbox = append([]Frame{frame}, p.outbox...)
}

// writeLoop is the only writer of data frames on conn.
func (p *Persistent) writeLoop(conn *websocket.Conn, stop <-chan struct{}) {
	for {
		frame, ok := p.next(conn)
		if !ok {
			select {
			case <-stop:
				return
			case <-p.wake:
			}
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(frame); err != nil {
			p.logger.Warnf("persistent transport: write %s: %v", frame.Event, err)
			p.requeue(frame)
			// the read loop notices the broken socket and redials
			_ = conn.Close()
			return
		}
	}
}

func (p *Persistent) run() {
	defer p.wg.Done()
	backoff := minBackoff
	seq := reassembly.NewSequencer()
	for {
		conn, _, err := p.dialer.DialContext(p.ctx, p.url, nil)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.logger.Debugf("persistent transport: dial failed, retrying in %s: %v", backoff, err)
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > p.maxBackoff {
				backoff = p.maxBackoff
			}
			continue
		}
		backoff = minBackoff

		if !p.attach(conn) {
			_ = conn.Close()
			return
		}
		seq.Reset()
		stop := make(chan struct{})
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			p.writeLoop(conn, stop)
		}()
		p.readLoop(conn, seq)
		close(stop)
		_ = conn.Close()
		<-writerDone

		if !p.detach(conn) {
			return
		}
	}
}

// attach publishes a fresh connection; the writer then flushes anything queued meanwhile.
func (p *Persistent) attach(conn *websocket.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.conn = conn
	p.connected = true
	p.raise(Event{Kind: EventConnect})
	return true
}

func (p *Persistent) detach(conn *websocket.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if p.conn == conn {
		p.conn = nil
	}
	_ = conn.Close()
	// a cancel only makes sense to the connection that ran the turn
	kept := p.outbox[:0]
	for _, f := range p.outbox {
		if f.Event == NameUserMessage {
			kept = append(kept, f)
		}
	}
	p.outbox = kept
	if p.connected {
		p.connected = false
		p.raise(Event{Kind: EventDisconnect})
	}
	return true
}

func (p *Persistent) readLoop(conn *websocket.Conn, seq *reassembly.Sequencer) {
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if p.ctx.Err() == nil {
				p.logger.Debugf("persistent transport: read: %v", err)
			}
			return
		}
		p.dispatchFrame(frame, seq)
	}
}

func (p *Persistent) dispatchFrame(frame Frame, seq *reassembly.Sequencer) {
	switch frame.Event {
	case NameMessageChunk:
		var chunk types.Chunk
		if err := frame.Decode(&chunk); err != nil {
			p.logger.Warnf("persistent transport: %v", err)
			return
		}
		for _, c := range seq.Push(chunk) {
			p.raise(Event{Kind: EventMessageChunk, Chunk: c})
		}
	case NameMessage:
		var msg types.Message
		if err := frame.Decode(&msg); err != nil {
			p.logger.Warnf("persistent transport: %v", err)
			return
		}
		p.raise(Event{Kind: EventMessage, Message: msg})
	case NamePrescriptiveMeta:
		var meta types.AdvisoryMeta
		if err := frame.Decode(&meta); err != nil {
			p.logger.Warnf("persistent transport: %v", err)
			return
		}
		p.raise(Event{Kind: EventPrescriptiveMeta, Advisory: meta})
	case NameConnect, NameDisconnect:
		// reachability is derived from the socket itself
	default:
		p.logger.Debugf("persistent transport: ignoring %q frame", frame.Event)
	}
}
