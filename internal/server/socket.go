package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sitechat/internal/transport"
	"sitechat/internal/types"
	"sitechat/internal/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// queuedTurn is a user message with the cancel generation it arrived in.
type queuedTurn struct {
	msg types.UserMessage
	gen uint64
}

// A cancel frame stops the turn in flight and every turn queued before it.
type chatConn struct {
	conn   *websocket.Conn
	params transport.Params
	server *Server
	logger *utils.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	gen     uint64
	pending chan queuedTurn
}

func (c *chatConn) send(event string, data any) error {
	frame, err := transport.NewFrame(event, data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(frame)
}

func (c *chatConn) Advise(meta types.AdvisoryMeta) error {
	return c.send(transport.NamePrescriptiveMeta, meta)
}

func (c *chatConn) Chunk(chunk types.Chunk) error {
	return c.send(transport.NameMessageChunk, chunk)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debugf("chat socket upgrade: %v", err)
		return
	}
	q := r.URL.Query()
	c := &chatConn{
		conn:    conn,
		params:  transport.Params{SiteID: q.Get("siteId"), PageID: q.Get("pageId"), SessionID: q.Get("sessionId")},
		server:  s,
		pending: make(chan queuedTurn, 16),
	}
	c.logger = s.logger.With("session", c.params.SessionID)
	c.serve(r.Context())
}

func (c *chatConn) serve(parent context.Context) {
	ctx, stop := context.WithCancel(parent)
	closeOnDone := context.AfterFunc(parent, func() { _ = c.conn.Close() })
	defer closeOnDone()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.runTurns(ctx)
	}()
	go func() {
		defer wg.Done()
		c.keepAlive(ctx)
	}()

	_ = c.send(transport.NameConnect, nil)
	c.readLoop()

	stop()
	c.cancelTurn()
	wg.Wait()
	_ = c.conn.Close()
}

func (c *chatConn) readLoop() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var frame transport.Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debugf("chat socket read: %v", err)
			}
			return
		}
		switch frame.Event {
		case transport.NameUserMessage:
			var msg types.UserMessage
			if err := frame.Decode(&msg); err != nil {
				c.logger.Warnf("chat socket: %v", err)
				continue
			}
			c.mu.Lock()
			turn := queuedTurn{msg: msg, gen: c.gen}
			c.mu.Unlock()
			select {
			case c.pending <- turn:
			default:
				c.logger.Warnf("chat socket: too many queued turns, dropping one")
			}
		case transport.NameCancel:
			c.cancelTurn()
		default:
			c.logger.Debugf("chat socket: ignoring %q frame", frame.Event)
		}
	}
}

func (c *chatConn) runTurns(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case turn := <-c.pending:
			c.runTurn(ctx, turn)
		}
	}
}

func (c *chatConn) runTurn(parent context.Context, turn queuedTurn) {
	msg := turn.msg
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	if turn.gen != c.gen {
		c.mu.Unlock()
		cancel()
		c.logger.Debugf("chat socket: skipping cancelled turn %s", msg.TurnID)
		return
	}
	c.cancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		cancel()
	}()

	req := types.TurnRequest{
		SiteID:    c.params.SiteID,
		PageID:    c.params.PageID,
		SessionID: c.params.SessionID,
		Message:   msg,
	}
	reply, err := c.server.hub.StreamTurn(ctx, req, c)
	if err == nil || ctx.Err() != nil {
		return
	}
	id := reply.ID
	if id == "" {
		id = utils.NewID("msg")
	}
	_ = c.send(transport.NameMessage, types.Message{
		ID:        id,
		Role:      types.RoleAssistant,
		Kind:      types.KindWarning,
		Content:   failureText(reply.Content, err),
		CreatedAt: time.Now().UTC(),
		TurnID:    msg.TurnID,
	})
}

func (c *chatConn) cancelTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *chatConn) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
