package session

import (
	"sync"
	"time"

	"sitechat/internal/config"
	"sitechat/internal/reassembly"
	"sitechat/internal/transport"
	"sitechat/internal/types"
	"sitechat/internal/utils"
)

// TimeoutText is appended as an assistant message when the turn watchdog fires.
const TimeoutText = "The assistant stopped responding. Please try again."

type Controller struct {
	transport transport.Transport
	sub       transport.Subscription
	logger    *utils.Logger
	watchdog  time.Duration

	mu      sync.Mutex
	state   State
	frozen  map[string]struct{}
	final   map[string]struct{}
	aborted map[string]struct{}
	turnID  string
	discard bool
	timer   *time.Timer
	turnGen uint64
	started bool
	closed  bool
	updates chan struct{}
}

type Option func(*Controller)

// WithTurnWatchdog ends a turn that sees no event for d. Zero disables it.
func WithTurnWatchdog(d time.Duration) Option {
	return func(c *Controller) { c.watchdog = d }
}

func WithLogger(logger *utils.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

func New(t transport.Transport, opts ...Option) *Controller {
	c := &Controller{
		transport: t,
		logger:    utils.NewNopLogger(),
		frozen:    make(map[string]struct{}),
		final:     make(map[string]struct{}),
		aborted:   make(map[string]struct{}),
		updates:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Transport = t.Kind()
	c.sub = t.Subscribe(transport.Handlers{
		OnConnect:    c.onConnect,
		OnDisconnect: c.onDisconnect,
		OnMessage:    c.onMessage,
		OnChunk:      c.onChunk,
		OnAdvisory:   c.onAdvisory,
	})
	return c
}

// Start connects the transport. It is a no-op after the first call.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.state.Conn = Connecting
	c.notify()
	c.mu.Unlock()

	c.transport.Connect()
}

// Close unsubscribes, disconnects the transport and closes the Updates channel.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopWatchdog()
	c.state.Conn = Disconnected
	close(c.updates)
	c.mu.Unlock()

	c.transport.Unsubscribe(c.sub)
	c.transport.Disconnect()
}

// Send ignores blank content.
func (c *Controller) Send(content string) bool {
	msg, err := reassembly.NewUserMessage(content)
	if err != nil {
		return false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.state.Messages = append(c.state.Messages, msg)
	c.state.Turn = AwaitingReply
	c.discard = false
	c.turnGen++
	c.turnID = utils.NewID("turn")
	turnID := c.turnID
	c.armWatchdog()
	c.notify()
	c.mu.Unlock()

	c.transport.Emit(types.UserMessage{
		Role:      types.RoleUser,
		Content:   msg.Content,
		Timestamp: msg.CreatedAt,
		TurnID:    turnID,
	})
	return true
}

func (c *Controller) Abort() {
	if a, ok := c.transport.(transport.Aborter); ok {
		a.Abort()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.freezeTail()
	c.state.Turn = Idle
	c.stopWatchdog()
	c.notify()
}

// mu must be held.
func (c *Controller) freezeTail() {
	if c.state.Turn != Idle && c.turnID != "" {
		c.aborted[c.turnID] = struct{}{}
	}
	n := len(c.state.Messages)
	if n > 0 && c.state.Messages[n-1].Role == types.RoleAssistant {
		id := c.state.Messages[n-1].ID
		c.state.Messages = reassembly.Freeze(c.state.Messages, id)
		c.frozen[id] = struct{}{}
		return
	}
	if c.state.Turn != Idle {
		c.discard = true
	}
}

func (c *Controller) OpenChat() {
	c.setUI(func(ui *UIState) { ui.Open = true })
}

func (c *Controller) CloseChat() {
	c.setUI(func(ui *UIState) { ui.Open = false })
}

func (c *Controller) ToggleExpanded() {
	c.setUI(func(ui *UIState) { ui.Expanded = !ui.Expanded })
}

func (c *Controller) setUI(fn func(*UIState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := c.state.UI
	fn(&c.state.UI)
	if c.state.UI != before {
		c.notify()
	}
}

// Snapshot returns a copy of the session state that the caller may keep.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

func (c *Controller) Kind() config.TransportKind {
	return c.state.Transport
}

// Advisory returns the latest prescriptive metadata, if any has arrived.
func (c *Controller) Advisory() (types.AdvisoryMeta, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Advisory == nil {
		return types.AdvisoryMeta{}, false
	}
	return *c.state.Advisory, true
}

// KindCounts is derived from the message list on every call.
func (c *Controller) KindCounts() map[types.Kind]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CountKinds(c.state.Messages)
}

// Updates coalesces change signals and is closed by Close.
func (c *Controller) Updates() <-chan struct{} {
	return c.updates
}

// notify must be called with mu held.
func (c *Controller) notify() {
	if c.closed {
		return
	}
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

func (c *Controller) onConnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.state.Conn = Connected
	c.notify()
}

func (c *Controller) onDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.state.Conn = Disconnected
	c.notify()
}

func (c *Controller) onChunk(chunk types.Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	role := chunk.Role
	if role == "" && reassembly.Index(c.state.Messages, chunk.MessageID) < 0 {
		role = types.RoleAssistant
	}
	if c.closed || c.dropped(chunk.TurnID, chunk.MessageID, role) {
		return
	}
	if _, ok := c.final[chunk.MessageID]; ok {
		c.logger.Debugf("session: chunk for finished message %s dropped", chunk.MessageID)
		return
	}
	c.state.Messages = reassembly.ApplyChunk(c.state.Messages, chunk)
	if chunk.Done {
		c.final[chunk.MessageID] = struct{}{}
		c.state.Turn = Idle
		c.stopWatchdog()
	} else {
		c.state.Turn = Streaming
		c.armWatchdog()
	}
	c.notify()
}

func (c *Controller) onMessage(msg types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if msg.ID == "" {
		msg.ID = utils.NewID("msg")
	}
	role := msg.Role
	if role == "" {
		role = types.RoleAssistant
	}
	if c.dropped(msg.TurnID, msg.ID, role) {
		return
	}
	c.state.Messages = reassembly.Upsert(c.state.Messages, msg)
	if c.state.Messages[reassembly.Index(c.state.Messages, msg.ID)].Role == types.RoleAssistant {
		c.final[msg.ID] = struct{}{}
		c.state.Turn = Idle
		c.stopWatchdog()
	}
	c.notify()
}

func (c *Controller) onAdvisory(meta types.AdvisoryMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.state.Advisory = &meta
	c.notify()
}

// dropped reports whether events for message id belong to an aborted turn.
func (c *Controller) dropped(turnID, id string, role types.Role) bool {
	if _, ok := c.frozen[id]; ok {
		return true
	}
	if turnID != "" {
		if _, ok := c.aborted[turnID]; ok {
			c.frozen[id] = struct{}{}
			return true
		}
		return false
	}
	if c.discard && role == types.RoleAssistant && reassembly.Index(c.state.Messages, id) < 0 {
		c.frozen[id] = struct{}{}
		return true
	}
	return false
}

// armWatchdog (re)starts the turn timer; mu must be held.
func (c *Controller) armWatchdog() {
	if c.watchdog <= 0 {
		return
	}
	c.stopWatchdog()
	gen := c.turnGen
	c.timer = time.AfterFunc(c.watchdog, func() { c.expire(gen) })
}

func (c *Controller) stopWatchdog() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.turnGen || c.state.Turn == Idle {
		return
	}
	c.logger.Warnf("session: turn timed out after %s", c.watchdog)
	c.freezeTail()
	c.discard = true
	c.timer = nil
	c.state.Messages = append(c.state.Messages, types.Message{
		ID:        utils.NewID("msg"),
		Role:      types.RoleAssistant,
		Kind:      types.KindWarning,
		Content:   TimeoutText,
		CreatedAt: time.Now().UTC(),
	})
	c.state.Turn = Idle
	c.notify()
}
