package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitechat/internal/agents"
	"sitechat/internal/config"
	"sitechat/internal/hub"
	"sitechat/internal/jsonrpc"
	"sitechat/internal/transport"
	"sitechat/internal/types"
	"sitechat/internal/utils"
)

var testParams = transport.Params{SiteID: "site-1", PageID: "home", SessionID: "sess-1"}

type blockingAssistant struct {
	once    sync.Once
	started chan struct{}
}

func (b *blockingAssistant) ID() string          { return "blocking" }
func (b *blockingAssistant) Name() string        { return "Blocking" }
func (b *blockingAssistant) Description() string { return "waits for cancellation" }
func (b *blockingAssistant) Close() error        { return nil }
func (b *blockingAssistant) Reply(ctx context.Context, _ agents.Turn, emit func(string) error) error {
	if err := emit("thinking "); err != nil {
		return err
	}
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return ctx.Err()
}

// gatedAssistant holds any turn asking it to "wait" until the turn is cancelled.
type gatedAssistant struct{}

func (gatedAssistant) ID() string          { return "gated" }
func (gatedAssistant) Name() string        { return "Gated" }
func (gatedAssistant) Description() string { return "waits when asked to" }
func (gatedAssistant) Close() error        { return nil }
func (gatedAssistant) Reply(ctx context.Context, turn agents.Turn, emit func(string) error) error {
	if turn.Content == "wait" {
		<-ctx.Done()
		return ctx.Err()
	}
	return emit("ok")
}

type failingAssistant struct{}

func (failingAssistant) ID() string          { return "failing" }
func (failingAssistant) Name() string        { return "Failing" }
func (failingAssistant) Description() string { return "always fails" }
func (failingAssistant) Close() error        { return nil }
func (failingAssistant) Reply(context.Context, agents.Turn, func(string) error) error {
	return errors.New("model offline")
}

func newTestServer(t *testing.T, extra ...agents.Assistant) (*hub.Server, *Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.ChunkDelay = 0
	cfg.Server.SocketPath = ""
	h := hub.NewServer(cfg, utils.NewNopLogger())
	require.NoError(t, h.InitAssistants(context.Background()))
	for _, a := range extra {
		h.Registry().Register(a)
		require.NoError(t, h.UseAssistant(a.ID()))
	}
	srv := New(cfg, h, utils.NewNopLogger())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		h.CancelAll()
		ts.Close()
		h.Close()
	})
	return h, srv, ts
}

type collector struct {
	mu       sync.Mutex
	kinds    []transport.EventKind
	chunks   []types.Chunk
	messages []types.Message
	advisory []types.AdvisoryMeta
}

func (c *collector) handlers() transport.Handlers {
	record := func(k transport.EventKind) {
		c.mu.Lock()
		c.kinds = append(c.kinds, k)
		c.mu.Unlock()
	}
	return transport.Handlers{
		OnConnect:    func() { record(transport.EventConnect) },
		OnDisconnect: func() { record(transport.EventDisconnect) },
		OnMessage: func(m types.Message) {
			c.mu.Lock()
			c.messages = append(c.messages, m)
			c.mu.Unlock()
			record(transport.EventMessage)
		},
		OnChunk: func(ch types.Chunk) {
			c.mu.Lock()
			c.chunks = append(c.chunks, ch)
			c.mu.Unlock()
			record(transport.EventMessageChunk)
		},
		OnAdvisory: func(a types.AdvisoryMeta) {
			c.mu.Lock()
			c.advisory = append(c.advisory, a)
			c.mu.Unlock()
			record(transport.EventPrescriptiveMeta)
		},
	}
}

func (c *collector) done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.chunks {
		if ch.Done {
			return true
		}
	}
	return false
}

func (c *collector) text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b strings.Builder
	for _, ch := range c.chunks {
		b.WriteString(ch.Delta)
	}
	return b.String()
}

func (c *collector) messageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func userMessage(content string) types.UserMessage {
	return types.UserMessage{Role: types.RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

func TestTurnEndpointStreamsToRequestResponseTransport(t *testing.T) {
	h, _, ts := newTestServer(t)

	tr := transport.NewRequestResponse(ts.URL, testParams, utils.NewNopLogger())
	c := &collector{}
	tr.Subscribe(c.handlers())
	tr.Connect()
	defer tr.Disconnect()

	tr.Emit(userMessage("Make the hero headline bolder"))
	require.Eventually(t, c.done, 2*time.Second, 5*time.Millisecond)

	assert.NotEmpty(t, strings.TrimSpace(c.text()))
	c.mu.Lock()
	ids := map[string]bool{}
	for _, ch := range c.chunks {
		ids[ch.MessageID] = true
	}
	c.mu.Unlock()
	assert.Len(t, ids, 1, "every chunk carries the id from the response header")

	require.Eventually(t, func() bool {
		conv, ok := h.Conversations().Get("sess-1")
		return ok && len(conv.Messages) == 2
	}, time.Second, 5*time.Millisecond)
	conv, _ := h.Conversations().Get("sess-1")
	assert.Equal(t, "site-1", conv.SiteID)
	assert.Equal(t, "home", conv.PageID)
}

func TestTurnEndpointStatusCodes(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+transport.TurnPath, "application/json", strings.NewReader(`{"message":{"content":"   "}}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+transport.TurnPath, "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + transport.TurnPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestTurnEndpointTakesIDsFromHeaders(t *testing.T) {
	h, _, ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+transport.TurnPath, strings.NewReader(`{"message":{"role":"user","content":"hello there"}}`))
	require.NoError(t, err)
	req.Header.Set(transport.HeaderSessionID, "from-header")
	req.Header.Set(transport.HeaderSiteID, "site-h")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(transport.HeaderMessageID))
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))

	conv, ok := h.Conversations().Get("from-header")
	require.True(t, ok)
	assert.Equal(t, "site-h", conv.SiteID)
}

func TestTurnEndpointFailureSurfacesAsRejection(t *testing.T) {
	_, _, ts := newTestServer(t, failingAssistant{})

	tr := transport.NewRequestResponse(ts.URL, testParams, utils.NewNopLogger())
	c := &collector{}
	tr.Subscribe(c.handlers())
	tr.Connect()
	defer tr.Disconnect()

	tr.Emit(userMessage("hello"))
	require.Eventually(t, func() bool { return c.messageCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, types.KindWarning, c.messages[0].Kind)
	assert.Contains(t, c.messages[0].Content, "502")
}

func TestSocketStreamsAdvisoryThenChunks(t *testing.T) {
	h, _, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + SocketPath
	tr := transport.NewPersistent(url, testParams, utils.NewNopLogger(), time.Second)
	c := &collector{}
	tr.Subscribe(c.handlers())
	tr.Connect()
	defer tr.Disconnect()

	tr.Emit(userMessage("The font on the hero looks off"))
	require.Eventually(t, c.done, 2*time.Second, 5*time.Millisecond)

	c.mu.Lock()
	require.Len(t, c.advisory, 1)
	kinds := append([]transport.EventKind(nil), c.kinds...)
	c.mu.Unlock()
	require.GreaterOrEqual(t, len(kinds), 3)
	assert.Equal(t, transport.EventConnect, kinds[0])
	assert.Equal(t, transport.EventPrescriptiveMeta, kinds[1])
	assert.Equal(t, transport.EventMessageChunk, kinds[2])
	assert.NotEmpty(t, c.text())

	require.Eventually(t, func() bool {
		conv, ok := h.Conversations().Get("sess-1")
		return ok && len(conv.Messages) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestSocketCancelStopsTurn(t *testing.T) {
	blocking := &blockingAssistant{started: make(chan struct{})}
	h, _, ts := newTestServer(t, blocking)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + SocketPath
	tr := transport.NewPersistent(url, testParams, utils.NewNopLogger(), time.Second)
	c := &collector{}
	tr.Subscribe(c.handlers())
	tr.Connect()
	defer tr.Disconnect()

	tr.Emit(userMessage("take your time"))
	select {
	case <-blocking.started:
	case <-time.After(2 * time.Second):
		t.Fatal("turn never started")
	}
	require.Equal(t, 1, h.ActiveTurns())

	tr.Abort()
	require.Eventually(t, func() bool { return h.ActiveTurns() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, c.messageCount(), "a cancelled turn sends no failure message")
}

func TestSocketCancelCoversQueuedTurns(t *testing.T) {
	_, _, ts := newTestServer(t, gatedAssistant{})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + SocketPath + "?sessionId=sess-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	write := func(event string, data any) {
		frame, err := transport.NewFrame(event, data)
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(frame))
	}
	turn := func(id, content string) types.UserMessage {
		msg := userMessage(content)
		msg.TurnID = id
		return msg
	}
	write(transport.NameUserMessage, turn("turn-0", "wait"))
	write(transport.NameUserMessage, turn("turn-1", "hello"))
	write(transport.NameCancel, nil)
	write(transport.NameUserMessage, turn("turn-2", "hello"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var chunks []types.Chunk
	for {
		var frame transport.Frame
		require.NoError(t, conn.ReadJSON(&frame))
		assert.NotEqual(t, transport.NameMessage, frame.Event, "cancelled turns send no failure message")
		if frame.Event != transport.NameMessageChunk {
			continue
		}
		var chunk types.Chunk
		require.NoError(t, frame.Decode(&chunk))
		chunks = append(chunks, chunk)
		if chunk.Done {
			break
		}
	}
	for _, c := range chunks {
		assert.Equal(t, "turn-2", c.TurnID)
	}
}

func TestSocketFailureSendsWarning(t *testing.T) {
	_, _, ts := newTestServer(t, failingAssistant{})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + SocketPath
	tr := transport.NewPersistent(url, testParams, utils.NewNopLogger(), time.Second)
	c := &collector{}
	tr.Subscribe(c.handlers())
	tr.Connect()
	defer tr.Disconnect()

	tr.Emit(userMessage("hello"))
	require.Eventually(t, func() bool { return c.messageCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, types.RoleAssistant, c.messages[0].Role)
	assert.Equal(t, types.KindWarning, c.messages[0].Kind)
}

func TestHealthAndAssistants(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + HealthPath)
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "scripted", health["assistant"])

	resp, err = http.Get(ts.URL + AssistantsPath)
	require.NoError(t, err)
	var views []assistantView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	resp.Body.Close()
	require.NotEmpty(t, views)
	assert.Equal(t, "scripted", views[0].ID)
	assert.True(t, views[0].Active)
}

func TestRPCOverHTTP(t *testing.T) {
	_, _, ts := newTestServer(t)

	body := `{"jsonrpc":"2.0","id":1,"method":"hub/status"}`
	resp, err := http.Post(ts.URL+RPCPath, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var rpcResp jsonrpc.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	require.Nil(t, rpcResp.Error)

	var status hub.Status
	require.NoError(t, rpcResp.Decode(&status))
	assert.Equal(t, hub.Version, status.Version)
}

func TestUnixSocketRPC(t *testing.T) {
	_, srv, _ := newTestServer(t)

	dir, err := os.MkdirTemp("", "sc")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "rpc.sock")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.ServeUnix(ctx, path) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	resp, err := jsonrpc.Call(context.Background(), "unix", path, "hub/assistants/list", nil)
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	resp, err = jsonrpc.Call(context.Background(), "unix", path, "no/such/method", nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.ErrMethodNotFound, resp.Error.Code)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("unix listener did not stop")
	}
}

func TestRunListenerStopsOnCancel(t *testing.T) {
	_, srv, _ := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.RunListener(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + HealthPath)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestFailureText(t *testing.T) {
	assert.Equal(t, "partial\n\n"+transport.ErrTextInterrupted, failureText("partial", errors.New("x")))
	assert.Equal(t, "Please type a message first.", failureText("", hub.ErrEmptyTurn))
	assert.NotEmpty(t, failureText("", errors.New("x")))
}
