package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitechat/internal/config"
	"sitechat/internal/types"
	"sitechat/internal/utils"
)

var testParams = Params{SiteID: "site-1", PageID: "home", SessionID: "sess-1"}

func newTestRequestResponse(t *testing.T, handler http.HandlerFunc) (*RequestResponse, *recorder) {
	t.Helper()
	srv := httptest.NewServer(handler)
	rr := NewRequestResponse(srv.URL, testParams, utils.NewNopLogger())
	t.Cleanup(func() {
		rr.Disconnect()
		srv.Close()
	})
	rec := record(rr)
	rr.Connect()
	return rr, rec
}

func TestRequestResponseStreamsBody(t *testing.T) {
	var got types.TurnRequest
	var headers http.Header
	rr, rec := newTestRequestResponse(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, TurnPath, r.URL.Path)
		headers = r.Header.Clone()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set(HeaderMessageID, "msg-server")
		flusher := w.(http.Flusher)
		for _, part := range []string{"Sure, ", "the hero ", "is bolder now."} {
			_, _ = fmt.Fprint(w, part)
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	})
	assert.Equal(t, config.TransportRequestResponse, rr.Kind())

	msg := userMessage("Make the hero bolder")
	msg.TurnID = "turn-1"
	rr.Emit(msg)
	require.Eventually(t, rec.done, waitFor, tick)

	chunks := rec.chunks()
	assert.Equal(t, "Sure, the hero is bolder now.", joinDeltas(chunks))
	for _, c := range chunks {
		assert.Equal(t, "msg-server", c.MessageID)
		assert.Equal(t, "turn-1", c.TurnID)
	}
	assert.True(t, chunks[len(chunks)-1].Done)
	for _, c := range chunks[:len(chunks)-1] {
		assert.False(t, c.Done)
	}

	assert.Equal(t, "site-1", got.SiteID)
	assert.Equal(t, "home", got.PageID)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "Make the hero bolder", got.Message.Content)
	assert.Equal(t, "turn-1", got.Message.TurnID)
	assert.Equal(t, "sess-1", headers.Get(HeaderSessionID))
	assert.Equal(t, "site-1", headers.Get(HeaderSiteID))
	assert.Equal(t, 1, rec.count(EventConnect))
}

func TestRequestResponseServerError(t *testing.T) {
	rr, rec := newTestRequestResponse(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	rr.Emit(userMessage("hello"))
	require.Eventually(t, func() bool { return len(rec.messages()) == 1 }, waitFor, tick)

	msg := rec.messages()[0]
	assert.Equal(t, types.RoleAssistant, msg.Role)
	assert.Equal(t, types.KindWarning, msg.Kind)
	assert.Equal(t, fmt.Sprintf(ErrTextRejected, http.StatusInternalServerError), msg.Content)
	assert.Empty(t, rec.chunks())
	assert.Zero(t, rec.count(EventDisconnect))
}

func TestRequestResponseEmptyBody(t *testing.T) {
	rr, rec := newTestRequestResponse(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rr.Emit(userMessage("hello"))
	require.Eventually(t, func() bool { return len(rec.messages()) == 1 }, waitFor, tick)
	assert.Equal(t, ErrTextEmpty, rec.messages()[0].Content)
}

func TestRequestResponseAbortDiscardsLateChunks(t *testing.T) {
	release := make(chan struct{})
	rr, rec := newTestRequestResponse(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "partial ")
		w.(http.Flusher).Flush()
		select {
		case <-release:
			_, _ = fmt.Fprint(w, "late")
		case <-r.Context().Done():
		}
	})

	rr.Emit(userMessage("hello"))
	require.Eventually(t, func() bool { return len(rec.chunks()) == 1 }, waitFor, tick)
	rr.Abort()
	close(release)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, "partial ", joinDeltas(rec.chunks()))
	assert.False(t, rec.done())
	assert.Empty(t, rec.messages())
}

func TestRequestResponseUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rr := NewRequestResponse(url, testParams, utils.NewNopLogger())
	rec := record(rr)
	rr.Connect()
	rr.Emit(userMessage("hello"))

	require.Eventually(t, func() bool { return rec.count(EventDisconnect) == 1 }, waitFor, tick)
	rr.Disconnect()

	msgs := rec.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, ErrTextUnreachable, msgs[0].Content)
	assert.Equal(t, 1, rec.count(EventConnect))
	assert.Equal(t, 1, rec.count(EventDisconnect))
}

func TestRequestResponseEmitBeforeConnect(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls.Add(1) }))
	defer srv.Close()

	rr := NewRequestResponse(srv.URL, testParams, utils.NewNopLogger())
	rr.Emit(userMessage("hello"))
	rr.Disconnect()
	assert.Zero(t, calls.Load())
}

func TestCompleteRunes(t *testing.T) {
	euro := []byte("€") // 3 bytes
	assert.Equal(t, 0, completeRunes(nil))
	assert.Equal(t, 3, completeRunes([]byte("abc")))
	assert.Equal(t, 1, completeRunes(append([]byte("a"), euro[:1]...)))
	assert.Equal(t, 1, completeRunes(append([]byte("a"), euro[:2]...)))
	assert.Equal(t, 4, completeRunes(append([]byte("a"), euro...)))
}
