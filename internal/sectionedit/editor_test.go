package sectionedit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"sitechat/internal/transport"
	"sitechat/internal/types"
	"sitechat/internal/utils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

var heroEdit = types.SectionEditRequest{
	SectionInstanceID: "sec-1",
	PageID:            "home",
	SectionID:         "hero",
	Instruction:       "Make the headline bolder",
}

func simulatedEditor(t *testing.T, delay time.Duration, deltas ...string) *Editor {
	t.Helper()
	sim := transport.NewSimulated(transport.Params{SessionID: "s"}, utils.NewNopLogger(),
		transport.WithDelay(delay),
		transport.WithScript(func(string) []string { return deltas }),
	)
	e := New(sim, utils.NewNopLogger())
	t.Cleanup(func() {
		e.Close()
		sim.Disconnect()
	})
	return e
}

func TestApplyDecodesStreamedReply(t *testing.T) {
	e := simulatedEditor(t, time.Millisecond,
		`{"sectionInstanceId":"sec-1",`,
		`"summary":"Bolder headline",`,
		`"props":{"fontWeight":700}}`,
	)

	out, err := e.Apply(context.Background(), heroEdit)
	require.NoError(t, err)
	assert.Equal(t, "sec-1", out.SectionInstanceID)
	assert.Equal(t, "home", out.PageID)
	assert.Equal(t, "hero", out.SectionID)
	assert.Equal(t, "Bolder headline", out.Summary)
	assert.EqualValues(t, 700, out.Props["fontWeight"])
}

func TestApplyAcceptsFencedReply(t *testing.T) {
	e := simulatedEditor(t, time.Millisecond, "```json\n", `{"summary":"ok"}`, "\n```")
	out, err := e.Apply(context.Background(), heroEdit)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Summary)
	assert.Equal(t, "sec-1", out.SectionInstanceID)
}

func TestApplyRejectsProse(t *testing.T) {
	e := simulatedEditor(t, time.Millisecond, "Sure, ", "done.")
	_, err := e.Apply(context.Background(), heroEdit)
	assert.ErrorIs(t, err, ErrMalformedReply)
}

func TestApplyRejectsOtherSection(t *testing.T) {
	e := simulatedEditor(t, time.Millisecond, `{"sectionInstanceId":"sec-9"}`)
	_, err := e.Apply(context.Background(), heroEdit)
	assert.ErrorIs(t, err, ErrMalformedReply)
}

func TestApplyValidatesRequest(t *testing.T) {
	e := simulatedEditor(t, time.Millisecond, "{}")
	_, err := e.Apply(context.Background(), types.SectionEditRequest{SectionInstanceID: "sec-1", Instruction: "  "})
	assert.ErrorIs(t, err, ErrEmptyRequest)
}

func TestApplyHonoursContext(t *testing.T) {
	e := simulatedEditor(t, time.Second, `{"summary":"late"}`)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := e.Apply(ctx, heroEdit)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestApplyAfterClose(t *testing.T) {
	e := simulatedEditor(t, time.Millisecond, "{}")
	e.Close()
	_, err := e.Apply(context.Background(), heroEdit)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestApplyOverRequestResponse(t *testing.T) {
	var got types.TurnRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if got.Message.Metadata[types.MetadataIntent] != types.IntentSectionEdit {
			http.Error(w, "not an edit", http.StatusTeapot)
			return
		}
		_, _ = w.Write([]byte(`{"summary":"Headline now bold"}`))
	}))
	defer srv.Close()

	rr := transport.NewRequestResponse(srv.URL, transport.Params{SessionID: "s"}, utils.NewNopLogger())
	defer rr.Disconnect()
	e := New(rr, utils.NewNopLogger())
	defer e.Close()

	out, err := e.Apply(context.Background(), heroEdit)
	require.NoError(t, err)
	assert.Equal(t, "Headline now bold", out.Summary)
	assert.Equal(t, "Make the headline bolder", got.Message.Content)
	assert.Equal(t, "hero", got.Message.Metadata["sectionId"])
}

func TestApplySurfacesBackendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rr := transport.NewRequestResponse(srv.URL, transport.Params{SessionID: "s"}, utils.NewNopLogger())
	defer rr.Disconnect()
	e := New(rr, utils.NewNopLogger())
	defer e.Close()

	_, err := e.Apply(context.Background(), heroEdit)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "503")
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFence(" {\"a\":1} "))
	assert.Equal(t, `{"a":1}`, stripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFence("```\n{\"a\":1}```"))
}
