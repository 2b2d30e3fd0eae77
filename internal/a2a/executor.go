package a2a

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdka2a "github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"

	"sitechat/internal/hub"
	"sitechat/internal/types"
)

// HubExecutor answers A2A messages with a full chat turn on the hub.
type HubExecutor struct {
	server *hub.Server
}

func NewHubExecutor(server *hub.Server) *HubExecutor {
	return &HubExecutor{server: server}
}

// collectSink keeps the advisory; the reply text comes back from StreamTurn.
type collectSink struct {
	advisory types.AdvisoryMeta
}

func (c *collectSink) Advise(meta types.AdvisoryMeta) error { c.advisory = meta; return nil }
func (c *collectSink) Chunk(types.Chunk) error              { return nil }

func (e *HubExecutor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	text := messageText(reqCtx.Message)
	if strings.TrimSpace(text) == "" {
		return e.writeFailure(ctx, reqCtx, queue, "message has no text")
	}

	if reqCtx.StoredTask == nil {
		event := sdka2a.NewStatusUpdateEvent(reqCtx, sdka2a.TaskStateSubmitted, nil)
		if err := queue.Write(ctx, event); err != nil {
			return fmt.Errorf("failed to write state submitted: %w", err)
		}
	}
	event := sdka2a.NewStatusUpdateEvent(reqCtx, sdka2a.TaskStateWorking, nil)
	if err := queue.Write(ctx, event); err != nil {
		return fmt.Errorf("failed to write state working: %w", err)
	}

	req := types.TurnRequest{
		SessionID: reqCtx.ContextID,
		Message: types.UserMessage{
			Role:      types.RoleUser,
			Content:   text,
			Timestamp: time.Now().UTC(),
		},
	}
	if reqCtx.Message != nil {
		req.Message.Metadata = reqCtx.Message.Metadata
		req.SiteID, _ = reqCtx.Message.Metadata["siteId"].(string)
		req.PageID, _ = reqCtx.Message.Metadata["pageId"].(string)
	}

	sink := &collectSink{}
	reply, err := e.server.StreamTurn(ctx, req, sink)
	if err != nil {
		return e.writeFailure(ctx, reqCtx, queue, err.Error())
	}

	response := sdka2a.NewMessage(sdka2a.MessageRoleAgent, sdka2a.TextPart{Text: reply.Content})
	response.ID = reply.ID
	response.TaskID = reqCtx.TaskID
	response.ContextID = reqCtx.ContextID
	response.Metadata = map[string]any{
		"kind":       string(reply.Kind),
		"intent":     sink.advisory.Intent,
		"confidence": sink.advisory.Confidence,
		"blocking":   sink.advisory.Blocking,
	}
	final := sdka2a.NewStatusUpdateEvent(reqCtx, sdka2a.TaskStateCompleted, response)
	final.Final = true
	if err := queue.Write(ctx, final); err != nil {
		return fmt.Errorf("failed to write state completed: %w", err)
	}
	return nil
}

func (e *HubExecutor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	if reqCtx.ContextID != "" {
		e.server.Cancel(reqCtx.ContextID)
	}
	event := sdka2a.NewStatusUpdateEvent(reqCtx, sdka2a.TaskStateCanceled, nil)
	event.Final = true
	if err := queue.Write(ctx, event); err != nil {
		return fmt.Errorf("failed to write state canceled: %w", err)
	}
	return nil
}

func (e *HubExecutor) writeFailure(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue, errMsg string) error {
	errorMessage := sdka2a.NewMessage(sdka2a.MessageRoleAgent, sdka2a.TextPart{Text: errMsg})
	errorMessage.ID = "error-" + string(reqCtx.TaskID)
	errorMessage.TaskID = reqCtx.TaskID
	errorMessage.ContextID = reqCtx.ContextID
	errorMessage.Metadata = map[string]any{
		"error":     true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	event := sdka2a.NewStatusUpdateEvent(reqCtx, sdka2a.TaskStateFailed, errorMessage)
	event.Final = true
	if err := queue.Write(ctx, event); err != nil {
		return fmt.Errorf("failed to write failure event: %w", err)
	}
	return nil
}

func messageText(msg *sdka2a.Message) string {
	if msg == nil {
		return ""
	}
	texts := make([]string, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		switch tp := part.(type) {
		case sdka2a.TextPart:
			texts = append(texts, tp.Text)
		case *sdka2a.TextPart:
			texts = append(texts, tp.Text)
		}
	}
	return strings.Join(texts, "\n")
}
