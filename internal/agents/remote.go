package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	sdka2a "github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/go-resty/resty/v2"

	"sitechat/internal/types"
	"sitechat/internal/utils"
)

// Remote forwards turns to an external A2A agent and streams its answer word by word.
type Remote struct {
	id      string
	name    string
	cardURL string
	card    *sdka2a.AgentCard
	client  *a2aclient.Client
}

// NewRemote fetches the agent card at cardURL and opens a client for it.
func NewRemote(ctx context.Context, cardURL, alias string) (*Remote, error) {
	card, err := fetchAgentCard(ctx, cardURL)
	if err != nil {
		return nil, fmt.Errorf("fetch agent card: %w", err)
	}
	return NewRemoteFromCard(ctx, card, cardURL, alias)
}

func NewRemoteFromCard(ctx context.Context, card *sdka2a.AgentCard, cardURL, alias string) (*Remote, error) {
	client, err := a2aclient.NewFromCard(ctx, card)
	if err != nil {
		return nil, fmt.Errorf("create a2a client: %w", err)
	}
	id := alias
	if id == "" {
		id = "remote-" + sanitizeID(card.Name)
	}
	return &Remote{id: id, name: card.Name, cardURL: cardURL, card: card, client: client}, nil
}

func (r *Remote) ID() string      { return r.id }
func (r *Remote) Name() string    { return r.name }
func (r *Remote) CardURL() string { return r.cardURL }

func (r *Remote) Description() string {
	if r.card != nil && r.card.Description != "" {
		return r.card.Description
	}
	return "Remote A2A agent"
}

func (r *Remote) Close() error {
	if r.client != nil {
		return r.client.Destroy()
	}
	return nil
}

func (r *Remote) Reply(ctx context.Context, turn Turn, emit func(string) error) error {
	msg := &sdka2a.Message{
		ID:        utils.NewID("msg"),
		Role:      sdka2a.MessageRole(types.RoleUser),
		Parts:     sdka2a.ContentParts{sdka2a.TextPart{Text: turn.Content}},
		ContextID: turn.SessionID,
		Metadata: map[string]any{
			"siteId": turn.SiteID,
			"pageId": turn.PageID,
			"intent": turn.Intent,
		},
	}
	if turn.Edit != nil {
		for k, v := range turn.Edit.Metadata() {
			msg.Metadata[k] = v
		}
	}
	if len(turn.History) > 0 {
		if history, err := json.Marshal(turn.History); err == nil {
			msg.Metadata["conversationHistory"] = string(history)
		}
	}

	result, err := r.client.SendMessage(ctx, &sdka2a.MessageSendParams{Message: msg})
	if err != nil {
		return fmt.Errorf("remote agent %s: %w", r.id, err)
	}

	var text string
	switch res := result.(type) {
	case *sdka2a.Message:
		text = partsText(res.Parts)
	case *sdka2a.Task:
		if res.Status.State == sdka2a.TaskStateFailed || res.Status.State == sdka2a.TaskStateRejected {
			reason := "task " + string(res.Status.State)
			if res.Status.Message != nil {
				reason = partsText(res.Status.Message.Parts)
			}
			return fmt.Errorf("remote agent %s: %s", r.id, reason)
		}
		text = taskText(res)
	default:
		return fmt.Errorf("remote agent %s: unexpected result %T", r.id, result)
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("remote agent returned no text")
	}
	return emitAll(ctx, text, emit)
}

func taskText(task *sdka2a.Task) string {
	if task.Status.Message != nil {
		if text := partsText(task.Status.Message.Parts); text != "" {
			return text
		}
	}
	var parts []string
	for _, art := range task.Artifacts {
		if art == nil {
			continue
		}
		if text := partsText(art.Parts); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

func partsText(parts sdka2a.ContentParts) string {
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		switch tp := p.(type) {
		case sdka2a.TextPart:
			texts = append(texts, tp.Text)
		case *sdka2a.TextPart:
			texts = append(texts, tp.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// fetchAgentCard loads an agent card, defaulting to the well-known path.
func fetchAgentCard(ctx context.Context, url string) (*sdka2a.AgentCard, error) {
	if !strings.HasSuffix(url, ".json") && !strings.Contains(url, "/.well-known/") {
		url = strings.TrimRight(url, "/") + "/.well-known/agent.json"
	}
	var card sdka2a.AgentCard
	resp, err := resty.New().R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetResult(&card).
		Get(url)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("agent card: status %d", resp.StatusCode())
	}
	return &card, nil
}

var nonIDChars = regexp.MustCompile(`[^a-z0-9]+`)

func sanitizeID(name string) string {
	id := strings.Trim(nonIDChars.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if len(id) > 32 {
		id = id[:32]
	}
	return id
}
