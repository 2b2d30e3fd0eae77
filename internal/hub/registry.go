package hub

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"sitechat/internal/agents"
	"sitechat/internal/utils"
)

var ErrAssistantNotFound = errors.New("assistant not found")

type AssistantInfo struct {
	Assistant    agents.Assistant
	RegisteredAt time.Time
}

// AssistantRegistry holds the assistants a server can route turns to, and which one is active.
type AssistantRegistry struct {
	mu         sync.RWMutex
	assistants map[string]*AssistantInfo
	active     string
	logger     *utils.Logger
}

func NewAssistantRegistry(logger *utils.Logger) *AssistantRegistry {
	return &AssistantRegistry{assistants: make(map[string]*AssistantInfo), logger: logger}
}

// Register adds a; the first assistant registered becomes active.
func (r *AssistantRegistry) Register(a agents.Assistant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assistants[a.ID()] = &AssistantInfo{Assistant: a, RegisteredAt: time.Now().UTC()}
	if r.active == "" {
		r.active = a.ID()
	}
	r.logger.Debugf("registered assistant %s", a.ID())
}

func (r *AssistantRegistry) Get(id string) (*AssistantInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.assistants[id]
	return info, ok
}

func (r *AssistantRegistry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assistants[id]; !ok {
		return fmt.Errorf("%w: %s", ErrAssistantNotFound, id)
	}
	r.active = id
	return nil
}

// Active returns the assistant turns are routed to.
func (r *AssistantRegistry) Active() (agents.Assistant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.assistants[r.active]
	if !ok {
		return nil, false
	}
	return info.Assistant, true
}

func (r *AssistantRegistry) ActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// List returns every assistant ordered by ID.
func (r *AssistantRegistry) List() []AssistantInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]AssistantInfo, 0, len(r.assistants))
	for _, info := range r.assistants {
		result = append(result, *info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Assistant.ID() < result[j].Assistant.ID() })
	return result
}

// CloseAll releases every assistant's resources.
func (r *AssistantRegistry) CloseAll() {
	for _, info := range r.List() {
		if err := info.Assistant.Close(); err != nil {
			r.logger.Warnf("close assistant %s: %v", info.Assistant.ID(), err)
		}
	}
}
