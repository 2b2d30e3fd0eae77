package a2a

import (
	"encoding/json"
	"net/http"
	"strings"

	sdka2a "github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"

	"sitechat/internal/hub"
)

const (
	RPCPath  = "/a2a"
	CardPath = "/.well-known/agent.json"
)

type Server struct {
	handler a2asrv.RequestHandler
	hub     *hub.Server
	tasks   *TaskStore
	baseURL string
}

func NewServer(h *hub.Server, baseURL string) *Server {
	tasks := NewTaskStore()
	handler := a2asrv.NewHandler(
		NewHubExecutor(h),
		a2asrv.WithTaskStore(tasks),
	)
	return &Server{handler: handler, hub: h, tasks: tasks, baseURL: baseURL}
}

func (s *Server) Tasks() *TaskStore {
	return s.tasks
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(RPCPath, a2asrv.NewJSONRPCHandler(s.handler))
	mux.HandleFunc(CardPath, s.handleAgentCard)
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	baseURL := s.baseURL
	if baseURL == "" {
		baseURL = "http://" + r.Host
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Card(baseURL))
}

// Card describes the hub, one skill per registered assistant.
func (s *Server) Card(baseURL string) *sdka2a.AgentCard {
	a2aURL := strings.TrimRight(baseURL, "/") + RPCPath
	infos := s.hub.Registry().List()
	skills := make([]sdka2a.AgentSkill, 0, len(infos))
	for _, info := range infos {
		skills = append(skills, sdka2a.AgentSkill{
			ID:          info.Assistant.ID(),
			Name:        info.Assistant.Name(),
			Description: info.Assistant.Description(),
			Tags:        []string{"chat", "site-editing"},
			InputModes:  []string{"text/plain"},
			OutputModes: []string{"text/plain"},
		})
	}
	return &sdka2a.AgentCard{
		Name:            "Sitechat Hub",
		Description:     "Site editing chat assistant with prescriptive advice",
		URL:             a2aURL,
		Version:         hub.Version,
		ProtocolVersion: "1.0",
		Provider: &sdka2a.AgentProvider{
			Org: "Local",
			URL: baseURL,
		},
		PreferredTransport: sdka2a.TransportProtocolJSONRPC,
		AdditionalInterfaces: []sdka2a.AgentInterface{
			{URL: a2aURL, Transport: sdka2a.TransportProtocolJSONRPC},
		},
		Capabilities: sdka2a.AgentCapabilities{
			Streaming:              false,
			PushNotifications:      false,
			StateTransitionHistory: true,
		},
		Skills:             skills,
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
	}
}
