package transport

import (
	"fmt"

	"sitechat/internal/advisor"
	"sitechat/internal/config"
	"sitechat/internal/utils"
)

func New(cfg config.Config, params Params, logger *utils.Logger) (Transport, error) {
	kind := cfg.ResolveTransport()
	logger = logger.With("transport", string(kind), "session", params.SessionID)
	switch kind {
	case config.TransportSimulated:
		return NewSimulated(params, logger,
			WithDelay(cfg.Client.SimulatedDelay),
			WithAdvisor(advisor.New(cfg.Server.AdviceTTL)),
		), nil
	case config.TransportRequestResponse:
		if cfg.Client.BackendURL == "" {
			return nil, fmt.Errorf("%s transport needs a backend URL", kind)
		}
		return NewRequestResponse(cfg.Client.BackendURL, params, logger), nil
	case config.TransportPersistent:
		endpoint := cfg.WebSocketURL()
		if endpoint == "" {
			return nil, fmt.Errorf("%s transport needs a socket or backend URL", kind)
		}
		return NewPersistent(endpoint, params, logger, cfg.Client.MaxBackoff), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownTransport, kind)
	}
}
