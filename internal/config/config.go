package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// TransportKind selects the chat transport, once per session.
type TransportKind string

const (
	TransportAuto            TransportKind = ""
	TransportSimulated       TransportKind = "simulated"
	TransportRequestResponse TransportKind = "request-response"
	TransportPersistent      TransportKind = "persistent"
)

var ErrUnknownTransport = errors.New("unknown transport kind")

func ParseTransportKind(s string) (TransportKind, error) {
	switch TransportKind(strings.ToLower(strings.TrimSpace(s))) {
	case TransportAuto:
		return TransportAuto, nil
	case TransportSimulated, "sim", "local":
		return TransportSimulated, nil
	case TransportRequestResponse, "http", "rr":
		return TransportRequestResponse, nil
	case TransportPersistent, "socket", "ws", "websocket":
		return TransportPersistent, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTransport, s)
	}
}

type Config struct {
	Client struct {
		Transport  TransportKind `yaml:"transport"`
		BackendURL string        `yaml:"backend_url"`
		SocketURL  string        `yaml:"socket_url"`
		SiteID     string        `yaml:"site_id"`
		PageID     string        `yaml:"page_id"`
		// SimulatedDelay spaces scripted chunks when no backend is configured.
		SimulatedDelay time.Duration `yaml:"simulated_delay"`
		// TurnTimeout arms the session watchdog; zero leaves turns unbounded.
		TurnTimeout time.Duration `yaml:"turn_timeout"`
		MaxBackoff  time.Duration `yaml:"max_backoff"`
	} `yaml:"client"`
	Server struct {
		Host       string        `yaml:"host"`
		Port       int           `yaml:"port"`
		SocketPath string        `yaml:"socket_path"`
		Assistant  string        `yaml:"assistant"`
		ChunkDelay time.Duration `yaml:"chunk_delay"`
		History    int           `yaml:"history"`
		AdviceTTL  time.Duration `yaml:"advice_ttl"`
		Command    struct {
			// Preset names a known assistant CLI (claude, codex, gemini, vibe); Exec then only overrides its binary.
			Preset string   `yaml:"preset"`
			Exec   string   `yaml:"exec"`
			Args   []string `yaml:"args"`
		} `yaml:"command"`
		Remote struct {
			CardURL string `yaml:"card_url"`
			Alias   string `yaml:"alias"`
		} `yaml:"remote"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
}

func Default() Config {
	cfg := Config{}
	cfg.Client.Transport = TransportAuto
	cfg.Client.SiteID = "local-site"
	cfg.Client.PageID = "home"
	cfg.Client.SimulatedDelay = 120 * time.Millisecond
	cfg.Client.MaxBackoff = 10 * time.Second
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8787
	cfg.Server.SocketPath = filepath.Join(os.TempDir(), "sitechat.sock")
	cfg.Server.Assistant = "scripted"
	cfg.Server.ChunkDelay = 40 * time.Millisecond
	cfg.Server.History = 50
	cfg.Server.AdviceTTL = 2 * time.Minute
	cfg.Logging.Level = "info"
	return cfg
}

// Load builds a Config. path may be empty; a missing .env file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	_ = godotenv.Load()
	if err := cfg.loadFromEnv(); err != nil {
		return cfg, err
	}
	kind, err := ParseTransportKind(string(cfg.Client.Transport))
	if err != nil {
		return cfg, err
	}
	cfg.Client.Transport = kind
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	if val := os.Getenv("SITECHAT_TRANSPORT"); val != "" {
		kind, err := ParseTransportKind(val)
		if err != nil {
			return err
		}
		c.Client.Transport = kind
	}
	if val := os.Getenv("SITECHAT_BACKEND_URL"); val != "" {
		c.Client.BackendURL = val
	}
	if val := os.Getenv("SITECHAT_SOCKET_URL"); val != "" {
		c.Client.SocketURL = val
	}
	if val := os.Getenv("SITECHAT_SITE_ID"); val != "" {
		c.Client.SiteID = val
	}
	if val := os.Getenv("SITECHAT_PAGE_ID"); val != "" {
		c.Client.PageID = val
	}
	if val := os.Getenv("SITECHAT_TURN_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("SITECHAT_TURN_TIMEOUT: %w", err)
		}
		c.Client.TurnTimeout = d
	}
	if val := os.Getenv("SITECHAT_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("SITECHAT_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("SITECHAT_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if val := os.Getenv("SITECHAT_UNIX_SOCKET"); val != "" {
		c.Server.SocketPath = val
	}
	if val := os.Getenv("SITECHAT_ASSISTANT"); val != "" {
		c.Server.Assistant = val
	}
	if val := os.Getenv("SITECHAT_ASSISTANT_CMD"); val != "" {
		c.Server.Command.Exec = val
	}
	if val := os.Getenv("SITECHAT_ASSISTANT_PRESET"); val != "" {
		c.Server.Command.Preset = val
	}
	if val := os.Getenv("SITECHAT_REMOTE_CARD_URL"); val != "" {
		c.Server.Remote.CardURL = val
	}
	if val := os.Getenv("SITECHAT_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("SITECHAT_LOG_PRETTY"); val != "" {
		if pretty, err := strconv.ParseBool(val); err == nil {
			c.Logging.Pretty = pretty
		}
	}
	return nil
}

func (c Config) ResolveTransport() TransportKind {
	if c.Client.Transport != TransportAuto {
		return c.Client.Transport
	}
	if strings.TrimSpace(c.Client.BackendURL) == "" && strings.TrimSpace(c.Client.SocketURL) == "" {
		return TransportSimulated
	}
	if strings.TrimSpace(c.Client.BackendURL) == "" {
		return TransportPersistent
	}
	return TransportRequestResponse
}

// WebSocketURL derives the socket endpoint from the backend URL when none is configured.
func (c Config) WebSocketURL() string {
	if c.Client.SocketURL != "" {
		return c.Client.SocketURL
	}
	base := strings.TrimRight(c.Client.BackendURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	if base == "" {
		return ""
	}
	return base + "/chat/ws"
}

func (c Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c Config) ServerURL() string {
	return "http://" + c.ServerAddr()
}
