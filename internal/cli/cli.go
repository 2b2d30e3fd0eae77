package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sitechat/internal/config"
	"sitechat/internal/hub"
	"sitechat/internal/session"
	"sitechat/internal/transport"
	"sitechat/internal/utils"
)

type options struct {
	configPath string
	verbose    bool

	transport  string
	backendURL string
	socketURL  string
	siteID     string
	pageID     string
	sessionID  string
	timeout    time.Duration

	cfg    config.Config
	logger *utils.Logger
}

// Run executes the sitechat command and returns the process exit code.
func Run() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	return 0
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&options{})
}

func newRootCommand(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "sitechat",
		Short: "Chat with the site assistant from a terminal",
		Long: `sitechat is a chat client for the site builder assistant.

It talks to a backend over one of three transports: an in-process simulator,
plain HTTP request/response, or a persistent websocket. The serve command runs
a development backend that speaks all of them.

Run without arguments to open the chat window.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				opts.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	flags.StringVarP(&opts.transport, "transport", "t", "", "transport: simulated, request-response or persistent")
	flags.StringVar(&opts.backendURL, "backend", "", "backend base URL")
	flags.StringVar(&opts.socketURL, "socket-url", "", "websocket endpoint (default derived from --backend)")
	flags.StringVar(&opts.siteID, "site", "", "site id")
	flags.StringVar(&opts.pageID, "page", "", "page id")
	flags.StringVar(&opts.sessionID, "session", "", "session id (default: a new one)")
	flags.DurationVar(&opts.timeout, "turn-timeout", 0, "end a turn that sees no reply for this long")

	root.AddCommand(
		newChatCommand(opts),
		newSendCommand(opts),
		newEditCommand(opts),
		newServeCommand(opts),
		newStatusCommand(opts),
		newAssistantsCommand(opts),
		newConversationsCommand(opts),
		newVersionCommand(),
	)
	return root
}

// load builds the configuration: file and environment first, then any flag the user set.
func (o *options) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("transport") {
		kind, err := config.ParseTransportKind(o.transport)
		if err != nil {
			return err
		}
		cfg.Client.Transport = kind
	}
	if flags.Changed("backend") {
		cfg.Client.BackendURL = o.backendURL
	}
	if flags.Changed("socket-url") {
		cfg.Client.SocketURL = o.socketURL
	}
	if flags.Changed("site") {
		cfg.Client.SiteID = o.siteID
	}
	if flags.Changed("page") {
		cfg.Client.PageID = o.pageID
	}
	if flags.Changed("turn-timeout") {
		cfg.Client.TurnTimeout = o.timeout
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}
	o.cfg = cfg

	switch {
	case cmd.Name() == "chat" || cmd == cmd.Root():
		// the chat window owns the terminal
		if o.verbose {
			o.logger = utils.NewPrettyLogger(cfg.Logging.Level)
		} else {
			o.logger = utils.NewNopLogger()
		}
	case cfg.Logging.Pretty:
		o.logger = utils.NewPrettyLogger(cfg.Logging.Level)
	default:
		o.logger = utils.NewLogger(cfg.Logging.Level)
	}
	return nil
}

func (o *options) params() transport.Params {
	id := o.sessionID
	if id == "" {
		id = transport.NewSessionID()
	}
	return transport.Params{SiteID: o.cfg.Client.SiteID, PageID: o.cfg.Client.PageID, SessionID: id}
}

// newTransport builds the configured transport for one session.
func (o *options) newTransport() (transport.Transport, error) {
	return transport.New(o.cfg, o.params(), o.logger)
}

func (o *options) newSession() (*session.Controller, error) {
	tr, err := o.newTransport()
	if err != nil {
		return nil, err
	}
	return session.New(tr,
		session.WithLogger(o.logger),
		session.WithTurnWatchdog(o.cfg.Client.TurnTimeout),
	), nil
}

func contextWithSignals(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sitechat version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "sitechat %s\n", hub.Version)
			return err
		},
	}
}
