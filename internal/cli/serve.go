package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"sitechat/internal/agents"
	"sitechat/internal/hub"
	"sitechat/internal/server"
)

func newServeCommand(opts *options) *cobra.Command {
	var (
		host       string
		port       int
		socketPath string
		assistant  string
		command    string
		preset     string
		cardURL    string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development chat backend",
		Long: `Runs a chat backend that answers the request/response and websocket transports,
JSON-RPC over HTTP and a unix socket, and the A2A protocol.

Replies come from the active assistant: the built-in scripted one, a local
command run under a pty (--command or --preset), or a remote A2A agent (--remote).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			flags := cmd.Flags()
			if flags.Changed("host") {
				cfg.Server.Host = host
			}
			if flags.Changed("port") {
				cfg.Server.Port = port
			}
			if flags.Changed("unix-socket") {
				cfg.Server.SocketPath = socketPath
			}
			if flags.Changed("assistant") {
				cfg.Server.Assistant = assistant
			}
			if flags.Changed("command") {
				cfg.Server.Command.Exec = command
			}
			if flags.Changed("preset") {
				cfg.Server.Command.Preset = preset
			}
			if flags.Changed("remote") {
				cfg.Server.Remote.CardURL = cardURL
			}

			ctx, cancel := contextWithSignals(cmd.Context())
			defer cancel()

			h := hub.NewServer(cfg, opts.logger)
			defer h.Close()
			if err := h.InitAssistants(ctx); err != nil {
				return err
			}
			opts.logger.Infof("active assistant: %s", h.Registry().ActiveID())
			return server.New(cfg, h, opts.logger).Run(ctx)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&host, "host", "", "listen host")
	flags.IntVarP(&port, "port", "p", 0, "listen port")
	flags.StringVar(&socketPath, "unix-socket", "", "JSON-RPC unix socket path (empty disables it)")
	flags.StringVar(&assistant, "assistant", "", "assistant to activate: scripted, command or remote")
	flags.StringVar(&command, "command", "", "local assistant command, {prompt} is replaced by the message")
	flags.StringVar(&preset, "preset", "", "known assistant CLI to run: "+strings.Join(agents.PresetNames(), ", "))
	flags.StringVar(&cardURL, "remote", "", "A2A agent card URL of a remote assistant")
	return cmd
}
