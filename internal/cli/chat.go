package cli

import (
	"context"

	"github.com/spf13/cobra"

	"sitechat/internal/tui"
)

func newChatCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the chat window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), opts)
		},
	}
}

func runChat(_ context.Context, opts *options) error {
	ctrl, err := opts.newSession()
	if err != nil {
		return err
	}
	defer ctrl.Close()
	ctrl.Start()
	ctrl.OpenChat()
	return tui.Run(ctrl, opts.logger)
}
