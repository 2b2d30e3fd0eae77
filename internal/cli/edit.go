package cli

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sitechat/internal/sectionedit"
	"sitechat/internal/types"
)

func newEditCommand(opts *options) *cobra.Command {
	var (
		req  types.SectionEditRequest
		wait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "edit <instruction>",
		Short: "Ask the assistant to edit one page section and print the updated section",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Instruction = strings.Join(args, " ")
			if req.PageID == "" {
				req.PageID = opts.cfg.Client.PageID
			}
			if req.SectionInstanceID == "" {
				return errors.New("--instance is required")
			}

			ctx, cancel := contextWithSignals(cmd.Context())
			defer cancel()
			ctx, stop := context.WithTimeout(ctx, wait)
			defer stop()

			tr, err := opts.newTransport()
			if err != nil {
				return err
			}
			defer tr.Disconnect()
			editor := sectionedit.New(tr, opts.logger)
			defer editor.Close()

			updated, err := editor.Apply(ctx, req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(updated)
		},
	}
	cmd.Flags().StringVar(&req.SectionInstanceID, "instance", "", "section instance id")
	cmd.Flags().StringVar(&req.SectionID, "section", "", "section type id")
	cmd.Flags().StringVar(&req.PageID, "edit-page", "", "page holding the section (default: --page)")
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Minute, "give up after this long")
	return cmd
}
