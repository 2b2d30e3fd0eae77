package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"sitechat/internal/jsonrpc"
)

const rpcTimeout = 5 * time.Second

// callBackend sends one JSON-RPC request to a running backend over its unix socket.
func callBackend(ctx context.Context, opts *options, method string, params any) (jsonrpc.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	resp, err := jsonrpc.Call(ctx, "unix", opts.cfg.Server.SocketPath, method, params)
	if err != nil {
		return resp, fmt.Errorf("backend not responding: %w", err)
	}
	if resp.Error != nil {
		return resp, resp.Error
	}
	return resp, nil
}

func printResult(out io.Writer, resp jsonrpc.Response, format string) error {
	if format == "json" {
		_, err := fmt.Fprintln(out, string(resp.Result))
		return err
	}
	var v any
	if err := resp.Decode(&v); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func newStatusCommand(opts *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callBackend(cmd.Context(), opts, "hub/status", nil)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), resp, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "pretty", "output format: json|pretty")
	return cmd
}

func newAssistantsCommand(opts *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "assistants",
		Short: "List the backend's assistants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callBackend(cmd.Context(), opts, "hub/assistants/list", nil)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), resp, format)
		},
	}
	cmd.PersistentFlags().StringVar(&format, "format", "pretty", "output format: json|pretty")
	cmd.AddCommand(&cobra.Command{
		Use:   "use <id>",
		Short: "Route new turns to another assistant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callBackend(cmd.Context(), opts, "hub/assistants/use", map[string]string{"id": args[0]})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), resp, format)
		},
	})
	return cmd
}

func newConversationsCommand(opts *options) *cobra.Command {
	var (
		format string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "conversations [session-id]",
		Short: "List recent conversations, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			method, params := "hub/conversations/list", any(map[string]int{"limit": limit})
			if len(args) == 1 {
				method, params = "hub/conversations/get", map[string]string{"sessionId": args[0]}
			}
			resp, err := callBackend(cmd.Context(), opts, method, params)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), resp, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "pretty", "output format: json|pretty")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum conversations to list")
	return cmd
}
