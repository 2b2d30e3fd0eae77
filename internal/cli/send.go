package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sitechat/internal/session"
	"sitechat/internal/types"
)

var errTurnTimeout = errors.New("no reply before the deadline")

func newSendCommand(opts *options) *cobra.Command {
	var (
		wait       time.Duration
		showAdvice bool
	)
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message and print the reply as it streams",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := contextWithSignals(cmd.Context())
			defer cancel()
			if wait > 0 {
				var stop context.CancelFunc
				ctx, stop = context.WithTimeout(ctx, wait)
				defer stop()
			}
			ctrl, err := opts.newSession()
			if err != nil {
				return err
			}
			defer ctrl.Close()
			return sendOnce(ctx, ctrl, strings.Join(args, " "), cmd.OutOrStdout(), showAdvice)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Minute, "give up after this long")
	cmd.Flags().BoolVar(&showAdvice, "advice", false, "print the advisory signal after the reply")
	return cmd
}

// sendOnce runs a single turn on ctrl, writing reply text to out as it arrives.
func sendOnce(ctx context.Context, ctrl *session.Controller, content string, out io.Writer, showAdvice bool) error {
	updates := ctrl.Updates()
	ctrl.Start()
	if !waitConnected(ctx, ctrl, updates) {
		ctrl.Abort()
		return fmt.Errorf("connect: %w", context.Cause(ctx))
	}
	if !ctrl.Send(content) {
		return errors.New("message is empty")
	}
	first := len(ctrl.Snapshot().Messages)

	printer := &replyPrinter{out: out}
	for {
		state := ctrl.Snapshot()
		printer.print(state.Messages[first:])
		if state.Turn == session.Idle {
			printer.finish()
			if showAdvice {
				printAdvice(out, state)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			ctrl.Abort()
			printer.finish()
			return errTurnTimeout
		case _, ok := <-updates:
			if !ok {
				return nil
			}
		}
	}
}

func waitConnected(ctx context.Context, ctrl *session.Controller, updates <-chan struct{}) bool {
	for !ctrl.Snapshot().Connected() {
		select {
		case <-ctx.Done():
			return false
		case _, ok := <-updates:
			if !ok {
				return false
			}
		}
	}
	return true
}

// replyPrinter writes the growing tail of each reply, starting a new block per message.
type replyPrinter struct {
	out     io.Writer
	current string
	printed string
	blocks  int
}

func (p *replyPrinter) print(messages []types.Message) {
	for _, msg := range messages {
		if msg.ID != p.current {
			if p.blocks > 0 {
				fmt.Fprint(p.out, "\n\n")
			}
			p.current = msg.ID
			p.printed = ""
			p.blocks++
			if msg.Kind != "" && msg.Kind != types.KindChatter {
				fmt.Fprintf(p.out, "[%s] ", msg.Kind)
			}
		}
		switch {
		case msg.Content == p.printed:
		case strings.HasPrefix(msg.Content, p.printed):
			fmt.Fprint(p.out, msg.Content[len(p.printed):])
		default:
			// replaced wholesale by a message event
			fmt.Fprintf(p.out, "\n%s", msg.Content)
		}
		p.printed = msg.Content
	}
}

func (p *replyPrinter) finish() {
	if p.blocks > 0 {
		fmt.Fprintln(p.out)
	}
}

func printAdvice(out io.Writer, state session.State) {
	if state.Advisory == nil {
		return
	}
	adv := state.Advisory
	fmt.Fprintf(out, "\nadvice: %s (%.0f%%, blocking=%t)\n", adv.Intent, adv.Confidence*100, adv.Blocking)
	counts := session.CountKinds(state.Messages)
	for _, kind := range types.Kinds() {
		if n := counts[kind]; n > 0 {
			fmt.Fprintf(out, "  %s: %d\n", kind, n)
		}
	}
}
