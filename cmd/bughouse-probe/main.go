// bughouse-probe checks a running bughouse server from the command line.
//
//	bughouse-probe list
//	bughouse-probe create <name>
//	bughouse-probe join <name> [--seat board1w --name Ann] [--move 1:e2e4 ...] [--watch 10s]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/park285/bughouse-server/internal/probe"
	"github.com/park285/bughouse-server/pkg/bughousedto"
)

var (
	flagBaseURL string
	flagTimeout time.Duration
)

func main() {
	cobra.CheckErr(newRootCmd().Execute())
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "bughouse-probe",
		Short:        "Probe a bughouse server over HTTP and websockets",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flagBaseURL, "url", envDefault("BUGHOUSE_URL", "http://localhost:3000"), "server base URL")
	root.PersistentFlags().DurationVar(&flagTimeout, "timeout", 8*time.Second, "request timeout")

	root.AddCommand(newListCmd(), newCreateCmd(), newJoinCmd())
	return root
}

func client() *probe.Client {
	return probe.NewClient(flagBaseURL, probe.WithTimeout(flagTimeout))
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recently active sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
			defer cancel()
			list, err := client().ListSessions(ctx)
			if err != nil {
				return err
			}
			if len(list.Sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}
			for _, s := range list.Sessions {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s seated=%d conns=%d updated=%s\n",
					s.Name, s.Seated, s.Connection, s.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a session and print its URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
			defer cancel()
			loc, err := client().CreateSession(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(flagBaseURL, "/")+loc)
			return nil
		},
	}
}

func newJoinCmd() *cobra.Command {
	var (
		seat  string
		name  string
		moves []string
		watch time.Duration
	)
	cmd := &cobra.Command{
		Use:   "join <session>",
		Short: "Join a session, optionally claim a seat and play moves, and print events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			planned, err := parseMoves(moves)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			sock := probe.NewSocket(client().WebSocketURL(args[0]), 3)
			sock.OnStateChange(func(state probe.State) {
				fmt.Fprintf(cmd.ErrOrStderr(), "ws state: %s\n", state)
			})
			sock.OnEvent(func(env bughousedto.Envelope) {
				fmt.Fprintf(out, "%s %s\n", env.Type, env.Payload)
			})

			cctx, ccancel := context.WithTimeout(ctx, flagTimeout)
			defer ccancel()
			if err := sock.Connect(cctx); err != nil {
				return fmt.Errorf("ws connect: %w", err)
			}
			defer sock.Close(context.Background())

			if seat != "" {
				if err := sock.ClaimSeat(ctx, seat, name); err != nil {
					return err
				}
			}
			for _, mv := range planned {
				if err := sock.Move(ctx, mv.board, mv.text); err != nil {
					return err
				}
			}

			t := time.NewTimer(watch)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&seat, "seat", "", "seat to claim (board1w, board1b, board2w, board2b)")
	cmd.Flags().StringVar(&name, "name", "probe", "player name used with --seat")
	cmd.Flags().StringSliceVar(&moves, "move", nil, "move to play as board:move, e.g. 1:e2e4 (repeatable)")
	cmd.Flags().DurationVar(&watch, "watch", 10*time.Second, "how long to print events")
	return cmd
}

type plannedMove struct {
	board int
	text  string
}

func parseMoves(raw []string) ([]plannedMove, error) {
	out := make([]plannedMove, 0, len(raw))
	for _, r := range raw {
		b, mv, ok := strings.Cut(r, ":")
		if !ok {
			return nil, fmt.Errorf("move %q: want board:move", r)
		}
		board, err := strconv.Atoi(b)
		if err != nil || (board != 1 && board != 2) {
			return nil, fmt.Errorf("move %q: board must be 1 or 2", r)
		}
		if strings.TrimSpace(mv) == "" {
			return nil, fmt.Errorf("move %q: empty move", r)
		}
		out = append(out, plannedMove{board: board, text: strings.TrimSpace(mv)})
	}
	return out, nil
}

func envDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
