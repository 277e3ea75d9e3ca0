package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fieldops/assistant/internal/app"
	"github.com/fieldops/assistant/internal/config"
	"github.com/fieldops/assistant/internal/log"
	"github.com/fieldops/assistant/internal/session"
)

func newSessionsCmd() *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored sessions",
	}
	sessionsCmd.AddCommand(newSessionsListCmd())
	sessionsCmd.AddCommand(newSessionsShowCmd())
	sessionsCmd.AddCommand(newSessionsDeleteCmd())
	return sessionsCmd
}

func newSessionsListCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sessions, err := a.SessionStore.List(ctx, userID, session.SessionQuota, 0)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tUPDATED")
				for _, s := range sessions {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
						s.ID, s.Title, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "anonymous", "user id to list sessions for")
	return cmd
}

func newSessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("%w: %s", session.ErrInvalidSessionID, args[0])
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				messages, err := a.SessionStore.Messages(ctx, id, session.MessageQuery{Limit: session.MaxMessageLimit})
				if err != nil {
					return err
				}
				for _, m := range messages {
					fmt.Printf("[%d] %s: %v\n", m.SequenceNumber, m.Role, m.Content)
				}
				return nil
			})
		},
	}
}

func newSessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("%w: %s", session.ErrInvalidSessionID, args[0])
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.SessionStore.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Println("deleted", id)
				return nil
			})
		},
	}
}

// withApp loads config, sets up the app, runs fn, and tears down.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := log.New(log.Config{Level: slog.LevelWarn})
	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	return fn(ctx, a)
}
