package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/speakwell/internal/app"
	"github.com/MrWong99/speakwell/internal/history"
)

// NewHistoryCmd returns the history command group.
func NewHistoryCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"hist"},
		Short:   "Review past practice sessions",
	}
	cmd.AddCommand(newHistoryListCmd(deps))
	cmd.AddCommand(newHistoryShowCmd(deps))
	cmd.AddCommand(newHistoryDeleteCmd(deps))
	return cmd
}

func newHistoryListCmd(deps *Dependencies) *cobra.Command {
	var (
		filter history.Filter
		since  time.Duration
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openHistory(deps)
			if err != nil {
				return err
			}
			defer store.Close()

			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			entries, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
				return nil
			}
			return app.WriteList(cmd.OutOrStdout(), entries)
		},
	}
	f := cmd.Flags()
	f.StringVar(&filter.StudentID, "student", "", "only sessions tagged with this student")
	f.StringVar(&filter.ClassID, "class", "", "only sessions tagged with this class")
	f.DurationVar(&since, "since", 0, "only sessions newer than this, e.g. 168h")
	f.IntVarP(&filter.Limit, "limit", "n", 20, "maximum number of sessions (0 for all)")
	return cmd
}

func newHistoryShowCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show the full report of a session",
		Long:  "Show the full report of a session. The id may be abbreviated to any unique prefix.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(deps)
			if err != nil {
				return err
			}
			defer store.Close()

			e, err := history.FindByPrefix(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}
			return app.WriteReport(cmd.OutOrStdout(), e)
		},
	}
}

func newHistoryDeleteCmd(deps *Dependencies) *cobra.Command {
	var keepAudio bool
	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a session and its kept recording",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(deps)
			if err != nil {
				return err
			}
			defer store.Close()

			e, err := history.FindByPrefix(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}
			if err := store.Delete(cmd.Context(), e.ID); err != nil {
				return err
			}
			if e.AudioPath != "" && !keepAudio {
				if err := os.Remove(e.AudioPath); err != nil && !errors.Is(err, os.ErrNotExist) {
					deps.Logger.Warn("could not remove recording", "path", e.AudioPath, "err", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", e.ID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepAudio, "keep-audio", false, "leave the saved recording on disk")
	return cmd
}
