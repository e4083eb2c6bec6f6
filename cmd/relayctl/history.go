package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/chat-relay/internal/config"
	"github.com/ashureev/chat-relay/internal/domain"
	"github.com/ashureev/chat-relay/internal/store"
)

func newHistoryCommand() *cobra.Command {
	var (
		after  int64
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print stored turns from the configured store",
		Long:  "Reads turns directly from the store selected by STORE_DRIVER and its settings.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			st, err := store.Open(ctx, cfg.Store)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = st.Close() }()

			turns, err := st.ListSince(ctx, after)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), turns, asJSON)
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "only print turns with a larger id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the history as JSON")
	return cmd
}

func printHistory(w io.Writer, turns []domain.Turn, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(domain.Views(turns))
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSER\tTIMESTAMP\tMESSAGE")
	for _, t := range turns {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", t.ID, t.Author.Label(), t.CreatedAt.Format(time.RFC3339), t.Text)
	}
	return tw.Flush()
}
