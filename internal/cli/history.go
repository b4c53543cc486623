package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/azbench/internal/history"
)

func newHistoryCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect previous runs",
	}

	cmd.AddCommand(newHistoryListCmd(v))
	cmd.AddCommand(newHistoryShowCmd(v))
	return cmd
}

func newHistoryListCmd(v *viper.Viper) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(v)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}

			printRunTable(cmd, records)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list (0 for all)")
	return cmd
}

func newHistoryShowCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a recorded run as JSON",
		Long:  "Print a recorded run as JSON. A unique prefix of the run ID is enough.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(v)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Get(args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
}

func printRunTable(cmd *cobra.Command, records []history.RunRecord) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tNAME\tREQUESTS\tERRORS\tP95\tRESULT")
	for _, rec := range records {
		result := "passed"
		if !rec.Passed {
			result = "failed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.2f%%\t%s\t%s\n",
			shortID(rec.ID),
			rec.StartedAt.Local().Format(time.DateTime),
			rec.Name,
			rec.Summary.Requests,
			rec.Summary.ErrorRate*100,
			rec.Summary.LatencyP95.Round(time.Millisecond),
			result,
		)
	}
	_ = w.Flush()
}

// shortID trims UUIDs to their first group, which is enough for show.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
