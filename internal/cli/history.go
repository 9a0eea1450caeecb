package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/storeload/internal/history"
	"github.com/wesleyorama2/storeload/internal/output"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored runs",
	Long: `List runs recorded in the history database, newest first.

Runs are recorded when HISTORY_DB (or --db) names a database file.`,
	Args: cobra.NoArgs,
	RunE: listHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a stored run",
	Long:  `Show the full report of a stored run. A unique prefix of the run id is enough.`,
	Args:  cobra.ExactArgs(1),
	RunE:  showHistory,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the newest runs",
	Args:  cobra.NoArgs,
	RunE:  pruneHistory,
}

// openHistory opens the database named by --db or HISTORY_DB.
func openHistory(cmd *cobra.Command) (*history.Store, error) {
	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		path = cfg.HistoryDB
	}
	if path == "" {
		return nil, fmt.Errorf("no history database; set HISTORY_DB or pass --db")
	}
	return history.Open(path)
}

func listHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	items, err := store.List(limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if items == nil {
			items = []history.Item{}
		}
		return output.EncodeJSON(out, items)
	}

	if len(items) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tPROFILE\tRESULT\tDURATION\tMAX VUS\tREQUESTS\tERRORS\tRPS\tP95\tP99")
	for _, item := range items {
		s := item.Summary
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%.2f%%\t%.1f\t%s\t%s\n",
			shortID(item.ID),
			item.StartTime.Local().Format("2006-01-02 15:04:05"),
			item.Profile,
			resultLabel(item),
			s.Duration.Round(time.Second),
			s.MaxVUs,
			s.TotalRequests,
			s.ErrorRate*100,
			s.RPS,
			s.P95,
			s.P99,
		)
	}
	return tw.Flush()
}

func showHistory(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	noColor, _ := cmd.Flags().GetBool("no-color")

	reportFormat, err := output.ParseFormat(format)
	if err != nil {
		return err
	}

	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	item, err := store.Get(args[0])
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	if item.Result == nil {
		return fmt.Errorf("run %s has no stored report", item.ID)
	}

	if reportFormat == output.FormatText {
		output.NewConsoleOutput(output.ConsoleOutputConfig{
			Writer:   cmd.OutOrStdout(),
			NoColors: noColor,
		}).PrintSummary(item.Result)
		return nil
	}
	return output.WriteReport(cmd.OutOrStdout(), reportFormat, item.Result)
}

func pruneHistory(cmd *cobra.Command, args []string) error {
	keep, _ := cmd.Flags().GetInt("keep")
	if keep < 0 {
		return fmt.Errorf("--keep must not be negative")
	}

	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	removed, err := store.Prune(keep)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d run(s), kept the newest %d\n", removed, keep)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func resultLabel(item history.Item) string {
	switch {
	case item.Interrupted:
		return "interrupted"
	case item.Passed:
		return "passed"
	default:
		return "failed"
	}
}

func init() {
	historyCmd.PersistentFlags().String("db", "", "History database file (overrides HISTORY_DB)")
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to list (0 for all)")
	historyCmd.Flags().Bool("json", false, "Print the runs as JSON")

	historyShowCmd.Flags().StringP("format", "f", "text", "Report format (text, json, yaml, junit)")
	historyPruneCmd.Flags().Int("keep", 50, "Number of newest runs to keep")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyPruneCmd)
}
