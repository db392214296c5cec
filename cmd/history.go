package cmd

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/animc/internal/config"
	"github.com/papapumpkin/animc/internal/history"
	"github.com/papapumpkin/animc/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:   "history [build-id]",
	Short: "Show recorded builds, or the jobs of one build",
	Long: `Without arguments, lists the most recent builds. With a build id, lists the
outcome of every animation in that build. With --animation, lists the recent
outcomes of one animation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of rows to show")
	historyCmd.Flags().String("animation", "", "show the outcomes of one animation path")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	anim, _ := cmd.Flags().GetString("animation")

	ctx := cmd.Context()
	store, err := history.Open(ctx, historyPath(cfg))
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	switch {
	case anim != "":
		jobs, err := store.AnimationJobs(ctx, anim, limit)
		if err != nil {
			return err
		}
		printJobs(out, jobs)
	case len(args) == 1:
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("history: build id %q: %w", args[0], err)
		}
		jobs, err := store.Jobs(ctx, id)
		if err != nil {
			return err
		}
		printJobs(out, jobs)
	default:
		builds, err := store.Recent(ctx, limit)
		if err != nil {
			return err
		}
		rows := make([]ui.HistoryRow, len(builds))
		for i, b := range builds {
			rows[i] = ui.HistoryRow{
				ID: b.ID, StartedAt: b.StartedAt, Platform: b.Platform,
				Recompiled: b.Recompiled, Skipped: b.Skipped, Failed: b.Failed, Elapsed: b.Elapsed(),
			}
		}
		ui.NewWriter(out).History(rows)
	}
	return nil
}

// printJobs writes one aligned row per job.
func printJobs(w io.Writer, jobs []history.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "no jobs recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BUILD\tOUTCOME\tANIMATION\tARCHIVE\tDETAIL")
	for _, j := range jobs {
		detail := j.StaleReason
		if j.Error != "" {
			detail = j.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", j.BuildID, j.Outcome, j.Animation, j.Archive, detail)
	}
	tw.Flush()
}
