package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/CZERTAINLY/Mutiny/internal/store"
	"github.com/CZERTAINLY/Mutiny/internal/ui"
	"github.com/olekukonko/tablewriter"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [run-uuid]",
		Short: "history lists recorded runs or summarizes one of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if config.Results == nil || config.Results.Database == nil {
				return errors.New("results.database is not configured")
			}
			ctx := cmd.Context()
			db, err := store.InitDB(ctx, *config.Results.Database)
			if err != nil {
				return err
			}
			defer func() {
				_ = db.Close()
			}()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				run, err := store.GetRun(ctx, db, args[0])
				if err != nil {
					return fmt.Errorf("run %s: %w", args[0], err)
				}
				fmt.Fprintln(out, run.String())
				counts, err := store.Summarize(ctx, db, run.UUID)
				if err != nil {
					return err
				}
				ui.RenderSummary(out, counts)
				return nil
			}

			runs, err := store.ListRuns(ctx, db, limit)
			if err != nil {
				return err
			}
			renderRuns(out, runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of most recent runs to list")
	return cmd
}

func renderRuns(w io.Writer, runs []store.RunRow) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Run", "Started", "Units", "Outcome"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT})

	for _, r := range runs {
		table.Append([]string{
			r.UUID,
			r.Started.Local().Format(time.DateTime),
			strconv.Itoa(r.Units),
			outcome(r.Run),
		})
	}
	table.Render()
}

func outcome(r store.Run) string {
	switch {
	case r.Success == nil:
		return "running"
	case *r.Success:
		return "ok"
	case r.FailureReason != nil:
		return "failed: " + *r.FailureReason
	default:
		return "failed"
	}
}
