package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/CZERTAINLY/Mutiny/internal/factory"
	"github.com/CZERTAINLY/Mutiny/internal/log"
	"github.com/CZERTAINLY/Mutiny/internal/model"
	"github.com/CZERTAINLY/Mutiny/internal/service"
	"github.com/CZERTAINLY/Mutiny/internal/store"
	"github.com/CZERTAINLY/Mutiny/internal/ui"
	"github.com/google/uuid"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "run analyses every mutation unit of a plan with a pool of minions",
		Args:  cobra.ExactArgs(1),
		RunE:  doRun,
	}
	cmd.Flags().Int("pool-size", 0, "number of minions, overrides pool.size")
	cmd.Flags().String("engine", "", "test engine of minions: exec or noop, overrides engine.id")
	cmd.Flags().Int("timeout-percent", 0, "allowance over the normal test duration in percent, overrides timeout.percent")
	return cmd
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	runID := uuid.NewString()
	attrs := slog.Group("mutiny",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	plan, err := loadPlan(args[0])
	if err != nil {
		return err
	}

	tally := ui.NewTally()
	listeners := []model.ResultListener{tally}
	if config.Verbose() {
		listeners = append(listeners, service.LogListener{})
	}

	out := cmd.OutOrStdout()
	progress := ui.New(out, ui.IsTTY(out))

	var closers []func(error) error
	if config.Results != nil && config.Results.Database != nil {
		recorder, finish, err := openHistory(ctx, *config.Results.Database, runID, len(plan.Units))
		if err != nil {
			return err
		}
		listeners = append(listeners, recorder)
		closers = append(closers, finish)
	}
	if config.Results != nil && config.Results.Dir != nil {
		f, err := service.NewResultsFile(*config.Results.Dir, time.Now())
		if err != nil {
			return fmt.Errorf("opening results file: %w", err)
		}
		slog.DebugContext(ctx, "writing results", "dir", *config.Results.Dir, "file", f.Name())
		listeners = append(listeners, f)
		closers = append(closers, func(error) error { return f.Close() })
	}

	if err := progress.Start(len(plan.Units)); err != nil {
		return fmt.Errorf("starting progress: %w", err)
	}
	listeners = append(listeners, progress)

	runErr := service.Run(ctx, config, plan.Units,
		service.WithRunID(runID),
		service.WithListeners(listeners...),
		service.WithFactoryConfig(inheritFlags),
	)
	progress.Close()

	errs := []error{runErr}
	for _, closeFn := range closers {
		errs = append(errs, closeFn(runErr))
	}

	if runErr == nil {
		ui.RenderSummary(out, tally.Counts())
	}
	return errors.Join(errs...)
}

func loadPlan(path string) (model.Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Plan{}, fmt.Errorf("opening plan: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	plan, err := model.LoadPlan(f)
	if err != nil {
		return model.Plan{}, fmt.Errorf("loading plan %s: %w", path, err)
	}
	return plan, nil
}

// openHistory records the run in the sqlite database. The returned func
// marks the run finished and closes the database.
func openHistory(ctx context.Context, path, runID string, units int) (model.ResultListener, func(error) error, error) {
	db, err := store.InitDB(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening history: %w", err)
	}
	if err := store.StartRun(ctx, db, runID, units, time.Now()); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	recorder := store.NewRecorder(db, runID)
	finish := func(runErr error) error {
		ctx := context.WithoutCancel(ctx)
		err := errors.Join(
			recorder.Err(),
			store.FinishRun(ctx, db, runID, runErr, time.Now()),
			db.Close(),
		)
		if err != nil {
			return fmt.Errorf("recording history: %w", err)
		}
		return nil
	}
	return recorder, finish, nil
}

// inheritFlags passes launch flags down to minions.
func inheritFlags(c *factory.Config) {
	if config.Verbose() {
		c.Args = append(c.Args, "--verbose")
	}
}
