package main

import (
	"log/slog"
	"os"

	"github.com/CZERTAINLY/Mutiny/internal/control"
	"github.com/CZERTAINLY/Mutiny/internal/factory"
	"github.com/CZERTAINLY/Mutiny/internal/log"
	"github.com/CZERTAINLY/Mutiny/internal/minion"

	"github.com/spf13/cobra"
)

func newMinionCmd() *cobra.Command {
	return &cobra.Command{
		Use:    factory.DefaultSubcommand + " <name> <address>",
		Short:  "internal command",
		Args:   cobra.ExactArgs(2),
		RunE:   doMinion,
		Hidden: true,
	}
}

func doMinion(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name, address := args[0], args[1]
	attrs := slog.Group("mutiny",
		slog.String("cmd", factory.DefaultSubcommand),
		slog.String("minion", name),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)
	if runID, ok := os.LookupEnv(factory.EnvRunID); ok {
		ctx = log.ContextAttrs(ctx, slog.String("run", runID))
	}

	client := control.NewClient(address, name)
	// stdout of the minion is not read by anyone, test output goes to stderr
	return minion.Run(ctx, client, os.Stderr)
}
