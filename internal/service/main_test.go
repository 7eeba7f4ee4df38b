package service_test

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"testing"

	"github.com/CZERTAINLY/Mutiny/internal/control"
	"github.com/CZERTAINLY/Mutiny/internal/factory"
	"github.com/CZERTAINLY/Mutiny/internal/minion"
)

// envAsMinion turns the test binary into a minion, the factory launches
// it as `service.test _minion <name> <address>`.
const envAsMinion = "MUTINY_TEST_AS_MINION"

func TestMain(m *testing.M) {
	if os.Getenv(envAsMinion) == "1" {
		os.Exit(runMinion(os.Args[1:]))
	}
	os.Exit(m.Run())
}

func runMinion(args []string) int {
	if len(args) != 3 || args[0] != factory.DefaultSubcommand {
		fmt.Fprintf(os.Stderr, "unexpected minion arguments %q\n", args)
		return 2
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	client := control.NewClient(args[2], args[1])
	if err := minion.Run(ctx, client, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "minion %s: %v\n", args[1], err)
		return 1
	}
	return 0
}
