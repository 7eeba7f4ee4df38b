package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/CZERTAINLY/Mutiny/internal/factory"
	"github.com/CZERTAINLY/Mutiny/internal/model"
	"github.com/CZERTAINLY/Mutiny/internal/service"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mx      sync.Mutex
	results map[string]model.Result
	count   int
}

func newCollector() *collector {
	return &collector{results: map[string]model.Result{}}
}

func (c *collector) Accept(r model.Result) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.results[r.Unit.ID.Method] = r
	c.count++
}

func unit(method string, tests ...string) model.MutationUnit {
	u := model.MutationUnit{
		ID: model.MutationID{Class: "calc.Calculator", Method: method, Mutator: "NEGATE"},
	}
	for _, name := range tests {
		u.Tests = append(u.Tests, model.CoveringTest{Class: "calc.CalculatorTest", Name: name})
	}
	return u
}

func asMinion(c *factory.Config) {
	c.Env = map[string]string{envAsMinion: "1"}
	c.InheritEnv = true
}

func testConfig(engine string, settings map[string]string) model.Config {
	cfg := model.DefaultConfig()
	cfg.Pool.Size = 2
	cfg.Timeout.Constant = "PT1S"
	cfg.Reaper.Interval = "PT0.1S"
	cfg.Engine = model.Engine{ID: engine, Settings: settings}
	return cfg
}

func TestRun_Noop(t *testing.T) {
	if testing.Short() {
		t.Skip("launches minion processes")
	}
	units := []model.MutationUnit{
		unit("Add", "TestAdd", "TestSum"),
		unit("Sub", "TestSub"),
		unit("Mul", "TestMul"),
		unit("Div"),
	}
	results := newCollector()

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	defer cancel()
	err := service.Run(ctx, testConfig(model.EngineNoop, nil), units,
		service.WithListeners(results),
		service.WithFactoryConfig(asMinion),
		service.WithRunID("noop-run"),
	)
	require.NoError(t, err)

	require.Equal(t, len(units), results.count)
	for _, u := range units {
		r, ok := results.results[u.ID.Method]
		require.True(t, ok, u.ID.Method)
		require.Equal(t, model.DetectionSurvived, r.Status)
		require.Equal(t, len(u.Tests), r.TestsRun)
		require.Nil(t, r.KillingTest)
	}
}

func TestRun_Exec(t *testing.T) {
	if testing.Short() {
		t.Skip("launches minion processes")
	}
	const script = `case "$MUTINY_TEST_NAME" in
  TestKill) exit 1 ;;
  TestOOM) exit 3 ;;
  TestHang) sleep 30 ;;
  TestCrash) kill -9 $PPID; sleep 5 ;;
esac`

	units := []model.MutationUnit{
		unit("Killed", "TestPass", "TestKill", "TestNeverRun"),
		unit("Survived", "TestPass", "TestPassAgain"),
		unit("Memory", "TestOOM"),
		unit("Hang", "TestPass", "TestHang"),
		unit("Crash", "TestCrash"),
		unit("After", "TestPass"),
	}
	results := newCollector()

	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	defer cancel()
	cfg := testConfig(model.EngineExec, map[string]string{
		"command":          script,
		"memory_exit_code": "3",
	})
	err := service.Run(ctx, cfg, units,
		service.WithListeners(results),
		service.WithFactoryConfig(asMinion),
	)
	require.NoError(t, err)
	require.Equal(t, len(units), results.count)

	type then struct {
		status   model.DetectionStatus
		testsRun int
		killedBy string
	}
	var testCases = []struct {
		given string
		then  then
	}{
		{"Killed", then{model.DetectionKilled, 2, "TestKill"}},
		{"Survived", then{model.DetectionSurvived, 2, ""}},
		{"Memory", then{model.DetectionMemoryError, 1, ""}},
		{"Hang", then{model.DetectionTimedOut, 2, ""}},
		{"Crash", then{model.DetectionRunError, 1, ""}},
		{"After", then{model.DetectionSurvived, 1, ""}},
	}
	for _, tt := range testCases {
		t.Run(tt.given, func(t *testing.T) {
			r := results.results[tt.given]
			require.Equal(t, tt.then.status, r.Status)
			require.Equal(t, tt.then.testsRun, r.TestsRun)
			if tt.then.killedBy == "" {
				require.Nil(t, r.KillingTest)
				return
			}
			require.NotNil(t, r.KillingTest)
			require.Equal(t, tt.then.killedBy, r.KillingTest.Name)
		})
	}
}

func TestRun_Fail(t *testing.T) {
	t.Run("no units", func(t *testing.T) {
		err := service.Run(t.Context(), testConfig(model.EngineNoop, nil), nil)
		require.ErrorIs(t, err, model.ErrNoUnits)
	})
	t.Run("bad interval", func(t *testing.T) {
		cfg := testConfig(model.EngineNoop, nil)
		cfg.Reaper.Interval = "2s"
		err := service.Run(t.Context(), cfg, []model.MutationUnit{unit("Add", "TestAdd")})
		require.ErrorIs(t, err, model.ErrISOFormat)
	})
	t.Run("missing executable", func(t *testing.T) {
		err := service.Run(t.Context(), testConfig(model.EngineNoop, nil), []model.MutationUnit{unit("Add", "TestAdd")},
			service.WithFactoryConfig(func(c *factory.Config) {
				c.Executable = "/nonexistent/mutiny"
			}),
		)
		require.ErrorIs(t, err, factory.ErrLaunch)
	})
	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		err := service.Run(ctx, testConfig(model.EngineNoop, nil), []model.MutationUnit{unit("Add", "TestAdd")},
			service.WithFactoryConfig(asMinion),
		)
		require.ErrorIs(t, err, context.Canceled)
	})
}
