package model_test

import (
	"strings"
	"testing"
	"time"

	"github.com/CZERTAINLY/Mutiny/internal/model"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	yml := `
version: 0
pool:
  size: 4
  args:
    - --verbose
  env:
    GOFLAGS: -mod=mod
  search_path:
    - /opt/lib
timeout:
  percent: 150
  constant: PT3S
reaper:
  interval: PT0.5S
engine:
  id: exec
  settings:
    command: make test
results:
  dir: /tmp/mutiny
`
	cfg, err := model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Pool.Size)
	require.Equal(t, []string{"--verbose"}, cfg.Pool.Args)
	require.Equal(t, "-mod=mod", cfg.Pool.Env["GOFLAGS"])
	require.Equal(t, []string{"/opt/lib"}, cfg.Pool.SearchPath)
	require.True(t, cfg.Pool.InheritEnv)
	require.Nil(t, cfg.Pool.Executable)
	require.Equal(t, 150, cfg.Timeout.Percent)

	constant, err := cfg.Timeout.ConstantDuration()
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, constant)

	interval, err := cfg.Reaper.IntervalDuration()
	require.NoError(t, err)
	require.Equal(t, 500*time.Millisecond, interval)

	shared := cfg.SharedConfig()
	require.Equal(t, model.EngineExec, shared.EngineID)
	require.Equal(t, "make test", shared.Settings["command"])

	require.NotNil(t, cfg.Results)
	require.NotNil(t, cfg.Results.Dir)
	require.Equal(t, "/tmp/mutiny", *cfg.Results.Dir)
	require.Nil(t, cfg.Results.Database)
	require.False(t, cfg.Verbose())
}

func TestDefaultConfig(t *testing.T) {
	cfg := model.DefaultConfig()
	require.Equal(t, 2, cfg.Pool.Size)
	require.Equal(t, 125, cfg.Timeout.Percent)
	require.Equal(t, "PT4S", cfg.Timeout.Constant)
	require.Equal(t, "PT2S", cfg.Reaper.Interval)
	require.Equal(t, model.EngineExec, cfg.Engine.ID)
	require.Contains(t, cfg.Engine.Settings["command"], "MUTINY_TEST_NAME")
}

func TestLoadConfig_Fail(t *testing.T) {
	var testCases = []struct {
		scenario string
		given    string
		then     string
	}{
		{"pool too small", "version: 0\npool:\n  size: 0\n", "pool.size"},
		{"unknown engine", "version: 0\nengine:\n  id: jvm\n", "engine.id"},
		{"unknown field", "version: 0\nworkers: 3\n", "workers"},
		{"bad duration", "version: 0\nreaper:\n  interval: 2s\n", "reaper.interval"},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			_, err := model.LoadConfig(strings.NewReader(tt.given))
			require.Error(t, err)
			details := model.CueErrDetails(err)
			require.NotEmpty(t, details)
			var paths []string
			for _, d := range details {
				paths = append(paths, d.Path)
			}
			require.Contains(t, paths, tt.then)
		})
	}
}

func TestLoadConfig_ZeroInterval(t *testing.T) {
	_, err := model.LoadConfig(strings.NewReader("version: 0\nreaper:\n  interval: PT0S\n"))
	require.Error(t, err)
	require.ErrorContains(t, err, "reaper.interval")
}
