package mutiny_test

import (
	"bufio"
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	//go:embed testing/*
	testingFS  embed.FS
	mutinyPath string

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")

	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", t.Name()+"*")
			require.NoError(t, err)
			_, err = fmt.Fprintf(t.Output(), "TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			require.NoError(t, err)
			return dir
		}
	}

	if !isExecutable("mutiny-ci") {
		slog.Warn("cannot locate mutiny-ci binary, integration tests are skipped: run go build -race -cover -covermode=atomic -o mutiny-ci ./cmd/mutiny/ first")
		os.Exit(0)
	}

	var err error
	mutinyPath, err = filepath.Abs("mutiny-ci")
	if err != nil {
		slog.Error("can't get abspath for mutiny-ci", "error", err)
		os.Exit(1)
	}
	coverDir, err := filepath.Abs("coverage")
	if err != nil {
		slog.Error("can't get value for GOCOVERDIR for mutiny-ci", "error", err)
		os.Exit(1)
	}
	err = rmRfMkdirp(coverDir)
	if err != nil {
		slog.Error("can't reset GOCOVERDIR for mutiny-ci", "error", err, "coverdir", coverDir)
		os.Exit(1)
	}

	// minions inherit it too
	err = os.Setenv("GOCOVERDIR", coverDir)
	if err != nil {
		slog.Error("can't set GOCOVERDIR env variable", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func TestMutiny(t *testing.T) {
	_ = chDir(t)

	const config = `
version: 0
pool:
    size: 2
timeout:
    percent: 150
    constant: PT1S
reaper:
    interval: PT0.2S
engine:
    id: exec
    settings:
        command: |
            case "$MUTINY_TEST_NAME" in
                TestSum) exit 1 ;;
                TestLoop) sleep 60 ;;
            esac
results:
    dir: .
    database: history.db
`
	creat(t, "mutiny.yaml", []byte(config))
	fixture(t, "testing/plan.yaml")

	stdout := mutiny(t, "run", "--config", "mutiny.yaml", "plan.yaml")
	// store the $TEST_NAME output
	creat(t, t.Name()+".txt", stdout)

	out := string(stdout)
	require.Contains(t, out, "Analysing 4 mutants")
	require.Contains(t, out, "[4/4]")
	require.Contains(t, out, "KILLED       calc.Calculator.Add(int,int)int/ARITHMETIC#0 by calc.CalculatorTest.TestSum")
	require.Contains(t, out, "SURVIVED     calc.Calculator.Sub(int,int)int/ARITHMETIC#0 after 1 test")
	require.Contains(t, out, "TIMED_OUT    calc.Calculator.Loop(int)int/CONDITIONALS_BOUNDARY#1 after 1 test")
	require.Contains(t, out, "SURVIVED     calc.Calculator.String()string/EMPTY_RETURNS#0")
	require.Contains(t, out, "50.0%")

	matches, err := filepath.Glob("mutiny-*.ndjson")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	statuses := map[string]string{}
	f, err := os.Open(matches[0])
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r struct {
			Unit struct {
				ID struct {
					Method string `json:"method"`
				} `json:"id"`
			} `json:"unit"`
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		statuses[r.Unit.ID.Method] = r.Status
	}
	require.NoError(t, scanner.Err())
	require.Equal(t, map[string]string{
		"Add":    "KILLED",
		"Sub":    "SURVIVED",
		"Loop":   "TIMED_OUT",
		"String": "SURVIVED",
	}, statuses)

	history := string(mutiny(t, "history", "--config", "mutiny.yaml"))
	require.Contains(t, history, "ok")
}

func TestMutiny_BadPlan(t *testing.T) {
	_ = chDir(t)
	creat(t, "mutiny.yaml", []byte("version: 0\n"))
	creat(t, "plan.yaml", []byte("units: []\n"))

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	t.Cleanup(cancel)
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, mutinyPath, "run", "--config", "mutiny.yaml", "plan.yaml")
	cmd.Stderr = &stderr
	err := cmd.Run()
	require.Error(t, err)
	require.Contains(t, stderr.String(), "no mutation units")
}

func mutiny(t *testing.T, args ...string) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, mutinyPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		t.Logf("%s", stderr.String())
		require.NoError(t, err)
	}
	return stdout.Bytes()
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func rmRfMkdirp(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func chDir(t *testing.T) string {
	t.Helper()
	tempdir := tmpDir(t)
	t.Chdir(tempdir)
	return tempdir
}

func creat(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
}

func fixture(t *testing.T, inPath string) string {
	t.Helper()
	b, err := testingFS.ReadFile(inPath)
	require.NoError(t, err)
	path := filepath.Base(inPath)
	creat(t, path, b)
	return path
}
