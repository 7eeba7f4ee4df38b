package minion_test

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/CZERTAINLY/Mutiny/internal/minion"
	"github.com/CZERTAINLY/Mutiny/internal/model"
	"github.com/stretchr/testify/require"
)

type report struct {
	cmd    model.Command
	status model.ExecutionStatus
}

type scriptedClient struct {
	shared   model.SharedConfig
	helloErr error
	commands []model.Command
	reports  []report
}

func (c *scriptedClient) Hello(context.Context) (model.SharedConfig, error) {
	return c.shared, c.helloErr
}

func (c *scriptedClient) Pull(context.Context) (model.Command, error) {
	if len(c.commands) == 0 {
		return model.Command{}, errors.New("script exhausted")
	}
	cmd := c.commands[0]
	c.commands = c.commands[1:]
	return cmd, nil
}

func (c *scriptedClient) Report(_ context.Context, cmd model.Command, status model.ExecutionStatus) error {
	c.reports = append(c.reports, report{cmd, status})
	return nil
}

type byTestName map[string]model.ExecutionStatus

func (e byTestName) Execute(_ context.Context, cmd model.Command) model.ExecutionStatus {
	return e[cmd.Test.Name]
}

func analyse(test string) model.Command {
	return model.Command{
		Mutation: model.MutationID{Class: "pkg.T", Method: "M", Mutator: "NEG"},
		Test:     model.CoveringTest{Class: "pkg.TTest", Name: test},
		Action:   model.ActionAnalyse,
	}
}

func TestLoop(t *testing.T) {
	client := &scriptedClient{commands: []model.Command{
		analyse("t0"),
		analyse("t1"),
		{Action: model.ActionDie},
		analyse("never"),
	}}
	executor := byTestName{"t0": model.StatusTestPassed, "t1": model.StatusTestFailed}

	require.NoError(t, minion.Loop(t.Context(), client, executor))
	require.Equal(t, []report{
		{analyse("t0"), model.StatusTestPassed},
		{analyse("t1"), model.StatusTestFailed},
		{model.Command{Action: model.ActionDie}, model.StatusTestPassed},
	}, client.reports)
}

func TestLoop_SelfCheck(t *testing.T) {
	client := &scriptedClient{commands: []model.Command{{Action: model.ActionSelfCheck}}}
	err := minion.Loop(t.Context(), client, minion.Noop{})
	require.ErrorIs(t, err, model.ErrProtocol)
	require.Empty(t, client.reports)
}

func TestRun(t *testing.T) {
	client := &scriptedClient{
		shared:   model.SharedConfig{EngineID: model.EngineNoop},
		commands: []model.Command{analyse("t0"), {Action: model.ActionDie}},
	}
	require.NoError(t, minion.Run(t.Context(), client, nil))
	require.Len(t, client.reports, 2)
	require.Equal(t, model.StatusTestPassed, client.reports[0].status)

	client = &scriptedClient{shared: model.SharedConfig{EngineID: "jvm"}}
	require.ErrorContains(t, minion.Run(t.Context(), client, nil), `unsupported engine "jvm"`)

	client = &scriptedClient{helloErr: errors.New("refused")}
	require.ErrorContains(t, minion.Run(t.Context(), client, nil), "hello: refused")
}

func TestExec(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	script := `echo "$MUTINY_MUTATION $MUTINY_TEST_CLASS.$MUTINY_TEST_NAME"
case "$MUTINY_TEST_NAME" in
  pass) exit 0 ;;
  oom) exit 137 ;;
  crash) kill -9 $$ ;;
  *) exit 1 ;;
esac`

	var out bytes.Buffer
	e, err := minion.NewExec(map[string]string{"command": script, "memory_exit_code": "137"}, &out)
	require.NoError(t, err)

	var testCases = []struct {
		given string
		then  model.ExecutionStatus
	}{
		{"pass", model.StatusTestPassed},
		{"fail", model.StatusTestFailed},
		{"oom", model.StatusMemoryError},
		{"crash", model.StatusUnexpectedError},
	}
	for _, tt := range testCases {
		t.Run(tt.given, func(t *testing.T) {
			require.Equal(t, tt.then, e.Execute(t.Context(), analyse(tt.given)))
		})
	}
	require.Contains(t, out.String(), "pkg.T.M/NEG#0 pkg.TTest.pass\n")
}

func TestNewExec_Invalid(t *testing.T) {
	var testCases = []struct {
		scenario string
		given    map[string]string
	}{
		{"no command", map[string]string{}},
		{"bad memory code", map[string]string{"command": "true", "memory_exit_code": "oom"}},
		{"zero memory code", map[string]string{"command": "true", "memory_exit_code": "0"}},
	}
	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			_, err := minion.NewExec(tt.given, nil)
			require.Error(t, err)
		})
	}
}

func TestEnviron(t *testing.T) {
	env := minion.Environ(analyse("t0"))
	require.Contains(t, env, "MUTINY_TEST_NAME=t0")
	require.Contains(t, env, "MUTINY_MUTATION=pkg.T.M/NEG#0")
	require.Contains(t, env, "MUTINY_INDEX=0")
}
