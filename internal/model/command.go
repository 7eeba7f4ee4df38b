package model

import (
	"encoding/json"
	"fmt"
)

// Action tells a minion what to do with a Command.
type Action string

const (
	ActionAnalyse   Action = "ANALYSE"
	ActionDie       Action = "DIE"
	ActionSelfCheck Action = "SELFCHECK"
)

// Command is sent to a minion in reply to a pull.
type Command struct {
	Mutation MutationID   `json:"mutation"`
	Test     CoveringTest `json:"test"`
	Action   Action       `json:"action"`
}

func (c Command) String() string {
	if c.Action != ActionAnalyse {
		return string(c.Action)
	}
	return fmt.Sprintf("%s %s against %s", c.Action, c.Test, c.Mutation)
}

// ExecutionStatus is the outcome of running one Command. Minions report it,
// the pool synthesizes it for crashed or hung minions.
type ExecutionStatus int

const (
	StatusTestPassed ExecutionStatus = iota
	StatusTestFailed
	StatusTimedOut
	StatusMemoryError
	StatusUnexpectedError
)

var executionStatusNames = [...]string{
	StatusTestPassed:      "TEST_PASSED",
	StatusTestFailed:      "TEST_FAILED",
	StatusTimedOut:        "TIMED_OUT",
	StatusMemoryError:     "MEMORY_ERROR",
	StatusUnexpectedError: "UNEXPECTED_ERROR",
}

func (s ExecutionStatus) String() string {
	if s < 0 || int(s) >= len(executionStatusNames) {
		return fmt.Sprintf("ExecutionStatus(%d)", int(s))
	}
	return executionStatusNames[s]
}

func ParseExecutionStatus(s string) (ExecutionStatus, error) {
	for i, name := range executionStatusNames {
		if name == s {
			return ExecutionStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown execution status %q", s)
}

func (s ExecutionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ExecutionStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	parsed, err := ParseExecutionStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// DetectionStatus is the final verdict on a mutant.
type DetectionStatus string

const (
	DetectionKilled      DetectionStatus = "KILLED"
	DetectionSurvived    DetectionStatus = "SURVIVED"
	DetectionTimedOut    DetectionStatus = "TIMED_OUT"
	DetectionMemoryError DetectionStatus = "MEMORY_ERROR"
	DetectionRunError    DetectionStatus = "RUN_ERROR"
)

// Detection maps the status of the last executed test to a verdict.
func (s ExecutionStatus) Detection() DetectionStatus {
	switch s {
	case StatusTestFailed:
		return DetectionKilled
	case StatusTestPassed:
		return DetectionSurvived
	case StatusTimedOut:
		return DetectionTimedOut
	case StatusMemoryError:
		return DetectionMemoryError
	default:
		return DetectionRunError
	}
}

// Result is emitted once per resolved MutationUnit.
type Result struct {
	Unit        MutationUnit    `json:"unit"`
	Status      DetectionStatus `json:"status"`
	KillingTest *CoveringTest   `json:"killingTest,omitempty"`
	TestsRun    int             `json:"testsRun"`
}

// ResultListener receives results in resolution order. Implementations must
// be safe for use from multiple goroutines.
type ResultListener interface {
	Accept(Result)
}

type ResultListenerFunc func(Result)

func (f ResultListenerFunc) Accept(r Result) {
	f(r)
}

// SharedConfig is handed to every minion when it says hello.
type SharedConfig struct {
	EngineID string            `json:"engineId"`
	Settings map[string]string `json:"settings,omitempty"`
}
