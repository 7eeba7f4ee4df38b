package model

import (
	"fmt"
	"time"
)

// MutationID identifies one mutant produced by the mutant-generation engine.
type MutationID struct {
	Class     string `json:"class" yaml:"class"`
	Method    string `json:"method" yaml:"method"`
	Signature string `json:"signature,omitempty" yaml:"signature,omitempty"`
	Mutator   string `json:"mutator" yaml:"mutator"`
	Index     int    `json:"index" yaml:"index"`
}

func (id MutationID) String() string {
	return fmt.Sprintf("%s.%s%s/%s#%d", id.Class, id.Method, id.Signature, id.Mutator, id.Index)
}

func (id MutationID) IsZero() bool {
	return id == MutationID{}
}

// CoveringTest is a test known to execute the mutated code. Duration is the
// run time of the test against the unmutated program.
type CoveringTest struct {
	Class    string        `json:"class" yaml:"class"`
	Name     string        `json:"name" yaml:"name"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

func (t CoveringTest) String() string {
	return t.Class + "." + t.Name
}

// MutationUnit is one mutant plus its covering tests in priority order.
type MutationUnit struct {
	ID    MutationID     `json:"id" yaml:"id"`
	Tests []CoveringTest `json:"tests" yaml:"tests"`
}
