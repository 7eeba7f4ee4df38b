package model_test

import (
	"strings"
	"testing"
	"time"

	"github.com/CZERTAINLY/Mutiny/internal/model"
	"github.com/stretchr/testify/require"
)

const plan = `
units:
  - id:
      class: calc.Calculator
      method: Add
      signature: (int,int)int
      mutator: ARITHMETIC
      index: 0
    tests:
      - class: calc.CalculatorTest
        name: TestAdd
        duration: 120ms
      - class: calc.CalculatorTest
        name: TestSum
  - id:
      class: calc.Calculator
      method: Add
      mutator: ARITHMETIC
      index: 1
    tests: []
`

func TestLoadPlan(t *testing.T) {
	p, err := model.LoadPlan(strings.NewReader(plan))
	require.NoError(t, err)
	require.Len(t, p.Units, 2)

	first := p.Units[0]
	require.Equal(t, "calc.Calculator", first.ID.Class)
	require.Equal(t, "calc.Calculator.Add(int,int)int/ARITHMETIC#0", first.ID.String())
	require.Len(t, first.Tests, 2)
	require.Equal(t, 120*time.Millisecond, first.Tests[0].Duration)
	require.Equal(t, "calc.CalculatorTest.TestSum", first.Tests[1].String())
	require.Zero(t, first.Tests[1].Duration)

	require.Empty(t, p.Units[1].Tests)
}

func TestLoadPlan_Fail(t *testing.T) {
	var testCases = []struct {
		scenario string
		given    string
		then     string
	}{
		{"empty", "", model.ErrNoUnits.Error()},
		{"no units", "units: []\n", model.ErrNoUnits.Error()},
		{"unknown field", "units: []\nextra: 1\n", "decoding plan"},
		{"missing mutator", "units:\n  - id: {class: a, method: b}\n", "units[0]: id needs class, method and mutator"},
		{"missing test name", "units:\n  - id: {class: a, method: b, mutator: m}\n    tests: [{class: t}]\n", "units[0].tests[0]: missing name"},
		{
			"duplicate",
			"units:\n  - id: {class: a, method: b, mutator: m}\n  - id: {class: a, method: b, mutator: m}\n",
			"units[1]: duplicate of units[0]",
		},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			_, err := model.LoadPlan(strings.NewReader(tt.given))
			require.Error(t, err)
			require.ErrorContains(t, err, tt.then)
		})
	}
}
