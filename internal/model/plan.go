package model

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Plan is the analysis input produced by the mutant-generation engine: an
// ordered backlog of mutation units.
type Plan struct {
	Units []MutationUnit `yaml:"units"`
}

// LoadPlan decodes and validates a plan. Units keep the file order, which is
// the order the scheduler hands them out.
func LoadPlan(r io.Reader) (Plan, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var plan Plan
	if err := dec.Decode(&plan); err != nil {
		if errors.Is(err, io.EOF) {
			return Plan{}, ErrNoUnits
		}
		return Plan{}, fmt.Errorf("decoding plan: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

func (p Plan) Validate() error {
	if len(p.Units) == 0 {
		return ErrNoUnits
	}
	var errs []error
	seen := make(map[MutationID]int, len(p.Units))
	for i, unit := range p.Units {
		if unit.ID.Class == "" || unit.ID.Method == "" || unit.ID.Mutator == "" {
			errs = append(errs, fmt.Errorf("units[%d]: id needs class, method and mutator", i))
		}
		if j, ok := seen[unit.ID]; ok {
			errs = append(errs, fmt.Errorf("units[%d]: duplicate of units[%d] (%s)", i, j, unit.ID))
		}
		seen[unit.ID] = i
		for k, test := range unit.Tests {
			if test.Name == "" {
				errs = append(errs, fmt.Errorf("units[%d].tests[%d]: missing name", i, k))
			}
			if test.Duration < 0 {
				errs = append(errs, fmt.Errorf("units[%d].tests[%d]: negative duration", i, k))
			}
		}
	}
	return errors.Join(errs...)
}
