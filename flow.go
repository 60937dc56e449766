package harness

import (
	"fmt"

	"github.com/Open-Harness/open-harness-sub011/internal/compiler"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/schema"
)

// Flow is a compiled flow, ready to run any number of times.
type Flow struct {
	plan   *compiler.Plan
	inputs schema.Schema
}

// Name returns the flow name.
func (f *Flow) Name() string { return f.plan.Flow.Name }

// Spec returns the flow definition. It must not be modified.
func (f *Flow) Spec() *domain.FlowSpec { return f.plan.Flow }

// Order lists node ids in the order the sequential scheduler considers them.
func (f *Flow) Order() []string {
	out := make([]string, 0, len(f.plan.Order()))
	for _, n := range f.plan.Order() {
		out = append(out, n.ID())
	}
	return out
}

// ValidateInput checks input against the declared flow inputs.
func (f *Flow) ValidateInput(input any) error {
	normalized, err := domain.Normalize(input)
	if err != nil {
		return &domain.InputValidationError{Flow: f.Name(), Err: err}
	}
	if err := schema.ValidateInput(f.inputs, normalized); err != nil {
		return &domain.InputValidationError{Flow: f.Name(), Err: err}
	}
	return nil
}

type inputsError struct {
	err error
}

func (e *inputsError) Error() string { return fmt.Sprintf("flow inputs: %v", e.err) }

func (e *inputsError) Unwrap() error { return e.err }

func (e *inputsError) Is(target error) bool { return target == domain.ErrCompile }

func parseInputs(spec *domain.FlowSpec) (schema.Schema, error) {
	if len(spec.Inputs) == 0 {
		return nil, nil
	}
	s, err := schema.Parse(spec.Inputs)
	if err != nil {
		return nil, &inputsError{err: err}
	}
	return s, nil
}
