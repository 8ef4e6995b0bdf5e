package steps

import "strings"

type OutcomeStatus string

const OUTCOME_COMPLETED OutcomeStatus = "completed"
const OUTCOME_FAILED OutcomeStatus = "failed"

// Request carries everything an executor needs to run one step: the
// resolved input parameters and the accumulated execution data (initial
// input plus prior step outputs).
type Request struct {
	ExecutionId string
	StepId      string
	StepType    string
	Input       map[string]any
	Data        map[string]any
}

// Outcome is the uniform result contract the engine applies to the step
// execution row. A failed outcome carries the error text; a returned error
// from Execute is equivalent to a failed outcome.
type Outcome struct {
	Status OutcomeStatus
	Output map[string]any
	Error  string
	Cost   float64
}

// StepExecutor performs the actual work of one step. The engine is
// executor-agnostic; executors are resolved from the registry by the step
// definition's type.
type StepExecutor interface {
	Type() string
	Execute(req Request) (Outcome, error)
}

func Completed(output map[string]any) Outcome {
	return Outcome{Status: OUTCOME_COMPLETED, Output: output}
}

func Failed(message string) Outcome {
	return Outcome{Status: OUTCOME_FAILED, Error: message}
}

func NormalizeType(stepType string) string {
	return strings.ToLower(strings.TrimSpace(stepType))
}
