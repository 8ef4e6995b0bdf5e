package model

type Role string

const ROLE_VIEWER Role = "viewer"
const ROLE_OPERATOR Role = "operator"
const ROLE_ADMIN Role = "admin"

func ToRole(r string) (Role, bool) {
	switch Role(r) {
	case ROLE_VIEWER, ROLE_OPERATOR, ROLE_ADMIN:
		return Role(r), true
	}
	return "", false
}

// Caller identifies the already-authorized principal behind an operator
// action. The surrounding API layer owns authentication; the engine only
// needs the identity for audit attribution and the role for the minimal
// viewer/operator/admin gate.
type Caller struct {
	Id   string `json:"id"`
	Role Role   `json:"role"`
}

type ExecutionRunRequest struct {
	ProcessId string         `json:"processId"`
	Version   int            `json:"version,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
}

type ExecutionDetail struct {
	Execution *ProcessExecution `json:"execution"`
	Steps     []*StepExecution  `json:"steps"`
}

type ExecutionPage struct {
	Items []*ProcessExecution `json:"items"`
	Total int                 `json:"total"`
}

// EvaluationRequest asks the engine to re-derive the given execution's next
// actions from persisted state.
type EvaluationRequest struct {
	ExecutionId string `json:"executionId"`
}

// StepTimeoutMsg is queued with a delay when a step is dispatched; when it
// pops, a still-running step is forced to failed.
type StepTimeoutMsg struct {
	ExecutionId    string `json:"executionId"`
	StepId         string `json:"stepId"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}
