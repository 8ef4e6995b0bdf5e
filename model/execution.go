package model

import "time"

type ExecutionStatus string

const EXECUTION_PENDING ExecutionStatus = "pending"
const EXECUTION_RUNNING ExecutionStatus = "running"
const EXECUTION_PAUSED ExecutionStatus = "paused"
const EXECUTION_COMPLETED ExecutionStatus = "completed"
const EXECUTION_FAILED ExecutionStatus = "failed"
const EXECUTION_CANCELLED ExecutionStatus = "cancelled"

func (s ExecutionStatus) Valid() bool {
	switch s {
	case EXECUTION_PENDING, EXECUTION_RUNNING, EXECUTION_PAUSED,
		EXECUTION_COMPLETED, EXECUTION_FAILED, EXECUTION_CANCELLED:
		return true
	}
	return false
}

func (s ExecutionStatus) Terminal() bool {
	switch s {
	case EXECUTION_COMPLETED, EXECUTION_FAILED, EXECUTION_CANCELLED:
		return true
	}
	return false
}

func (s ExecutionStatus) Active() bool {
	return s.Valid() && !s.Terminal()
}

// CanTransition is the execution state machine:
// pending -> running -> {paused <-> running} -> {completed|failed|cancelled}.
// Cancellation is reachable from any active state.
func CanTransition(from ExecutionStatus, to ExecutionStatus) bool {
	switch from {
	case EXECUTION_PENDING:
		return to == EXECUTION_RUNNING || to == EXECUTION_CANCELLED
	case EXECUTION_RUNNING:
		return to == EXECUTION_PAUSED || to.Terminal()
	case EXECUTION_PAUSED:
		return to == EXECUTION_RUNNING || to == EXECUTION_CANCELLED
	}
	return false
}

type ProcessExecution struct {
	Id             string          `json:"id"`
	ProcessId      string          `json:"processId"`
	ProcessVersion int             `json:"processVersion"`
	Status         ExecutionStatus `json:"status"`
	Input          map[string]any  `json:"input,omitempty"`
	Output         map[string]any  `json:"output,omitempty"`
	TotalCost      float64         `json:"totalCost"`
	RetryOf        string          `json:"retryOf,omitempty"`
	CreatedBy      string          `json:"createdBy,omitempty"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type StepStatus string

const STEP_PENDING StepStatus = "pending"
const STEP_RUNNING StepStatus = "running"
const STEP_COMPLETED StepStatus = "completed"
const STEP_FAILED StepStatus = "failed"
const STEP_SKIPPED StepStatus = "skipped"

func (s StepStatus) Valid() bool {
	switch s {
	case STEP_PENDING, STEP_RUNNING, STEP_COMPLETED, STEP_FAILED, STEP_SKIPPED:
		return true
	}
	return false
}

// Done reports whether the step has reached a final state.
func (s StepStatus) Done() bool {
	switch s {
	case STEP_COMPLETED, STEP_FAILED, STEP_SKIPPED:
		return true
	}
	return false
}

// StepExecution records one step's attempt within an execution. Rows are
// created lazily the first time a step becomes eligible and are never
// deleted.
type StepExecution struct {
	ExecutionId string         `json:"executionId"`
	StepId      string         `json:"stepId"`
	Status      StepStatus     `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Cost        float64        `json:"cost"`
	RetryCount  int            `json:"retryCount"`
	ApprovedBy  string         `json:"approvedBy,omitempty"`
	ApprovedAt  *time.Time     `json:"approvedAt,omitempty"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

func (s *StepExecution) Approved() bool {
	return s.ApprovedBy != ""
}
