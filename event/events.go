package event

import "time"

type EventType string

const EXECUTION_CREATED EventType = "execution.created"
const EXECUTION_STARTED EventType = "execution.started"
const EXECUTION_PAUSED EventType = "execution.paused"
const EXECUTION_RESUMED EventType = "execution.resumed"
const EXECUTION_COMPLETED EventType = "execution.completed"
const EXECUTION_FAILED EventType = "execution.failed"
const EXECUTION_CANCELLED EventType = "execution.cancelled"
const EXECUTION_RETRIED EventType = "execution.retried"
const STEP_STARTED EventType = "step.started"
const STEP_COMPLETED EventType = "step.completed"
const STEP_FAILED EventType = "step.failed"
const STEP_SKIPPED EventType = "step.skipped"
const STEP_APPROVED EventType = "step.approved"

// Event is one entry in the audit stream. CallerId is set for operator
// actions and empty for engine-driven transitions.
type Event struct {
	Type        EventType      `json:"type"`
	ExecutionId string         `json:"executionId"`
	StepId      string         `json:"stepId,omitempty"`
	CallerId    string         `json:"callerId,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	At          time.Time      `json:"at"`
}
