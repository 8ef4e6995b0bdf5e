package persistence

import (
	"fmt"
	"time"

	"github.com/prochestra/prochestra/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

type NotFoundError struct {
	Kind string
	Key  string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Key)
}

// ListFilter narrows ListExecutions. Zero values mean "no filter"; Limit is
// clamped to MaxListLimit by implementations.
type ListFilter struct {
	Status    model.ExecutionStatus
	ProcessId string
	CreatedBy string
	Limit     int
	Offset    int
}

const MaxListLimit = 100
const DefaultListLimit = 20

func (f ListFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		return MaxListLimit
	}
	return f.Limit
}

func (f ListFilter) Matches(e *model.ProcessExecution) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.ProcessId != "" && e.ProcessId != f.ProcessId {
		return false
	}
	if f.CreatedBy != "" && e.CreatedBy != f.CreatedBy {
		return false
	}
	return true
}

// ExecutionRepository is the single source of truth for execution state.
// Every operation is individually atomic; the engine composes them and must
// tolerate re-entry by re-deriving from persisted rows. All status changes
// go through CompareAndSetStatus, never an unconditional write.
type ExecutionRepository interface {
	CreateExecution(execution *model.ProcessExecution) error
	GetExecution(id string) (*model.ProcessExecution, error)
	ListExecutions(filter ListFilter) ([]*model.ProcessExecution, int, error)

	// CompareAndSetStatus atomically moves the execution from expected to
	// next. It returns false without touching the record when the current
	// status does not match expected. The terminal invariant is maintained
	// in the same atomic step: completedAt is set iff next is terminal, and
	// startedAt is stamped on the first transition to running.
	CompareAndSetStatus(id string, expected model.ExecutionStatus, next model.ExecutionStatus) (bool, error)

	// SaveExecution persists non-status fields (output, cost). The stored
	// status, startedAt and completedAt are authoritative and survive this
	// write untouched.
	SaveExecution(execution *model.ProcessExecution) error

	UpsertStepExecution(step *model.StepExecution) error
	GetStepExecution(executionId string, stepId string) (*model.StepExecution, error)
	ListStepExecutions(executionId string) ([]*model.StepExecution, error)

	// ClaimStep conditionally moves (executionId, stepId) from pending to
	// running. Exactly one dispatcher wins; a second claim returns false.
	ClaimStep(executionId string, stepId string) (bool, error)
}

// DefinitionStorage holds immutable, versioned process templates. Read-only
// to the engine.
type DefinitionStorage interface {
	Save(def *model.ProcessDefinition) error
	Get(id string, version int) (*model.ProcessDefinition, error)
	GetLatest(id string) (*model.ProcessDefinition, error)
	NextVersion(id string) (int, error)
}

// EvaluationQueue carries "re-evaluate execution X" messages from status
// changing writes to the engine poll loop.
type EvaluationQueue interface {
	Push(executionId string) error
	Pop(batchSize int) ([]string, error)
}

// DelayQueue holds messages that become visible only after their delay has
// elapsed. Used for step timeout enforcement.
type DelayQueue interface {
	PushWithDelay(message []byte, delay time.Duration) error
	Pop() ([]string, error)
}
