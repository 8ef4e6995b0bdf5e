package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	api "github.com/prochestra/prochestra/api/v1"
	"github.com/prochestra/prochestra/definition"
	"github.com/prochestra/prochestra/event"
	"github.com/prochestra/prochestra/logger"
	"github.com/prochestra/prochestra/model"
	"github.com/prochestra/prochestra/persistence"
	"go.uber.org/zap"
)

// Evaluator schedules an execution for engine evaluation.
type Evaluator interface {
	Enqueue(executionId string)
}

// ExecutionService is the operator-facing surface: create, inspect, cancel,
// retry and approve. Every status change goes through the repository's
// conditional write; a raced action degrades to a conflict, never a
// corrupted state.
type ExecutionService struct {
	repo        persistence.ExecutionRepository
	definitions *definition.Service
	evaluator   Evaluator
	recorder    *event.Recorder
}

func NewExecutionService(repo persistence.ExecutionRepository, definitions *definition.Service,
	evaluator Evaluator, recorder *event.Recorder) *ExecutionService {
	return &ExecutionService{
		repo:        repo,
		definitions: definitions,
		evaluator:   evaluator,
		recorder:    recorder,
	}
}

// Create validates the definition reference and persists a new pending
// execution attributed to the caller.
func (s *ExecutionService) Create(caller model.Caller, req model.ExecutionRunRequest) (*model.ProcessExecution, error) {
	if caller.Role == model.ROLE_VIEWER {
		return nil, api.PermissionError{CallerId: caller.Id, Action: "create execution"}
	}
	if req.ProcessId == "" {
		return nil, api.ValidationError{Message: "processId is required"}
	}
	def, err := s.definitions.Get(req.ProcessId, req.Version)
	if err != nil {
		var notFound persistence.NotFoundError
		if errors.As(err, &notFound) {
			return nil, api.ValidationError{Message: fmt.Sprintf("unknown process %s version %d", req.ProcessId, req.Version)}
		}
		return nil, err
	}
	now := time.Now()
	execution := &model.ProcessExecution{
		Id:             uuid.NewString(),
		ProcessId:      def.Id,
		ProcessVersion: def.Version,
		Status:         model.EXECUTION_PENDING,
		Input:          req.Input,
		CreatedBy:      caller.Id,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateExecution(execution); err != nil {
		return nil, err
	}
	logger.Info("execution created", zap.String("executionId", execution.Id),
		zap.String("processId", def.Id), zap.Int("version", def.Version))
	s.recorder.Record(event.Event{Type: event.EXECUTION_CREATED, ExecutionId: execution.Id, CallerId: caller.Id,
		Data: map[string]any{"processId": def.Id, "version": def.Version}})
	s.evaluator.Enqueue(execution.Id)
	return execution, nil
}

// Get returns the execution with its step rows. Viewers only see their own
// executions.
func (s *ExecutionService) Get(caller model.Caller, executionId string) (*model.ExecutionDetail, error) {
	execution, err := s.repo.GetExecution(executionId)
	if err != nil {
		return nil, err
	}
	if caller.Role == model.ROLE_VIEWER && execution.CreatedBy != caller.Id {
		return nil, api.PermissionError{CallerId: caller.Id, Action: "read execution " + executionId}
	}
	rows, err := s.repo.ListStepExecutions(executionId)
	if err != nil {
		return nil, err
	}
	return &model.ExecutionDetail{Execution: execution, Steps: rows}, nil
}

func (s *ExecutionService) List(caller model.Caller, filter persistence.ListFilter) (*model.ExecutionPage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, api.ValidationError{Message: fmt.Sprintf("invalid status filter %q", filter.Status)}
	}
	if caller.Role == model.ROLE_VIEWER {
		filter.CreatedBy = caller.Id
	}
	items, total, err := s.repo.ListExecutions(filter)
	if err != nil {
		return nil, err
	}
	return &model.ExecutionPage{Items: items, Total: total}, nil
}

// Cancel moves an active execution to cancelled. Cancelling an already
// cancelled execution is a no-op; any other terminal status is a conflict.
// In-flight steps are not interrupted, only future dispatch stops.
func (s *ExecutionService) Cancel(caller model.Caller, executionId string) (*model.ProcessExecution, error) {
	if caller.Role == model.ROLE_VIEWER {
		return nil, api.PermissionError{CallerId: caller.Id, Action: "cancel execution " + executionId}
	}
	for {
		execution, err := s.repo.GetExecution(executionId)
		if err != nil {
			return nil, err
		}
		if execution.Status == model.EXECUTION_CANCELLED {
			return execution, nil
		}
		if execution.Status.Terminal() {
			return nil, api.ConflictError{ExecutionId: executionId, Status: string(execution.Status),
				Message: "can not cancel a finished execution"}
		}
		changed, err := s.repo.CompareAndSetStatus(executionId, execution.Status, model.EXECUTION_CANCELLED)
		if err != nil {
			return nil, err
		}
		if !changed {
			// lost the race; re-read and decide again from the new status
			continue
		}
		logger.Info("execution cancelled", zap.String("executionId", executionId), zap.String("callerId", caller.Id))
		s.recorder.Record(event.Event{Type: event.EXECUTION_CANCELLED, ExecutionId: executionId, CallerId: caller.Id})
		return s.repo.GetExecution(executionId)
	}
}

// Retry spawns a fresh execution from a failed one. Nothing on the original
// is mutated; the new execution carries retryOf for lineage and re-runs
// every step from scratch.
func (s *ExecutionService) Retry(caller model.Caller, executionId string) (*model.ProcessExecution, error) {
	if caller.Role == model.ROLE_VIEWER {
		return nil, api.PermissionError{CallerId: caller.Id, Action: "retry execution " + executionId}
	}
	original, err := s.repo.GetExecution(executionId)
	if err != nil {
		return nil, err
	}
	if original.Status != model.EXECUTION_FAILED {
		return nil, api.ConflictError{ExecutionId: executionId, Status: string(original.Status),
			Message: "only failed executions can be retried"}
	}
	now := time.Now()
	retry := &model.ProcessExecution{
		Id:             uuid.NewString(),
		ProcessId:      original.ProcessId,
		ProcessVersion: original.ProcessVersion,
		Status:         model.EXECUTION_PENDING,
		Input:          original.Input,
		RetryOf:        original.Id,
		CreatedBy:      caller.Id,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateExecution(retry); err != nil {
		return nil, err
	}
	logger.Info("execution retried", zap.String("executionId", executionId), zap.String("retryId", retry.Id))
	s.recorder.Record(event.Event{Type: event.EXECUTION_RETRIED, ExecutionId: retry.Id, CallerId: caller.Id,
		Data: map[string]any{"retryOf": original.Id}})
	s.evaluator.Enqueue(retry.Id)
	return retry, nil
}

// ApproveStep records the approval on the gating step and resumes the
// paused execution.
func (s *ExecutionService) ApproveStep(caller model.Caller, executionId string, stepId string) (*model.ProcessExecution, error) {
	if caller.Role == model.ROLE_VIEWER {
		return nil, api.PermissionError{CallerId: caller.Id, Action: "approve step " + stepId}
	}
	execution, err := s.repo.GetExecution(executionId)
	if err != nil {
		return nil, err
	}
	if execution.Status != model.EXECUTION_PAUSED {
		return nil, api.ConflictError{ExecutionId: executionId, Status: string(execution.Status),
			Message: "execution is not awaiting approval"}
	}
	def, err := s.definitions.Get(execution.ProcessId, execution.ProcessVersion)
	if err != nil {
		return nil, err
	}
	step := def.GetStep(stepId)
	if step == nil {
		return nil, api.ValidationError{Message: fmt.Sprintf("unknown step %s", stepId)}
	}
	if !step.RequiresApproval {
		return nil, api.ValidationError{Message: fmt.Sprintf("step %s does not require approval", stepId)}
	}
	row, err := s.repo.GetStepExecution(executionId, stepId)
	if err != nil {
		return nil, err
	}
	if !row.Approved() {
		now := time.Now()
		row.ApprovedBy = caller.Id
		row.ApprovedAt = &now
		if err := s.repo.UpsertStepExecution(row); err != nil {
			return nil, err
		}
		s.recorder.Record(event.Event{Type: event.STEP_APPROVED, ExecutionId: executionId, StepId: stepId,
			CallerId: caller.Id})
	}
	changed, err := s.repo.CompareAndSetStatus(executionId, model.EXECUTION_PAUSED, model.EXECUTION_RUNNING)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, api.ConflictError{ExecutionId: executionId, Status: string(execution.Status),
			Message: "execution left paused before approval was applied"}
	}
	logger.Info("step approved", zap.String("executionId", executionId), zap.String("stepId", stepId),
		zap.String("callerId", caller.Id))
	s.recorder.Record(event.Event{Type: event.EXECUTION_RESUMED, ExecutionId: executionId, CallerId: caller.Id})
	s.evaluator.Enqueue(executionId)
	return s.repo.GetExecution(executionId)
}
