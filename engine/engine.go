package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prochestra/prochestra/definition"
	"github.com/prochestra/prochestra/event"
	"github.com/prochestra/prochestra/logger"
	"github.com/prochestra/prochestra/model"
	"github.com/prochestra/prochestra/persistence"
	"github.com/prochestra/prochestra/steps"
	"github.com/prochestra/prochestra/util"
	"go.uber.org/zap"
)

type stepDispatch struct {
	executionId string
	step        model.StepDefinition
}

// Engine drives executions forward. All evaluation for a given moment runs
// on a single goroutine fed by evaluationChannel; correctness under races
// with operator actions rests on the repository's conditional writes, not on
// the loop owning the execution.
type Engine struct {
	definitions    *definition.Service
	repo           persistence.ExecutionRepository
	queue          persistence.EvaluationQueue
	timeoutQueue   persistence.DelayQueue
	registry       *steps.Registry
	recorder       *event.Recorder
	timeoutEncDec  util.Codec[model.StepTimeoutMsg]
	dispatchers    []*util.Worker
	nextDispatcher uint64

	evaluationChannel chan model.EvaluationRequest
	stop              chan struct{}
	wg                *sync.WaitGroup
}

func NewEngine(definitions *definition.Service, repo persistence.ExecutionRepository,
	queue persistence.EvaluationQueue, timeoutQueue persistence.DelayQueue,
	registry *steps.Registry, recorder *event.Recorder, capacity int, wg *sync.WaitGroup) *Engine {
	if capacity <= 0 {
		capacity = 1
	}
	engine := &Engine{
		definitions:       definitions,
		repo:              repo,
		queue:             queue,
		timeoutQueue:      timeoutQueue,
		registry:          registry,
		recorder:          recorder,
		timeoutEncDec:     util.NewJsonCodec[model.StepTimeoutMsg](),
		evaluationChannel: make(chan model.EvaluationRequest, 1000),
		stop:              make(chan struct{}),
		wg:                wg,
	}
	for i := 0; i < capacity; i++ {
		worker := util.NewWorker(fmt.Sprintf("step-dispatcher-%d", i), wg, engine.runStep, 100)
		engine.dispatchers = append(engine.dispatchers, worker)
	}
	return engine
}

func (e *Engine) Start() {
	for _, worker := range e.dispatchers {
		worker.Start()
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case req := <-e.evaluationChannel:
				e.evaluate(req.ExecutionId)
			case <-e.stop:
				logger.Info("stopping engine evaluation loop")
				return
			}
		}
	}()
}

func (e *Engine) Stop() {
	e.stop <- struct{}{}
	for _, worker := range e.dispatchers {
		worker.Stop()
	}
}

// EvaluationChannel is the intake for the evaluation poll loop.
func (e *Engine) EvaluationChannel() chan<- model.EvaluationRequest {
	return e.evaluationChannel
}

// Enqueue durably schedules a re-evaluation of the execution. The queue is
// the source of truth; a push survives a crash between the status write and
// the evaluation picking it up.
func (e *Engine) Enqueue(executionId string) {
	if err := e.queue.Push(executionId); err != nil {
		logger.Error("error pushing execution to evaluation queue",
			zap.String("executionId", executionId), zap.Error(err))
	}
}

// evaluate is the single decision point: derive the ready set from persisted
// rows, persist skips, pause on unapproved steps, claim and dispatch ready
// steps, and derive the terminal status when nothing is left to run.
func (e *Engine) evaluate(executionId string) {
	execution, err := e.repo.GetExecution(executionId)
	if err != nil {
		var notFound persistence.NotFoundError
		if errors.As(err, &notFound) {
			logger.Warn("evaluation for unknown execution", zap.String("executionId", executionId))
			return
		}
		logger.Error("error fetching execution for evaluation", zap.String("executionId", executionId), zap.Error(err))
		e.Enqueue(executionId)
		return
	}

	if execution.Status == model.EXECUTION_PENDING {
		changed, err := e.repo.CompareAndSetStatus(executionId, model.EXECUTION_PENDING, model.EXECUTION_RUNNING)
		if err != nil {
			logger.Error("error starting execution", zap.String("executionId", executionId), zap.Error(err))
			e.Enqueue(executionId)
			return
		}
		if changed {
			e.recorder.Record(event.Event{Type: event.EXECUTION_STARTED, ExecutionId: executionId})
		}
		execution, err = e.repo.GetExecution(executionId)
		if err != nil {
			logger.Error("error reloading execution", zap.String("executionId", executionId), zap.Error(err))
			e.Enqueue(executionId)
			return
		}
	}

	// Terminal executions never resume; paused ones wait for an approval.
	if execution.Status != model.EXECUTION_RUNNING {
		logger.Debug("skipping evaluation", zap.String("executionId", executionId),
			zap.String("status", string(execution.Status)))
		return
	}

	def, err := e.definitions.Get(execution.ProcessId, execution.ProcessVersion)
	if err != nil {
		var notFound persistence.NotFoundError
		if errors.As(err, &notFound) {
			logger.Error("definition missing for execution", zap.String("executionId", executionId),
				zap.String("processId", execution.ProcessId), zap.Int("version", execution.ProcessVersion))
			return
		}
		logger.Error("error loading definition for execution", zap.String("executionId", executionId),
			zap.String("processId", execution.ProcessId), zap.Int("version", execution.ProcessVersion), zap.Error(err))
		e.Enqueue(executionId)
		return
	}
	rows, err := e.repo.ListStepExecutions(executionId)
	if err != nil {
		logger.Error("error listing step executions", zap.String("executionId", executionId), zap.Error(err))
		e.Enqueue(executionId)
		return
	}

	r := computeReadiness(def, rows)

	for _, stepId := range r.ToSkip {
		if err := e.markSkipped(executionId, stepId); err != nil {
			logger.Error("error marking step skipped", zap.String("executionId", executionId),
				zap.String("stepId", stepId), zap.Error(err))
			e.Enqueue(executionId)
			return
		}
	}

	// An unapproved gated step pauses the whole execution, even when other
	// steps are ready. Approval resumes it and re-enqueues.
	for _, step := range r.Ready {
		if !step.RequiresApproval {
			continue
		}
		row := rowById(rows, step.Id)
		if row != nil && row.Approved() {
			continue
		}
		if row == nil {
			if err := e.createPendingRow(executionId, step.Id); err != nil {
				logger.Error("error creating step row", zap.String("executionId", executionId),
					zap.String("stepId", step.Id), zap.Error(err))
				e.Enqueue(executionId)
				return
			}
		}
		changed, err := e.repo.CompareAndSetStatus(executionId, model.EXECUTION_RUNNING, model.EXECUTION_PAUSED)
		if err != nil {
			logger.Error("error pausing execution", zap.String("executionId", executionId), zap.Error(err))
			e.Enqueue(executionId)
			return
		}
		if changed {
			e.recorder.Record(event.Event{Type: event.EXECUTION_PAUSED, ExecutionId: executionId,
				StepId: step.Id, Data: map[string]any{"reason": "approval required"}})
		}
		return
	}

	for _, step := range r.Ready {
		if rowById(rows, step.Id) == nil {
			if err := e.createPendingRow(executionId, step.Id); err != nil {
				logger.Error("error creating step row", zap.String("executionId", executionId),
					zap.String("stepId", step.Id), zap.Error(err))
				e.Enqueue(executionId)
				return
			}
		}
		claimed, err := e.repo.ClaimStep(executionId, step.Id)
		if err != nil {
			logger.Error("error claiming step", zap.String("executionId", executionId),
				zap.String("stepId", step.Id), zap.Error(err))
			e.Enqueue(executionId)
			return
		}
		if !claimed {
			continue
		}
		e.recorder.Record(event.Event{Type: event.STEP_STARTED, ExecutionId: executionId, StepId: step.Id})
		if step.TimeoutSeconds > 0 {
			e.scheduleTimeout(executionId, step.Id, step.TimeoutSeconds)
		}
		e.dispatch(stepDispatch{executionId: executionId, step: *step})
	}

	if r.AllDone {
		e.finalize(execution, r.Failed)
	}
}

func (e *Engine) dispatch(task stepDispatch) {
	next := atomic.AddUint64(&e.nextDispatcher, 1)
	e.dispatchers[next%uint64(len(e.dispatchers))].Sender() <- task
}

// runStep executes one claimed step on a dispatcher goroutine. Outcomes are
// only applied while the row still reads running; a late or duplicate
// delivery is recorded for audit and otherwise dropped.
func (e *Engine) runStep(task util.Task) error {
	dispatch, ok := task.(stepDispatch)
	if !ok {
		return fmt.Errorf("can not handle task of type other than stepDispatch")
	}
	execution, err := e.repo.GetExecution(dispatch.executionId)
	if err != nil {
		return err
	}
	rows, err := e.repo.ListStepExecutions(dispatch.executionId)
	if err != nil {
		return err
	}
	data := buildData(execution, rows)
	input := util.ResolveParams(data, dispatch.step.Parameters)

	row := rowById(rows, dispatch.step.Id)
	if row == nil || row.Status != model.STEP_RUNNING {
		logger.Debug("dropping dispatch for step no longer running",
			zap.String("executionId", dispatch.executionId), zap.String("stepId", dispatch.step.Id))
		return nil
	}
	row.Input = input
	if err := e.repo.UpsertStepExecution(row); err != nil {
		return err
	}

	executor, err := e.registry.Get(dispatch.step.Type)
	if err != nil {
		e.ApplyStepOutcome(dispatch.executionId, dispatch.step.Id, steps.Failed(err.Error()))
		return nil
	}
	outcome, err := executor.Execute(steps.Request{
		ExecutionId: dispatch.executionId,
		StepId:      dispatch.step.Id,
		StepType:    dispatch.step.Type,
		Input:       input,
		Data:        data,
	})
	if err != nil {
		outcome = steps.Failed(err.Error())
	}
	e.ApplyStepOutcome(dispatch.executionId, dispatch.step.Id, outcome)
	return nil
}

// ApplyStepOutcome records the result of a step attempt and schedules a
// re-evaluation. Outcomes arriving after the row already left running (a
// fired timeout, a cancelled execution finalized elsewhere) are recorded in
// the audit stream only. The running check is a read before the write, not
// a storage-level conditional: if an outcome and a timeout land in the same
// instant the later write wins, and the following evaluation derives the
// terminal status from whichever row state was kept.
func (e *Engine) ApplyStepOutcome(executionId string, stepId string, outcome steps.Outcome) {
	row, err := e.repo.GetStepExecution(executionId, stepId)
	if err != nil {
		logger.Error("error fetching step row for outcome", zap.String("executionId", executionId),
			zap.String("stepId", stepId), zap.Error(err))
		return
	}
	if row.Status != model.STEP_RUNNING {
		logger.Debug("ignoring outcome for step no longer running", zap.String("executionId", executionId),
			zap.String("stepId", stepId), zap.String("status", string(row.Status)))
		e.recorder.Record(event.Event{Type: event.STEP_COMPLETED, ExecutionId: executionId, StepId: stepId,
			Data: map[string]any{"lateOutcome": true, "outcome": string(outcome.Status)}})
		return
	}
	now := time.Now()
	row.CompletedAt = &now
	row.Output = outcome.Output
	row.Error = outcome.Error
	row.Cost = outcome.Cost
	if outcome.Status == steps.OUTCOME_COMPLETED {
		row.Status = model.STEP_COMPLETED
	} else {
		row.Status = model.STEP_FAILED
	}
	if err := e.repo.UpsertStepExecution(row); err != nil {
		logger.Error("error persisting step outcome", zap.String("executionId", executionId),
			zap.String("stepId", stepId), zap.Error(err))
		return
	}
	eventType := event.STEP_COMPLETED
	data := map[string]any{"cost": outcome.Cost}
	if row.Status == model.STEP_FAILED {
		eventType = event.STEP_FAILED
		data["error"] = outcome.Error
	}
	e.recorder.Record(event.Event{Type: eventType, ExecutionId: executionId, StepId: stepId, Data: data})
	e.Enqueue(executionId)
}

// HandleStepTimeout force-fails a step whose deadline elapsed while its row
// is still running. A step that finished before the message became visible
// is left untouched.
func (e *Engine) HandleStepTimeout(msg model.StepTimeoutMsg) {
	row, err := e.repo.GetStepExecution(msg.ExecutionId, msg.StepId)
	if err != nil {
		var notFound persistence.NotFoundError
		if errors.As(err, &notFound) {
			return
		}
		logger.Error("error fetching step row for timeout", zap.String("executionId", msg.ExecutionId),
			zap.String("stepId", msg.StepId), zap.Error(err))
		return
	}
	if row.Status != model.STEP_RUNNING {
		return
	}
	now := time.Now()
	row.Status = model.STEP_FAILED
	row.Error = fmt.Sprintf("step timed out after %d seconds", msg.TimeoutSeconds)
	row.RetryCount = row.RetryCount + 1
	row.CompletedAt = &now
	if err := e.repo.UpsertStepExecution(row); err != nil {
		logger.Error("error persisting step timeout", zap.String("executionId", msg.ExecutionId),
			zap.String("stepId", msg.StepId), zap.Error(err))
		return
	}
	e.recorder.Record(event.Event{Type: event.STEP_FAILED, ExecutionId: msg.ExecutionId, StepId: msg.StepId,
		Data: map[string]any{"error": row.Error, "timeout": true}})
	e.Enqueue(msg.ExecutionId)
}

func (e *Engine) scheduleTimeout(executionId string, stepId string, timeoutSeconds int) {
	msg := model.StepTimeoutMsg{ExecutionId: executionId, StepId: stepId, TimeoutSeconds: timeoutSeconds}
	data, err := e.timeoutEncDec.Encode(msg)
	if err != nil {
		logger.Error("error encoding timeout message", zap.String("executionId", executionId), zap.Error(err))
		return
	}
	if err := e.timeoutQueue.PushWithDelay(data, time.Duration(timeoutSeconds)*time.Second); err != nil {
		logger.Error("error scheduling step timeout", zap.String("executionId", executionId),
			zap.String("stepId", stepId), zap.Error(err))
	}
}

// finalize derives the terminal status from the step rows and applies it
// with a conditional write, so a concurrent cancel always wins.
func (e *Engine) finalize(execution *model.ProcessExecution, failed bool) {
	rows, err := e.repo.ListStepExecutions(execution.Id)
	if err != nil {
		logger.Error("error listing step executions for finalize", zap.String("executionId", execution.Id), zap.Error(err))
		e.Enqueue(execution.Id)
		return
	}
	output := make(map[string]any)
	totalCost := 0.0
	for _, row := range rows {
		totalCost += row.Cost
		if row.Status == model.STEP_COMPLETED && row.Output != nil {
			output[row.StepId] = row.Output
		}
	}
	execution.Output = output
	execution.TotalCost = totalCost
	if err := e.repo.SaveExecution(execution); err != nil {
		logger.Error("error saving execution result", zap.String("executionId", execution.Id), zap.Error(err))
		e.Enqueue(execution.Id)
		return
	}
	next := model.EXECUTION_COMPLETED
	eventType := event.EXECUTION_COMPLETED
	if failed {
		next = model.EXECUTION_FAILED
		eventType = event.EXECUTION_FAILED
	}
	changed, err := e.repo.CompareAndSetStatus(execution.Id, model.EXECUTION_RUNNING, next)
	if err != nil {
		logger.Error("error finalizing execution", zap.String("executionId", execution.Id), zap.Error(err))
		e.Enqueue(execution.Id)
		return
	}
	if !changed {
		logger.Debug("execution already left running before finalize", zap.String("executionId", execution.Id))
		return
	}
	e.recorder.Record(event.Event{Type: eventType, ExecutionId: execution.Id,
		Data: map[string]any{"totalCost": totalCost}})
}

func (e *Engine) markSkipped(executionId string, stepId string) error {
	now := time.Now()
	row, err := e.repo.GetStepExecution(executionId, stepId)
	if err != nil {
		var notFound persistence.NotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		row = &model.StepExecution{ExecutionId: executionId, StepId: stepId}
	}
	if row.Status.Done() || row.Status == model.STEP_RUNNING {
		return nil
	}
	row.Status = model.STEP_SKIPPED
	row.CompletedAt = &now
	if err := e.repo.UpsertStepExecution(row); err != nil {
		return err
	}
	e.recorder.Record(event.Event{Type: event.STEP_SKIPPED, ExecutionId: executionId, StepId: stepId,
		Data: map[string]any{"reason": "dependency failed"}})
	return nil
}

func (e *Engine) createPendingRow(executionId string, stepId string) error {
	return e.repo.UpsertStepExecution(&model.StepExecution{
		ExecutionId: executionId,
		StepId:      stepId,
		Status:      model.STEP_PENDING,
	})
}

// buildData assembles the templating context: the execution input under
// "input" and each completed step's output under its step id.
func buildData(execution *model.ProcessExecution, rows []*model.StepExecution) map[string]any {
	data := map[string]any{"input": execution.Input}
	for _, row := range rows {
		if row.Status == model.STEP_COMPLETED {
			data[row.StepId] = map[string]any{"output": row.Output}
		}
	}
	return data
}

func rowById(rows []*model.StepExecution, stepId string) *model.StepExecution {
	for _, row := range rows {
		if row.StepId == stepId {
			return row
		}
	}
	return nil
}
