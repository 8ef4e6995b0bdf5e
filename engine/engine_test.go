package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/prochestra/prochestra/definition"
	"github.com/prochestra/prochestra/event"
	"github.com/prochestra/prochestra/model"
	"github.com/prochestra/prochestra/persistence"
	"github.com/prochestra/prochestra/persistence/memory"
	"github.com/prochestra/prochestra/steps"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	typeName string
	fn       func(req steps.Request) (steps.Outcome, error)
}

func (f *fakeExecutor) Type() string { return f.typeName }

func (f *fakeExecutor) Execute(req steps.Request) (steps.Outcome, error) {
	return f.fn(req)
}

type engineFixture struct {
	store       *memory.Storage
	queue       *memory.Queue
	registry    *steps.Registry
	definitions *definition.Service
	engine      *Engine
}

func newEngineFixture(t *testing.T, executors ...steps.StepExecutor) *engineFixture {
	return newEngineFixtureWithDefinitions(t, nil, executors...)
}

func newEngineFixtureWithDefinitions(t *testing.T,
	wrap func(persistence.DefinitionStorage) persistence.DefinitionStorage,
	executors ...steps.StepExecutor) *engineFixture {
	t.Helper()
	store := memory.NewStorage()
	queue := memory.NewQueue()
	delay := memory.NewDelayQueue()
	registry := steps.NewRegistry()
	for _, executor := range executors {
		registry.Register(executor)
	}
	var defStorage persistence.DefinitionStorage = store
	if wrap != nil {
		defStorage = wrap(store)
	}
	definitions := definition.NewService(defStorage, registry)
	wg := &sync.WaitGroup{}
	recorder := event.NewRecorder(wg, event.NewLogSink())
	recorder.Start()
	eng := NewEngine(definitions, store, queue, delay, registry, recorder, 2, wg)
	eng.Start()

	stopPump := make(chan struct{})
	go func() {
		for {
			select {
			case <-stopPump:
				return
			default:
			}
			executionIds, _ := queue.Pop(10)
			for _, executionId := range executionIds {
				eng.EvaluationChannel() <- model.EvaluationRequest{ExecutionId: executionId}
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()
	t.Cleanup(func() {
		close(stopPump)
		eng.Stop()
		recorder.Stop()
	})
	return &engineFixture{store: store, queue: queue, registry: registry, definitions: definitions, engine: eng}
}

func (f *engineFixture) register(t *testing.T, def *model.ProcessDefinition) *model.ProcessDefinition {
	t.Helper()
	saved, err := f.definitions.Register(def)
	require.NoError(t, err)
	return saved
}

func (f *engineFixture) run(t *testing.T, executionId string, def *model.ProcessDefinition, input map[string]any) {
	t.Helper()
	err := f.store.CreateExecution(&model.ProcessExecution{
		Id:             executionId,
		ProcessId:      def.Id,
		ProcessVersion: def.Version,
		Status:         model.EXECUTION_PENDING,
		Input:          input,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	})
	require.NoError(t, err)
	f.engine.Enqueue(executionId)
}

func (f *engineFixture) waitStatus(t *testing.T, executionId string, status model.ExecutionStatus) *model.ProcessExecution {
	t.Helper()
	var execution *model.ProcessExecution
	require.Eventually(t, func() bool {
		current, err := f.store.GetExecution(executionId)
		if err != nil {
			return false
		}
		execution = current
		return current.Status == status
	}, 3*time.Second, 5*time.Millisecond)
	return execution
}

func (f *engineFixture) stepStatus(t *testing.T, executionId string, stepId string) model.StepStatus {
	t.Helper()
	row, err := f.store.GetStepExecution(executionId, stepId)
	require.NoError(t, err)
	return row.Status
}

func workExecutor() *fakeExecutor {
	return &fakeExecutor{typeName: "work", fn: func(req steps.Request) (steps.Outcome, error) {
		outcome := steps.Completed(map[string]any{"step": req.StepId})
		outcome.Cost = 1
		return outcome, nil
	}}
}

func TestEngineRunsLinearProcess(t *testing.T) {
	f := newEngineFixture(t, workExecutor())
	def := f.register(t, &model.ProcessDefinition{
		Id: "order", Name: "order",
		Steps: []model.StepDefinition{
			{Id: "reserve", Type: "work"},
			{Id: "charge", Type: "work", DependsOn: []string{"reserve"}},
			{Id: "notify", Type: "work", DependsOn: []string{"charge"}},
		},
	})
	f.run(t, "exec-linear", def, map[string]any{"orderId": "o-1"})

	execution := f.waitStatus(t, "exec-linear", model.EXECUTION_COMPLETED)
	require.NotNil(t, execution.StartedAt)
	require.NotNil(t, execution.CompletedAt)
	require.Equal(t, 3.0, execution.TotalCost)
	require.Len(t, execution.Output, 3)
	for _, stepId := range []string{"reserve", "charge", "notify"} {
		require.Equal(t, model.STEP_COMPLETED, f.stepStatus(t, "exec-linear", stepId))
	}
}

func TestEngineFailureCascade(t *testing.T) {
	failing := &fakeExecutor{typeName: "work", fn: func(req steps.Request) (steps.Outcome, error) {
		if req.StepId == "charge" {
			return steps.Failed("card declined"), nil
		}
		return steps.Completed(nil), nil
	}}
	f := newEngineFixture(t, failing)
	def := f.register(t, &model.ProcessDefinition{
		Id: "order", Name: "order",
		Steps: []model.StepDefinition{
			{Id: "reserve", Type: "work"},
			{Id: "charge", Type: "work", DependsOn: []string{"reserve"}},
			{Id: "notify", Type: "work", DependsOn: []string{"charge"}},
		},
	})
	f.run(t, "exec-fail", def, nil)

	execution := f.waitStatus(t, "exec-fail", model.EXECUTION_FAILED)
	require.NotNil(t, execution.CompletedAt)
	require.Equal(t, model.STEP_COMPLETED, f.stepStatus(t, "exec-fail", "reserve"))
	require.Equal(t, model.STEP_FAILED, f.stepStatus(t, "exec-fail", "charge"))
	require.Equal(t, model.STEP_SKIPPED, f.stepStatus(t, "exec-fail", "notify"))

	row, err := f.store.GetStepExecution("exec-fail", "charge")
	require.NoError(t, err)
	require.Equal(t, "card declined", row.Error)
}

func TestEngineContinueOnFailureAbsorbs(t *testing.T) {
	executor := &fakeExecutor{typeName: "work", fn: func(req steps.Request) (steps.Outcome, error) {
		if req.StepId == "optional" {
			return steps.Failed("upstream unavailable"), nil
		}
		return steps.Completed(map[string]any{"done": true}), nil
	}}
	f := newEngineFixture(t, executor)
	def := f.register(t, &model.ProcessDefinition{
		Id: "enrich", Name: "enrich",
		Steps: []model.StepDefinition{
			{Id: "optional", Type: "work"},
			{Id: "main", Type: "work", DependsOn: []string{"optional"}, ContinueOn: []string{"optional"}},
		},
	})
	f.run(t, "exec-absorb", def, nil)

	f.waitStatus(t, "exec-absorb", model.EXECUTION_COMPLETED)
	require.Equal(t, model.STEP_FAILED, f.stepStatus(t, "exec-absorb", "optional"))
	require.Equal(t, model.STEP_COMPLETED, f.stepStatus(t, "exec-absorb", "main"))
}

func TestEnginePausesForApprovalAndResumes(t *testing.T) {
	f := newEngineFixture(t, workExecutor())
	def := f.register(t, &model.ProcessDefinition{
		Id: "payout", Name: "payout",
		Steps: []model.StepDefinition{
			{Id: "prepare", Type: "work"},
			{Id: "transfer", Type: "work", DependsOn: []string{"prepare"}, RequiresApproval: true},
		},
	})
	f.run(t, "exec-approve", def, nil)

	f.waitStatus(t, "exec-approve", model.EXECUTION_PAUSED)
	row, err := f.store.GetStepExecution("exec-approve", "transfer")
	require.NoError(t, err)
	require.Equal(t, model.STEP_PENDING, row.Status)
	require.False(t, row.Approved())

	// what the approval endpoint does: record the approver, resume, re-enqueue
	now := time.Now()
	row.ApprovedBy = "ops-admin"
	row.ApprovedAt = &now
	require.NoError(t, f.store.UpsertStepExecution(row))
	changed, err := f.store.CompareAndSetStatus("exec-approve", model.EXECUTION_PAUSED, model.EXECUTION_RUNNING)
	require.NoError(t, err)
	require.True(t, changed)
	f.engine.Enqueue("exec-approve")

	f.waitStatus(t, "exec-approve", model.EXECUTION_COMPLETED)
	require.Equal(t, model.STEP_COMPLETED, f.stepStatus(t, "exec-approve", "transfer"))
}

func TestEngineCancelledExecutionIsNotRevived(t *testing.T) {
	release := make(chan struct{})
	blocking := &fakeExecutor{typeName: "work", fn: func(req steps.Request) (steps.Outcome, error) {
		<-release
		return steps.Completed(map[string]any{"late": true}), nil
	}}
	f := newEngineFixture(t, blocking)
	def := f.register(t, &model.ProcessDefinition{
		Id: "slow", Name: "slow",
		Steps: []model.StepDefinition{{Id: "wait", Type: "work"}},
	})
	f.run(t, "exec-cancel", def, nil)

	require.Eventually(t, func() bool {
		row, err := f.store.GetStepExecution("exec-cancel", "wait")
		return err == nil && row.Status == model.STEP_RUNNING
	}, 3*time.Second, 5*time.Millisecond)

	changed, err := f.store.CompareAndSetStatus("exec-cancel", model.EXECUTION_RUNNING, model.EXECUTION_CANCELLED)
	require.NoError(t, err)
	require.True(t, changed)
	close(release)

	// the in-flight outcome lands on the row but the execution stays cancelled
	require.Eventually(t, func() bool {
		row, err := f.store.GetStepExecution("exec-cancel", "wait")
		return err == nil && row.Status == model.STEP_COMPLETED
	}, 3*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	execution, err := f.store.GetExecution("exec-cancel")
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_CANCELLED, execution.Status)
}

func TestEngineStepTimeoutFailsExecution(t *testing.T) {
	release := make(chan struct{})
	blocking := &fakeExecutor{typeName: "work", fn: func(req steps.Request) (steps.Outcome, error) {
		<-release
		return steps.Completed(nil), nil
	}}
	f := newEngineFixture(t, blocking)
	def := f.register(t, &model.ProcessDefinition{
		Id: "slow", Name: "slow",
		Steps: []model.StepDefinition{{Id: "wait", Type: "work"}},
	})
	f.run(t, "exec-timeout", def, nil)
	defer close(release)

	require.Eventually(t, func() bool {
		row, err := f.store.GetStepExecution("exec-timeout", "wait")
		return err == nil && row.Status == model.STEP_RUNNING
	}, 3*time.Second, 5*time.Millisecond)

	f.engine.HandleStepTimeout(model.StepTimeoutMsg{ExecutionId: "exec-timeout", StepId: "wait", TimeoutSeconds: 30})

	f.waitStatus(t, "exec-timeout", model.EXECUTION_FAILED)
	row, err := f.store.GetStepExecution("exec-timeout", "wait")
	require.NoError(t, err)
	require.Equal(t, model.STEP_FAILED, row.Status)
	require.Equal(t, 1, row.RetryCount)
	require.Contains(t, row.Error, "timed out")
}

func TestEngineResolvesStepInputFromPriorOutputs(t *testing.T) {
	var mu sync.Mutex
	var consumed map[string]any
	executor := &fakeExecutor{typeName: "work", fn: func(req steps.Request) (steps.Outcome, error) {
		if req.StepId == "produce" {
			return steps.Completed(map[string]any{"amount": 21}), nil
		}
		mu.Lock()
		consumed = req.Input
		mu.Unlock()
		return steps.Completed(nil), nil
	}}
	f := newEngineFixture(t, executor)
	def := f.register(t, &model.ProcessDefinition{
		Id: "pipe", Name: "pipe",
		Steps: []model.StepDefinition{
			{Id: "produce", Type: "work"},
			{Id: "consume", Type: "work", DependsOn: []string{"produce"},
				Parameters: map[string]any{"value": "{$.produce.output.amount}", "source": "{$.input.origin}"}},
		},
	})
	f.run(t, "exec-params", def, map[string]any{"origin": "api"})

	f.waitStatus(t, "exec-params", model.EXECUTION_COMPLETED)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, float64(21), consumed["value"])
	require.Equal(t, "api", consumed["source"])
}

// flakyDefinitionStorage fails a fixed number of reads before recovering.
type flakyDefinitionStorage struct {
	persistence.DefinitionStorage
	mu       sync.Mutex
	failures int
}

func (f *flakyDefinitionStorage) Get(id string, version int) (*model.ProcessDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, persistence.StorageLayerError{Message: "connection reset"}
	}
	return f.DefinitionStorage.Get(id, version)
}

func TestEngineRetriesEvaluationAfterDefinitionLoadError(t *testing.T) {
	f := newEngineFixtureWithDefinitions(t, func(s persistence.DefinitionStorage) persistence.DefinitionStorage {
		return &flakyDefinitionStorage{DefinitionStorage: s, failures: 1}
	}, workExecutor())
	def := f.register(t, &model.ProcessDefinition{
		Id: "order", Name: "order",
		Steps: []model.StepDefinition{
			{Id: "reserve", Type: "work"},
			{Id: "notify", Type: "work", DependsOn: []string{"reserve"}},
		},
	})
	f.run(t, "exec-flaky", def, nil)

	// the first evaluation hits the storage error after the execution is
	// already running; the re-enqueued message must pick it back up once
	// the storage recovers
	f.waitStatus(t, "exec-flaky", model.EXECUTION_COMPLETED)
	require.Equal(t, model.STEP_COMPLETED, f.stepStatus(t, "exec-flaky", "reserve"))
	require.Equal(t, model.STEP_COMPLETED, f.stepStatus(t, "exec-flaky", "notify"))
}

func TestEngineDiamondJoinWaitsForBothBranches(t *testing.T) {
	var mu sync.Mutex
	order := make([]string, 0, 4)
	executor := &fakeExecutor{typeName: "work", fn: func(req steps.Request) (steps.Outcome, error) {
		mu.Lock()
		order = append(order, req.StepId)
		mu.Unlock()
		return steps.Completed(nil), nil
	}}
	f := newEngineFixture(t, executor)
	def := f.register(t, &model.ProcessDefinition{
		Id: "diamond", Name: "diamond",
		Steps: []model.StepDefinition{
			{Id: "a", Type: "work"},
			{Id: "b", Type: "work", DependsOn: []string{"a"}},
			{Id: "c", Type: "work", DependsOn: []string{"a"}},
			{Id: "d", Type: "work", DependsOn: []string{"b", "c"}},
		},
	})
	f.run(t, "exec-diamond", def, nil)

	f.waitStatus(t, "exec-diamond", model.EXECUTION_COMPLETED)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 4)
	require.Equal(t, "a", order[0])
	require.Equal(t, "d", order[3])
}
