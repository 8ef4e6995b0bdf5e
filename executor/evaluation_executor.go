package executor

import (
	"sync"
	"time"

	"github.com/prochestra/prochestra/engine"
	"github.com/prochestra/prochestra/logger"
	"github.com/prochestra/prochestra/model"
	"github.com/prochestra/prochestra/persistence"
	"github.com/prochestra/prochestra/util"
	"go.uber.org/zap"
)

// EvaluationExecutor drains the evaluation queue in batches and feeds the
// engine's evaluation loop. The queue pop is destructive, so a message is
// handed to the engine at most once per push.
type EvaluationExecutor struct {
	queue      persistence.EvaluationQueue
	engine     *engine.Engine
	batchSize  int
	tickWorker *util.TickWorker
	wg         *sync.WaitGroup
}

func NewEvaluationExecutor(queue persistence.EvaluationQueue, engine *engine.Engine,
	batchSize int, tickSeconds int, wg *sync.WaitGroup) *EvaluationExecutor {
	ex := &EvaluationExecutor{
		queue:     queue,
		engine:    engine,
		batchSize: batchSize,
		wg:        wg,
	}
	ex.tickWorker = util.NewTickWorker("evaluation-executor",
		time.Duration(tickSeconds)*time.Second, ex.handle, ex.wg)
	return ex
}

func (ex *EvaluationExecutor) Name() string {
	return "evaluation-executor"
}

func (ex *EvaluationExecutor) Start() error {
	ex.tickWorker.Start()
	return nil
}

func (ex *EvaluationExecutor) Stop() error {
	ex.tickWorker.Stop()
	return nil
}

func (ex *EvaluationExecutor) handle() {
	executionIds, err := ex.queue.Pop(ex.batchSize)
	if err != nil {
		logger.Error("error polling evaluation queue", zap.Error(err))
		return
	}
	for _, executionId := range executionIds {
		ex.engine.EvaluationChannel() <- model.EvaluationRequest{ExecutionId: executionId}
	}
}
