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

// TimeoutExecutor polls the delay queue for step deadlines that became
// visible and hands them to the engine. Messages for steps that already
// finished are no-ops.
type TimeoutExecutor struct {
	queue      persistence.DelayQueue
	engine     *engine.Engine
	encDec     util.Codec[model.StepTimeoutMsg]
	tickWorker *util.TickWorker
	wg         *sync.WaitGroup
}

func NewTimeoutExecutor(queue persistence.DelayQueue, engine *engine.Engine,
	tickSeconds int, wg *sync.WaitGroup) *TimeoutExecutor {
	ex := &TimeoutExecutor{
		queue:  queue,
		engine: engine,
		encDec: util.NewJsonCodec[model.StepTimeoutMsg](),
		wg:     wg,
	}
	ex.tickWorker = util.NewTickWorker("timeout-executor",
		time.Duration(tickSeconds)*time.Second, ex.handle, ex.wg)
	return ex
}

func (ex *TimeoutExecutor) Name() string {
	return "timeout-executor"
}

func (ex *TimeoutExecutor) Start() error {
	ex.tickWorker.Start()
	return nil
}

func (ex *TimeoutExecutor) Stop() error {
	ex.tickWorker.Stop()
	return nil
}

func (ex *TimeoutExecutor) handle() {
	messages, err := ex.queue.Pop()
	if err != nil {
		logger.Error("error polling timeout queue", zap.Error(err))
		return
	}
	for _, message := range messages {
		msg, err := ex.encDec.Decode([]byte(message))
		if err != nil {
			logger.Error("error decoding timeout message", zap.Error(err))
			continue
		}
		ex.engine.HandleStepTimeout(*msg)
	}
}
