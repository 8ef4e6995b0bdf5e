package event

import (
	"fmt"
	"sync"
	"time"

	"github.com/prochestra/prochestra/logger"
	"github.com/prochestra/prochestra/util"
	"go.uber.org/zap"
)

// Sink receives lifecycle events. Publish errors are logged and dropped;
// audit delivery is fire-and-forget and never blocks the engine.
type Sink interface {
	Publish(event Event) error
}

// Recorder fans events out to the configured sinks through a buffered
// worker.
type Recorder struct {
	sinks  []Sink
	worker *util.Worker
}

func NewRecorder(wg *sync.WaitGroup, sinks ...Sink) *Recorder {
	r := &Recorder{sinks: sinks}
	r.worker = util.NewWorker("audit-recorder", wg, r.handle, 1024)
	return r
}

func (r *Recorder) Start() {
	r.worker.Start()
}

func (r *Recorder) Stop() {
	r.worker.Stop()
}

// Record enqueues the event. When the buffer is full the event is dropped
// rather than stalling a status transition.
func (r *Recorder) Record(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	select {
	case r.worker.Sender() <- event:
	default:
		logger.Warn("audit buffer full, dropping event", zap.String("type", string(event.Type)),
			zap.String("executionId", event.ExecutionId))
	}
}

func (r *Recorder) handle(task util.Task) error {
	event, ok := task.(Event)
	if !ok {
		return fmt.Errorf("can not handle task of type other than event.Event")
	}
	for _, sink := range r.sinks {
		if err := sink.Publish(event); err != nil {
			logger.Error("error publishing audit event", zap.String("type", string(event.Type)), zap.Error(err))
		}
	}
	return nil
}

// LogSink writes audit events to the structured log.
type LogSink struct{}

var _ Sink = new(LogSink)

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) Publish(event Event) error {
	logger.Info("audit", zap.String("type", string(event.Type)),
		zap.String("executionId", event.ExecutionId),
		zap.String("stepId", event.StepId),
		zap.String("callerId", event.CallerId),
		zap.Any("data", event.Data))
	return nil
}
