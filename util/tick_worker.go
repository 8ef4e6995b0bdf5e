package util

import (
	"sync"
	"time"

	"github.com/prochestra/prochestra/logger"
	"go.uber.org/zap"
)

// TickWorker runs fn on a fixed interval until stopped. It owns its stop
// channel; Stop blocks until the loop has observed it.
type TickWorker struct {
	name     string
	interval time.Duration
	fn       func()
	stop     chan struct{}
	wg       *sync.WaitGroup
}

func NewTickWorker(name string, interval time.Duration, fn func(), wg *sync.WaitGroup) *TickWorker {
	return &TickWorker{
		name:     name,
		interval: interval,
		fn:       fn,
		stop:     make(chan struct{}),
		wg:       wg,
	}
}

func (tw *TickWorker) Start() {
	ticker := time.NewTicker(tw.interval)
	tw.wg.Add(1)
	go func() {
		defer tw.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				tw.fn()
			case <-tw.stop:
				logger.Info("stopping tick worker", zap.String("worker", tw.name))
				return
			}
		}
	}()
	logger.Info("tick worker started", zap.String("worker", tw.name),
		zap.Duration("interval", tw.interval))
}

func (tw *TickWorker) Stop() {
	tw.stop <- struct{}{}
}
