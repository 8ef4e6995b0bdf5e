package agent

import (
	"sync"

	"github.com/prochestra/prochestra/config"
	"github.com/prochestra/prochestra/definition"
	"github.com/prochestra/prochestra/engine"
	"github.com/prochestra/prochestra/event"
	"github.com/prochestra/prochestra/executor"
	"github.com/prochestra/prochestra/logger"
	"github.com/prochestra/prochestra/persistence"
	"github.com/prochestra/prochestra/persistence/memory"
	rd "github.com/prochestra/prochestra/persistence/redis"
	"github.com/prochestra/prochestra/rest"
	"github.com/prochestra/prochestra/service"
	"github.com/prochestra/prochestra/steps"
)

// Agent wires storage, engine, pollers and the http surface together and
// owns their lifecycle.
type Agent struct {
	Config config.Config

	repo         persistence.ExecutionRepository
	defStorage   persistence.DefinitionStorage
	queue        persistence.EvaluationQueue
	timeoutQueue persistence.DelayQueue
	registry     *steps.Registry
	definitions  *definition.Service
	recorder     *event.Recorder
	engine       *engine.Engine
	executors    []executor.Executor
	executions   *service.ExecutionService
	httpServer   *rest.Server

	shutdown     bool
	shutdowns    chan struct{}
	shutdownLock sync.Mutex
	wg           sync.WaitGroup
}

func New(config config.Config) (*Agent, error) {
	a := &Agent{
		Config:    config,
		shutdowns: make(chan struct{}),
	}
	setup := []func() error{
		a.setupStorage,
		a.setupRecorder,
		a.setupDefinitionService,
		a.setupEngine,
		a.setupExecutors,
		a.setupExecutionService,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupStorage() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_INMEM:
		storage := memory.NewStorage()
		a.repo = storage
		a.defStorage = storage
		a.queue = memory.NewQueue()
		a.timeoutQueue = memory.NewDelayQueue()
	default:
		conf := rd.Config{
			Addrs:     a.Config.RedisConfig.Addrs,
			Namespace: a.Config.RedisConfig.Namespace,
		}
		a.repo = rd.NewRedisExecutionRepository(conf)
		a.defStorage = rd.NewRedisDefinitionStorage(conf)
		a.queue = rd.NewRedisEvaluationQueue(conf)
		a.timeoutQueue = rd.NewRedisDelayQueue(conf)
	}
	return nil
}

func (a *Agent) setupRecorder() error {
	sinks := []event.Sink{event.NewLogSink()}
	if a.Config.AuditStreamEnabled && a.Config.StorageType != config.STORAGE_TYPE_INMEM {
		sinks = append(sinks, event.NewRedisStreamSink(a.Config.RedisConfig.Addrs,
			a.Config.RedisConfig.Namespace, a.Config.AuditStreamMaxLen))
	}
	a.recorder = event.NewRecorder(&a.wg, sinks...)
	a.recorder.Start()
	return nil
}

func (a *Agent) setupDefinitionService() error {
	a.registry = steps.NewDefaultRegistry()
	a.definitions = definition.NewService(a.defStorage, a.registry)
	return nil
}

func (a *Agent) setupEngine() error {
	a.engine = engine.NewEngine(a.definitions, a.repo, a.queue, a.timeoutQueue,
		a.registry, a.recorder, a.Config.StepExecutorCapacity, &a.wg)
	a.engine.Start()
	return nil
}

func (a *Agent) setupExecutors() error {
	a.executors = []executor.Executor{
		executor.NewEvaluationExecutor(a.queue, a.engine, a.Config.EvaluationBatchSize,
			a.Config.EvaluationTickSeconds, &a.wg),
		executor.NewTimeoutExecutor(a.timeoutQueue, a.engine, a.Config.TimeoutTickSeconds, &a.wg),
	}
	for _, ex := range a.executors {
		if err := ex.Start(); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) setupExecutionService() error {
	a.executions = service.NewExecutionService(a.repo, a.definitions, a.engine, a.recorder)
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.executions, a.definitions)
	return err
}

func (a *Agent) Start() error {
	go func() {
		if err := a.httpServer.Start(); err != nil {
			_ = a.Shutdown()
			panic(err)
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	close(a.shutdowns)

	shutdown := []func() error{
		a.httpServer.Stop,
		func() error {
			for _, ex := range a.executors {
				if err := ex.Stop(); err != nil {
					return err
				}
			}
			return nil
		},
		func() error {
			a.engine.Stop()
			return nil
		},
		func() error {
			a.recorder.Stop()
			return nil
		},
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	return nil
}
