package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/prochestra/prochestra/model"
	"github.com/prochestra/prochestra/persistence"
	"github.com/prochestra/prochestra/util"
)

// Storage is a mutex-guarded, dependency-free implementation of the
// persistence contracts. It backs unit tests and the memory storage-impl.
type Storage struct {
	mu          sync.Mutex
	executions  map[string]*model.ProcessExecution
	steps       map[string]map[string]*model.StepExecution
	definitions map[string]map[int]*model.ProcessDefinition
	versions    map[string]int
	execEncDec  util.Codec[model.ProcessExecution]
	stepEncDec  util.Codec[model.StepExecution]
	defEncDec   util.Codec[model.ProcessDefinition]
}

var _ persistence.ExecutionRepository = new(Storage)
var _ persistence.DefinitionStorage = new(Storage)

func NewStorage() *Storage {
	return &Storage{
		executions:  make(map[string]*model.ProcessExecution),
		steps:       make(map[string]map[string]*model.StepExecution),
		definitions: make(map[string]map[int]*model.ProcessDefinition),
		versions:    make(map[string]int),
		execEncDec:  util.NewJsonCodec[model.ProcessExecution](),
		stepEncDec:  util.NewJsonCodec[model.StepExecution](),
		defEncDec:   util.NewJsonCodec[model.ProcessDefinition](),
	}
}

func (s *Storage) copyExecution(e *model.ProcessExecution) *model.ProcessExecution {
	out, _ := util.Clone(s.execEncDec, *e)
	return out
}

func (s *Storage) copyStep(st *model.StepExecution) *model.StepExecution {
	out, _ := util.Clone(s.stepEncDec, *st)
	return out
}

func (s *Storage) copyDefinition(d *model.ProcessDefinition) *model.ProcessDefinition {
	out, _ := util.Clone(s.defEncDec, *d)
	return out
}

func (s *Storage) CreateExecution(execution *model.ProcessExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[execution.Id]; ok {
		return persistence.StorageLayerError{Message: "execution already exists"}
	}
	s.executions[execution.Id] = s.copyExecution(execution)
	s.steps[execution.Id] = make(map[string]*model.StepExecution)
	return nil
}

func (s *Storage) GetExecution(id string) (*model.ProcessExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	execution, ok := s.executions[id]
	if !ok {
		return nil, persistence.NotFoundError{Kind: "execution", Key: id}
	}
	return s.copyExecution(execution), nil
}

func (s *Storage) ListExecutions(filter persistence.ListFilter) ([]*model.ProcessExecution, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]*model.ProcessExecution, 0)
	for _, execution := range s.executions {
		if filter.Matches(execution) {
			matched = append(matched, s.copyExecution(execution))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].Id > matched[j].Id
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	offset := filter.Offset
	if offset > total {
		offset = total
	}
	end := offset + filter.EffectiveLimit()
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *Storage) CompareAndSetStatus(id string, expected model.ExecutionStatus, next model.ExecutionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	execution, ok := s.executions[id]
	if !ok {
		return false, persistence.NotFoundError{Kind: "execution", Key: id}
	}
	if execution.Status != expected {
		return false, nil
	}
	now := time.Now()
	execution.Status = next
	execution.UpdatedAt = now
	if next.Terminal() {
		execution.CompletedAt = &now
	} else {
		execution.CompletedAt = nil
	}
	if next == model.EXECUTION_RUNNING && execution.StartedAt == nil {
		execution.StartedAt = &now
	}
	return true, nil
}

func (s *Storage) SaveExecution(execution *model.ProcessExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.executions[execution.Id]
	if !ok {
		return persistence.NotFoundError{Kind: "execution", Key: execution.Id}
	}
	saved := s.copyExecution(execution)
	saved.Status = current.Status
	saved.StartedAt = current.StartedAt
	saved.CompletedAt = current.CompletedAt
	saved.UpdatedAt = time.Now()
	s.executions[execution.Id] = saved
	return nil
}

func (s *Storage) UpsertStepExecution(step *model.StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.steps[step.ExecutionId]
	if !ok {
		return persistence.NotFoundError{Kind: "execution", Key: step.ExecutionId}
	}
	rows[step.StepId] = s.copyStep(step)
	return nil
}

func (s *Storage) GetStepExecution(executionId string, stepId string) (*model.StepExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.steps[executionId]
	if !ok {
		return nil, persistence.NotFoundError{Kind: "execution", Key: executionId}
	}
	step, ok := rows[stepId]
	if !ok {
		return nil, persistence.NotFoundError{Kind: "step execution", Key: stepId}
	}
	return s.copyStep(step), nil
}

func (s *Storage) ListStepExecutions(executionId string) ([]*model.StepExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.steps[executionId]
	if !ok {
		return nil, persistence.NotFoundError{Kind: "execution", Key: executionId}
	}
	out := make([]*model.StepExecution, 0, len(rows))
	for _, step := range rows {
		out = append(out, s.copyStep(step))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StepId < out[j].StepId
	})
	return out, nil
}

func (s *Storage) ClaimStep(executionId string, stepId string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.steps[executionId]
	if !ok {
		return false, persistence.NotFoundError{Kind: "execution", Key: executionId}
	}
	step, ok := rows[stepId]
	if !ok || step.Status != model.STEP_PENDING {
		return false, nil
	}
	now := time.Now()
	step.Status = model.STEP_RUNNING
	step.StartedAt = &now
	return true, nil
}

func (s *Storage) Save(def *model.ProcessDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.definitions[def.Id]
	if !ok {
		versions = make(map[int]*model.ProcessDefinition)
		s.definitions[def.Id] = versions
	}
	if _, ok := versions[def.Version]; ok {
		return persistence.StorageLayerError{Message: "definition version already exists"}
	}
	versions[def.Version] = s.copyDefinition(def)
	return nil
}

func (s *Storage) Get(id string, version int) (*model.ProcessDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.definitions[id]
	if !ok {
		return nil, persistence.NotFoundError{Kind: "definition", Key: id}
	}
	def, ok := versions[version]
	if !ok {
		return nil, persistence.NotFoundError{Kind: "definition", Key: id}
	}
	return s.copyDefinition(def), nil
}

func (s *Storage) GetLatest(id string) (*model.ProcessDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.definitions[id]
	if !ok || len(versions) == 0 {
		return nil, persistence.NotFoundError{Kind: "definition", Key: id}
	}
	latest := 0
	for v := range versions {
		if v > latest {
			latest = v
		}
	}
	return s.copyDefinition(versions[latest]), nil
}

func (s *Storage) NextVersion(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[id] = s.versions[id] + 1
	return s.versions[id], nil
}
