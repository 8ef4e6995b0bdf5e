package definition

import (
	"fmt"
	"strconv"
	"time"

	c "github.com/patrickmn/go-cache"
	api "github.com/prochestra/prochestra/api/v1"
	"github.com/prochestra/prochestra/logger"
	"github.com/prochestra/prochestra/model"
	"github.com/prochestra/prochestra/persistence"
	"go.uber.org/zap"
)

// StepTypeChecker answers whether a step type has a registered executor.
type StepTypeChecker interface {
	HasType(stepType string) bool
}

// Service validates and versions process definitions. Definitions are
// immutable per version, so cached entries never need invalidation.
type Service struct {
	storage persistence.DefinitionStorage
	types   StepTypeChecker
	cache   *c.Cache
}

func NewService(storage persistence.DefinitionStorage, types StepTypeChecker) *Service {
	return &Service{
		storage: storage,
		types:   types,
		cache:   c.New(c.NoExpiration, 10*time.Minute),
	}
}

// Register validates the definition, assigns the next version for its
// process id and stores it.
func (s *Service) Register(def *model.ProcessDefinition) (*model.ProcessDefinition, error) {
	if err := s.Validate(def); err != nil {
		return nil, err
	}
	version, err := s.storage.NextVersion(def.Id)
	if err != nil {
		return nil, err
	}
	def.Version = version
	if err := s.storage.Save(def); err != nil {
		return nil, err
	}
	logger.Info("registered process definition", zap.String("processId", def.Id), zap.Int("version", version))
	return def, nil
}

// Get resolves a definition. Version 0 resolves to the latest version.
func (s *Service) Get(id string, version int) (*model.ProcessDefinition, error) {
	if version <= 0 {
		return s.storage.GetLatest(id)
	}
	cacheKey := id + ":" + strconv.Itoa(version)
	if cached, found := s.cache.Get(cacheKey); found {
		return cached.(*model.ProcessDefinition), nil
	}
	def, err := s.storage.Get(id, version)
	if err != nil {
		return nil, err
	}
	s.cache.Add(cacheKey, def, c.NoExpiration)
	return def, nil
}

func (s *Service) Validate(def *model.ProcessDefinition) error {
	if def.Id == "" {
		return api.ValidationError{Message: "definition id can not be empty"}
	}
	if def.Name == "" {
		return api.ValidationError{Message: "definition name can not be empty"}
	}
	if len(def.Steps) == 0 {
		return api.ValidationError{Message: "definition must have at least one step"}
	}
	steps := make(map[string]*model.StepDefinition, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		if step.Id == "" {
			return api.ValidationError{Message: "step id can not be empty"}
		}
		if _, ok := steps[step.Id]; ok {
			return api.ValidationError{Message: fmt.Sprintf("duplicate step id %s", step.Id)}
		}
		if s.types != nil && !s.types.HasType(step.Type) {
			return api.ValidationError{Message: fmt.Sprintf("step %s has unknown type %s", step.Id, step.Type)}
		}
		steps[step.Id] = step
	}
	for _, step := range def.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := steps[dep]; !ok {
				return api.ValidationError{Message: fmt.Sprintf("step %s depends on unknown step %s", step.Id, dep)}
			}
			if dep == step.Id {
				return api.ValidationError{Message: fmt.Sprintf("step %s depends on itself", step.Id)}
			}
		}
		for _, dep := range step.ContinueOn {
			if !contains(step.DependsOn, dep) {
				return api.ValidationError{Message: fmt.Sprintf("step %s continues on %s which is not a dependency", step.Id, dep)}
			}
		}
	}
	if hasCycle(def) {
		return api.ValidationError{Message: "step dependencies contain a cycle"}
	}
	return nil
}

// hasCycle runs Kahn's algorithm over the dependency graph; any node left
// with a positive in-degree sits on a cycle.
func hasCycle(def *model.ProcessDefinition) bool {
	inDegree := make(map[string]int, len(def.Steps))
	dependents := make(map[string][]string, len(def.Steps))
	for _, step := range def.Steps {
		inDegree[step.Id] = len(step.DependsOn)
		for _, dep := range step.DependsOn {
			dependents[dep] = append(dependents[dep], step.Id)
		}
	}
	ready := make([]string, 0, len(def.Steps))
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	visited := 0
	for len(ready) > 0 {
		id := ready[len(ready)-1]
		ready = ready[:len(ready)-1]
		visited++
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
	return visited != len(def.Steps)
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
