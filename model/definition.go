package model

// ProcessDefinition is the immutable, versioned template a ProcessExecution
// runs against. A definition is never mutated once stored; changes produce a
// new version.
type ProcessDefinition struct {
	Id      string           `json:"id"`
	Version int              `json:"version"`
	Name    string           `json:"name"`
	Steps   []StepDefinition `json:"steps"`
}

type StepDefinition struct {
	Id               string         `json:"id"`
	Type             string         `json:"type"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	DependsOn        []string       `json:"dependsOn,omitempty"`
	ContinueOn       []string       `json:"continueOn,omitempty"`
	RequiresApproval bool           `json:"requiresApproval,omitempty"`
	TimeoutSeconds   int            `json:"timeoutSeconds,omitempty"`
}

// ContinuesOn reports whether failure of the given dependency does not
// cascade across the edge into this step.
func (s *StepDefinition) ContinuesOn(depId string) bool {
	for _, id := range s.ContinueOn {
		if id == depId {
			return true
		}
	}
	return false
}

func (d *ProcessDefinition) StepsById() map[string]*StepDefinition {
	steps := make(map[string]*StepDefinition, len(d.Steps))
	for i := range d.Steps {
		steps[d.Steps[i].Id] = &d.Steps[i]
	}
	return steps
}

func (d *ProcessDefinition) GetStep(stepId string) *StepDefinition {
	for i := range d.Steps {
		if d.Steps[i].Id == stepId {
			return &d.Steps[i]
		}
	}
	return nil
}
