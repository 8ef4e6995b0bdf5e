package engine

import (
	"github.com/prochestra/prochestra/model"
)

// readiness is derived entirely from persisted step rows so the engine can
// be re-entered after a crash or storage hiccup and reach the same
// conclusions.
type readiness struct {
	// Ready holds steps whose every dependency is satisfied and which have
	// not yet started (no row, or an unclaimed pending row).
	Ready []*model.StepDefinition
	// ToSkip holds not-yet-started steps that can never run because a
	// dependency failed or was skipped without a continue-on-failure edge.
	ToSkip []string
	// Running counts rows currently claimed by a dispatcher.
	Running int
	// AllDone is true when no step is ready, running or still reachable.
	AllDone bool
	// Failed is true when the derived terminal status must be failed: at
	// least one step failed and its failure was not absorbed by
	// continue-on-failure edges on every dependent.
	Failed bool
}

// computeReadiness derives the ready set, the skip set and the terminal
// condition for one execution from its definition and persisted rows.
func computeReadiness(def *model.ProcessDefinition, rows []*model.StepExecution) *readiness {
	status := make(map[string]model.StepStatus, len(rows))
	for _, row := range rows {
		status[row.StepId] = row.Status
	}

	// Fixed point: a failed or skipped dependency skips its dependents
	// transitively, except across declared continue-on-failure edges.
	skip := make(map[string]bool)
	progress := true
	for progress {
		progress = false
		for i := range def.Steps {
			step := &def.Steps[i]
			if _, started := status[step.Id]; started || skip[step.Id] {
				continue
			}
			for _, dep := range step.DependsOn {
				depStatus := status[dep]
				halted := depStatus == model.STEP_FAILED || depStatus == model.STEP_SKIPPED || skip[dep]
				if halted && !step.ContinuesOn(dep) {
					skip[step.Id] = true
					progress = true
					break
				}
			}
		}
	}

	r := &readiness{}
	for id := range skip {
		r.ToSkip = append(r.ToSkip, id)
	}

	remaining := 0
	for i := range def.Steps {
		step := &def.Steps[i]
		stepStatus, started := status[step.Id]
		if started && stepStatus != model.STEP_PENDING {
			if stepStatus == model.STEP_RUNNING {
				r.Running++
			}
			continue
		}
		if skip[step.Id] {
			continue
		}
		if depsSatisfied(step, status, skip) {
			r.Ready = append(r.Ready, step)
		} else {
			remaining++
		}
	}

	r.AllDone = len(r.Ready) == 0 && r.Running == 0 && remaining == 0
	r.Failed = anyUnabsorbedFailure(def, status)
	return r
}

func depsSatisfied(step *model.StepDefinition, status map[string]model.StepStatus, skip map[string]bool) bool {
	for _, dep := range step.DependsOn {
		depStatus := status[dep]
		if depStatus == model.STEP_COMPLETED {
			continue
		}
		halted := depStatus == model.STEP_FAILED || depStatus == model.STEP_SKIPPED || skip[dep]
		if halted && step.ContinuesOn(dep) {
			continue
		}
		return false
	}
	return true
}

// anyUnabsorbedFailure reports whether a failed step must fail the whole
// execution. A failure is absorbed only when the step has dependents and
// every one of them declares a continue-on-failure edge for it.
func anyUnabsorbedFailure(def *model.ProcessDefinition, status map[string]model.StepStatus) bool {
	for i := range def.Steps {
		step := &def.Steps[i]
		if status[step.Id] != model.STEP_FAILED {
			continue
		}
		if !failureAbsorbed(def, step.Id) {
			return true
		}
	}
	return false
}

func failureAbsorbed(def *model.ProcessDefinition, stepId string) bool {
	dependents := 0
	for i := range def.Steps {
		step := &def.Steps[i]
		for _, dep := range step.DependsOn {
			if dep != stepId {
				continue
			}
			dependents++
			if !step.ContinuesOn(stepId) {
				return false
			}
		}
	}
	return dependents > 0
}
