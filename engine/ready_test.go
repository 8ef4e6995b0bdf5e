package engine

import (
	"testing"

	"github.com/prochestra/prochestra/model"
	"github.com/stretchr/testify/require"
)

func linearDefinition() *model.ProcessDefinition {
	return &model.ProcessDefinition{
		Id:      "order-flow",
		Version: 1,
		Name:    "order flow",
		Steps: []model.StepDefinition{
			{Id: "reserve", Type: "noop"},
			{Id: "charge", Type: "noop", DependsOn: []string{"reserve"}},
			{Id: "notify", Type: "noop", DependsOn: []string{"charge"}},
		},
	}
}

func row(stepId string, status model.StepStatus) *model.StepExecution {
	return &model.StepExecution{ExecutionId: "e1", StepId: stepId, Status: status}
}

func readyIds(r *readiness) []string {
	ids := make([]string, 0, len(r.Ready))
	for _, step := range r.Ready {
		ids = append(ids, step.Id)
	}
	return ids
}

func TestComputeReadinessRootsOnly(t *testing.T) {
	r := computeReadiness(linearDefinition(), nil)
	require.Equal(t, []string{"reserve"}, readyIds(r))
	require.Empty(t, r.ToSkip)
	require.False(t, r.AllDone)
	require.False(t, r.Failed)
}

func TestComputeReadinessUnlocksDependent(t *testing.T) {
	rows := []*model.StepExecution{row("reserve", model.STEP_COMPLETED)}
	r := computeReadiness(linearDefinition(), rows)
	require.Equal(t, []string{"charge"}, readyIds(r))
	require.False(t, r.AllDone)
}

func TestComputeReadinessRunningBlocks(t *testing.T) {
	rows := []*model.StepExecution{row("reserve", model.STEP_RUNNING)}
	r := computeReadiness(linearDefinition(), rows)
	require.Empty(t, readyIds(r))
	require.Equal(t, 1, r.Running)
	require.False(t, r.AllDone)
}

func TestComputeReadinessFailureCascadesTransitively(t *testing.T) {
	rows := []*model.StepExecution{row("reserve", model.STEP_FAILED)}
	r := computeReadiness(linearDefinition(), rows)
	require.Empty(t, readyIds(r))
	require.ElementsMatch(t, []string{"charge", "notify"}, r.ToSkip)
	require.True(t, r.AllDone)
	require.True(t, r.Failed)
}

func TestComputeReadinessContinueOnFailureEdge(t *testing.T) {
	def := &model.ProcessDefinition{
		Id: "p", Version: 1, Name: "p",
		Steps: []model.StepDefinition{
			{Id: "a", Type: "noop"},
			{Id: "b", Type: "noop", DependsOn: []string{"a"}, ContinueOn: []string{"a"}},
		},
	}
	rows := []*model.StepExecution{row("a", model.STEP_FAILED)}
	r := computeReadiness(def, rows)
	require.Equal(t, []string{"b"}, readyIds(r))
	require.Empty(t, r.ToSkip)
	// every dependent of "a" continues past the failure, so it is absorbed
	require.False(t, r.Failed)
}

func TestComputeReadinessPartialContinueDoesNotAbsorb(t *testing.T) {
	def := &model.ProcessDefinition{
		Id: "p", Version: 1, Name: "p",
		Steps: []model.StepDefinition{
			{Id: "a", Type: "noop"},
			{Id: "b", Type: "noop", DependsOn: []string{"a"}, ContinueOn: []string{"a"}},
			{Id: "c", Type: "noop", DependsOn: []string{"a"}},
		},
	}
	rows := []*model.StepExecution{row("a", model.STEP_FAILED)}
	r := computeReadiness(def, rows)
	require.Equal(t, []string{"b"}, readyIds(r))
	require.Equal(t, []string{"c"}, r.ToSkip)
	require.True(t, r.Failed)
}

func TestComputeReadinessLeafFailureNotAbsorbed(t *testing.T) {
	rows := []*model.StepExecution{
		row("reserve", model.STEP_COMPLETED),
		row("charge", model.STEP_COMPLETED),
		row("notify", model.STEP_FAILED),
	}
	r := computeReadiness(linearDefinition(), rows)
	require.True(t, r.AllDone)
	require.True(t, r.Failed)
}

func TestComputeReadinessSkipCascadesThroughSkipped(t *testing.T) {
	def := &model.ProcessDefinition{
		Id: "p", Version: 1, Name: "p",
		Steps: []model.StepDefinition{
			{Id: "a", Type: "noop"},
			{Id: "b", Type: "noop", DependsOn: []string{"a"}},
			{Id: "c", Type: "noop", DependsOn: []string{"b"}, ContinueOn: []string{"b"}},
		},
	}
	rows := []*model.StepExecution{row("a", model.STEP_FAILED)}
	r := computeReadiness(def, rows)
	// b is skipped; c's continue-on edge lets it run despite the skip
	require.Equal(t, []string{"b"}, r.ToSkip)
	require.Equal(t, []string{"c"}, readyIds(r))
}

func TestComputeReadinessDiamond(t *testing.T) {
	def := &model.ProcessDefinition{
		Id: "p", Version: 1, Name: "p",
		Steps: []model.StepDefinition{
			{Id: "a", Type: "noop"},
			{Id: "b", Type: "noop", DependsOn: []string{"a"}},
			{Id: "c", Type: "noop", DependsOn: []string{"a"}},
			{Id: "d", Type: "noop", DependsOn: []string{"b", "c"}},
		},
	}
	rows := []*model.StepExecution{
		row("a", model.STEP_COMPLETED),
		row("b", model.STEP_COMPLETED),
	}
	r := computeReadiness(def, rows)
	require.Equal(t, []string{"c"}, readyIds(r))

	rows = append(rows, row("c", model.STEP_COMPLETED))
	r = computeReadiness(def, rows)
	require.Equal(t, []string{"d"}, readyIds(r))
}

func TestComputeReadinessAllDone(t *testing.T) {
	rows := []*model.StepExecution{
		row("reserve", model.STEP_COMPLETED),
		row("charge", model.STEP_COMPLETED),
		row("notify", model.STEP_COMPLETED),
	}
	r := computeReadiness(linearDefinition(), rows)
	require.True(t, r.AllDone)
	require.False(t, r.Failed)
}

func TestComputeReadinessPendingRowStillReady(t *testing.T) {
	// a pending row means the step was made eligible but never claimed,
	// for example before a pause; it must surface as ready again
	rows := []*model.StepExecution{row("reserve", model.STEP_PENDING)}
	r := computeReadiness(linearDefinition(), rows)
	require.Equal(t, []string{"reserve"}, readyIds(r))
}
