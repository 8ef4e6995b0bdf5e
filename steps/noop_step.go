package steps

type noopExecutor struct{}

var _ StepExecutor = new(noopExecutor)

// NewNoopExecutor returns an executor that completes immediately with its
// resolved input as output. Useful for join points and approval-only steps.
func NewNoopExecutor() *noopExecutor {
	return &noopExecutor{}
}

func (e *noopExecutor) Type() string {
	return "noop"
}

func (e *noopExecutor) Execute(req Request) (Outcome, error) {
	return Completed(req.Input), nil
}
