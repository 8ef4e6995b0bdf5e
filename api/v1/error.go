package api_v1

import "fmt"

// ValidationError rejects bad input synchronously; nothing is persisted.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ConflictError reports an operator action that is not applicable in the
// execution's current status, usually because the engine loop raced ahead.
// It is a benign result, not a server fault; callers may re-query state.
type ConflictError struct {
	ExecutionId string
	Status      string
	Message     string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("execution %s is %s: %s", e.ExecutionId, e.Status, e.Message)
}

// PermissionError rejects a caller whose role does not allow the action.
// Execution state is untouched.
type PermissionError struct {
	CallerId string
	Action   string
}

func (e PermissionError) Error() string {
	return fmt.Sprintf("caller %s is not permitted to %s", e.CallerId, e.Action)
}
