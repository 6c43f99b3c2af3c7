package domain

// ExecutionStatus is the overall status of a plan run, persisted under the
// execution_status state key.
type ExecutionStatus string

const (
	ExecutionRunning  ExecutionStatus = "running"
	ExecutionComplete ExecutionStatus = "complete"
	ExecutionFailed   ExecutionStatus = "failed"
)
