package schema

// Event type constants published while a run executes.
const (
	EventRunStarted    = "run_started"
	EventRunCompleted  = "run_completed"
	EventRunTerminated = "run_terminated"
	EventRunFailed     = "run_failed"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"

	EventConditionEvaluated = "condition_evaluated"
	EventLoopIterStarted    = "loop_iter_started"
	EventLoopIterCompleted  = "loop_iter_completed"
	EventLoopCompleted      = "loop_completed"
	EventParallelStarted    = "parallel_started"
	EventParallelCompleted  = "parallel_completed"
	EventWaitStarted        = "wait_started"
	EventWaitCompleted      = "wait_completed"
	EventRetryAttempt       = "retry_attempt"
	EventErrorCaught        = "error_caught"
	EventSubflowStarted     = "subflow_started"
	EventSubflowCompleted   = "subflow_completed"
	EventVariableSet        = "variable_set"
)

// RunStatus represents the lifecycle state of one ExecuteFlow call.
type RunStatus string

const (
	RunStatusReady      RunStatus = "ready"
	RunStatusRunning    RunStatus = "running"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusTerminated RunStatus = "terminated"
	RunStatusFailed     RunStatus = "failed"
)

// IsFinal reports whether no further transition is possible.
func (s RunStatus) IsFinal() bool {
	return s == RunStatusCompleted || s == RunStatusTerminated || s == RunStatusFailed
}
