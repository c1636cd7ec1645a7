package api

import "errors"

var (
	// ErrUnknownFlow is returned by Wait, Cancel and StopFlow in strict mode
	// when no flow exists for the key.
	ErrUnknownFlow = errors.New("unknown flow")

	// ErrFlowNotActive is returned by Push when the flow is stopping or stopped.
	ErrFlowNotActive = errors.New("flow not active")

	// ErrDuplicateTask is returned by Push when the task key is still live.
	ErrDuplicateTask = errors.New("duplicate task")

	// ErrUnknownMethod is returned by Push when no handler is registered.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrRegistryDestroyed is returned by every flow operation after Destroy.
	ErrRegistryDestroyed = errors.New("registry destroyed")

	// ErrHandlerFault wraps a panic recovered from a handler. It only ever
	// appears inside a Failed outcome.
	ErrHandlerFault = errors.New("handler fault")

	// ErrFlowStopped is the stop signal returned by Wait once a stopped flow
	// has no undelivered outcomes left.
	ErrFlowStopped = errors.New("flow stopped")

	// ErrWaitTimeout is returned by Wait when the configured wait timeout
	// elapses before an outcome becomes available.
	ErrWaitTimeout = errors.New("wait timeout")

	// ErrTaskCancelled is recorded on tasks that were cancelled.
	ErrTaskCancelled = errors.New("task cancelled")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrUnknownFlow, "UnknownFlow"},
	{ErrFlowNotActive, "FlowNotActive"},
	{ErrDuplicateTask, "DuplicateTask"},
	{ErrUnknownMethod, "UnknownMethod"},
	{ErrRegistryDestroyed, "RegistryDestroyed"},
	{ErrHandlerFault, "HandlerFault"},
	{ErrFlowStopped, "FlowStopped"},
	{ErrWaitTimeout, "WaitTimeout"},
	{ErrTaskCancelled, "Cancelled"},
}

// ErrorCode returns the stable code for err, or "Internal" when err does not
// wrap one of the package's sentinel errors. It returns "" for a nil error.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "Internal"
}
