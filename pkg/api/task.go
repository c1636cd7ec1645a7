package api

import "time"

// Version identifies the engine build. It may be overridden at link time
// with -ldflags "-X github.com/petrijr/sconcur/pkg/api.Version=...".
var Version = "1.0.0"

// Method selects the registered Handler for a task.
type Method int

const (
	MethodSleep   Method = 1
	MethodMongoDB Method = 2
	// MethodMongoDBCursor fetches the next batch of an aggregate started
	// by MethodMongoDB with a batch size.
	MethodMongoDBCursor Method = 3
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "Pending"
	TaskRunning   TaskStatus = "Running"
	TaskCompleted TaskStatus = "Completed"
	TaskFailed    TaskStatus = "Failed"
	TaskCancelled TaskStatus = "Cancelled"
)

// Terminal reports whether no further transitions can leave s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// FlowState represents the lifecycle state of a flow.
type FlowState string

const (
	FlowActive   FlowState = "Active"
	FlowStopping FlowState = "Stopping"
	FlowStopped  FlowState = "Stopped"
)

// DuplicatePolicy decides what happens when a task key is pushed while a
// task with the same key is still Pending or Running in the flow.
type DuplicatePolicy string

const (
	// DuplicateReject fails the second push with ErrDuplicateTask.
	DuplicateReject DuplicatePolicy = "reject"
	// DuplicateReplace cancels the live task and admits the new one.
	DuplicateReplace DuplicatePolicy = "replace"
)

// StoppedFlowPolicy decides what a push does when its flow key refers to a
// flow that is Stopping or Stopped.
type StoppedFlowPolicy string

const (
	// StoppedFlowRecreate replaces the stopped flow with a fresh instance.
	StoppedFlowRecreate StoppedFlowPolicy = "recreate"
	// StoppedFlowReject fails the push with ErrFlowNotActive.
	StoppedFlowReject StoppedFlowPolicy = "reject"
)

// Request is the immutable part of a task as handed to a Handler.
// Payload is opaque to the engine and passed through verbatim.
type Request struct {
	FlowKey string
	TaskKey string
	Method  Method
	Payload string
}

// Ack acknowledges that a task was admitted to its flow.
type Ack struct {
	FlowKey string     `json:"flowKey"`
	TaskKey string     `json:"taskKey"`
	Status  TaskStatus `json:"status"`
}

// Outcome is the terminal record of a task delivered to a waiter.
type Outcome struct {
	FlowKey     string     `json:"flowKey"`
	TaskKey     string     `json:"taskKey"`
	Method      Method     `json:"method"`
	Status      TaskStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	ExecutionMs int64      `json:"executionMs"`

	// FinishedAt is when the task reached its terminal status.
	FinishedAt time.Time `json:"-"`
}
