// Package job provides handles for asynchronous engine operations: an
// opaque identifier paired with a non-blocking status query and a blocking
// wait. Every posted operation — task, recognition, action, resource load —
// is tracked through the same handle shape.
package job

// Status is the lifecycle state of an asynchronous operation.
type Status int32

const (
	// StatusInvalid means the identifier is unknown to the engine.
	StatusInvalid Status = iota
	StatusPending
	StatusRunning
	StatusSucceeded
	StatusFailed
)

// Done reports whether the operation reached a terminal state.
func (s Status) Done() bool { return s == StatusSucceeded || s == StatusFailed }

// Succeeded reports terminal success.
func (s Status) Succeeded() bool { return s == StatusSucceeded }

// Failed reports terminal failure.
func (s Status) Failed() bool { return s == StatusFailed }

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// StatusFunc queries the status of an identifier. Implementations must be
// safe to call at any polling rate and from any goroutine.
type StatusFunc func(id int64) Status

// Job is a handle to an asynchronous operation. It is stateless beyond the
// captured functions and is safe to copy and share.
type Job struct {
	ID int64

	status StatusFunc
	wait   StatusFunc
}

// New builds a job from an identifier and the engine's status and wait
// functions.
func New(id int64, status, wait StatusFunc) Job {
	return Job{ID: id, status: status, wait: wait}
}

// Status returns the current status without blocking.
func (j Job) Status() Status { return j.status(j.ID) }

// Wait blocks the calling goroutine until the operation reaches a terminal
// status, then returns it.
func (j Job) Wait() Status { return j.wait(j.ID) }

// Done reports whether the operation has reached a terminal status.
func (j Job) Done() bool { return j.Status().Done() }

// Succeeded reports whether the operation has succeeded.
func (j Job) Succeeded() bool { return j.Status() == StatusSucceeded }

// Failed reports whether the operation has failed.
func (j Job) Failed() bool { return j.Status() == StatusFailed }

// Running reports whether the operation is currently executing.
func (j Job) Running() bool { return j.Status() == StatusRunning }

// Pending reports whether the operation is queued but not yet started.
func (j Job) Pending() bool { return j.Status() == StatusPending }

// GetFunc fetches the typed result of a finished operation. A nil result
// with a nil error means the engine does not (or does not yet) retain a
// detail for the identifier.
type GetFunc[T any] func(id int64) (*T, error)

// WithResult is a job whose completion produces a typed detail.
type WithResult[T any] struct {
	Job

	get GetFunc[T]
}

// NewWithResult builds a result-bearing job.
func NewWithResult[T any](id int64, status, wait StatusFunc, get GetFunc[T]) WithResult[T] {
	return WithResult[T]{Job: New(id, status, wait), get: get}
}

// Get fetches the operation's detail. When wait is true it first blocks
// until the operation is terminal. A nil result means the detail is not
// available: the operation may not have produced one yet, or the engine's
// retention window has elapsed.
func (j WithResult[T]) Get(wait bool) (*T, error) {
	if wait {
		j.Wait()
	}
	return j.get(j.ID)
}

// OverrideFunc applies a pipeline override on behalf of a running task.
type OverrideFunc func(id int64, doc []byte) error

// TaskJob is a result-bearing job for a posted task, with the added
// capability of patching the pipeline while the task runs.
type TaskJob[T any] struct {
	WithResult[T]

	override OverrideFunc
}

// NewTask builds a task job.
func NewTask[T any](inner WithResult[T], override OverrideFunc) TaskJob[T] {
	return TaskJob[T]{WithResult: inner, override: override}
}

// OverridePipeline merges a wire-format override document into the live
// node table of the task's engine.
func (j TaskJob[T]) OverridePipeline(doc []byte) error {
	return j.override(j.ID, doc)
}
