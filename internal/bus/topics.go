package bus

// Task lifecycle topics.
const (
	TopicTaskCreated       = "task.created"
	TopicTaskUpdated       = "task.updated"
	TopicTaskStatusChanged = "task.status_changed"
	TopicTaskReordered     = "task.reordered"
	TopicTaskDeleted       = "task.deleted"
)

// Trace and classification topics.
const (
	TopicStepAppended       = "trace.step_appended"
	TopicClassifyQueued     = "classify.queued"
	TopicClassifyCompleted  = "classify.completed"
)

// TaskEvent is published when a task is created, updated, or deleted.
type TaskEvent struct {
	TaskID string // Task ID
	Title  string // Task title at time of event
	Status string // Task status at time of event
}

// TaskStatusChangedEvent is published when a task's status changes.
type TaskStatusChangedEvent struct {
	TaskID    string // Task ID
	OldStatus string // Previous status (e.g. open)
	NewStatus string // New status (e.g. done)
}

// StepAppendedEvent is published when an agent step is recorded.
type StepAppendedEvent struct {
	TraceID    string // Trace the step belongs to
	SessionID  string // Owning session
	StepNumber int    // Monotonic position within the trace
	Role       string // user, router, tool, or assistant
}

// ClassificationEvent is published when a task's category assignment changes.
type ClassificationEvent struct {
	TaskID     string   // Task ID
	Categories []string // Assigned category names
}
