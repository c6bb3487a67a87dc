package engine

import "time"

// Status is the lifecycle state of a step result or an execution context.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusWaiting   Status = "waiting"
	StatusPaused    Status = "paused"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// RequestSnapshot is the recorded outbound side of a Request step.
type RequestSnapshot struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body,omitempty"`
}

// ResponseSnapshot is the normalized inbound side of a Request step.
type ResponseSnapshot struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Data       any               `json:"data"`
	DurationMs int64             `json:"duration_ms"`
}

// StepExecutionResult is the per-step outcome recorded in the execution
// context. A request-step result carries exactly one of Response or Error.
type StepExecutionResult struct {
	StepID          string            `json:"stepId"`
	Status          Status            `json:"status"`
	StartedAt       *time.Time        `json:"startedAt,omitempty"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty"`
	Request         *RequestSnapshot  `json:"request,omitempty"`
	Response        *ResponseSnapshot `json:"response,omitempty"`
	Error           *SerializedError  `json:"error,omitempty"`
	Iterations      int               `json:"iterations,omitempty"`
	CurrentIteration int              `json:"currentIteration,omitempty"`
}

// LoopContext is one stack frame of active loop iteration state.
type LoopContext struct {
	LoopID         string `json:"loopId"`
	LoopName       string `json:"loopName"`
	CurrentIndex   int    `json:"currentIndex"`
	TotalIterations int   `json:"totalIterations"`
	CurrentItem    any    `json:"currentItem,omitempty"`
	ItemAlias      string `json:"itemAlias,omitempty"`
	IndexAlias     string `json:"indexAlias,omitempty"`
}

// LogLevel classifies a LogEntry.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is one observability record. Timestamps are monotonically
// non-decreasing across the lifetime of an execution (invariant vi).
type LogEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	StepID    string         `json:"stepId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// ExecutionResult is the immutable snapshot delivered to the caller once an
// execution terminates (status ∈ {completed, failed, cancelled}).
type ExecutionResult struct {
	ExecutionID string                          `json:"executionId"`
	ScenarioID  string                          `json:"scenarioId"`
	Status      Status                          `json:"status"`
	Params      map[string]any                  `json:"params"`
	StepResults map[string]*StepExecutionResult  `json:"stepResults"`
	Responses   map[string]any                  `json:"responses"`
	Logs        []LogEntry                      `json:"logs"`
	StartedAt   time.Time                       `json:"startedAt"`
	CompletedAt *time.Time                       `json:"completedAt,omitempty"`
}

// resolveContext is the layered, read-mostly state the Resolver and
// ConditionEvaluator are given. It is passed explicitly rather than
// threaded through module-level state so both components are pure-testable
// in isolation (spec §9 Design Notes).
type resolveContext struct {
	params          map[string]any
	responses       map[string]any
	loopContextStack []LoopContext
	systemTimestamp string
}
