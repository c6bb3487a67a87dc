package engine

import "fmt"

// ErrorKind classifies an EngineError per the taxonomy in spec §7.
type ErrorKind string

const (
	ErrResolve          ErrorKind = "ResolveError"
	ErrCondition        ErrorKind = "ConditionError"
	ErrLoopLimit        ErrorKind = "LoopLimitExceeded"
	ErrHTTPTimeout      ErrorKind = "HttpError.Timeout"
	ErrHTTPNetwork      ErrorKind = "HttpError.Network"
	ErrHTTPConfig       ErrorKind = "HttpError.Configuration"
	ErrHTTPResponse     ErrorKind = "HttpError.Response"
	ErrStartStepMissing ErrorKind = "StartStepMissing"
	ErrStepNotFound     ErrorKind = "StepNotFound"
	ErrNoBranchMatched  ErrorKind = "NoBranchMatched"
)

// EngineError is the canonical error type propagated by the engine. It is
// always convertible to a SerializedError for delivery across a callback or
// wire boundary — grounded in the teacher's FlowError, which exists for the
// same reason (a JSON-safe error that still supports errors.Is/errors.As).
type EngineError struct {
	Kind       ErrorKind
	Message    string
	StepID     string
	Status     int    // set only for HttpError.Response
	StatusText string // set only for HttpError variants
	Response   any    // set only for HttpError.Response
	Cause      error
}

func (e *EngineError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] %s (step: %s)", e.Kind, e.Message, e.StepID)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// SerializedError is the plain-data shape every EngineError collapses to
// before it crosses the callback boundary (spec §4.4 "Serialization of
// errors").
type SerializedError struct {
	Name       string          `json:"name"`
	Message    string          `json:"message"`
	Status     int             `json:"status,omitempty"`
	StatusText string          `json:"statusText,omitempty"`
	Response   any             `json:"response,omitempty"`
	Cause      *SerializedCause `json:"cause,omitempty"`
}

// SerializedCause is the minimal {name, message} form of a wrapped cause.
type SerializedCause struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Serialize converts e to its plain-data form.
func (e *EngineError) Serialize() *SerializedError {
	s := &SerializedError{
		Name:       string(e.Kind),
		Message:    e.Message,
		Status:     e.Status,
		StatusText: e.StatusText,
		Response:   e.Response,
	}
	if e.Cause != nil {
		s.Cause = &SerializedCause{Name: "error", Message: e.Cause.Error()}
	}
	return s
}

func newResolveError(source, message string) *EngineError {
	return &EngineError{Kind: ErrResolve, Message: fmt.Sprintf("%s: %s", source, message)}
}

func newConditionError(message string, cause error) *EngineError {
	return &EngineError{Kind: ErrCondition, Message: message, Cause: cause}
}

func newLoopLimitError(loopName string, limit int) *EngineError {
	return &EngineError{Kind: ErrLoopLimit, Message: fmt.Sprintf("loop %q exceeded max iterations (%d)", loopName, limit)}
}
