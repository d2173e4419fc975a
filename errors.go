package edudoc

import "fmt"

// Error codes for specific failure types.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeClassification  = "CLASSIFICATION_FAILURE"
	ErrCodeRetrieval       = "RETRIEVAL_FAILURE"
	ErrCodeToolNotFound    = "TOOL_NOT_FOUND"
	ErrCodeToolExecution   = "TOOL_FAILURE"
	ErrCodeToolLoopExhaust = "TOOL_LOOP_EXHAUSTED"
	ErrCodeSynthesis       = "SYNTHESIS_FAILURE"
	ErrCodeReasoning       = "REASONING_FAILURE"
	ErrCodeConfiguration   = "CONFIGURATION_ERROR"
	ErrCodeCancelled       = "EXECUTION_CANCELLED"
	ErrCodeTimeout         = "EXECUTION_TIMEOUT"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// Error is the structured error type for the query pipeline. Stage names the
// pipeline stage that failed so user-visible failures can say where without
// exposing internal payloads.
type Error struct {
	Code    string // machine-readable code (e.g. ErrCodeRetrieval)
	Stage   string // pipeline stage (e.g. "routing", "retrieval")
	Message string // human-readable message
	Cause   error  // underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause, allowing errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new pipeline Error.
func NewError(code, stage, message string, cause error) *Error {
	return &Error{Code: code, Stage: stage, Message: message, Cause: cause}
}

// Specific error constructors.

func NewValidationError(stage, message string, cause error) *Error {
	return NewError(ErrCodeValidation, stage, message, cause)
}

func NewClassificationError(cause error) *Error {
	return NewError(ErrCodeClassification, "routing", "query classification failed", cause)
}

func NewRetrievalError(cause error) *Error {
	return NewError(ErrCodeRetrieval, "retrieval", "passage retrieval failed", cause)
}

func NewToolNotFoundError(toolName string) *Error {
	return NewError(ErrCodeToolNotFound, "tool-loop", fmt.Sprintf("tool '%s' not found", toolName), nil)
}

func NewToolExecutionError(toolName string, cause error) *Error {
	return NewError(ErrCodeToolExecution, "tool-loop", fmt.Sprintf("execution failed for tool '%s'", toolName), cause)
}

func NewToolLoopExhaustedError(steps int) *Error {
	return NewError(ErrCodeToolLoopExhaust, "tool-loop", fmt.Sprintf("step ceiling of %d reached before a final answer", steps), nil)
}

func NewSynthesisError(cause error) *Error {
	return NewError(ErrCodeSynthesis, "synthesis", "failed to synthesize answer", cause)
}

func NewReasoningError(cause error) *Error {
	return NewError(ErrCodeReasoning, "tool-loop", "reasoning step failed", cause)
}

func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewCancelledError(stage string, cause error) *Error {
	msg := "execution cancelled"
	if cause != nil && cause.Error() != "" && cause.Error() != "context canceled" {
		msg = fmt.Sprintf("execution cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

func NewTimeoutError(stage string, cause error) *Error {
	return NewError(ErrCodeTimeout, stage, "external call timed out", cause)
}

func NewInternalError(stage, message string, cause error) *Error {
	return NewError(ErrCodeInternal, stage, message, cause)
}
