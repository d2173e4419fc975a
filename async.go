package edudoc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edudocai/edudoc/internal/eventbus"
)

// AsyncExecutionStatus represents the status information for an async query.
type AsyncExecutionStatus struct {
	ExecutionID  string        `json:"execution_id"`
	SessionID    string        `json:"session_id,omitempty"`
	Query        string        `json:"query"`
	CurrentState ProcessState  `json:"current_state"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	IsComplete   bool          `json:"is_complete"`
	HasError     bool          `json:"has_error"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorStage   string        `json:"error_stage,omitempty"`
}

// AnswerQueryAsync starts an asynchronous query execution. It returns a
// unique execution ID that can be used to check the status or fetch the
// Answer.
func (e *EduDoc) AnswerQueryAsync(ctx context.Context, sessionID, query string) (string, error) {
	executionID := uuid.New().String()
	bus := e.busIfEnabled()

	pCtx, err := e.newProcessContext(ctx, sessionID, query)
	if err != nil {
		return "", err
	}

	e.asyncExecutionsMutex.Lock()
	e.asyncExecutions[executionID] = pCtx
	e.asyncExecutionsMutex.Unlock()

	// The query outlives the caller's context; cancellation goes through
	// CancelAsyncProcess instead.
	asyncCtx, cancel := context.WithCancel(context.Background())
	pCtx.StateData["cancel"] = cancel

	publish(ctx, bus, eventbus.EventQueryAsyncStarted, query, "EduDoc.AnswerQueryAsync", map[string]any{
		"execution_id": executionID,
		"session_id":   sessionID,
	})

	stateMachine := e.createStateMachine()
	go func() {
		defer cancel()

		_, err := stateMachine.Execute(asyncCtx, pCtx)

		eventType := eventbus.EventQueryAsyncSuccess
		metadata := map[string]any{
			"execution_id": executionID,
			"duration_ms":  pCtx.GetTotalDuration().Milliseconds(),
		}
		if err != nil {
			eventType = eventbus.EventQueryAsyncFailure
			if pCtx.CurrentState == StateCancelled {
				eventType = eventbus.EventQueryAsyncCancelled
			}
			metadata["error"] = err.Error()
			metadata["error_stage"] = pCtx.ErrorStage
		}
		// The caller's context may be long gone.
		publish(context.Background(), bus, eventType, query, "EduDoc.AnswerQueryAsync", metadata)
	}()

	return executionID, nil
}

// GetAsyncStatus retrieves the current status of an async execution.
func (e *EduDoc) GetAsyncStatus(executionID string) (*AsyncExecutionStatus, error) {
	e.asyncExecutionsMutex.RLock()
	defer e.asyncExecutionsMutex.RUnlock()

	pCtx, exists := e.asyncExecutions[executionID]
	if !exists {
		return nil, fmt.Errorf("execution with ID '%s' not found", executionID)
	}

	status := &AsyncExecutionStatus{
		ExecutionID:  executionID,
		SessionID:    pCtx.SessionID,
		Query:        pCtx.Query,
		CurrentState: pCtx.CurrentState,
		StartTime:    pCtx.StartTime,
		Duration:     pCtx.GetTotalDuration(),
		IsComplete:   pCtx.CurrentState == StateComplete,
		HasError:     pCtx.CurrentState == StateError,
	}
	if pCtx.LastError != nil {
		status.ErrorMessage = pCtx.LastError.Error()
		status.ErrorStage = pCtx.ErrorStage
	}
	return status, nil
}

// GetAsyncResult retrieves the Answer of a completed async execution.
// Returns an error if the execution is still running or failed.
func (e *EduDoc) GetAsyncResult(executionID string) (*Answer, error) {
	e.asyncExecutionsMutex.RLock()
	defer e.asyncExecutionsMutex.RUnlock()

	pCtx, exists := e.asyncExecutions[executionID]
	if !exists {
		return nil, fmt.Errorf("execution with ID '%s' not found", executionID)
	}

	switch pCtx.CurrentState {
	case StateComplete:
		if pCtx.Answer == nil {
			return nil, NewInternalError("async", "execution completed without an answer", nil)
		}
		return pCtx.Answer, nil
	case StateError:
		return nil, fmt.Errorf("execution failed during stage '%s': %w", pCtx.ErrorStage, pCtx.LastError)
	case StateCancelled:
		return nil, fmt.Errorf("execution was cancelled during stage '%s'", pCtx.ErrorStage)
	default:
		return nil, fmt.Errorf("execution is still in progress (current state: %s)", pCtx.CurrentState)
	}
}

// CancelAsyncProcess cancels an ongoing async execution. Returns true if the
// execution was cancelled, false if it was already terminal.
func (e *EduDoc) CancelAsyncProcess(executionID string) (bool, error) {
	e.asyncExecutionsMutex.Lock()
	defer e.asyncExecutionsMutex.Unlock()

	pCtx, exists := e.asyncExecutions[executionID]
	if !exists {
		return false, fmt.Errorf("execution with ID '%s' not found", executionID)
	}
	if pCtx.IsTerminal() {
		return false, nil
	}

	cancelFn, ok := pCtx.StateData["cancel"].(context.CancelFunc)
	if !ok {
		return false, fmt.Errorf("cannot cancel execution: cancel function not found")
	}
	cancelFn()
	pCtx.SetCancelled(context.Canceled, string(pCtx.CurrentState))

	publish(context.Background(), e.busIfEnabled(), eventbus.EventQueryAsyncCancelled, pCtx.Query, "EduDoc.CancelAsyncProcess", map[string]any{
		"execution_id": executionID,
		"duration_ms":  pCtx.GetTotalDuration().Milliseconds(),
	})
	return true, nil
}

// ListAsyncExecutions returns all async execution IDs and their current
// states.
func (e *EduDoc) ListAsyncExecutions() map[string]string {
	e.asyncExecutionsMutex.RLock()
	defer e.asyncExecutionsMutex.RUnlock()

	result := make(map[string]string, len(e.asyncExecutions))
	for id, pCtx := range e.asyncExecutions {
		result[id] = string(pCtx.CurrentState)
	}
	return result
}

// CleanupCompletedExecutions removes terminal executions older than the
// given duration and returns how many were removed.
func (e *EduDoc) CleanupCompletedExecutions(olderThan time.Duration) int {
	e.asyncExecutionsMutex.Lock()
	defer e.asyncExecutionsMutex.Unlock()

	now := time.Now()
	count := 0
	for id, pCtx := range e.asyncExecutions {
		if pCtx.IsTerminal() && now.Sub(pCtx.StateStartTimes[pCtx.CurrentState]) > olderThan {
			delete(e.asyncExecutions, id)
			count++
		}
	}
	return count
}
