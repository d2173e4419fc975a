package edudoc

import (
	"context"
	"fmt"
	"time"

	"github.com/edudocai/edudoc/internal/eventbus"
)

// ProcessState represents the current state of a query execution.
type ProcessState string

const (
	// StateInit is the initial state of a query.
	StateInit ProcessState = "init"
	// StateRouting represents the query classification phase.
	StateRouting ProcessState = "routing"
	// StateDispatch represents the execution of the selected path.
	StateDispatch ProcessState = "dispatch"
	// StateError represents a failed query.
	StateError ProcessState = "error"
	// StateComplete represents the completed state.
	StateComplete ProcessState = "complete"
	// StateCancelled represents the cancelled state.
	StateCancelled ProcessState = "cancelled"
	// StateUnknown is used when the status of an async execution cannot be
	// determined.
	StateUnknown ProcessState = "unknown"
)

// ProcessContext carries the data of one query through the state machine.
// It acts as the tape of the pushdown automaton.
type ProcessContext struct {
	// Input parameters
	SessionID string
	Query     string
	History   History

	// Intermediate and final results
	Decision *RouteDecision
	Answer   *Answer

	// Per-query call counters, updated atomically because the
	// cross-document fan-out retrieves concurrently.
	RetrievalCalls int64
	ToolCalls      int64
	SynthesisCalls int64

	// Error handling
	LastError  error
	ErrorStage string

	// State management
	CurrentState ProcessState
	StateStack   []ProcessState
	StateData    map[string]any

	// Timestamp tracking
	StartTime       time.Time
	EndTime         time.Time
	StateStartTimes map[ProcessState]time.Time
}

// NewProcessContext creates a new process context for the given query.
func NewProcessContext(sessionID, query string, history History) *ProcessContext {
	return &ProcessContext{
		SessionID:       sessionID,
		Query:           query,
		History:         history,
		CurrentState:    StateInit,
		StateStack:      []ProcessState{},
		StateData:       make(map[string]any),
		StartTime:       time.Now(),
		StateStartTimes: make(map[ProcessState]time.Time),
	}
}

// PushState pushes the current state onto the stack and sets a new current
// state.
func (pc *ProcessContext) PushState(state ProcessState) {
	pc.StateStack = append(pc.StateStack, pc.CurrentState)
	pc.CurrentState = state
	pc.StateStartTimes[state] = time.Now()
}

// PopState pops the top state from the stack and sets it as the current
// state. Returns false if the stack is empty.
func (pc *ProcessContext) PopState() bool {
	if len(pc.StateStack) == 0 {
		return false
	}
	lastIdx := len(pc.StateStack) - 1
	pc.CurrentState = pc.StateStack[lastIdx]
	pc.StateStack = pc.StateStack[:lastIdx]
	pc.StateStartTimes[pc.CurrentState] = time.Now()
	return true
}

// IsTerminal reports whether the current state is terminal.
func (pc *ProcessContext) IsTerminal() bool {
	return pc.CurrentState == StateComplete || pc.CurrentState == StateError || pc.CurrentState == StateCancelled
}

// SetError records the error and stage, transitioning to StateError.
func (pc *ProcessContext) SetError(err error, stage string) {
	pc.LastError = err
	pc.ErrorStage = stage
	pc.CurrentState = StateError
	pc.StateStartTimes[StateError] = time.Now()
}

// SetCancelled records a cancellation, transitioning to StateCancelled.
func (pc *ProcessContext) SetCancelled(err error, stage string) {
	pc.LastError = err
	pc.ErrorStage = stage
	pc.CurrentState = StateCancelled
	pc.StateStartTimes[StateCancelled] = time.Now()
}

// Complete marks the query as complete and sets the end time.
func (pc *ProcessContext) Complete() {
	pc.CurrentState = StateComplete
	pc.EndTime = time.Now()
	pc.StateStartTimes[StateComplete] = pc.EndTime
}

// GetTotalDuration returns the total duration of the query so far.
func (pc *ProcessContext) GetTotalDuration() time.Duration {
	if pc.CurrentState == StateComplete {
		return pc.EndTime.Sub(pc.StartTime)
	}
	return time.Since(pc.StartTime)
}

// StateTransition defines a transition function for the state machine.
type StateTransition func(ctx context.Context, eventBus eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error)

// StateMachine is the finite state machine driving one query.
type StateMachine struct {
	transitions map[ProcessState]StateTransition
	eventBus    eventbus.EventBus
}

// NewStateMachine creates a state machine with no transitions registered.
func NewStateMachine(eventBus eventbus.EventBus) *StateMachine {
	return &StateMachine{
		transitions: make(map[ProcessState]StateTransition),
		eventBus:    eventBus,
	}
}

// RegisterTransition registers a state transition function.
func (sm *StateMachine) RegisterTransition(state ProcessState, transition StateTransition) {
	sm.transitions[state] = transition
}

// Execute runs the state machine until completion or error and returns the
// final Answer. Cancellation is checked before every transition; every
// transition body checks it again around its own external calls.
func (sm *StateMachine) Execute(ctx context.Context, pCtx *ProcessContext) (*Answer, error) {
	for !pCtx.IsTerminal() {
		select {
		case <-ctx.Done():
			err := ctx.Err()
			pCtx.SetCancelled(err, string(pCtx.CurrentState))
			return nil, NewCancelledError(string(pCtx.CurrentState), err)
		default:
		}

		transition, exists := sm.transitions[pCtx.CurrentState]
		if !exists {
			err := fmt.Errorf("no transition defined for state: %s", pCtx.CurrentState)
			pCtx.SetError(err, string(pCtx.CurrentState))
			return nil, err
		}

		nextState, err := transition(ctx, sm.eventBus, pCtx)
		if err != nil {
			currentStage := string(pCtx.CurrentState)
			if err == context.Canceled || err == context.DeadlineExceeded {
				pCtx.SetCancelled(err, currentStage)
			} else if !pCtx.IsTerminal() {
				pCtx.SetError(err, currentStage)
			}
			continue
		}

		if !pCtx.IsTerminal() {
			pCtx.CurrentState = nextState
			pCtx.StateStartTimes[nextState] = time.Now()
		}
	}

	if pCtx.LastError != nil {
		return nil, pCtx.LastError
	}
	return pCtx.Answer, nil
}
