// Package edudoc provides the query-routing and agent-dispatch core for a
// retrieval-augmented assistant over educational administrative documents.
// Every query is classified into one of four classes and answered by exactly
// one execution path: single-shot retrieval, multi-partition fan-out,
// aggregation synthesis, or a bounded tool loop.
package edudoc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/rs/zerolog/log"

	"github.com/edudocai/edudoc/internal/eventbus"
)

// EduDoc is the main entry point into the query pipeline. It encapsulates
// the Router, the Dispatcher's execution paths, and the tool registry.
type EduDoc struct {
	// Core components
	router      Router
	retriever   Retriever
	synthesizer Synthesizer
	reasoner    Reasoner
	cache       Cache
	sessions    SessionStore
	eventBus    eventbus.EventBus

	// Available tools
	tools map[string]Tool

	// Configuration
	config Config

	dispatcher *Dispatcher

	// Async processing
	asyncExecutions      map[string]*ProcessContext
	asyncExecutionsMutex sync.RWMutex
}

// Config holds the configuration options for the query pipeline.
type Config struct {
	// Passages retrieved per call on the simple and cross-document paths.
	TopK int

	// Passages retrieved by the aggregation path, which trades precision
	// for coverage.
	AggregationTopK int

	// Step ceiling for the complex path's tool loop.
	MaxToolSteps int

	// Per-call timeout for classification, retrieval, synthesis and tool
	// execution.
	CallTimeout time.Duration

	// Delay before the single retry of a failed external call.
	RetryBackoff time.Duration

	// Event bus configuration
	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TopK:                4,
		AggregationTopK:     12,
		MaxToolSteps:        10,
		CallTimeout:         time.Second * 30,
		RetryBackoff:        time.Second * 2,
		EnableEventBus:      true,
		EventBusBufferSize:  100,
		EventBusWorkerCount: 5,
	}
}

// Option is a function that configures an EduDoc instance.
type Option func(*EduDoc)

// WithConfig sets the configuration.
func WithConfig(config Config) Option {
	return func(e *EduDoc) {
		e.config = config
	}
}

// WithRouter sets the query classifier.
func WithRouter(router Router) Option {
	return func(e *EduDoc) {
		e.router = router
	}
}

// WithRetriever sets the passage retriever.
func WithRetriever(retriever Retriever) Option {
	return func(e *EduDoc) {
		e.retriever = retriever
	}
}

// WithSynthesizer sets the answer synthesizer.
func WithSynthesizer(synthesizer Synthesizer) Option {
	return func(e *EduDoc) {
		e.synthesizer = synthesizer
	}
}

// WithReasoner sets the tool-loop reasoner used by the complex path.
func WithReasoner(reasoner Reasoner) Option {
	return func(e *EduDoc) {
		e.reasoner = reasoner
	}
}

// WithCache sets the route-decision cache.
func WithCache(cache Cache) Option {
	return func(e *EduDoc) {
		e.cache = cache
	}
}

// WithSessionStore sets the per-session conversation history store.
func WithSessionStore(sessions SessionStore) Option {
	return func(e *EduDoc) {
		e.sessions = sessions
	}
}

// WithTools adds tools to the registry.
func WithTools(tools map[string]Tool) Option {
	return func(e *EduDoc) {
		if e.tools == nil {
			e.tools = make(map[string]Tool)
		}
		for name, tool := range tools {
			e.tools[name] = tool
		}
	}
}

// New creates a new EduDoc instance with the provided options.
func New(ctx context.Context, g *genkit.Genkit, options ...Option) (*EduDoc, error) {
	if g == nil {
		return nil, NewConfigurationError("genkit instance is required", nil)
	}

	e := &EduDoc{
		config:          DefaultConfig(),
		tools:           make(map[string]Tool),
		asyncExecutions: make(map[string]*ProcessContext),
	}

	for _, option := range options {
		option(e)
	}

	// Validate required components
	if e.router == nil {
		return nil, NewConfigurationError("router is required", nil)
	}
	if e.retriever == nil {
		return nil, NewConfigurationError("retriever is required", nil)
	}
	if e.synthesizer == nil {
		return nil, NewConfigurationError("synthesizer is required", nil)
	}
	if e.config.TopK <= 0 || e.config.AggregationTopK <= 0 {
		return nil, NewConfigurationError("retrieval depths must be positive", nil)
	}
	if e.config.MaxToolSteps <= 0 {
		return nil, NewConfigurationError("tool-loop step ceiling must be positive", nil)
	}

	// Initialize event bus if enabled but not provided
	if e.config.EnableEventBus && e.eventBus == nil {
		e.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(e.config.EventBusBufferSize),
			eventbus.WithWorkerCount(e.config.EventBusWorkerCount),
		)
		log.Debug().Msg("initialized default channel-based event bus")
	}

	dispatcher, err := NewDispatcher(e.retriever, e.synthesizer, e.reasoner, e.tools, e.config, e.busIfEnabled())
	if err != nil {
		return nil, err
	}
	e.dispatcher = dispatcher

	return e, nil
}

func (e *EduDoc) busIfEnabled() eventbus.EventBus {
	if e.config.EnableEventBus {
		return e.eventBus
	}
	return nil
}

// RegisterTool adds a new tool to the registry.
func (e *EduDoc) RegisterTool(name string, tool Tool) error {
	if _, exists := e.tools[name]; exists {
		return fmt.Errorf("tool with name '%s' already exists", name)
	}
	e.tools[name] = tool
	return nil
}

// GetToolByName returns a tool by its name, or an error if not found.
func (e *EduDoc) GetToolByName(name string) (Tool, error) {
	if tool, exists := e.tools[name]; exists {
		return tool, nil
	}
	return nil, NewToolNotFoundError(name)
}

// ListTools returns a list of all registered tool names.
func (e *EduDoc) ListTools() []string {
	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	return names
}

// GetToolSchemas returns a map of tool names to their full schemas, suitable
// for use in reasoner prompts.
func (e *EduDoc) GetToolSchemas() map[string]map[string]any {
	schemas := make(map[string]map[string]any, len(e.tools))
	for name, tool := range e.tools {
		schemas[name] = tool.Schema()
	}
	return schemas
}

// AnswerQuery handles one end-to-end query through the pipeline using a
// pushdown automaton state machine: init -> routing -> dispatch -> complete.
// The session's prior exchanges are loaded for the Router; the caller
// appends the new exchange after receiving the Answer.
func (e *EduDoc) AnswerQuery(ctx context.Context, sessionID, query string) (*Answer, error) {
	bus := e.busIfEnabled()
	publish(ctx, bus, eventbus.EventQueryStarted, query, "EduDoc.AnswerQuery", map[string]any{"session_id": sessionID})

	pCtx, err := e.newProcessContext(ctx, sessionID, query)
	if err != nil {
		return nil, err
	}

	answer, err := e.createStateMachine().Execute(ctx, pCtx)
	if err != nil {
		eventType := eventbus.EventQueryFailure
		if pCtx.CurrentState == StateCancelled {
			eventType = eventbus.EventQueryCancelled
		}
		publish(ctx, bus, eventType, query, "EduDoc.AnswerQuery", map[string]any{
			"error":       err.Error(),
			"error_stage": pCtx.ErrorStage,
		})
		return nil, err
	}

	publish(ctx, bus, eventbus.EventQuerySuccess, query, "EduDoc.AnswerQuery", map[string]any{
		"duration_ms": pCtx.GetTotalDuration().Milliseconds(),
	})
	return answer, nil
}

func (e *EduDoc) newProcessContext(ctx context.Context, sessionID, query string) (*ProcessContext, error) {
	var history History
	if e.sessions != nil && sessionID != "" {
		h, err := e.sessions.History(ctx, sessionID)
		if err != nil {
			// Missing history degrades classification quality, not
			// correctness; the query proceeds without it.
			log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to load session history")
		} else {
			history = h
		}
	}
	return NewProcessContext(sessionID, query, history), nil
}

// createStateMachine builds a state machine with all transitions for the
// query pipeline.
func (e *EduDoc) createStateMachine() *StateMachine {
	return CreateQueryStateMachine(e.router, e.dispatcher, e.cache, e.config, e.busIfEnabled())
}

// Close releases pipeline resources, shutting down the event bus.
func (e *EduDoc) Close() error {
	if e.eventBus != nil {
		return e.eventBus.Close()
	}
	return nil
}
