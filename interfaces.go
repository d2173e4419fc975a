package edudoc

import "context"

// Router classifies a query into exactly one QueryClass and, for classes
// other than simple, proposes a metadata filter to narrow retrieval.
type Router interface {
	Classify(ctx context.Context, query string, history History) (*RouteDecision, error)
}

// Retriever fetches passages relevant to a query. An empty result is not an
// error: Retrieve returns a nil or empty slice when nothing matches.
// Retrieve must be deterministic for identical inputs against an unchanged
// index.
type Retriever interface {
	Retrieve(ctx context.Context, query string, filter MetadataFilter, k int) ([]Passage, error)

	// Partitions enumerates the distinct document types seen at ingestion.
	Partitions(ctx context.Context) ([]string, error)
}

// Synthesizer is the hosted generation call that turns passages into an
// answer, prompted according to the instruction mode.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, passages []Passage, mode InstructionMode) (string, error)
}

// Reasoner drives the complex path: given the query, the registered tool
// schemas, and the accumulated trace, it chooses the next Action. Each step
// is a pure function of its inputs so the loop can be tested with fakes.
type Reasoner interface {
	NextStep(ctx context.Context, query string, schemas map[string]map[string]any, trace []ToolInvocation) (*Action, error)
}

// Tool represents a named, schema-constrained external capability.
type Tool interface {
	// Execute performs the tool's action with resolved arguments.
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)

	// Schema returns the tool definition used by the Reasoner. Standard
	// keys: "description", "parameters", "returns", "examples", "category".
	Schema() map[string]any

	// Validate checks the input before execution.
	Validate(input map[string]any) error

	// Name returns the tool's registered name.
	Name() string

	// Idempotent reports whether repeating the call with identical input is
	// safe. The dispatcher never silently retries a non-idempotent tool.
	Idempotent() bool
}

// Cache stores route decisions keyed by query hash.
type Cache interface {
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any)
}

// SessionStore holds per-session conversation history. History is read-only
// during a query; the UI layer appends after each Answer.
type SessionStore interface {
	History(ctx context.Context, sessionID string) (History, error)
	Append(ctx context.Context, sessionID string, ex Exchange) error
}
