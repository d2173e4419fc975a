package edudoc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/edudocai/edudoc/internal/eventbus"
)

// DocumentSearchToolName is the reserved tool name through which the complex
// path reaches the Retriever. Its output map carries the raw passages under
// PassagesOutputKey so the dispatcher can collect citations.
const (
	DocumentSearchToolName = "document_search"
	PassagesOutputKey      = "passages"
)

// answerNoDocuments is returned when retrieval finds nothing even after the
// unfiltered retry. An explicit refusal, never an empty answer.
const answerNoDocuments = "No relevant documents found: I don't have information on that in the uploaded documents."

// aggregationCaveat is attached to every aggregation answer; counts derived
// from unstructured text are a known precision limit.
const aggregationCaveat = "Counts and groupings are synthesized from unstructured passages and may be incomplete."

// incompleteCaveat marks answers cut short by the tool-loop step ceiling.
const incompleteCaveat = "reasoning incomplete: step ceiling reached"

// pathHandler executes one query class end to end and produces the Answer.
type pathHandler func(ctx context.Context, pCtx *ProcessContext) (*Answer, error)

// Dispatcher selects and runs exactly one execution path per RouteDecision.
type Dispatcher struct {
	retriever   Retriever
	synthesizer Synthesizer
	reasoner    Reasoner
	tools       map[string]Tool
	config      Config
	eventBus    eventbus.EventBus

	handlers map[QueryClass]pathHandler
}

// NewDispatcher wires the execution paths. The handler table is closed over
// QueryClasses(); a class without a handler is a construction error.
func NewDispatcher(retriever Retriever, synthesizer Synthesizer, reasoner Reasoner, tools map[string]Tool, config Config, eventBus eventbus.EventBus) (*Dispatcher, error) {
	if retriever == nil {
		return nil, NewConfigurationError("retriever is required", nil)
	}
	if synthesizer == nil {
		return nil, NewConfigurationError("synthesizer is required", nil)
	}

	d := &Dispatcher{
		retriever:   retriever,
		synthesizer: synthesizer,
		reasoner:    reasoner,
		tools:       tools,
		config:      config,
		eventBus:    eventBus,
	}
	d.handlers = map[QueryClass]pathHandler{
		ClassSimple:        d.answerSimple,
		ClassCrossDocument: d.answerCrossDocument,
		ClassAggregation:   d.answerAggregation,
		ClassComplex:       d.answerComplex,
	}
	for _, class := range QueryClasses() {
		if _, ok := d.handlers[class]; !ok {
			return nil, NewConfigurationError(fmt.Sprintf("no handler registered for query class '%s'", class), nil)
		}
	}
	return d, nil
}

// Dispatch runs the handler for the decision recorded on the process
// context and returns the Answer.
func (d *Dispatcher) Dispatch(ctx context.Context, pCtx *ProcessContext) (*Answer, error) {
	decision := pCtx.Decision
	if decision == nil {
		return nil, NewInternalError("dispatch", "no route decision on process context", nil)
	}
	handler, ok := d.handlers[decision.Class]
	if !ok {
		return nil, NewInternalError("dispatch", fmt.Sprintf("unknown query class '%s'", decision.Class), nil)
	}

	answer, err := handler(ctx, pCtx)
	if err != nil {
		return nil, err
	}
	if decision.Fallback {
		answer.LowConfidence = true
	}
	return answer, nil
}

// --- Path: simple -----------------------------------------------------------

func (d *Dispatcher) answerSimple(ctx context.Context, pCtx *ProcessContext) (*Answer, error) {
	passages, err := d.retrieveWithEmptyFallback(ctx, pCtx, pCtx.Query, pCtx.Decision.Filter, d.config.TopK)
	if err != nil {
		return nil, err
	}
	if len(passages) == 0 {
		return &Answer{Text: answerNoDocuments, LowConfidence: true}, nil
	}

	text, err := d.synthesize(ctx, pCtx, pCtx.Query, passages, ModeFact)
	if err != nil {
		return nil, err
	}
	return &Answer{Text: text, Citations: passages}, nil
}

// --- Path: cross_document ---------------------------------------------------

func (d *Dispatcher) answerCrossDocument(ctx context.Context, pCtx *ProcessContext) (*Answer, error) {
	partitions, err := d.partitionsFor(ctx, pCtx, pCtx.Decision.Filter)
	if err != nil {
		return nil, err
	}
	if len(partitions) == 0 {
		// Nothing ingested yet; a single unfiltered call settles it.
		return d.answerSimple(ctx, pCtx)
	}

	// Per-partition retrievals are read-only and order-independent, so they
	// fan out concurrently and join before synthesis.
	results := make([][]Passage, len(partitions))
	g, gctx := errgroup.WithContext(ctx)
	for i, partition := range partitions {
		filter := pCtx.Decision.Filter.Clone()
		if filter == nil {
			filter = MetadataFilter{}
		}
		filter[KeyDocumentType] = partition
		g.Go(func() error {
			passages, err := d.retrieve(gctx, pCtx, pCtx.Query, filter, d.config.TopK)
			if err != nil {
				return err
			}
			results[i] = passages
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var union []Passage
	for _, passages := range results {
		union = append(union, passages...)
	}
	union = dedupPassages(union)

	if len(union) == 0 {
		// The suggested partitions matched nothing; retry once unfiltered
		// before giving up.
		unfiltered, err := d.retrieve(ctx, pCtx, pCtx.Query, nil, d.config.TopK)
		if err != nil {
			return nil, err
		}
		union = unfiltered
	}
	if len(union) == 0 {
		return &Answer{Text: answerNoDocuments, LowConfidence: true}, nil
	}

	text, err := d.synthesize(ctx, pCtx, pCtx.Query, union, ModeFact)
	if err != nil {
		return nil, err
	}
	return &Answer{Text: text, Citations: union}, nil
}

// partitionsFor enumerates the document-type partitions to query: the types
// named by the suggested filter, or every type seen at ingestion.
func (d *Dispatcher) partitionsFor(ctx context.Context, pCtx *ProcessContext, filter MetadataFilter) ([]string, error) {
	if types, ok := filter[KeyDocumentType]; ok && types != "" {
		var partitions []string
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				partitions = append(partitions, t)
			}
		}
		if len(partitions) > 0 {
			return partitions, nil
		}
	}

	callCtx, cancel := d.callContext(ctx)
	defer cancel()
	partitions, err := d.retriever.Partitions(callCtx)
	if err != nil {
		return nil, NewRetrievalError(err)
	}
	return partitions, nil
}

// dedupPassages removes duplicate (source, offset) pairs, keeping the higher
// relevance score, and orders the result by descending score.
func dedupPassages(passages []Passage) []Passage {
	seen := make(map[passageKey]int, len(passages))
	out := make([]Passage, 0, len(passages))
	for _, p := range passages {
		if idx, ok := seen[p.key()]; ok {
			if p.Score > out[idx].Score {
				out[idx] = p
			}
			continue
		}
		seen[p.key()] = len(out)
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// --- Path: aggregation ------------------------------------------------------

func (d *Dispatcher) answerAggregation(ctx context.Context, pCtx *ProcessContext) (*Answer, error) {
	// Relax to type-level granularity and retrieve broadly; the synthesis
	// step does the counting, not the dispatcher. Passages are unstructured
	// text, so the result carries a precision caveat.
	filter := pCtx.Decision.Filter.Relax()
	passages, err := d.retrieveWithEmptyFallback(ctx, pCtx, pCtx.Query, filter, d.config.AggregationTopK)
	if err != nil {
		return nil, err
	}
	if len(passages) == 0 {
		return &Answer{Text: answerNoDocuments, LowConfidence: true}, nil
	}

	text, err := d.synthesize(ctx, pCtx, pCtx.Query, passages, ModeAggregate)
	if err != nil {
		return nil, err
	}
	return &Answer{Text: text, Citations: passages, Caveat: aggregationCaveat}, nil
}

// --- Path: complex (tool loop) ----------------------------------------------

func (d *Dispatcher) answerComplex(ctx context.Context, pCtx *ProcessContext) (*Answer, error) {
	if d.reasoner == nil {
		return nil, NewConfigurationError("complex path requires a reasoner", nil)
	}

	schemas := d.toolSchemas()
	trace := make([]ToolInvocation, 0, d.config.MaxToolSteps)
	var citations []Passage

	for step := 0; step < d.config.MaxToolSteps; step++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		action, err := d.nextStep(ctx, pCtx, schemas, trace)
		if err != nil {
			return nil, err
		}

		if action.Final {
			text := action.Answer
			if text == "" {
				text, err = d.synthesize(ctx, pCtx, pCtx.Query, withObservations(citations, trace), ModeToolTrace)
				if err != nil {
					return nil, err
				}
			}
			return &Answer{Text: text, Citations: citations, Trace: trace}, nil
		}

		inv := d.invokeTool(ctx, pCtx, action)
		if inv.Success && inv.Tool == DocumentSearchToolName {
			if found, ok := inv.Output[PassagesOutputKey].([]Passage); ok {
				citations = dedupPassages(append(citations, found...))
			}
		}
		trace = append(trace, inv)
	}

	// Step ceiling reached: produce a partial answer with an explicit
	// incompleteness marker rather than failing silently.
	d.publish(ctx, eventbus.EventToolLoopExhausted, pCtx.Query, "Dispatcher.answerComplex", map[string]any{
		"steps": d.config.MaxToolSteps,
	})
	log.Warn().
		Str("query", pCtx.Query).
		Int("steps", d.config.MaxToolSteps).
		Msg("tool loop exhausted before final answer")

	text, err := d.synthesize(ctx, pCtx, pCtx.Query, withObservations(citations, trace), ModeToolTrace)
	if err != nil {
		text = "Reasoning incomplete: the step budget was exhausted before the question could be fully answered."
	}
	return &Answer{
		Text:       text,
		Citations:  citations,
		Trace:      trace,
		Incomplete: true,
		Caveat:     incompleteCaveat,
	}, nil
}

// nextStep asks the Reasoner for the next action, retrying once. The step is
// a pure function of (query, schemas, trace), which keeps the loop testable
// with a fake reasoner.
func (d *Dispatcher) nextStep(ctx context.Context, pCtx *ProcessContext, schemas map[string]map[string]any, trace []ToolInvocation) (*Action, error) {
	var lastErr error
	for attempt := 0; attempt <= 1; attempt++ {
		if attempt > 0 {
			if err := d.backoff(ctx); err != nil {
				return nil, err
			}
		}
		callCtx, cancel := d.callContext(ctx)
		action, err := d.reasoner.NextStep(callCtx, pCtx.Query, schemas, trace)
		cancel()
		if err == nil {
			if action == nil {
				return nil, NewReasoningError(errors.New("reasoner returned no action"))
			}
			return action, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, NewReasoningError(lastErr)
}

// invokeTool runs one tool call and records it as a ToolInvocation. Tool
// failures are observations for the next reasoning step, not fatal errors.
// Only idempotent tools are retried, and only after a timeout.
func (d *Dispatcher) invokeTool(ctx context.Context, pCtx *ProcessContext, action *Action) ToolInvocation {
	inv := ToolInvocation{Tool: action.Tool, Input: action.Input}

	tool, ok := d.tools[action.Tool]
	if !ok {
		inv.Err = fmt.Sprintf("tool '%s' is not registered", action.Tool)
		d.publish(ctx, eventbus.EventToolInvocationFailure, inv, "Dispatcher.invokeTool", nil)
		return inv
	}
	if err := tool.Validate(action.Input); err != nil {
		inv.Err = fmt.Sprintf("invalid input: %v", err)
		d.publish(ctx, eventbus.EventToolInvocationFailure, inv, "Dispatcher.invokeTool", nil)
		return inv
	}

	d.publish(ctx, eventbus.EventToolInvocationStarted, inv, "Dispatcher.invokeTool", nil)
	atomic.AddInt64(&pCtx.ToolCalls, 1)

	callCtx, cancel := d.callContext(ctx)
	output, err := tool.Execute(callCtx, action.Input)
	cancel()

	if err != nil && errors.Is(err, context.DeadlineExceeded) && tool.Idempotent() && ctx.Err() == nil {
		// Safe to repeat with identical payload.
		d.publish(ctx, eventbus.EventRetrievalRetry, inv, "Dispatcher.invokeTool", map[string]any{"reason": "timeout"})
		atomic.AddInt64(&pCtx.ToolCalls, 1)
		callCtx, cancel = d.callContext(ctx)
		output, err = tool.Execute(callCtx, action.Input)
		cancel()
	}

	if err != nil {
		inv.Err = err.Error()
		d.publish(ctx, eventbus.EventToolInvocationFailure, inv, "Dispatcher.invokeTool", nil)
		log.Warn().Err(err).Str("tool", action.Tool).Msg("tool invocation failed")
		return inv
	}

	inv.Output = output
	inv.Success = true
	d.publish(ctx, eventbus.EventToolInvocationSuccess, inv, "Dispatcher.invokeTool", nil)
	return inv
}

func (d *Dispatcher) toolSchemas() map[string]map[string]any {
	schemas := make(map[string]map[string]any, len(d.tools))
	for name, tool := range d.tools {
		schemas[name] = tool.Schema()
	}
	return schemas
}

// withObservations appends tool observations as synthetic passages so the
// tool-trace synthesis mode sees both document context and tool results.
func withObservations(citations []Passage, trace []ToolInvocation) []Passage {
	out := make([]Passage, 0, len(citations)+len(trace))
	out = append(out, citations...)
	for i, inv := range trace {
		out = append(out, Passage{
			Text:             inv.Observation(),
			SourceDocumentID: "tool:" + inv.Tool,
			Offset:           i,
		})
	}
	return out
}

// --- Shared call plumbing ---------------------------------------------------

// retrieve performs one logical retrieval with a per-call timeout, retrying
// once with backoff on failure. The second failure is fatal to the query.
func (d *Dispatcher) retrieve(ctx context.Context, pCtx *ProcessContext, query string, filter MetadataFilter, k int) ([]Passage, error) {
	var lastErr error
	for attempt := 0; attempt <= 1; attempt++ {
		if attempt > 0 {
			d.publish(ctx, eventbus.EventRetrievalRetry, query, "Dispatcher.retrieve", map[string]any{"error": lastErr.Error()})
			if err := d.backoff(ctx); err != nil {
				return nil, err
			}
		}
		d.publish(ctx, eventbus.EventRetrievalStarted, query, "Dispatcher.retrieve", map[string]any{"filter": filter, "k": k})

		callCtx, cancel := d.callContext(ctx)
		passages, err := d.retriever.Retrieve(callCtx, query, filter, k)
		cancel()
		atomic.AddInt64(&pCtx.RetrievalCalls, 1)

		if err == nil {
			if len(passages) == 0 {
				d.publish(ctx, eventbus.EventRetrievalEmpty, query, "Dispatcher.retrieve", nil)
			} else {
				d.publish(ctx, eventbus.EventRetrievalSuccess, query, "Dispatcher.retrieve", map[string]any{"count": len(passages)})
			}
			return passages, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	d.publish(ctx, eventbus.EventRetrievalFailure, query, "Dispatcher.retrieve", map[string]any{"error": lastErr.Error()})
	return nil, NewRetrievalError(lastErr)
}

// retrieveWithEmptyFallback retrieves with the given filter and, when a
// non-empty filter matches nothing, retries once unfiltered before the
// caller declares "no relevant documents found".
func (d *Dispatcher) retrieveWithEmptyFallback(ctx context.Context, pCtx *ProcessContext, query string, filter MetadataFilter, k int) ([]Passage, error) {
	passages, err := d.retrieve(ctx, pCtx, query, filter, k)
	if err != nil {
		return nil, err
	}
	if len(passages) == 0 && len(filter) > 0 {
		return d.retrieve(ctx, pCtx, query, nil, k)
	}
	return passages, nil
}

// synthesize runs the generation call with a per-call timeout, retrying
// once. The second failure is fatal to the query.
func (d *Dispatcher) synthesize(ctx context.Context, pCtx *ProcessContext, question string, passages []Passage, mode InstructionMode) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= 1; attempt++ {
		if attempt > 0 {
			if err := d.backoff(ctx); err != nil {
				return "", err
			}
		}
		d.publish(ctx, eventbus.EventSynthesisStarted, question, "Dispatcher.synthesize", map[string]any{"mode": string(mode), "passages": len(passages)})

		callCtx, cancel := d.callContext(ctx)
		text, err := d.synthesizer.Synthesize(callCtx, question, passages, mode)
		cancel()
		atomic.AddInt64(&pCtx.SynthesisCalls, 1)

		if err == nil {
			d.publish(ctx, eventbus.EventSynthesisSuccess, question, "Dispatcher.synthesize", map[string]any{"answer_length": len(text)})
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	d.publish(ctx, eventbus.EventSynthesisFailure, question, "Dispatcher.synthesize", map[string]any{"error": lastErr.Error()})
	return "", NewSynthesisError(lastErr)
}

func (d *Dispatcher) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.config.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.config.CallTimeout)
}

func (d *Dispatcher) backoff(ctx context.Context) error {
	if d.config.RetryBackoff <= 0 {
		return nil
	}
	timer := time.NewTimer(d.config.RetryBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *Dispatcher) publish(ctx context.Context, eventType eventbus.EventType, payload any, source string, metadata map[string]any) {
	if d.eventBus == nil {
		return
	}
	_ = d.eventBus.Publish(ctx, eventbus.NewEvent(eventType, payload, source, metadata))
}
