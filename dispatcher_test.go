package edudoc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// --- Fakes -----------------------------------------------------------------

type fakeRouter struct {
	decision *RouteDecision
	err      error
	calls    int
}

func (r *fakeRouter) Classify(ctx context.Context, query string, history History) (*RouteDecision, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.decision, nil
}

type retrievalCall struct {
	query  string
	filter MetadataFilter
	k      int
}

// fakeRetriever answers per document_type partition and records every call.
// Concurrency-safe because the cross-document path fans out.
type fakeRetriever struct {
	mu          sync.Mutex
	calls       []retrievalCall
	byPartition map[string][]Passage
	unfiltered  []Passage
	partitions  []string
	failures    int // first N calls fail
}

func (r *fakeRetriever) Retrieve(ctx context.Context, query string, filter MetadataFilter, k int) ([]Passage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, retrievalCall{query: query, filter: filter.Clone(), k: k})
	if r.failures > 0 {
		r.failures--
		return nil, errors.New("index unavailable")
	}
	if len(filter) == 0 {
		return r.unfiltered, nil
	}
	return r.byPartition[filter[KeyDocumentType]], nil
}

func (r *fakeRetriever) Partitions(ctx context.Context) ([]string, error) {
	return r.partitions, nil
}

func (r *fakeRetriever) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type synthesisCall struct {
	question string
	passages []Passage
	mode     InstructionMode
}

type fakeSynthesizer struct {
	mu       sync.Mutex
	calls    []synthesisCall
	text     string
	failures int
}

func (s *fakeSynthesizer) Synthesize(ctx context.Context, question string, passages []Passage, mode InstructionMode) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, synthesisCall{question: question, passages: passages, mode: mode})
	if s.failures > 0 {
		s.failures--
		return "", errors.New("model overloaded")
	}
	if s.text == "" {
		return "synthesized answer", nil
	}
	return s.text, nil
}

// fakeReasoner plays back a scripted sequence of actions, then repeats the
// last one.
type fakeReasoner struct {
	script []*Action
	step   int
}

func (r *fakeReasoner) NextStep(ctx context.Context, query string, schemas map[string]map[string]any, trace []ToolInvocation) (*Action, error) {
	if len(r.script) == 0 {
		return nil, errors.New("no script")
	}
	action := r.script[r.step]
	if r.step < len(r.script)-1 {
		r.step++
	}
	return action, nil
}

type fakeTool struct {
	name       string
	output     map[string]any
	err        error
	idempotent bool
	executions int
}

func (t *fakeTool) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	t.executions++
	if t.err != nil {
		return nil, t.err
	}
	return t.output, nil
}
func (t *fakeTool) Schema() map[string]any {
	return map[string]any{"name": t.name, "description": "fake"}
}
func (t *fakeTool) Validate(map[string]any) error { return nil }
func (t *fakeTool) Name() string                  { return t.name }
func (t *fakeTool) Idempotent() bool              { return t.idempotent }

type recordingCache struct {
	store map[string]any
}

func newRecordingCache() *recordingCache {
	return &recordingCache{store: make(map[string]any)}
}

func (c *recordingCache) Get(ctx context.Context, key string) (any, bool) {
	v, ok := c.store[key]
	return v, ok
}

func (c *recordingCache) Set(ctx context.Context, key string, value any) {
	c.store[key] = value
}

// --- Harness ---------------------------------------------------------------

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxToolSteps = 3
	cfg.RetryBackoff = 0
	cfg.CallTimeout = 0
	cfg.EnableEventBus = false
	return cfg
}

func newTestApp(t *testing.T, router Router, retriever Retriever, synthesizer Synthesizer, reasoner Reasoner, tools map[string]Tool, cache Cache, cfg Config) *EduDoc {
	t.Helper()
	dispatcher, err := NewDispatcher(retriever, synthesizer, reasoner, tools, cfg, nil)
	if err != nil {
		t.Fatalf("failed to build dispatcher: %v", err)
	}
	return &EduDoc{
		router:          router,
		retriever:       retriever,
		synthesizer:     synthesizer,
		reasoner:        reasoner,
		cache:           cache,
		tools:           tools,
		config:          cfg,
		dispatcher:      dispatcher,
		asyncExecutions: make(map[string]*ProcessContext),
	}
}

func somePassages(source string, scores ...float64) []Passage {
	passages := make([]Passage, len(scores))
	for i, score := range scores {
		passages[i] = Passage{
			Text:             fmt.Sprintf("passage %s/%d", source, i),
			SourceDocumentID: source,
			Offset:           i,
			Score:            score,
		}
	}
	return passages
}

// --- Simple path -----------------------------------------------------------

func TestSimplePathSingleRetrievalSingleSynthesis(t *testing.T) {
	retriever := &fakeRetriever{
		byPartition: map[string][]Passage{"timetable": somePassages("tt.pdf", 0.9, 0.7)},
	}
	synthesizer := &fakeSynthesizer{text: "O1A has Mathematics at 9:00 AM."}
	router := &fakeRouter{decision: &RouteDecision{
		Class:     ClassSimple,
		Reasoning: "single fact",
		Filter:    MetadataFilter{KeyDocumentType: "timetable"},
	}}
	app := newTestApp(t, router, retriever, synthesizer, nil, nil, nil, testConfig())

	answer, err := app.AnswerQuery(context.Background(), "s1", "When does O1A have Mathematics?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if retriever.callCount() != 1 {
		t.Errorf("simple path must make exactly one retrieval call, made %d", retriever.callCount())
	}
	if len(synthesizer.calls) != 1 {
		t.Errorf("simple path must make exactly one synthesis call, made %d", len(synthesizer.calls))
	}
	if synthesizer.calls[0].mode != ModeFact {
		t.Errorf("expected fact mode, got %s", synthesizer.calls[0].mode)
	}
	if answer.Text != "O1A has Mathematics at 9:00 AM." {
		t.Errorf("unexpected answer text: %q", answer.Text)
	}
	if len(answer.Citations) != 2 {
		t.Errorf("expected citations for the retrieved passages, got %d", len(answer.Citations))
	}
	if answer.LowConfidence {
		t.Error("a cleanly classified query must not be low confidence")
	}
}

func TestSimplePathEmptyFilterRetriesUnfiltered(t *testing.T) {
	retriever := &fakeRetriever{
		byPartition: map[string][]Passage{}, // filtered retrieval matches nothing
		unfiltered:  somePassages("notes.pdf", 0.5),
	}
	router := &fakeRouter{decision: &RouteDecision{
		Class:  ClassSimple,
		Filter: MetadataFilter{KeyDocumentType: "syllabus"},
	}}
	synthesizer := &fakeSynthesizer{}
	app := newTestApp(t, router, retriever, synthesizer, nil, nil, nil, testConfig())

	answer, err := app.AnswerQuery(context.Background(), "s1", "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if retriever.callCount() != 2 {
		t.Fatalf("expected filtered call plus one unfiltered retry, got %d calls", retriever.callCount())
	}
	retriever.mu.Lock()
	second := retriever.calls[1]
	retriever.mu.Unlock()
	if len(second.filter) != 0 {
		t.Errorf("the retry must drop the filter, got %v", second.filter)
	}
	if len(answer.Citations) != 1 {
		t.Errorf("expected the unfiltered passages, got %d citations", len(answer.Citations))
	}
}

func TestSimplePathNothingFoundAnywhere(t *testing.T) {
	retriever := &fakeRetriever{}
	synthesizer := &fakeSynthesizer{}
	router := &fakeRouter{decision: &RouteDecision{
		Class:  ClassSimple,
		Filter: MetadataFilter{KeyDocumentType: "syllabus"},
	}}
	app := newTestApp(t, router, retriever, synthesizer, nil, nil, nil, testConfig())

	answer, err := app.AnswerQuery(context.Background(), "s1", "q")
	if err != nil {
		t.Fatalf("an empty index is not an error: %v", err)
	}

	if !strings.Contains(answer.Text, "No relevant documents found") {
		t.Errorf("expected an explicit no-documents answer, got %q", answer.Text)
	}
	if len(synthesizer.calls) != 0 {
		t.Error("no synthesis call should be made without passages")
	}
	if !answer.LowConfidence {
		t.Error("a no-documents answer should be marked low confidence")
	}
}

func TestRetrievalFailureIsRetriedOnceThenFatal(t *testing.T) {
	retriever := &fakeRetriever{failures: 10} // never recovers
	router := &fakeRouter{decision: &RouteDecision{Class: ClassSimple}}
	app := newTestApp(t, router, retriever, &fakeSynthesizer{}, nil, nil, nil, testConfig())

	_, err := app.AnswerQuery(context.Background(), "s1", "q")
	if err == nil {
		t.Fatal("expected a retrieval failure")
	}
	var pipelineErr *Error
	if !errors.As(err, &pipelineErr) || pipelineErr.Code != ErrCodeRetrieval {
		t.Errorf("expected %s, got %v", ErrCodeRetrieval, err)
	}
	if retriever.callCount() != 2 {
		t.Errorf("expected the original call and one retry, got %d", retriever.callCount())
	}
}

func TestTransientRetrievalFailureRecovers(t *testing.T) {
	retriever := &fakeRetriever{
		failures:   1,
		unfiltered: somePassages("tt.pdf", 0.8),
	}
	router := &fakeRouter{decision: &RouteDecision{Class: ClassSimple}}
	app := newTestApp(t, router, retriever, &fakeSynthesizer{}, nil, nil, nil, testConfig())

	answer, err := app.AnswerQuery(context.Background(), "s1", "q")
	if err != nil {
		t.Fatalf("one transient failure must not fail the query: %v", err)
	}
	if len(answer.Citations) != 1 {
		t.Errorf("expected passages from the retry, got %d", len(answer.Citations))
	}
}

// --- Cross-document path ---------------------------------------------------

func TestCrossDocumentFanOutAndDedup(t *testing.T) {
	shared := Passage{Text: "shared", SourceDocumentID: "a.pdf", Offset: 0, Score: 0.5}
	sharedBetter := Passage{Text: "shared", SourceDocumentID: "a.pdf", Offset: 0, Score: 0.9}
	retriever := &fakeRetriever{
		byPartition: map[string][]Passage{
			"timetable":    {shared, {Text: "tt", SourceDocumentID: "b.pdf", Offset: 3, Score: 0.6}},
			"student_list": {sharedBetter, {Text: "sl", SourceDocumentID: "c.pdf", Offset: 1, Score: 0.4}},
		},
	}
	router := &fakeRouter{decision: &RouteDecision{
		Class:  ClassCrossDocument,
		Filter: MetadataFilter{KeyDocumentType: "timetable,student_list"},
	}}
	synthesizer := &fakeSynthesizer{}
	app := newTestApp(t, router, retriever, synthesizer, nil, nil, nil, testConfig())

	answer, err := app.AnswerQuery(context.Background(), "s1", "Which students have classes with Hashmi?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if retriever.callCount() != 2 {
		t.Errorf("expected one retrieval per partition, got %d", retriever.callCount())
	}

	if len(answer.Citations) != 3 {
		t.Fatalf("expected 3 deduplicated passages, got %d", len(answer.Citations))
	}
	seen := make(map[string]bool)
	for _, p := range answer.Citations {
		key := fmt.Sprintf("%s/%d", p.SourceDocumentID, p.Offset)
		if seen[key] {
			t.Errorf("duplicate (source, offset) pair in citations: %s", key)
		}
		seen[key] = true
	}
	// The duplicate keeps the higher score, and ordering is by score.
	if answer.Citations[0].SourceDocumentID != "a.pdf" || answer.Citations[0].Score != 0.9 {
		t.Errorf("expected the higher-scored duplicate first, got %+v", answer.Citations[0])
	}
}

func TestCrossDocumentFallsBackToKnownPartitions(t *testing.T) {
	retriever := &fakeRetriever{
		partitions: []string{"timetable", "student_list", "syllabus"},
		byPartition: map[string][]Passage{
			"timetable": somePassages("tt.pdf", 0.7),
			"syllabus":  somePassages("sy.pdf", 0.3),
		},
	}
	router := &fakeRouter{decision: &RouteDecision{Class: ClassCrossDocument}}
	app := newTestApp(t, router, retriever, &fakeSynthesizer{}, nil, nil, nil, testConfig())

	answer, err := app.AnswerQuery(context.Background(), "s1", "Show me all advisors")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if retriever.callCount() != 3 {
		t.Errorf("expected one retrieval per known partition, got %d", retriever.callCount())
	}
	if len(answer.Citations) != 2 {
		t.Errorf("expected passages from the two non-empty partitions, got %d", len(answer.Citations))
	}
}

// --- Aggregation path ------------------------------------------------------

func TestAggregationRelaxesFilterAndRetrievesBroadly(t *testing.T) {
	retriever := &fakeRetriever{
		byPartition: map[string][]Passage{"advisor_assignment": somePassages("adv.pdf", 0.9, 0.8, 0.7)},
	}
	router := &fakeRouter{decision: &RouteDecision{
		Class: ClassAggregation,
		Filter: MetadataFilter{
			KeyDocumentType: "advisor_assignment",
			KeyGradeLevel:   "O-Level",
			KeySection:      "A",
		},
	}}
	synthesizer := &fakeSynthesizer{text: "Raja Shoaib advises 15 students."}
	app := newTestApp(t, router, retriever, synthesizer, nil, nil, nil, testConfig())

	answer, err := app.AnswerQuery(context.Background(), "s1", "How many students does Raja Shoaib advise?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	retriever.mu.Lock()
	call := retriever.calls[0]
	retriever.mu.Unlock()
	if len(call.filter) != 1 || call.filter[KeyDocumentType] != "advisor_assignment" {
		t.Errorf("aggregation must relax to document-type granularity, got %v", call.filter)
	}
	if call.k != testConfig().AggregationTopK {
		t.Errorf("aggregation must retrieve at depth %d, got %d", testConfig().AggregationTopK, call.k)
	}
	if synthesizer.calls[0].mode != ModeAggregate {
		t.Errorf("expected aggregate mode, got %s", synthesizer.calls[0].mode)
	}
	if answer.Caveat == "" {
		t.Error("aggregation answers must carry a precision caveat")
	}
}

// --- Complex path ----------------------------------------------------------

func TestComplexPathToolLoopToFinalAnswer(t *testing.T) {
	found := somePassages("tt.pdf", 0.8)
	searchTool := &fakeTool{
		name: DocumentSearchToolName,
		output: map[string]any{
			"output":          "schedule text",
			PassagesOutputKey: found,
		},
		idempotent: true,
	}
	reasoner := &fakeReasoner{script: []*Action{
		{Thought: "search first", Tool: DocumentSearchToolName, Input: map[string]any{"query": "Hammad schedule"}},
		{Final: true, Answer: "Found 1 conflict on Monday."},
	}}
	router := &fakeRouter{decision: &RouteDecision{Class: ClassComplex}}
	app := newTestApp(t, router, &fakeRetriever{}, &fakeSynthesizer{}, reasoner,
		map[string]Tool{DocumentSearchToolName: searchTool}, nil, testConfig())

	answer, err := app.AnswerQuery(context.Background(), "s1", "Find scheduling conflicts for Hammad")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if answer.Text != "Found 1 conflict on Monday." {
		t.Errorf("unexpected answer: %q", answer.Text)
	}
	if answer.Incomplete {
		t.Error("a normally terminated loop must not be incomplete")
	}
	if len(answer.Trace) != 1 {
		t.Fatalf("expected 1 recorded invocation, got %d", len(answer.Trace))
	}
	if !answer.Trace[0].Success {
		t.Errorf("expected a successful invocation: %+v", answer.Trace[0])
	}
	if len(answer.Citations) != 1 || answer.Citations[0].SourceDocumentID != "tt.pdf" {
		t.Errorf("expected citations from the document search, got %v", answer.Citations)
	}
}

func TestComplexPathSearchThenConflictDetection(t *testing.T) {
	searchTool := &fakeTool{
		name: DocumentSearchToolName,
		output: map[string]any{
			"output":          "Hammad: Monday 9:00 AM O1A, Monday 9:00 AM O2B",
			PassagesOutputKey: somePassages("tt.pdf", 0.8),
		},
		idempotent: true,
	}
	conflictTool := &fakeTool{
		name:       "detect_schedule_conflicts",
		output:     map[string]any{"output": "Found 1 scheduling conflict"},
		idempotent: true,
	}
	reasoner := &fakeReasoner{script: []*Action{
		{Tool: DocumentSearchToolName, Input: map[string]any{"query": "Hammad schedule"}},
		{Tool: "detect_schedule_conflicts", Input: map[string]any{"teacher_name": "Hammad"}},
		{Final: true, Answer: "Hammad has 1 conflict on Monday at 9:00 AM."},
	}}
	router := &fakeRouter{decision: &RouteDecision{Class: ClassComplex}}
	app := newTestApp(t, router, &fakeRetriever{}, &fakeSynthesizer{}, reasoner,
		map[string]Tool{DocumentSearchToolName: searchTool, "detect_schedule_conflicts": conflictTool},
		nil, testConfig())

	answer, err := app.AnswerQuery(context.Background(), "s1", "Find scheduling conflicts for Hammad")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(answer.Trace) != 2 {
		t.Fatalf("expected exactly 2 invocations, got %d", len(answer.Trace))
	}
	if answer.Trace[0].Tool != DocumentSearchToolName || answer.Trace[1].Tool != "detect_schedule_conflicts" {
		t.Errorf("expected search then conflict detection, got %s then %s", answer.Trace[0].Tool, answer.Trace[1].Tool)
	}
	for _, inv := range answer.Trace {
		if !inv.Success {
			t.Errorf("expected a successful invocation of %s", inv.Tool)
		}
	}
}

func TestComplexPathStepCeilingProducesPartialAnswer(t *testing.T) {
	calc := &fakeTool{name: "calculator", output: map[string]any{"output": "42"}, idempotent: true}
	reasoner := &fakeReasoner{script: []*Action{
		{Tool: "calculator", Input: map[string]any{"expression": "6*7"}}, // never final
	}}
	router := &fakeRouter{decision: &RouteDecision{Class: ClassComplex}}
	synthesizer := &fakeSynthesizer{text: "partial answer from observations"}
	cfg := testConfig()
	app := newTestApp(t, router, &fakeRetriever{}, synthesizer, reasoner,
		map[string]Tool{"calculator": calc}, nil, cfg)

	answer, err := app.AnswerQuery(context.Background(), "s1", "q")
	if err != nil {
		t.Fatalf("ceiling exhaustion must yield a partial answer, not an error: %v", err)
	}

	if !answer.Incomplete {
		t.Error("expected the incomplete marker")
	}
	if len(answer.Trace) != cfg.MaxToolSteps {
		t.Errorf("expected exactly %d invocations, got %d", cfg.MaxToolSteps, len(answer.Trace))
	}
	if answer.Text != "partial answer from observations" {
		t.Errorf("unexpected partial answer: %q", answer.Text)
	}
	if len(synthesizer.calls) != 1 || synthesizer.calls[0].mode != ModeToolTrace {
		t.Errorf("expected one tool-trace synthesis, got %+v", synthesizer.calls)
	}
	if answer.Caveat == "" {
		t.Error("partial answers must carry a caveat")
	}
}

func TestComplexPathUnknownToolBecomesObservation(t *testing.T) {
	reasoner := &fakeReasoner{script: []*Action{
		{Tool: "no_such_tool", Input: map[string]any{}},
		{Final: true, Answer: "answered without the tool"},
	}}
	router := &fakeRouter{decision: &RouteDecision{Class: ClassComplex}}
	app := newTestApp(t, router, &fakeRetriever{}, &fakeSynthesizer{}, reasoner,
		map[string]Tool{}, nil, testConfig())

	answer, err := app.AnswerQuery(context.Background(), "s1", "q")
	if err != nil {
		t.Fatalf("an unknown tool is an observation, not a fatal error: %v", err)
	}
	if len(answer.Trace) != 1 || answer.Trace[0].Success {
		t.Fatalf("expected one failed invocation, got %+v", answer.Trace)
	}
	if !strings.Contains(answer.Trace[0].Err, "not registered") {
		t.Errorf("expected an unknown-tool observation, got %q", answer.Trace[0].Err)
	}
}

func TestToolTimeoutRetriedOnlyWhenIdempotent(t *testing.T) {
	idempotent := &fakeTool{name: "export", err: context.DeadlineExceeded, idempotent: true}
	effectful := &fakeTool{name: "mutate", err: context.DeadlineExceeded}
	reasoner := &fakeReasoner{script: []*Action{
		{Tool: "export", Input: map[string]any{}},
		{Tool: "mutate", Input: map[string]any{}},
		{Final: true, Answer: "done"},
	}}
	router := &fakeRouter{decision: &RouteDecision{Class: ClassComplex}}
	app := newTestApp(t, router, &fakeRetriever{}, &fakeSynthesizer{}, reasoner,
		map[string]Tool{"export": idempotent, "mutate": effectful}, nil, testConfig())

	if _, err := app.AnswerQuery(context.Background(), "s1", "q"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if idempotent.executions != 2 {
		t.Errorf("idempotent tool should be retried once after a timeout, executed %d times", idempotent.executions)
	}
	if effectful.executions != 1 {
		t.Errorf("non-idempotent tool must never be retried, executed %d times", effectful.executions)
	}
}

// --- Routing ---------------------------------------------------------------

func TestRouterFailureDegradesToSimpleWithLowConfidence(t *testing.T) {
	retriever := &fakeRetriever{unfiltered: somePassages("tt.pdf", 0.8)}
	router := &fakeRouter{err: errors.New("model unavailable")}
	cache := newRecordingCache()
	app := newTestApp(t, router, retriever, &fakeSynthesizer{}, nil, nil, cache, testConfig())

	answer, err := app.AnswerQuery(context.Background(), "s1", "q")
	if err != nil {
		t.Fatalf("classification failure must degrade, not fail: %v", err)
	}
	if !answer.LowConfidence {
		t.Error("fallback-routed answers must be low confidence")
	}
	if retriever.callCount() != 1 {
		t.Errorf("fallback must take the single-shot path, made %d retrieval calls", retriever.callCount())
	}
	if len(cache.store) != 0 {
		t.Error("fallback decisions must not be cached")
	}
}

func TestRouteCacheHitSkipsClassification(t *testing.T) {
	decision := &RouteDecision{Class: ClassSimple, Reasoning: "cached"}
	cache := newRecordingCache()
	cache.Set(context.Background(), routeCacheKey("q"), decision)

	router := &fakeRouter{err: errors.New("must not be called")}
	retriever := &fakeRetriever{unfiltered: somePassages("tt.pdf", 0.8)}
	app := newTestApp(t, router, retriever, &fakeSynthesizer{}, nil, nil, cache, testConfig())

	answer, err := app.AnswerQuery(context.Background(), "s1", "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if router.calls != 0 {
		t.Errorf("cache hit must skip the router, it was called %d times", router.calls)
	}
	if answer.LowConfidence {
		t.Error("a cached clean decision is not low confidence")
	}
}

func TestSuccessfulDecisionIsCached(t *testing.T) {
	cache := newRecordingCache()
	router := &fakeRouter{decision: &RouteDecision{Class: ClassSimple}}
	retriever := &fakeRetriever{unfiltered: somePassages("tt.pdf", 0.8)}
	app := newTestApp(t, router, retriever, &fakeSynthesizer{}, nil, nil, cache, testConfig())

	if _, err := app.AnswerQuery(context.Background(), "s1", "q"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := cache.store[routeCacheKey("q")]; !ok {
		t.Error("a clean decision should be cached")
	}
}

func TestEmptyQueryIsRejected(t *testing.T) {
	router := &fakeRouter{decision: &RouteDecision{Class: ClassSimple}}
	app := newTestApp(t, router, &fakeRetriever{}, &fakeSynthesizer{}, nil, nil, nil, testConfig())

	_, err := app.AnswerQuery(context.Background(), "s1", "")
	if err == nil {
		t.Fatal("expected a validation error")
	}
	var pipelineErr *Error
	if !errors.As(err, &pipelineErr) || pipelineErr.Code != ErrCodeValidation {
		t.Errorf("expected %s, got %v", ErrCodeValidation, err)
	}
}

// --- Async -----------------------------------------------------------------

func TestAnswerQueryAsyncLifecycle(t *testing.T) {
	router := &fakeRouter{decision: &RouteDecision{Class: ClassSimple}}
	retriever := &fakeRetriever{unfiltered: somePassages("tt.pdf", 0.8)}
	app := newTestApp(t, router, retriever, &fakeSynthesizer{text: "async answer"}, nil, nil, nil, testConfig())

	executionID, err := app.AnswerQueryAsync(context.Background(), "s1", "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		status, err := app.GetAsyncStatus(executionID)
		if err != nil {
			t.Fatalf("status lookup failed: %v", err)
		}
		if status.IsComplete {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("async execution did not complete, state %s", status.CurrentState)
		}
		time.Sleep(5 * time.Millisecond)
	}

	answer, err := app.GetAsyncResult(executionID)
	if err != nil {
		t.Fatalf("result lookup failed: %v", err)
	}
	if answer.Text != "async answer" {
		t.Errorf("unexpected async answer: %q", answer.Text)
	}

	if cancelled, _ := app.CancelAsyncProcess(executionID); cancelled {
		t.Error("cancelling a completed execution must report false")
	}
	if removed := app.CleanupCompletedExecutions(0); removed != 1 {
		t.Errorf("expected cleanup to remove the execution, removed %d", removed)
	}
	if _, err := app.GetAsyncStatus(executionID); err == nil {
		t.Error("expected a lookup error after cleanup")
	}
}

// --- Dedup helper ----------------------------------------------------------

func TestDedupPassagesOrderingAndIdentity(t *testing.T) {
	passages := []Passage{
		{SourceDocumentID: "a", Offset: 0, Score: 0.2},
		{SourceDocumentID: "b", Offset: 0, Score: 0.9},
		{SourceDocumentID: "a", Offset: 0, Score: 0.7},
		{SourceDocumentID: "a", Offset: 1, Score: 0.5},
	}

	out := dedupPassages(passages)
	if len(out) != 3 {
		t.Fatalf("expected 3 unique passages, got %d", len(out))
	}
	if out[0].SourceDocumentID != "b" {
		t.Errorf("expected descending score order, got %+v", out)
	}
	for _, p := range out {
		if p.SourceDocumentID == "a" && p.Offset == 0 && p.Score != 0.7 {
			t.Errorf("duplicate must keep the higher score, got %f", p.Score)
		}
	}
}
