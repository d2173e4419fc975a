package edudoc

import "fmt"

// QueryClass identifies the execution path for a query. The set is closed:
// every class has exactly one registered path handler, and an unknown class
// is an internal error rather than a silent default.
type QueryClass string

const (
	// ClassSimple is a single-fact query answerable from one retrieval call.
	ClassSimple QueryClass = "simple"
	// ClassCrossDocument requires combining facts from more than one
	// document partition.
	ClassCrossDocument QueryClass = "cross_document"
	// ClassAggregation requires counting, grouping, or listing across many
	// records.
	ClassAggregation QueryClass = "aggregation"
	// ClassComplex requires multi-step reasoning or tool use.
	ClassComplex QueryClass = "complex"
)

// QueryClasses lists every valid class. Path handler registration iterates
// this slice so a class without a handler fails fast at construction.
func QueryClasses() []QueryClass {
	return []QueryClass{ClassSimple, ClassCrossDocument, ClassAggregation, ClassComplex}
}

// Valid reports whether c is one of the four known classes.
func (c QueryClass) Valid() bool {
	switch c {
	case ClassSimple, ClassCrossDocument, ClassAggregation, ClassComplex:
		return true
	}
	return false
}

// Metadata keys used by filters and passage metadata.
const (
	KeyDocumentType = "document_type"
	KeyGradeLevel   = "grade_level"
	KeySection      = "section"
	KeyAcademicYear = "academic_year"
)

// MetadataFilter narrows retrieval to passages whose metadata matches every
// entry. Values may be comma-separated lists (e.g. "timetable,student_list"),
// in which case any listed value matches.
type MetadataFilter map[string]string

// Clone returns a copy of the filter. Clone of an empty filter is nil.
func (f MetadataFilter) Clone() MetadataFilter {
	if len(f) == 0 {
		return nil
	}
	out := make(MetadataFilter, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Relax reduces the filter to document-type granularity, dropping grade,
// section and year constraints. The aggregation path uses this to retrieve
// broadly.
func (f MetadataFilter) Relax() MetadataFilter {
	if v, ok := f[KeyDocumentType]; ok {
		return MetadataFilter{KeyDocumentType: v}
	}
	return nil
}

// RouteDecision is the Router's verdict for one query. It is produced
// exactly once per query and never mutated afterwards.
type RouteDecision struct {
	Class     QueryClass     `json:"query_class"`
	Reasoning string         `json:"reasoning"`
	Filter    MetadataFilter `json:"filter,omitempty"`

	// Fallback records that classification degraded (LLM unavailable or
	// unparseable output) so the final answer can surface reduced
	// confidence.
	Fallback bool `json:"fallback,omitempty"`
}

// Passage is a retrieved text fragment with source and relevance metadata.
// Passages are owned by the Retriever; the core only reads them.
type Passage struct {
	Text             string            `json:"text"`
	SourceDocumentID string            `json:"source_document_id"`
	Offset           int               `json:"offset"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Score            float64           `json:"score"`
}

// passageKey is the identity used for deduplication across partitions.
type passageKey struct {
	source string
	offset int
}

func (p Passage) key() passageKey {
	return passageKey{source: p.SourceDocumentID, offset: p.Offset}
}

// ToolInvocation records one tool call made by the complex path. The record
// lives only as part of the Answer it contributed to.
type ToolInvocation struct {
	Tool    string         `json:"tool"`
	Input   map[string]any `json:"input"`
	Output  map[string]any `json:"output,omitempty"`
	Success bool           `json:"success"`
	Err     string         `json:"error,omitempty"`
}

// Observation renders the invocation result as text for the next reasoning
// step.
func (t ToolInvocation) Observation() string {
	if !t.Success {
		return fmt.Sprintf("tool %s failed: %s", t.Tool, t.Err)
	}
	if out, ok := t.Output["output"].(string); ok {
		return out
	}
	return fmt.Sprintf("%v", t.Output)
}

// Answer is the terminal artifact of one query.
type Answer struct {
	Text      string           `json:"text"`
	Citations []Passage        `json:"citations,omitempty"`
	Trace     []ToolInvocation `json:"trace,omitempty"`

	// Incomplete marks a complex-path answer whose tool loop hit the step
	// ceiling before the reasoner terminated.
	Incomplete bool `json:"incomplete,omitempty"`
	// LowConfidence is set when the route decision came from a fallback.
	LowConfidence bool `json:"low_confidence,omitempty"`
	// Caveat carries precision warnings, e.g. for text-synthesized
	// aggregations.
	Caveat string `json:"caveat,omitempty"`
}

// Exchange is one prior question/answer pair in a session.
type Exchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// History is the ordered conversation history of a session. It is read-only
// during a query; the caller appends after receiving each Answer.
type History []Exchange

// InstructionMode selects how the Synthesizer is prompted.
type InstructionMode string

const (
	// ModeFact asks for a single grounded fact.
	ModeFact InstructionMode = "fact"
	// ModeAggregate asks for counts and groupings over the passages.
	ModeAggregate InstructionMode = "aggregate"
	// ModeToolTrace asks for an answer assembled from tool observations.
	ModeToolTrace InstructionMode = "tool-trace"
)

// Action is one step chosen by the Reasoner in the complex path: either a
// tool invocation or termination with a final answer.
type Action struct {
	Thought string         `json:"thought,omitempty"`
	Tool    string         `json:"tool,omitempty"`
	Input   map[string]any `json:"input,omitempty"`
	Final   bool           `json:"final"`
	Answer  string         `json:"answer,omitempty"`
}
