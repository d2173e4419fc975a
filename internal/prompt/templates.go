// Package prompt holds the prompt templates used by the routing,
// synthesis and reasoning adapters.
package prompt

import (
	"fmt"
	"strings"
)

// RoutingTemplate classifies a query into one of the four classes and
// extracts a suggested metadata filter. The response is line-oriented so it
// survives models that refuse to emit strict JSON.
const RoutingTemplate = `You are a query routing assistant for an educational document system. Analyze the user's query and determine the best routing strategy.

Query Types:
1. SIMPLE: Basic factual questions about a single document or entity
   - Example: "When does O1A have Mathematics on Monday?"
   - Example: "What is Raja Shoaib's office location?"

2. CROSS_DOCUMENT: Questions requiring information from multiple documents or entities
   - Example: "Which students in Level-III A have classes with Syed Bilal Hashmi?"
   - Example: "Show me all advisors and their student counts"

3. AGGREGATION: Questions requiring counting, grouping, or statistical analysis
   - Example: "How many students are advised by Raja Shoaib?"
   - Example: "Count all classes taught by Dr. Sarah Khan"

4. COMPLEX: Questions requiring multi-step reasoning or tool use
   - Example: "Find scheduling conflicts where Muhammad Hammad teaches two classes at the same time"
   - Example: "Generate a CSV report of all O-Level students"

Metadata Extraction:
- If the query mentions specific grade levels (O-Level, A-Level, Level-I/II/III), suggest a filter
- If the query mentions specific document types (timetable, student list), suggest a filter
- If the query mentions specific sections (A, B, C), suggest a filter

User Query: %s

Analyze this query and respond with:
1. Query type (simple, cross_document, aggregation, or complex)
2. Brief reasoning (1-2 sentences)
3. Suggested metadata filter (if applicable, as JSON: {"key": "value"})

Response format:
Type: [query_type]
Reasoning: [your reasoning]
Filter: [metadata filter or "none"]
`

// BuildRoutingPrompt renders the routing template for a query. Prior
// exchanges are prepended as context because follow-up questions often omit
// the entity they refer to.
func BuildRoutingPrompt(query string, priorQuestions []string) string {
	prompt := fmt.Sprintf(RoutingTemplate, query)
	if len(priorQuestions) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString("Earlier questions in this conversation:\n")
	for _, q := range priorQuestions {
		b.WriteString("- ")
		b.WriteString(q)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(prompt)
	return b.String()
}

// Synthesis instruction blocks, selected per instruction mode.
const (
	FactInstruction = `Instructions:
- Provide a clear, concise answer based only on the context
- If the answer is not in the context, say "I don't have enough information to answer that question."
- Include specific details and examples when available
- Cite the source document when possible`

	AggregateInstruction = `Instructions:
- The question asks for a count, grouping, or listing across many records
- Enumerate the matching records from the context before stating totals
- State counts exactly as supported by the context; do not extrapolate
- If the context appears incomplete, say the count is based on the retrieved records only`

	ToolTraceInstruction = `Instructions:
- The context contains document passages and the observations of tool calls made so far
- Assemble the best possible answer from those observations
- If the reasoning was cut short, answer with what is established and state clearly what remains unknown`
)

// SynthesisTemplate grounds generation in the retrieved context only.
const SynthesisTemplate = `You are a helpful assistant that answers questions about educational administrative documents. Answer the question based only on the following context:

Context:
%s

Question: %s

%s

Answer:`

// BuildSynthesisPrompt renders the synthesis template with the formatted
// context, the question, and the mode-specific instruction block.
func BuildSynthesisPrompt(context, question, instruction string) string {
	return fmt.Sprintf(SynthesisTemplate, context, question, instruction)
}

// ReasonerSystemPrompt drives the complex path's tool loop. The model must
// answer each turn with a single JSON object, either a tool invocation or a
// final answer.
const ReasonerSystemPrompt = `You are an intelligent assistant for educational documents. You help answer questions about timetables, student lists, advisor assignments, and other educational administrative documents.

You solve problems step by step using tools. Each turn you receive the question, the available tools, and the observations of your previous tool calls.

Respond with exactly one JSON object per turn, nothing else.

To call a tool:
{"thought": "why this tool", "tool": "<tool name>", "input": {<arguments per the tool schema>}}

To finish:
{"thought": "why the answer is complete", "final": true, "answer": "<the complete answer>"}

Guidelines:
- Always search documents FIRST before making assumptions
- Use the calculator for any arithmetic (counting, addition, etc.)
- For scheduling conflicts, search for the teacher's schedule first, then use the conflict detector
- Be specific and cite sources when possible
- If you can't find information, say so clearly
- For CSV exports, structure the data clearly before exporting`

// BuildReasonerTurn renders the per-turn user message for the reasoner:
// question, tool schemas, and the trace of observations so far.
func BuildReasonerTurn(query string, schemas string, observations []string) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\nAvailable tools:\n")
	b.WriteString(schemas)
	if len(observations) > 0 {
		b.WriteString("\n\nPrevious steps:\n")
		for i, obs := range observations {
			fmt.Fprintf(&b, "%d. %s\n", i+1, obs)
		}
	}
	b.WriteString("\nRespond with the next JSON object.")
	return b.String()
}
