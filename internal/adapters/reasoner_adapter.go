package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	edudoc "github.com/edudocai/edudoc"
	"github.com/edudocai/edudoc/internal/prompt"
)

// GenkitReasonerAdapter implements edudoc.Reasoner with a Genkit model call
// per step. Each step sees the question, the tool schemas, and the
// observations of every previous step, and must answer with one JSON object.
type GenkitReasonerAdapter struct {
	g     *genkit.Genkit
	model string
}

// ReasonerOption configures a GenkitReasonerAdapter.
type ReasonerOption func(*GenkitReasonerAdapter)

// WithReasonerModel sets the model name used for reasoning steps.
func WithReasonerModel(model string) ReasonerOption {
	return func(a *GenkitReasonerAdapter) {
		a.model = model
	}
}

// NewGenkitReasonerAdapter creates a reasoner backed by the given Genkit
// instance.
func NewGenkitReasonerAdapter(g *genkit.Genkit, options ...ReasonerOption) *GenkitReasonerAdapter {
	a := &GenkitReasonerAdapter{g: g}
	for _, option := range options {
		option(a)
	}
	return a
}

// NextStep implements the edudoc.Reasoner interface.
func (a *GenkitReasonerAdapter) NextStep(ctx context.Context, query string, schemas map[string]map[string]any, trace []edudoc.ToolInvocation) (*edudoc.Action, error) {
	schemaJSON, err := json.MarshalIndent(schemas, "", "  ")
	if err != nil {
		return nil, edudoc.NewReasoningError(fmt.Errorf("failed to render tool schemas: %w", err))
	}

	observations := make([]string, 0, len(trace))
	for _, inv := range trace {
		observations = append(observations, fmt.Sprintf("%s(%v) -> %s", inv.Tool, inv.Input, inv.Observation()))
	}

	opts := []ai.GenerateOption{
		ai.WithSystem(prompt.ReasonerSystemPrompt),
		ai.WithPrompt(prompt.BuildReasonerTurn(query, string(schemaJSON), observations)),
	}
	if a.model != "" {
		opts = append(opts, ai.WithModelName(a.model))
	}

	resp, err := genkit.Generate(ctx, a.g, opts...)
	if err != nil {
		return nil, edudoc.NewReasoningError(err)
	}

	return ParseAction(resp.Text())
}

// ParseAction extracts the Action JSON object from a model response. Models
// occasionally wrap the object in code fences or prose, so parsing starts at
// the first brace and ends at its match.
func ParseAction(response string) (*edudoc.Action, error) {
	raw, err := extractJSONObject(response)
	if err != nil {
		return nil, edudoc.NewReasoningError(err)
	}

	var action edudoc.Action
	if err := json.Unmarshal([]byte(raw), &action); err != nil {
		return nil, edudoc.NewReasoningError(fmt.Errorf("malformed action object: %w", err))
	}

	if action.Final {
		if strings.TrimSpace(action.Answer) == "" {
			return nil, edudoc.NewReasoningError(fmt.Errorf("final action carries no answer"))
		}
		return &action, nil
	}
	if action.Tool == "" {
		return nil, edudoc.NewReasoningError(fmt.Errorf("action names no tool and is not final"))
	}
	if action.Input == nil {
		action.Input = map[string]any{}
	}
	return &action, nil
}

// extractJSONObject returns the first balanced top-level JSON object in s.
func extractJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in response")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in response")
}
