// Package router classifies queries into execution paths. Classification is
// LLM-backed with a keyword heuristic behind it, so a degraded model never
// takes the pipeline down.
package router

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/rs/zerolog/log"

	edudoc "github.com/edudocai/edudoc"
	"github.com/edudocai/edudoc/internal/prompt"
)

// historyWindow bounds how many prior questions are fed to the classifier.
const historyWindow = 3

// GenkitRouter implements edudoc.Router on top of a Genkit model call.
type GenkitRouter struct {
	g     *genkit.Genkit
	model string
}

// Option configures a GenkitRouter.
type Option func(*GenkitRouter)

// WithModel sets the model name used for classification.
func WithModel(model string) Option {
	return func(r *GenkitRouter) {
		r.model = model
	}
}

// New creates a router backed by the given Genkit instance.
func New(g *genkit.Genkit, options ...Option) *GenkitRouter {
	r := &GenkitRouter{g: g}
	for _, option := range options {
		option(r)
	}
	return r
}

// Classify implements edudoc.Router. A transport failure is returned to the
// caller; an unparseable response is not, it degrades to the keyword
// heuristic with the fallback flag set.
func (r *GenkitRouter) Classify(ctx context.Context, query string, history edudoc.History) (*edudoc.RouteDecision, error) {
	opts := []ai.GenerateOption{
		ai.WithPrompt(prompt.BuildRoutingPrompt(query, priorQuestions(history, historyWindow))),
	}
	if r.model != "" {
		opts = append(opts, ai.WithModelName(r.model))
	}

	resp, err := genkit.Generate(ctx, r.g, opts...)
	if err != nil {
		return nil, edudoc.NewClassificationError(err)
	}

	decision := ParseRoutingResponse(resp.Text(), query)
	log.Debug().
		Str("class", string(decision.Class)).
		Bool("fallback", decision.Fallback).
		Str("reasoning", decision.Reasoning).
		Msg("query classified")
	return decision, nil
}

// priorQuestions extracts up to n of the most recent questions from the
// session history, oldest first.
func priorQuestions(history edudoc.History, n int) []string {
	if len(history) == 0 {
		return nil
	}
	start := len(history) - n
	if start < 0 {
		start = 0
	}
	questions := make([]string, 0, len(history)-start)
	for _, ex := range history[start:] {
		questions = append(questions, ex.Question)
	}
	return questions
}
