package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	edudoc "github.com/edudocai/edudoc"
	"github.com/edudocai/edudoc/internal/prompt"
)

// GenkitSynthesizerAdapter implements edudoc.Synthesizer with a Genkit
// model call, prompted per instruction mode.
type GenkitSynthesizerAdapter struct {
	g     *genkit.Genkit
	model string
}

// SynthesizerOption configures a GenkitSynthesizerAdapter.
type SynthesizerOption func(*GenkitSynthesizerAdapter)

// WithSynthesizerModel sets the model name used for synthesis.
func WithSynthesizerModel(model string) SynthesizerOption {
	return func(a *GenkitSynthesizerAdapter) {
		a.model = model
	}
}

// NewGenkitSynthesizerAdapter creates a synthesizer backed by the given
// Genkit instance.
func NewGenkitSynthesizerAdapter(g *genkit.Genkit, options ...SynthesizerOption) *GenkitSynthesizerAdapter {
	a := &GenkitSynthesizerAdapter{g: g}
	for _, option := range options {
		option(a)
	}
	return a
}

// Synthesize implements the edudoc.Synthesizer interface.
func (a *GenkitSynthesizerAdapter) Synthesize(ctx context.Context, question string, passages []edudoc.Passage, mode edudoc.InstructionMode) (string, error) {
	instruction, err := instructionFor(mode)
	if err != nil {
		return "", err
	}

	opts := []ai.GenerateOption{
		ai.WithPrompt(prompt.BuildSynthesisPrompt(formatContext(passages), question, instruction)),
	}
	if a.model != "" {
		opts = append(opts, ai.WithModelName(a.model))
	}

	resp, err := genkit.Generate(ctx, a.g, opts...)
	if err != nil {
		return "", edudoc.NewSynthesisError(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", edudoc.NewSynthesisError(fmt.Errorf("model returned an empty answer"))
	}
	return text, nil
}

func instructionFor(mode edudoc.InstructionMode) (string, error) {
	switch mode {
	case edudoc.ModeFact:
		return prompt.FactInstruction, nil
	case edudoc.ModeAggregate:
		return prompt.AggregateInstruction, nil
	case edudoc.ModeToolTrace:
		return prompt.ToolTraceInstruction, nil
	default:
		return "", edudoc.NewSynthesisError(fmt.Errorf("unknown instruction mode '%s'", mode))
	}
}

// formatContext renders passages as numbered, source-attributed blocks.
func formatContext(passages []edudoc.Passage) string {
	if len(passages) == 0 {
		return "(no context retrieved)"
	}
	var b strings.Builder
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] (source: %s)\n%s\n\n", i+1, p.SourceDocumentID, p.Text)
	}
	return strings.TrimSpace(b.String())
}
