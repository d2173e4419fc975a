package tools

import (
	"context"
	"fmt"
	"strings"

	edudoc "github.com/edudocai/edudoc"
)

// DocumentSearcher exposes the passage retriever as a tool for the complex
// path. Besides the textual output for the reasoner, results are returned
// under the passages key so the dispatcher can collect citations.
type DocumentSearcher struct {
	retriever edudoc.Retriever
	topK      int
}

// NewDocumentSearcher creates the search tool function around a retriever.
func NewDocumentSearcher(retriever edudoc.Retriever, topK int) *DocumentSearcher {
	return &DocumentSearcher{retriever: retriever, topK: topK}
}

// Search implements the tool function. It expects "query" and accepts an
// optional "document_type" filter.
func (s *DocumentSearcher) Search(ctx context.Context, input map[string]any) (map[string]any, error) {
	query, ok := input["query"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid or missing query argument (expected string at key 'query')")
	}

	var filter edudoc.MetadataFilter
	if docType, ok := input["document_type"].(string); ok && docType != "" {
		filter = edudoc.MetadataFilter{edudoc.KeyDocumentType: docType}
	}

	passages, err := s.retriever.Retrieve(ctx, query, filter, s.topK)
	if err != nil {
		return nil, fmt.Errorf("document search failed: %w", err)
	}

	if len(passages) == 0 {
		return map[string]any{
			"output":                 "No relevant information found in documents.",
			edudoc.PassagesOutputKey: []edudoc.Passage{},
		}, nil
	}

	var b strings.Builder
	for i, p := range passages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[From %s]\n%s", p.SourceDocumentID, p.Text)
	}
	return map[string]any{
		"output":                 b.String(),
		edudoc.PassagesOutputKey: passages,
	}, nil
}

func validateSearchInput(input map[string]any) error {
	query, ok := input["query"]
	if !ok {
		return fmt.Errorf("missing search query (expected at key 'query')")
	}
	queryStr, ok := query.(string)
	if !ok {
		return fmt.Errorf("search query must be a string, got %T", query)
	}
	if strings.TrimSpace(queryStr) == "" {
		return fmt.Errorf("search query cannot be empty")
	}
	return nil
}
