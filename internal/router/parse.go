package router

import (
	"encoding/json"
	"fmt"
	"strings"

	edudoc "github.com/edudocai/edudoc"
)

// ParseRoutingResponse parses the classifier's line-oriented response
// ("Type: ... / Reasoning: ... / Filter: ...") into a RouteDecision. A
// response that yields no recognizable type falls back to HeuristicRoute
// with the fallback flag set.
func ParseRoutingResponse(response, query string) *edudoc.RouteDecision {
	var (
		typeStr   string
		reasoning string
		filter    edudoc.MetadataFilter
	)

	for _, line := range strings.Split(strings.TrimSpace(response), "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "type:"):
			typeStr = strings.ToLower(strings.TrimSpace(line[len("type:"):]))
		case strings.HasPrefix(lower, "reasoning:"):
			reasoning = strings.TrimSpace(line[len("reasoning:"):])
		case strings.HasPrefix(lower, "filter:"):
			filterStr := strings.TrimSpace(line[len("filter:"):])
			if filterStr != "" && strings.ToLower(filterStr) != "none" {
				filter = parseFilterString(filterStr)
			}
		}
	}

	if typeStr == "" {
		return HeuristicRoute(query)
	}

	class := mapQueryClass(typeStr)
	if reasoning == "" {
		reasoning = fmt.Sprintf("Classified as %s query", class)
	}
	return &edudoc.RouteDecision{
		Class:     class,
		Reasoning: reasoning,
		Filter:    filter,
	}
}

// mapQueryClass maps a free-form type string to a QueryClass. Unrecognized
// strings resolve to simple, the cheapest path.
func mapQueryClass(typeStr string) edudoc.QueryClass {
	switch {
	case strings.Contains(typeStr, "cross"), strings.Contains(typeStr, "multi"):
		return edudoc.ClassCrossDocument
	case strings.Contains(typeStr, "aggregation"), strings.Contains(typeStr, "count"):
		return edudoc.ClassAggregation
	case strings.Contains(typeStr, "complex"):
		return edudoc.ClassComplex
	default:
		return edudoc.ClassSimple
	}
}

// parseFilterString accepts either a JSON object or a bare key:value pair.
func parseFilterString(filterStr string) edudoc.MetadataFilter {
	if strings.Contains(filterStr, "{") {
		var filter map[string]string
		if err := json.Unmarshal([]byte(filterStr), &filter); err == nil && len(filter) > 0 {
			return filter
		}
	}
	if key, value, ok := strings.Cut(filterStr, ":"); ok {
		key = strings.Trim(strings.TrimSpace(key), `"'`)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key != "" && value != "" {
			return edudoc.MetadataFilter{key: value}
		}
	}
	return nil
}

// Keyword groups for the heuristic fallback, checked in order: a counting
// question that also says "all" is still an aggregation.
var (
	aggregationKeywords   = []string{"how many", "count", "total", "number of"}
	crossDocumentKeywords = []string{"all", "which students", "list", "show me"}
	complexKeywords       = []string{"conflict", "generate", "export", "csv", "calculate"}
)

// HeuristicRoute classifies a query by keyword when the model's response is
// unusable. Decisions are marked as fallback so answers surface reduced
// confidence.
func HeuristicRoute(query string) *edudoc.RouteDecision {
	lower := strings.ToLower(query)

	route := func(class edudoc.QueryClass, reasoning string) *edudoc.RouteDecision {
		return &edudoc.RouteDecision{Class: class, Reasoning: reasoning, Fallback: true}
	}

	for _, kw := range aggregationKeywords {
		if strings.Contains(lower, kw) {
			return route(edudoc.ClassAggregation, "Query contains aggregation keywords")
		}
	}
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			return route(edudoc.ClassComplex, "Query requires complex reasoning or tools")
		}
	}
	for _, kw := range crossDocumentKeywords {
		if strings.Contains(lower, kw) {
			return route(edudoc.ClassCrossDocument, "Query likely requires multiple documents")
		}
	}
	return route(edudoc.ClassSimple, "Simple factual query")
}
