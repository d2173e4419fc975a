// Package tools provides the built-in tool set for the complex execution
// path: calculator, schedule conflict detector, CSV export and document
// search.
package tools

import (
	edudoc "github.com/edudocai/edudoc"
	"github.com/edudocai/edudoc/internal/adapters"
)

// SetupTools creates the standard tool set. The document search tool wraps
// the given retriever; CSV exports land under exportDir.
func SetupTools(retriever edudoc.Retriever, topK int, exportDir string) map[string]edudoc.Tool {
	searcher := NewDocumentSearcher(retriever, topK)
	exporter := NewCSVExporter(exportDir)

	return map[string]edudoc.Tool{
		edudoc.DocumentSearchToolName: adapters.NewGoToolAdapter(
			edudoc.DocumentSearchToolName,
			searcher.Search,
			adapters.WithDescription("Search the uploaded educational documents for information. Use this to find facts, schedules, student information, etc."),
			adapters.WithCategory("Retrieval"),
			adapters.WithParameters(map[string]string{
				"query":         "What to search for",
				"document_type": "Optional filter by document type (timetable, student_list, syllabus, exam_schedule, advisor_assignment)",
			}),
			adapters.WithReturns("Relevant passages from the documents."),
			adapters.WithExamples([]string{
				`document_search {"query": "Raja Shoaib advises students"}`,
				`document_search {"query": "Monday schedule O1A", "document_type": "timetable"}`,
			}),
			adapters.WithValidator(validateSearchInput),
			adapters.WithIdempotent(),
		),
		"calculator": adapters.NewGoToolAdapter(
			"calculator",
			Calculate,
			adapters.WithDescription("Evaluates a mathematical expression. Use this for any arithmetic, counting totals, averages."),
			adapters.WithCategory("Math"),
			adapters.WithParameters(map[string]string{
				"expression": "Mathematical expression to evaluate (e.g., '15 + 7', '100 / 4')",
			}),
			adapters.WithReturns("The numeric result as a string."),
			adapters.WithExamples([]string{
				`calculator {"expression": "15 + 7"}`,
				`calculator {"expression": "(12 + 15) / 2"}`,
			}),
			adapters.WithValidator(validateCalculatorInput),
			adapters.WithIdempotent(),
		),
		"detect_schedule_conflicts": adapters.NewGoToolAdapter(
			"detect_schedule_conflicts",
			DetectScheduleConflicts,
			adapters.WithDescription("Finds times when a teacher is assigned to two classes at once. Search for the teacher's schedule first and pass it as context."),
			adapters.WithCategory("Analysis"),
			adapters.WithParameters(map[string]string{
				"teacher_name": "Name of the teacher to check for conflicts",
				"context":      "Relevant schedule information from documents",
			}),
			adapters.WithReturns("A description of the conflicts found, or a statement that there are none."),
			adapters.WithExamples([]string{
				`detect_schedule_conflicts {"teacher_name": "Muhammad Hammad", "context": "<schedule text>"}`,
			}),
			adapters.WithValidator(validateConflictInput),
			adapters.WithIdempotent(),
		),
		"export_to_csv": adapters.NewGoToolAdapter(
			"export_to_csv",
			exporter.Export,
			adapters.WithDescription("Exports structured data to a CSV file. Structure the data clearly before exporting."),
			adapters.WithCategory("Export"),
			adapters.WithParameters(map[string]string{
				"data":     "Data to export, either CSV-formatted or one 'item: value' pair per line",
				"filename": "Output filename without extension (default: export)",
			}),
			adapters.WithReturns("The path of the created CSV file."),
			adapters.WithExamples([]string{
				`export_to_csv {"data": "Name,Count\nRaja Shoaib,15", "filename": "advisors"}`,
			}),
			adapters.WithValidator(validateExportInput),
			adapters.WithIdempotent(),
		),
	}
}
