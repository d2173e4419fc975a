package tools

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// CSVExporter writes structured data to CSV files under a fixed export
// directory. Writes are atomic (temp file then rename) and the output path
// is a pure function of the filename, so repeating an export with identical
// input lands on the same file with the same content.
type CSVExporter struct {
	dir string
}

// NewCSVExporter creates an exporter rooted at dir.
func NewCSVExporter(dir string) *CSVExporter {
	return &CSVExporter{dir: dir}
}

// Export implements the tool function. It expects "data" (text to export)
// and an optional "filename" (without extension).
func (e *CSVExporter) Export(ctx context.Context, input map[string]any) (map[string]any, error) {
	data, ok := input["data"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid or missing data argument (expected string at key 'data')")
	}
	filename, _ := input["filename"].(string)
	if filename == "" {
		filename = "export"
	}
	filename = unsafeFilenameChars.ReplaceAllString(filename, "_")

	records, err := structureData(data)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(e.dir, filename+".csv")
	if err := writeAtomic(path, records); err != nil {
		return nil, err
	}

	log.Info().Str("path", path).Int("rows", len(records)).Msg("exported CSV")
	return map[string]any{
		"output": fmt.Sprintf("CSV exported successfully to: %s", path),
		"path":   path,
		"rows":   len(records),
	}, nil
}

// structureData turns free text into CSV records. Comma-separated input is
// taken as-is; otherwise lines are split on the first ':' or '-' into
// item/value pairs.
func structureData(data string) ([][]string, error) {
	var lines []string
	for _, line := range strings.Split(data, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("no data to export")
	}

	if strings.Contains(lines[0], ",") {
		reader := csv.NewReader(strings.NewReader(strings.Join(lines, "\n")))
		reader.FieldsPerRecord = -1
		records, err := reader.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("data looks like CSV but failed to parse: %w", err)
		}
		return records, nil
	}

	records := [][]string{{"Item", "Value"}}
	for _, line := range lines {
		if item, value, ok := strings.Cut(line, ":"); ok {
			records = append(records, []string{strings.TrimSpace(item), strings.TrimSpace(value)})
		} else if item, value, ok := strings.Cut(line, "-"); ok {
			records = append(records, []string{strings.TrimSpace(item), strings.TrimSpace(value)})
		} else {
			records = append(records, []string{line, ""})
		}
	}
	return records, nil
}

func writeAtomic(path string, records [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	writer := csv.NewWriter(tmp)
	if err := writer.WriteAll(records); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to finalize export: %w", err)
	}
	return nil
}

func validateExportInput(input map[string]any) error {
	data, ok := input["data"]
	if !ok {
		return fmt.Errorf("missing required field 'data'")
	}
	s, ok := data.(string)
	if !ok {
		return fmt.Errorf("field 'data' must be a string, got %T", data)
	}
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("field 'data' cannot be empty")
	}
	return nil
}
