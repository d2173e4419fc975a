package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Schedule line patterns: "Monday 9:00 AM - 10:00 AM ..." with an optional
// class designation like "O-Level Section A" or "O1A".
var (
	scheduleTimePattern = regexp.MustCompile(`(\w+)\s+(\d{1,2}:\d{2}\s*[AP]M)\s*[-:]\s*\d{1,2}:\d{2}\s*[AP]M`)
	sectionClassPattern = regexp.MustCompile(`(?i)(O-?Level|A-?Level|Level-?[IVX]+)\s+Section\s+([A-Z])`)
	compactClassPattern = regexp.MustCompile(`\b([OA]\d[A-Z])\b`)
)

type scheduleEntry struct {
	day   string
	time  string
	class string
}

// DetectScheduleConflicts finds times when a teacher is assigned to more
// than one class simultaneously. It expects "teacher_name" and "context"
// (the schedule text gathered by a prior document search).
func DetectScheduleConflicts(ctx context.Context, input map[string]any) (map[string]any, error) {
	teacherName, ok := input["teacher_name"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid or missing teacher name (expected string at key 'teacher_name')")
	}
	scheduleText, ok := input["context"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid or missing schedule context (expected string at key 'context')")
	}

	entries := parseTeacherSchedule(teacherName, scheduleText)
	if len(entries) == 0 {
		return map[string]any{
			"output":    fmt.Sprintf("No schedule information found for %s", teacherName),
			"conflicts": []string{},
		}, nil
	}

	conflicts := findConflicts(entries)
	if len(conflicts) == 0 {
		return map[string]any{
			"output":    fmt.Sprintf("No scheduling conflicts found for %s", teacherName),
			"conflicts": []string{},
		}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d scheduling conflict(s) for %s:\n", len(conflicts), teacherName)
	for i, c := range conflicts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}
	return map[string]any{
		"output":    strings.TrimSpace(b.String()),
		"conflicts": conflicts,
	}, nil
}

// parseTeacherSchedule extracts the day/time/class entries of every line
// that mentions the teacher.
func parseTeacherSchedule(teacherName, scheduleText string) []scheduleEntry {
	teacherLower := strings.ToLower(teacherName)
	var entries []scheduleEntry

	for _, line := range strings.Split(scheduleText, "\n") {
		if !strings.Contains(strings.ToLower(line), teacherLower) {
			continue
		}
		timeMatch := scheduleTimePattern.FindStringSubmatch(line)
		if timeMatch == nil {
			continue
		}

		class := "Unknown Class"
		if m := sectionClassPattern.FindString(line); m != "" {
			class = m
		} else if m := compactClassPattern.FindString(line); m != "" {
			class = m
		}

		entries = append(entries, scheduleEntry{
			day:   timeMatch[1],
			time:  normalizeTime(timeMatch[2]),
			class: class,
		})
	}
	return entries
}

func normalizeTime(t string) string {
	return strings.ToUpper(strings.Join(strings.Fields(t), " "))
}

// findConflicts reports every pair of entries sharing a day and time.
func findConflicts(entries []scheduleEntry) []string {
	var conflicts []string
	seen := make(map[string]bool)

	for i, a := range entries {
		for _, b := range entries[i+1:] {
			if a.day != b.day || a.time != b.time {
				continue
			}
			desc := fmt.Sprintf("%s %s: Teaching both %s and %s", a.day, a.time, a.class, b.class)
			if !seen[desc] {
				seen[desc] = true
				conflicts = append(conflicts, desc)
			}
		}
	}
	return conflicts
}

func validateConflictInput(input map[string]any) error {
	for _, key := range []string{"teacher_name", "context"} {
		value, ok := input[key]
		if !ok {
			return fmt.Errorf("missing required field '%s'", key)
		}
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field '%s' must be a string, got %T", key, value)
		}
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("field '%s' cannot be empty", key)
		}
	}
	return nil
}
