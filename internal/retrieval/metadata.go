package retrieval

import (
	"regexp"
	"sort"
	"strings"

	edudoc "github.com/edudocai/edudoc"
)

// Metadata extraction for educational documents: document type, grade
// level, section and academic year are recognized by pattern so uploaded
// files need no manual tagging.

var documentTypePatterns = map[string][]*regexp.Regexp{
	"timetable": compileAll(
		`timetable`,
		`schedule`,
		`class schedule`,
		`teacher roster`,
		`\d+:\d+\s*[ap]m`,
	),
	"student_list": compileAll(
		`student\s+list`,
		`class\s+roster`,
		`enrollment`,
		`student\s+roll`,
	),
	"syllabus": compileAll(
		`syllabus`,
		`course\s+outline`,
		`curriculum`,
		`learning\s+objectives`,
	),
	"exam_schedule": compileAll(
		`exam\s+schedule`,
		`examination\s+timetable`,
		`test\s+schedule`,
		`midterm`,
		`final\s+exam`,
	),
	"advisor_assignment": compileAll(
		`advisor`,
		`advise[sd]`,
		`guidance\s+counselor`,
	),
}

var gradePatterns = map[string][]*regexp.Regexp{
	// Compact class names like "O1A" imply the grade as well as the section.
	"O-Level":   compileAll(`o-level`, `o\s+level`, `olevel`, `\bo\d[a-z]?\b`),
	"A-Level":   compileAll(`a-level`, `a\s+level`, `alevel`, `\ba\d[a-z]?\b`),
	"Level-I":   compileAll(`level-i\b`, `level\s+i\b`, `level\s+1\b`),
	"Level-II":  compileAll(`level-ii\b`, `level\s+ii\b`, `level\s+2\b`),
	"Level-III": compileAll(`level-iii\b`, `level\s+iii\b`, `level\s+3\b`),
}

var (
	sectionPattern       = regexp.MustCompile(`section\s+([a-z])\b|\b([oa]\d)([a-z])\b`)
	academicYearPatterns = compileAll(
		`academic\s+year\s*:?\s*(\d{4}[-/]\d{4})`,
		`year\s*:?\s*(\d{4}[-/]\d{4})`,
		`(\d{4}[-/]\d{4})\s+academic\s+year`,
	)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return compiled
}

// ExtractMetadata derives passage metadata from document content and, when
// available, the filename. Missing fields are simply absent from the map.
func ExtractMetadata(content, filename string) map[string]string {
	lower := strings.ToLower(content)
	metadata := make(map[string]string)

	if docType := extractDocumentType(lower, strings.ToLower(filename)); docType != "" {
		metadata[edudoc.KeyDocumentType] = docType
	}
	if grades := extractGradeLevels(lower); len(grades) > 0 {
		metadata[edudoc.KeyGradeLevel] = strings.Join(grades, ",")
	}
	if sections := extractSections(lower); len(sections) > 0 {
		metadata[edudoc.KeySection] = strings.Join(sections, ",")
	}
	if year := extractAcademicYear(lower); year != "" {
		metadata[edudoc.KeyAcademicYear] = year
	}
	return metadata
}

// extractDocumentType scores each known type by pattern hits; the filename,
// when it matches at all, is decisive.
func extractDocumentType(content, filename string) string {
	// Deterministic iteration so ties resolve the same way every run.
	types := make([]string, 0, len(documentTypePatterns))
	for docType := range documentTypePatterns {
		types = append(types, docType)
	}
	sort.Strings(types)

	if filename != "" {
		// Filenames use separators where prose uses spaces.
		normalized := strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(filename)
		for _, docType := range types {
			for _, p := range documentTypePatterns[docType] {
				if p.MatchString(normalized) {
					return docType
				}
			}
		}
	}

	best := ""
	bestScore := 0

	for _, docType := range types {
		score := 0
		for _, p := range documentTypePatterns[docType] {
			score += len(p.FindAllStringIndex(content, -1))
		}
		if score > bestScore {
			best = docType
			bestScore = score
		}
	}
	return best
}

func extractGradeLevels(content string) []string {
	var grades []string
	for grade, patterns := range gradePatterns {
		for _, p := range patterns {
			if p.MatchString(content) {
				grades = append(grades, grade)
				break
			}
		}
	}
	sort.Strings(grades)
	return grades
}

func extractSections(content string) []string {
	found := make(map[string]bool)
	for _, match := range sectionPattern.FindAllStringSubmatch(content, -1) {
		section := match[1]
		if section == "" {
			section = match[3]
		}
		if section != "" {
			found[strings.ToUpper(section)] = true
		}
	}

	sections := make([]string, 0, len(found))
	for s := range found {
		sections = append(sections, s)
	}
	sort.Strings(sections)
	return sections
}

func extractAcademicYear(content string) string {
	for _, p := range academicYearPatterns {
		if match := p.FindStringSubmatch(content); match != nil {
			return match[1]
		}
	}
	return ""
}
