package bugs

import (
	"regexp"
	"strconv"
	"strings"
)

// Classifier converts raw diagnostic text (interpreter tracebacks, pytest,
// ruff, basedpyright) into deduplicated bug records. It is stateless: the
// same input always yields the same records in the same order.
type Classifier struct{}

// NewClassifier creates a Classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Traceback families. (?s) lets .*? span the frames between the File line
// and the exception name.
var (
	syntaxRe      = regexp.MustCompile(`(?s)File "(.+?\.py)", line (\d+).*?SyntaxError`)
	indentationRe = regexp.MustCompile(`(?s)File "(.+?\.py)", line (\d+).*?(?:IndentationError|TabError)`)
	importRe      = regexp.MustCompile(`(?s)File "(.+?\.py)", line (\d+).*?(?:ModuleNotFoundError|ImportError)`)
	typeRe        = regexp.MustCompile(`(?s)File "(.+?\.py)", line (\d+).*?(?:TypeError|ValueError)`)
	logicRe       = regexp.MustCompile(`(?s)File "(.+?\.py)", line (\d+).*?(?:NameError|KeyError|AssertionError|AttributeError)`)

	// pytest short assertion format: path.py:42: AssertionError
	logicShortRe = regexp.MustCompile(`(.+?\.py):(\d+):\s*AssertionError`)

	// lint output: path.py:10:1: F401 'os' imported but unused
	lintRe = regexp.MustCompile(`(.+?\.py):(\d+):(?:\d+:)?\s*(?:F401|W0611|.*unused import)`)

	// basedpyright diagnostics: path.py:12:5 - error: message
	typeCheckerRe = regexp.MustCompile(`(.+?\.py):(\d+):(\d+)\s*-\s*error:\s*(.+)`)

	// pytest collection-time import failures
	collectingRe = regexp.MustCompile(`(?s)ERROR collecting (.+?\.py).*?ImportError`)
)

// Classify parses raw diagnostic text into an ordered list of bug records.
// Matchers run in a fixed order and may overlap; a record is emitted only the
// first time its (file, type, line) identity is seen. Non-empty input that no
// matcher recognizes yields a single UNKNOWN record so the failure is not
// silently dropped.
func (c *Classifier) Classify(raw string) []Record {
	var records []Record
	seen := make(map[Key]bool)

	if raw == "" {
		return records
	}

	add := func(file string, typ Type, line int) {
		rec := Record{File: cleanPath(file), Type: typ, Line: line, Status: StatusDetected}
		if seen[rec.Key()] {
			return
		}
		seen[rec.Key()] = true
		records = append(records, rec)
	}

	for _, m := range syntaxRe.FindAllStringSubmatch(raw, -1) {
		add(m[1], Syntax, mustAtoi(m[2]))
	}
	for _, m := range indentationRe.FindAllStringSubmatch(raw, -1) {
		add(m[1], Indentation, mustAtoi(m[2]))
	}
	for _, m := range importRe.FindAllStringSubmatch(raw, -1) {
		add(m[1], Import, mustAtoi(m[2]))
	}
	for _, m := range typeRe.FindAllStringSubmatch(raw, -1) {
		add(m[1], TypeError, mustAtoi(m[2]))
	}
	for _, m := range logicRe.FindAllStringSubmatch(raw, -1) {
		add(m[1], Logic, mustAtoi(m[2]))
	}
	for _, m := range logicShortRe.FindAllStringSubmatch(raw, -1) {
		add(m[1], Logic, mustAtoi(m[2]))
	}
	for _, m := range lintRe.FindAllStringSubmatch(raw, -1) {
		add(m[1], Linting, mustAtoi(m[2]))
	}
	for _, m := range typeCheckerRe.FindAllStringSubmatch(raw, -1) {
		add(m[1], typeFromMessage(m[4]), mustAtoi(m[2]))
	}
	for _, m := range collectingRe.FindAllStringSubmatch(raw, -1) {
		add(m[1], Import, 1)
	}

	// The text signalled a failure but nothing parsed.
	if len(records) == 0 {
		add(UnknownFile, Unknown, 1)
	}

	return records
}

// typeFromMessage maps a type-checker diagnostic message to a bug type by
// keyword inspection.
func typeFromMessage(message string) Type {
	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "import") || strings.Contains(msg, "cannot be resolved"):
		return Import
	case strings.Contains(msg, "type") || strings.Contains(msg, "argument of type") || strings.Contains(msg, "cannot assign"):
		return TypeError
	case strings.Contains(msg, "syntax"):
		return Syntax
	default:
		return Logic
	}
}

// cleanPath strips the workspace prefix up to and including the repo/
// segment so records join cleanly against the repository root.
func cleanPath(full string) string {
	if idx := strings.Index(full, "workspace/repo/"); idx >= 0 {
		return full[idx+len("workspace/repo/"):]
	}
	if idx := strings.Index(full, "/repo/"); idx >= 0 {
		return full[idx+len("/repo/"):]
	}
	return full
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
