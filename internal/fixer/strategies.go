package fixer

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Deterministic strategies are line-targeted text patches. Each one either
// changes the target file and reports true, or leaves it untouched and
// reports false so the engine can escalate.

var (
	duplicateCommasRe = regexp.MustCompile(`,\s*,+`)
	trailingColonRe   = regexp.MustCompile(`\s*:\s*$`)
	trailingCommaRe   = regexp.MustCompile(`,\s*$`)
	runsOfSpaceRe     = regexp.MustCompile(`\s+`)

	quotedNumberRe = regexp.MustCompile(`([+\-*/%]\s*)["'](-?\d+(?:\.\d+)?)["']`)
	intCastRe      = regexp.MustCompile(`int\(([^()]+)\)`)

	returnIndexRe = regexp.MustCompile(`^(\s*return\s+)([A-Za-z_]\w*)\[(.+)\](\s*)$`)
)

// Statements that open a block and must end with a colon.
var colonTargets = []string{
	"def ", "class ", "if ", "elif ", "else", "for ", "while ",
	"try", "except ", "finally", "with ",
}

// fixSyntax repairs malformed import punctuation and appends missing colons
// to block-opening statements on the reported line.
func fixSyntax(path string, lineNo int) (bool, error) {
	lines, err := readLines(path)
	if err != nil {
		return false, err
	}
	if lineNo <= 0 || lineNo > len(lines) {
		return false, nil
	}

	changed := false
	line := lines[lineNo-1]

	left := strings.TrimLeft(line, " \t")
	if strings.HasPrefix(left, "import ") || strings.HasPrefix(left, "from ") {
		cleaned := strings.TrimRight(line, " \t\r\n")
		cleaned = duplicateCommasRe.ReplaceAllString(cleaned, ", ")
		cleaned = trailingColonRe.ReplaceAllString(cleaned, "")
		cleaned = trailingCommaRe.ReplaceAllString(cleaned, "")
		cleaned = strings.TrimSpace(runsOfSpaceRe.ReplaceAllString(cleaned, " "))

		// Normalize comma spacing in plain import lists.
		if strings.HasPrefix(cleaned, "import ") {
			tail := strings.TrimPrefix(cleaned, "import ")
			var modules []string
			for _, m := range strings.Split(tail, ",") {
				if m = strings.TrimSpace(m); m != "" {
					modules = append(modules, m)
				}
			}
			if len(modules) > 0 {
				cleaned = "import " + strings.Join(modules, ", ")
			}
		}

		if cleaned != strings.TrimRight(line, " \t\r\n") {
			lines[lineNo-1] = cleaned
			changed = true
		}
	}

	current := lines[lineNo-1]
	stripped := strings.TrimSpace(current)
	if opensBlock(stripped) && !strings.HasSuffix(stripped, ":") {
		lines[lineNo-1] = strings.TrimRight(current, " \t\r\n") + ":"
		changed = true
	}

	if !changed {
		return false, nil
	}
	return true, writeLines(path, lines)
}

func opensBlock(stripped string) bool {
	for _, kw := range colonTargets {
		if strings.HasPrefix(stripped, kw) {
			return true
		}
	}
	return false
}

// fixIndentation replaces tabs with four spaces on the reported line and
// indents it when the previous line opens a block.
func fixIndentation(path string, lineNo int) (bool, error) {
	lines, err := readLines(path)
	if err != nil {
		return false, err
	}
	if lineNo <= 0 || lineNo > len(lines) {
		return false, nil
	}

	changed := false
	original := lines[lineNo-1]
	updated := strings.ReplaceAll(original, "\t", "    ")
	if updated != original {
		changed = true
	}

	if lineNo > 1 && strings.HasSuffix(strings.TrimRight(lines[lineNo-2], " \t\r\n"), ":") {
		if strings.TrimSpace(updated) != "" && !strings.HasPrefix(updated, " ") && !strings.HasPrefix(updated, "\t") {
			updated = "    " + updated
			changed = true
		}
	}

	lines[lineNo-1] = updated
	if !changed {
		return false, nil
	}
	return true, writeLines(path, lines)
}

// fixTypeError coerces quoted numeric literals used in arithmetic back to
// numbers and widens int() conversions through a float intermediate.
func fixTypeError(path string, lineNo int) (bool, error) {
	lines, err := readLines(path)
	if err != nil {
		return false, err
	}
	if lineNo <= 0 || lineNo > len(lines) {
		return false, nil
	}

	changed := false
	line := lines[lineNo-1]

	if normalized := quotedNumberRe.ReplaceAllString(line, "${1}${2}"); normalized != line {
		line = normalized
		changed = true
	}

	if strings.Contains(line, "int(") && !strings.Contains(line, "int(float(") {
		if wrapped := intCastRe.ReplaceAllString(line, "int(float(${1}))"); wrapped != line {
			line = wrapped
			changed = true
		}
	}

	if !changed {
		return false, nil
	}
	lines[lineNo-1] = line
	return true, writeLines(path, lines)
}

// fixLogic rewrites direct-index returns into safe lookups and replaces
// floor division with true division on the reported line.
func fixLogic(path string, lineNo int) (bool, error) {
	lines, err := readLines(path)
	if err != nil {
		return false, err
	}
	if lineNo <= 0 || lineNo > len(lines) {
		return false, nil
	}

	changed := false
	line := lines[lineNo-1]

	if safe := returnIndexRe.ReplaceAllString(line, "${1}${2}.get(${3})${4}"); safe != line {
		line = safe
		changed = true
	}

	if strings.Contains(line, "//") {
		line = strings.ReplaceAll(line, "//", "/")
		changed = true
	}

	if !changed {
		return false, nil
	}
	lines[lineNo-1] = line
	return true, writeLines(path, lines)
}

// fixMissingInit creates an empty package-marker file next to the module
// that failed to import. Reports false when the marker already exists.
func fixMissingInit(repoRoot, moduleFile string) (bool, error) {
	moduleDir := filepath.Dir(filepath.Join(repoRoot, moduleFile))
	if moduleDir == "" || moduleDir == "." {
		return false, nil
	}

	initFile := filepath.Join(moduleDir, "__init__.py")
	if _, err := os.Stat(initFile); err == nil {
		return false, nil
	}

	f, err := os.Create(initFile)
	if err != nil {
		return false, err
	}
	return true, f.Close()
}

// fixWithRuff runs the repository's cached ruff entry point against a single
// file. Success means the file content actually changed.
func (e *Engine) fixWithRuff(ctx context.Context, repoRoot, relFile string) (bool, error) {
	target := filepath.Join(repoRoot, relFile)
	before, err := os.ReadFile(target)
	if err != nil {
		return false, err
	}

	pythonBin := filepath.Join(repoRoot, ".venv", "bin", "python")
	if _, err := os.Stat(pythonBin); err != nil {
		return false, nil
	}

	// Ruff exits non-zero when unfixable findings remain; only the content
	// diff decides success.
	_ = e.cmd.Run(ctx, repoRoot, pythonBin, "-m", "ruff", "check", "--fix", relFile)

	after, err := os.ReadFile(target)
	if err != nil {
		return false, err
	}
	return string(before) != string(after), nil
}

// readLines splits a file into lines without terminators; writeLines joins
// them back, preserving the original trailing-newline shape.
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return strings.Split(string(data), "\n"), nil
}

func writeLines(path string, lines []string) error {
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}
