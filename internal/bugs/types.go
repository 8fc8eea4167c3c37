package bugs

// Type classifies a detected bug and selects its repair strategy.
type Type string

const (
	Syntax      Type = "SYNTAX"
	Indentation Type = "INDENTATION"
	Import      Type = "IMPORT"
	TypeError   Type = "TYPE_ERROR"
	Logic       Type = "LOGIC"
	Linting     Type = "LINTING"
	Unknown     Type = "UNKNOWN"
)

// Valid reports whether t is a known bug type.
func (t Type) Valid() bool {
	switch t {
	case Syntax, Indentation, Import, TypeError, Logic, Linting, Unknown:
		return true
	}
	return false
}

// Status tracks a bug through detection and repair.
type Status string

const (
	StatusDetected Status = "Detected"
	StatusFixed    Status = "Fixed"
	StatusFailed   Status = "Failed"
)

// UnknownFile is the placeholder path for failures that could not be
// attributed to a concrete file.
const UnknownFile = "<unknown>"

// Record is one structured bug extracted from diagnostic output.
type Record struct {
	File   string `json:"file"`
	Type   Type   `json:"bug_type"`
	Line   int    `json:"line"`
	Status Status `json:"status"`
}

// Key is the identity of a bug: the same (file, type, line) triple observed
// across iterations refers to the same bug.
type Key struct {
	File string
	Type Type
	Line int
}

// Key returns the record's identity key.
func (r Record) Key() Key {
	return Key{File: r.File, Type: r.Type, Line: r.Line}
}
