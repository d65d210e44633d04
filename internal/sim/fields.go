package sim

import "strings"

// Fields splits a record on whitespace, commas and semicolons, the
// delimiters used across the simulator's text outputs. Empty fields
// produced by adjacent delimiters are dropped.
func Fields(line string) []string {
	return strings.FieldsFunc(line, func(r rune) bool {
		switch r {
		case ' ', '\t', ',', ';', '\r':
			return true
		}
		return false
	})
}

// IsComment reports whether a trimmed line carries no record.
func IsComment(line string) bool {
	return line == "" || strings.HasPrefix(line, "#")
}
