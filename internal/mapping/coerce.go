package mapping

import (
	"strconv"
	"strings"
)

// IsNumericField reports whether values of field are parsed as integers.
func IsNumericField(field string) bool {
	return strings.Contains(field, "duration") || strings.Contains(field, "team_size")
}

// IsBoolField reports whether values of field are coerced to booleans.
func IsBoolField(field string) bool {
	return strings.HasPrefix(field, "is_")
}

// Int parses an integer field value. Returns nil when the value is blank or
// not an integer.
func Int(value string) *int {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		// Spreadsheets often store whole numbers as "30.0".
		f, ferr := strconv.ParseFloat(value, 64)
		if ferr != nil || f != float64(int(f)) {
			return nil
		}
		n = int(f)
	}
	return &n
}

// Bool coerces a field value: only a case-insensitive "true" is true.
func Bool(value string) bool {
	return strings.EqualFold(strings.TrimSpace(value), "true")
}

// List splits a delimited cell on commas and semicolons, dropping blanks.
func List(value string) []string {
	parts := strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Coerce converts a mapped value according to the field naming policy:
// numeric fields become *int, is_ fields become bool, tags become []string,
// everything else is returned trimmed.
func Coerce(field, value string) any {
	switch {
	case IsNumericField(field):
		return Int(value)
	case IsBoolField(field):
		return Bool(value)
	case field == FieldTags:
		return List(value)
	default:
		return strings.TrimSpace(value)
	}
}
