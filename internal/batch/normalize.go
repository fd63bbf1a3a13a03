package batch

import "strings"

// Fence markers stripped from model output, longest first so a tagged fence
// is not left with a dangling language tag.
var fenceMarkers = []string{"```SQL", "```sql", "```"}

// NormalizeGenerated turns raw model output into a single-line statement:
// code fences removed, whitespace collapsed, a space appended after SELECT,
// and a trailing semicolon guaranteed.
func NormalizeGenerated(raw string) string {
	s := normalizeLine(raw)
	s = strings.ReplaceAll(s, "SELECT", "SELECT ")
	return terminate(strings.TrimSpace(s))
}

// NormalizeCorrected is NormalizeGenerated without keyword padding.
func NormalizeCorrected(raw string) string {
	return terminate(strings.TrimSpace(normalizeLine(raw)))
}

func normalizeLine(raw string) string {
	s := raw
	for _, marker := range fenceMarkers {
		s = strings.ReplaceAll(s, marker, "")
	}
	// Fields splits on newlines too, so the result is always one line.
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, " ;", ";")
}

func terminate(s string) string {
	if strings.HasSuffix(s, ";") {
		return s
	}
	return s + ";"
}
