package batch

import "time"

// GenerationItem is one natural-language question to convert to SQL.
type GenerationItem struct {
	NL string `json:"NL"`
}

// GenerationResult pairs a question with the generated statement. Query is
// empty when the item failed.
type GenerationResult struct {
	NL    string `json:"NL"`
	Query string `json:"Query"`
}

// CorrectionItem is a known-incorrect statement with optional intent.
type CorrectionItem struct {
	IncorrectQuery string `json:"IncorrectQuery"`
	NL             string `json:"NL"`
}

// CorrectionResult pairs an incorrect statement with its correction.
// CorrectQuery is empty when the item failed or had nothing to correct.
type CorrectionResult struct {
	IncorrectQuery string `json:"IncorrectQuery"`
	CorrectQuery   string `json:"CorrectQuery"`
}

// Stats summarizes one batch run.
type Stats struct {
	Items   int
	Failed  int
	Skipped int
	Elapsed time.Duration
}
