package llm

// Usage accumulates completion tokens across calls. It is owned by a single
// batch and is not safe for concurrent use.
type Usage struct {
	completionTokens int
	calls            int
}

// Add records one successful call that produced tokens completion tokens.
func (u *Usage) Add(tokens int) {
	u.calls++
	if tokens > 0 {
		u.completionTokens += tokens
	}
}

// CompletionTokens returns the running completion token total.
func (u *Usage) CompletionTokens() int {
	return u.completionTokens
}

// Calls returns the number of successful calls recorded.
func (u *Usage) Calls() int {
	return u.calls
}
