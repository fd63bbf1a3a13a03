// Package batch runs SQL generation and correction batches against a
// completion endpoint, one item at a time.
package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/metalagman/nl2sql/internal/llm"
	"github.com/rs/zerolog/log"
)

// Completer performs one completion call.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// Runner converts and corrects SQL with a fixed schema description.
type Runner struct {
	completer Completer
	schema    string
	params    llm.Params
}

// NewRunner returns a runner grounding every prompt in schema.
func NewRunner(completer Completer, schema string, params llm.Params) (*Runner, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid generation params: %w", err)
	}
	return &Runner{completer: completer, schema: schema, params: params}, nil
}

// Generate converts every question to SQL. The result has one entry per
// item, in input order; failed items carry an empty Query.
func (r *Runner) Generate(ctx context.Context, items []GenerationItem) ([]GenerationResult, Stats) {
	start := time.Now()
	system := llm.SystemMessage(generationSystemPrompt(r.schema))
	log.Debug().Str("prompt", system.Content).Msg("generation system prompt")

	stats := Stats{Items: len(items)}
	out := make([]GenerationResult, 0, len(items))
	for i, item := range items {
		raw, err := r.complete(ctx, system, llm.UserMessage("Convert to SQL: "+item.NL))
		if err != nil {
			log.Error().Err(err).Int("item", i).Msg("generate sql failed")
			stats.Failed++
			out = append(out, GenerationResult{NL: item.NL})
			continue
		}
		out = append(out, GenerationResult{NL: item.NL, Query: NormalizeGenerated(raw)})
	}
	stats.Elapsed = time.Since(start)
	return out, stats
}

// Correct fixes every incorrect statement. Items without a statement are
// answered with an empty placeholder and never sent.
func (r *Runner) Correct(ctx context.Context, items []CorrectionItem) ([]CorrectionResult, Stats) {
	start := time.Now()
	system := llm.SystemMessage(correctionSystemPrompt(r.schema))
	log.Debug().Str("prompt", system.Content).Msg("correction system prompt")

	stats := Stats{Items: len(items)}
	out := make([]CorrectionResult, 0, len(items))
	for i, item := range items {
		incorrect := strings.TrimSpace(item.IncorrectQuery)
		if incorrect == "" {
			stats.Skipped++
			out = append(out, CorrectionResult{})
			continue
		}
		raw, err := r.complete(ctx, system, llm.UserMessage(correctionUserPrompt(incorrect, strings.TrimSpace(item.NL))))
		if err != nil {
			log.Error().Err(err).Int("item", i).Msg("correct sql failed")
			stats.Failed++
			out = append(out, CorrectionResult{IncorrectQuery: incorrect})
			continue
		}
		out = append(out, CorrectionResult{IncorrectQuery: incorrect, CorrectQuery: NormalizeCorrected(raw)})
	}
	stats.Elapsed = time.Since(start)
	return out, stats
}

// complete isolates one item: a panic in the completer is reported as an
// error so the batch keeps going.
func (r *Runner) complete(ctx context.Context, messages ...llm.Message) (raw string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("completion panicked: %v", p)
		}
	}()
	return r.completer.Complete(ctx, llm.NewCompletionRequest(r.params, messages...))
}

func generationSystemPrompt(schema string) string {
	return "You are a SQL expert. Convert natural language to optimized SQL using this schema: " +
		quoteSchema(schema) +
		". Single space between keywords Include semicolon Use explicit JOIN syntax and no explaination"
}

func correctionSystemPrompt(schema string) string {
	return "You are a SQL query corrector. Schema is as follows: " +
		quoteSchema(schema) +
		". NO newline, markdown, explanations, Single space between keywords"
}

func correctionUserPrompt(incorrect, intent string) string {
	if intent == "" {
		intent = "Not specified"
	}
	return "Original Intent: " + intent + "\n\nIncorrect SQL: " + incorrect + "\n\n"
}

// quoteSchema embeds the schema as a JSON string literal, keeping the prompt
// on one line.
func quoteSchema(schema string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(schema); err != nil {
		return schema
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
