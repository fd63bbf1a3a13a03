package batch

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/generation_input.json
var generationInputSchema string

//go:embed schemas/correction_input.json
var correctionInputSchema string

// LoadGenerationItems reads a JSON array of {"NL": ...} objects.
func LoadGenerationItems(path string) ([]GenerationItem, error) {
	var items []GenerationItem
	if err := loadItems(path, generationInputSchema, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// LoadCorrectionItems reads a JSON array of {"IncorrectQuery": ..., "NL": ...} objects.
func LoadCorrectionItems(path string) ([]CorrectionItem, error) {
	var items []CorrectionItem
	if err := loadItems(path, correctionInputSchema, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func loadItems(path, schema string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read input %s: %w", path, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("validate input %s: %w", path, err)
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, schemaErr := range result.Errors() {
			errs = append(errs, schemaErr.String())
		}
		return fmt.Errorf("input %s is invalid: %s", path, strings.Join(errs, "; "))
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode input %s: %w", path, err)
	}
	return nil
}

// WriteJSON writes v to path as a JSON document.
func WriteJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
