package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const analysisSchemaURL = "mem://readmaster/analysis.json"

const analysisSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["transcription"],
  "properties": {
    "transcription": {"type": "string"},
    "language": {"type": "string"},
    "words_per_minute": {"type": "number", "minimum": 0},
    "fluency_score": {"type": "number", "minimum": 0, "maximum": 1},
    "accuracy_score": {"type": "number", "minimum": 0, "maximum": 1},
    "mispronounced_words": {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(analysisSchemaURL, strings.NewReader(analysisSchema)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile(analysisSchemaURL)
	})
	return compiledSchema, schemaErr
}

// Validate checks the analysis document against the stored result schema.
func Validate(analysis Analysis) error {
	schema, err := loadSchema()
	if err != nil {
		return fmt.Errorf("compile analysis schema: %w", err)
	}

	// Round trip so numeric types match what the validator expects.
	raw, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAnalysis, err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAnalysis, err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAnalysis, err)
	}
	return nil
}
