package ai

import (
	"context"
	"strings"
)

// MockAnalyzer returns a fixed analysis. Used in development and tests.
type MockAnalyzer struct{}

// NewMockAnalyzer constructs a mock analyzer.
func NewMockAnalyzer() *MockAnalyzer {
	return &MockAnalyzer{}
}

// Analyze returns a canned analysis for input.
func (m *MockAnalyzer) Analyze(ctx context.Context, input AnalysisInput) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	language := strings.TrimSpace(input.Language)
	if language == "" {
		language = "en"
	}
	return Analysis{
		"transcription":       "This is a mocked transcription of the audio.",
		"fluency_score":       0.95,
		"accuracy_score":      0.92,
		"words_per_minute":    120,
		"mispronounced_words": []string{"example", "another"},
		"language":            language,
	}, nil
}
