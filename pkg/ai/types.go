package ai

import (
	"context"
	"errors"
)

// ErrInvalidAnalysis is returned when a provider response lacks required fields.
var ErrInvalidAnalysis = errors.New("invalid analysis payload")

// AnalysisInput identifies the recording to analyse.
type AnalysisInput struct {
	AudioURL string
	Language string
}

// Analysis is the provider specific result document. It always carries a
// "transcription" string; other keys vary by provider.
type Analysis map[string]interface{}

// Transcription returns the transcription text.
func (a Analysis) Transcription() string {
	text, _ := a["transcription"].(string)
	return text
}

// Analyzer turns a recording into a structured analysis.
type Analyzer interface {
	Analyze(ctx context.Context, input AnalysisInput) (Analysis, error)
}
