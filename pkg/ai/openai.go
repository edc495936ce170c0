package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxAudioBytes matches the transcription endpoint upload limit.
const maxAudioBytes = 25 << 20

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "readmaster",
		Subsystem: "ai",
		Name:      "transcription_duration_seconds",
		Help:      "Duration of speech transcription requests",
	}, []string{"model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "readmaster",
		Subsystem: "ai",
		Name:      "transcription_failures_total",
		Help:      "Number of speech transcription failures",
	}, []string{"model"})
)

// OpenAIConfig defines configuration options for the Whisper analyzer.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// OpenAIAnalyzer transcribes recordings with the OpenAI audio API and derives
// reading metrics from the verbose response.
type OpenAIAnalyzer struct {
	client     *openai.Client
	httpClient *http.Client
	cfg        OpenAIConfig
	tracer     trace.Tracer
	logger     zerolog.Logger
}

// NewOpenAIAnalyzer builds a new analyzer using the provided configuration.
func NewOpenAIAnalyzer(cfg OpenAIConfig) (*OpenAIAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	config.HTTPClient = httpClient

	return &OpenAIAnalyzer{
		client:     openai.NewClientWithConfig(config),
		httpClient: httpClient,
		cfg:        cfg,
		tracer:     otel.Tracer("github.com/noah-isme/readmaster-api/pkg/ai/openai"),
		logger:     cfg.Logger.With().Str("component", "openai_analyzer").Logger(),
	}, nil
}

// Analyze downloads the recording and requests a verbose transcription.
func (a *OpenAIAnalyzer) Analyze(parent context.Context, input AnalysisInput) (Analysis, error) {
	ctx, span := a.tracer.Start(parent, "openai.transcribe", trace.WithAttributes(
		attribute.String("model", a.cfg.Model),
		attribute.String("language", input.Language),
	))
	defer span.End()

	fail := func(err error) (Analysis, error) {
		aiFailures.WithLabelValues(a.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	audio, err := a.fetchAudio(ctx, input.AudioURL)
	if err != nil {
		return fail(err)
	}

	detected := mimetype.Detect(audio)
	if !strings.HasPrefix(detected.String(), "audio/") && !strings.HasPrefix(detected.String(), "video/") {
		return fail(fmt.Errorf("unsupported recording format %s", detected.String()))
	}

	start := time.Now()
	resp, err := a.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    a.cfg.Model,
		FilePath: "recording" + detected.Extension(),
		Reader:   bytes.NewReader(audio),
		Language: input.Language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	aiDuration.WithLabelValues(a.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return fail(fmt.Errorf("openai transcribe: %w", err))
	}

	analysis := buildAnalysis(resp, input.Language)
	if err := Validate(analysis); err != nil {
		return fail(err)
	}

	a.logger.Debug().
		Float64("duration_seconds", resp.Duration).
		Int("segments", len(resp.Segments)).
		Msg("transcription completed")

	return analysis, nil
}

func (a *OpenAIAnalyzer) fetchAudio(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build audio request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch audio: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch audio: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(data) > maxAudioBytes {
		return nil, fmt.Errorf("recording exceeds %d bytes", maxAudioBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("recording is empty")
	}
	return data, nil
}

func buildAnalysis(resp openai.AudioResponse, requestedLanguage string) Analysis {
	text := strings.TrimSpace(resp.Text)
	words := len(strings.Fields(text))

	language := resp.Language
	if language == "" {
		language = requestedLanguage
	}

	analysis := Analysis{
		"transcription":    text,
		"language":         language,
		"duration_seconds": resp.Duration,
		"word_count":       words,
	}

	if resp.Duration > 0 {
		analysis["words_per_minute"] = roundTo(float64(words)/(resp.Duration/60), 1)
	}

	if len(resp.Segments) > 0 {
		var speech float64
		for _, segment := range resp.Segments {
			speech += 1 - segment.NoSpeechProb
		}
		analysis["fluency_score"] = roundTo(clamp01(speech/float64(len(resp.Segments))), 2)
		analysis["segment_count"] = len(resp.Segments)
	}

	return analysis
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func roundTo(v float64, places int) float64 {
	pow := 1.0
	for i := 0; i < places; i++ {
		pow *= 10
	}
	return float64(int64(v*pow+0.5)) / pow
}
