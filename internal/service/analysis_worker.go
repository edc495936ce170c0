package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/readmaster-api/internal/models"
	"github.com/noah-isme/readmaster-api/internal/observability"
	"github.com/noah-isme/readmaster-api/internal/queue"
	"github.com/noah-isme/readmaster-api/internal/repository"
	"github.com/noah-isme/readmaster-api/pkg/ai"
)

// AnalysisWorker processes queued assessments. Deliveries are at least once;
// the processing status guard makes duplicates harmless.
type AnalysisWorker struct {
	assessments     repository.AssessmentRepository
	readings        repository.ReadingRepository
	machine         AssessmentService
	broker          UploadURLBroker
	analyzer        ai.Analyzer
	defaultLanguage string
	logger          zerolog.Logger
	tracer          trace.Tracer
}

// NewAnalysisWorker constructs the worker.
func NewAnalysisWorker(assessments repository.AssessmentRepository, readings repository.ReadingRepository, machine AssessmentService, broker UploadURLBroker, analyzer ai.Analyzer, defaultLanguage string, logger zerolog.Logger) *AnalysisWorker {
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}
	return &AnalysisWorker{
		assessments:     assessments,
		readings:        readings,
		machine:         machine,
		broker:          broker,
		analyzer:        analyzer,
		defaultLanguage: defaultLanguage,
		logger:          logger.With().Str("component", "analysis_worker").Logger(),
		tracer:          otel.Tracer("github.com/noah-isme/readmaster-api/internal/service/analysis_worker"),
	}
}

// Handle runs one attempt for the assessment named in the delivery.
func (w *AnalysisWorker) Handle(ctx context.Context, delivery queue.Delivery) error {
	assessmentID := strings.TrimSpace(delivery.String("assessment_id"))
	if assessmentID == "" {
		return queue.Permanent(errors.New("job payload missing assessment_id"))
	}

	ctx, span := w.tracer.Start(ctx, "analysis.process_assessment", trace.WithAttributes(
		attribute.String("assessment.id", assessmentID),
		attribute.Int("attempt", delivery.Attempt),
	))
	defer span.End()

	log := w.logger.With().
		Str("assessment_id", assessmentID).
		Int("attempt", delivery.Attempt).
		Int("max_attempts", delivery.MaxAttempts).
		Logger()

	assessment, err := w.assessments.FindByID(ctx, assessmentID)
	if err != nil {
		if repository.IsNotFound(err) {
			log.Warn().Msg("assessment not found, dropping job")
			return nil
		}
		return w.attemptFailed(ctx, log, assessmentID, delivery, fmt.Errorf("load assessment: %w", err))
	}

	if assessment.Status != models.AssessmentStatusProcessing {
		log.Info().Str("status", assessment.Status).Msg("assessment not processing, skipping delivery")
		return nil
	}

	if strings.TrimSpace(assessment.AudioBlobRef) == "" {
		missing := &PermanentError{Reason: "audio blob reference missing"}
		if err := w.machine.FailProcessing(ctx, assessmentID, missing.Error()); err != nil && !errors.Is(err, ErrInvalidState) {
			log.Error().Err(err).Msg("record missing audio failure")
			return err
		}
		log.Warn().Err(missing).Msg("assessment marked as error")
		return nil
	}

	started := time.Now()
	analysis, err := w.analyze(ctx, assessment)
	observability.AnalysisDuration().Observe(time.Since(started).Seconds())
	if err != nil {
		span.RecordError(err)
		return w.attemptFailed(ctx, log, assessmentID, delivery, err)
	}

	if err := w.machine.CompleteProcessing(ctx, assessmentID, analysis); err != nil {
		if errors.Is(err, ErrInvalidState) {
			log.Info().Msg("assessment already finalised by another delivery")
			return nil
		}
		span.RecordError(err)
		return w.attemptFailed(ctx, log, assessmentID, delivery, fmt.Errorf("store analysis: %w", err))
	}

	log.Info().Dur("duration", time.Since(started)).Msg("assessment analysed")
	return nil
}

func (w *AnalysisWorker) analyze(ctx context.Context, assessment models.Assessment) (ai.Analysis, error) {
	audioURL, err := w.broker.GetDownloadURL(ctx, assessment.AudioBlobRef)
	if err != nil {
		return nil, err
	}

	language := w.defaultLanguage
	reading, err := w.readings.FindByID(ctx, assessment.ReadingID)
	switch {
	case err == nil && strings.TrimSpace(reading.Language) != "":
		language = reading.Language
	case err != nil && !repository.IsNotFound(err):
		return nil, fmt.Errorf("load reading: %w", err)
	}

	analysis, err := w.analyzer.Analyze(ctx, ai.AnalysisInput{AudioURL: audioURL, Language: language})
	if err != nil {
		return nil, fmt.Errorf("analyze audio: %w", err)
	}
	if err := ai.Validate(analysis); err != nil {
		if errors.Is(err, ai.ErrInvalidAnalysis) {
			return nil, &PermanentError{Reason: err.Error()}
		}
		return nil, err
	}
	return analysis, nil
}

// attemptFailed records the failure outside of any transaction of the attempt
// and returns err so the queue schedules a retry. On the final attempt, or
// when the failure is permanent, the assessment is moved to error instead.
func (w *AnalysisWorker) attemptFailed(ctx context.Context, log zerolog.Logger, assessmentID string, delivery queue.Delivery, cause error) error {
	reason := cause.Error()
	permanent := IsPermanent(cause)
	var writeErr error
	if permanent || delivery.Final() {
		writeErr = w.machine.FailProcessing(ctx, assessmentID, reason)
	} else {
		writeErr = w.machine.RecordAttemptFailure(ctx, assessmentID, reason)
	}
	if writeErr != nil && !errors.Is(writeErr, ErrInvalidState) {
		log.Error().Err(writeErr).AnErr("cause", cause).Msg("record analysis failure")
	}

	log.Warn().Err(cause).Bool("final", delivery.Final()).Bool("permanent", permanent).Msg("analysis attempt failed")
	if permanent {
		return queue.Permanent(cause)
	}
	return cause
}

// Exhausted marks assessments whose final attempt never reported back.
func (w *AnalysisWorker) Exhausted(ctx context.Context, job queue.Job) error {
	assessmentID, _ := job.Payload["assessment_id"].(string)
	if assessmentID == "" {
		return nil
	}
	err := w.machine.FailProcessing(ctx, assessmentID, "analysis did not finish within the allotted attempts")
	if err != nil && !errors.Is(err, ErrInvalidState) {
		return err
	}
	return nil
}
