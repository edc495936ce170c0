package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/readmaster-api/internal/dto"
	"github.com/noah-isme/readmaster-api/internal/models"
	"github.com/noah-isme/readmaster-api/internal/observability"
	"github.com/noah-isme/readmaster-api/internal/queue"
	"github.com/noah-isme/readmaster-api/internal/repository"
	"github.com/noah-isme/readmaster-api/pkg/ai"
)

// AnalysisJobName is the queue job that processes one uploaded recording.
const AnalysisJobName = "analysis.process_assessment"

const failureNotice = "We could not process your reading recording. Please try again or contact your teacher."

// AssessmentService drives an assessment through its lifecycle.
type AssessmentService interface {
	Create(ctx context.Context, requester Requester, payload dto.AssessmentCreateRequest) (dto.AssessmentResponse, error)
	Get(ctx context.Context, id string, requester Requester) (dto.AssessmentResponse, error)
	Result(ctx context.Context, id string, requester Requester) (dto.AssessmentResultResponse, error)
	RequestUploadURL(ctx context.Context, id string, requester Requester, payload dto.UploadURLRequest) (dto.UploadURLResponse, error)
	ConfirmUpload(ctx context.Context, id string, requester Requester, payload dto.ConfirmUploadRequest) (dto.AssessmentResponse, error)
	SubmitQuiz(ctx context.Context, id string, requester Requester, payload dto.QuizSubmissionRequest) (dto.QuizSubmissionResponse, error)

	CompleteProcessing(ctx context.Context, id string, analysis ai.Analysis) error
	FailProcessing(ctx context.Context, id, reason string) error
	RecordAttemptFailure(ctx context.Context, id, reason string) error
}

type assessmentService struct {
	db            *gorm.DB
	assessments   repository.AssessmentRepository
	readings      repository.ReadingRepository
	jobs          *queue.Store
	broker        UploadURLBroker
	notifications NotificationService
	validator     *validator.Validate
	logger        zerolog.Logger
	tracer        trace.Tracer
}

// NewAssessmentService constructs the assessment state machine.
func NewAssessmentService(db *gorm.DB, assessments repository.AssessmentRepository, readings repository.ReadingRepository, jobs *queue.Store, broker UploadURLBroker, notifications NotificationService, validate *validator.Validate, logger zerolog.Logger) AssessmentService {
	return &assessmentService{
		db:            db,
		assessments:   assessments,
		readings:      readings,
		jobs:          jobs,
		broker:        broker,
		notifications: notifications,
		validator:     validate,
		logger:        logger.With().Str("component", "assessment_service").Logger(),
		tracer:        otel.Tracer("github.com/noah-isme/readmaster-api/internal/service/assessment"),
	}
}

func (s *assessmentService) Create(ctx context.Context, requester Requester, payload dto.AssessmentCreateRequest) (dto.AssessmentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AssessmentResponse{}, err
	}
	if requester.UserID == "" {
		return dto.AssessmentResponse{}, ErrForbidden
	}

	if _, err := s.readings.FindByID(ctx, payload.ReadingID); err != nil {
		if repository.IsNotFound(err) {
			return dto.AssessmentResponse{}, fmt.Errorf("reading %s: %w", payload.ReadingID, ErrNotFound)
		}
		return dto.AssessmentResponse{}, err
	}

	assessment := models.Assessment{
		ReadingID: payload.ReadingID,
		Status:    models.AssessmentStatusPendingAudio,
	}

	studentID := strings.TrimSpace(payload.StudentID)
	switch requester.role() {
	case RoleStudent:
		if studentID != "" && studentID != requester.UserID {
			return dto.AssessmentResponse{}, ErrForbidden
		}
		assessment.StudentID = requester.UserID
	case RoleTeacher, RoleParent, RoleAdmin:
		if studentID == "" {
			return dto.AssessmentResponse{}, fmt.Errorf("student_id is required: %w", ErrInvalidInput)
		}
		assignedBy := requester.UserID
		assessment.StudentID = studentID
		assessment.AssignedByID = &assignedBy
	default:
		return dto.AssessmentResponse{}, ErrForbidden
	}

	if err := s.assessments.Create(ctx, &assessment); err != nil {
		return dto.AssessmentResponse{}, err
	}

	s.logger.Info().
		Str("assessment_id", assessment.ID).
		Str("student_id", assessment.StudentID).
		Str("reading_id", assessment.ReadingID).
		Msg("assessment created")

	if assessment.AssignedByID != nil {
		_, err := s.notifications.Raise(ctx, NotificationRaise{
			UserID:    assessment.StudentID,
			Type:      models.NotificationTypeAssignment,
			Message:   "You have a new reading assessment.",
			RelatedID: assessment.ID,
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("assessment_id", assessment.ID).Msg("assignment notification failed")
		}
	}

	return dto.NewAssessmentResponse(assessment), nil
}

func (s *assessmentService) load(ctx context.Context, id string) (models.Assessment, error) {
	assessment, err := s.assessments.FindByID(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return models.Assessment{}, ErrNotFound
		}
		return models.Assessment{}, err
	}
	return assessment, nil
}

func (s *assessmentService) Get(ctx context.Context, id string, requester Requester) (dto.AssessmentResponse, error) {
	assessment, err := s.load(ctx, id)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}
	if !requester.canView(assessment) {
		return dto.AssessmentResponse{}, ErrForbidden
	}
	return dto.NewAssessmentResponse(assessment), nil
}

func (s *assessmentService) Result(ctx context.Context, id string, requester Requester) (dto.AssessmentResultResponse, error) {
	assessment, err := s.assessments.FindWithResult(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return dto.AssessmentResultResponse{}, ErrNotFound
		}
		return dto.AssessmentResultResponse{}, err
	}
	if !requester.canView(assessment) {
		return dto.AssessmentResultResponse{}, ErrForbidden
	}
	return dto.NewAssessmentResultResponse(assessment), nil
}

func (s *assessmentService) RequestUploadURL(ctx context.Context, id string, requester Requester, payload dto.UploadURLRequest) (dto.UploadURLResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.UploadURLResponse{}, err
	}

	assessment, err := s.load(ctx, id)
	if err != nil {
		return dto.UploadURLResponse{}, err
	}
	if !requester.owns(assessment) {
		return dto.UploadURLResponse{}, ErrForbidden
	}
	if assessment.Status != models.AssessmentStatusPendingAudio {
		return dto.UploadURLResponse{}, ErrInvalidState
	}

	contentType := strings.TrimSpace(payload.ContentType)
	if contentType == "" {
		contentType = "audio/wav"
	}
	key := AudioObjectKey(assessment.ID, contentType)

	target, err := s.broker.GetUploadURL(ctx, key, contentType)
	if err != nil {
		return dto.UploadURLResponse{}, err
	}

	return dto.NewUploadURLResponse(assessment.ID, key, target), nil
}

// ConfirmUpload records the blob, moves the assessment to processing and
// enqueues the analysis job in a single transaction.
func (s *assessmentService) ConfirmUpload(ctx context.Context, id string, requester Requester, payload dto.ConfirmUploadRequest) (dto.AssessmentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AssessmentResponse{}, err
	}

	assessment, err := s.load(ctx, id)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}
	if !requester.owns(assessment) {
		return dto.AssessmentResponse{}, ErrForbidden
	}
	if assessment.Status != models.AssessmentStatusPendingAudio {
		return dto.AssessmentResponse{}, ErrInvalidState
	}

	blob := strings.TrimSpace(payload.BlobName)
	if blob == "" {
		return dto.AssessmentResponse{}, fmt.Errorf("blob_name is required: %w", ErrInvalidInput)
	}

	spanCtx, span := s.tracer.Start(ctx, "assessments.confirm_upload", trace.WithAttributes(
		attribute.String("assessment.id", assessment.ID),
	))
	defer span.End()

	err = s.db.WithContext(spanCtx).Transaction(func(tx *gorm.DB) error {
		moved, err := s.assessments.WithTx(tx).TransitionStatus(spanCtx, assessment.ID,
			models.AssessmentStatusPendingAudio, models.AssessmentStatusProcessing,
			map[string]interface{}{"audio_blob_ref": blob})
		if err != nil {
			return err
		}
		if !moved {
			return ErrInvalidState
		}
		return s.jobs.WithTx(tx).Enqueue(spanCtx, AnalysisJobName, assessment.ID, map[string]interface{}{
			"assessment_id": assessment.ID,
		})
	})
	if err != nil {
		if !errors.Is(err, ErrInvalidState) {
			span.RecordError(err)
		}
		return dto.AssessmentResponse{}, err
	}

	observability.AssessmentTransitions().WithLabelValues(models.AssessmentStatusPendingAudio, models.AssessmentStatusProcessing).Inc()
	s.logger.Info().Str("assessment_id", assessment.ID).Str("blob", blob).Msg("upload confirmed, analysis queued")

	assessment.Status = models.AssessmentStatusProcessing
	assessment.AudioBlobRef = blob
	return dto.NewAssessmentResponse(assessment), nil
}

// CompleteProcessing stores the analysis and completes the assessment. It
// fails with ErrInvalidState when the assessment is no longer processing.
func (s *assessmentService) CompleteProcessing(ctx context.Context, id string, analysis ai.Analysis) error {
	spanCtx, span := s.tracer.Start(ctx, "assessments.complete_processing", trace.WithAttributes(
		attribute.String("assessment.id", id),
	))
	defer span.End()

	err := s.db.WithContext(spanCtx).Transaction(func(tx *gorm.DB) error {
		repo := s.assessments.WithTx(tx)
		moved, err := repo.TransitionStatus(spanCtx, id,
			models.AssessmentStatusProcessing, models.AssessmentStatusCompleted,
			map[string]interface{}{"raw_transcript": analysis.Transcription(), "diagnostic": ""})
		if err != nil {
			return err
		}
		if !moved {
			return ErrInvalidState
		}
		return repo.UpsertResult(spanCtx, &models.AssessmentResult{
			AssessmentID: id,
			Analysis:     datatypes.JSONMap(analysis),
		})
	})
	if err != nil {
		if !errors.Is(err, ErrInvalidState) {
			span.RecordError(err)
		}
		return err
	}

	observability.AssessmentTransitions().WithLabelValues(models.AssessmentStatusProcessing, models.AssessmentStatusCompleted).Inc()

	assessment, err := s.load(spanCtx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("assessment_id", id).Msg("reload completed assessment")
		return nil
	}

	_, err = s.notifications.Raise(spanCtx, NotificationRaise{
		UserID:    assessment.StudentID,
		Type:      models.NotificationTypeResult,
		Message:   "Your reading assessment results are ready.",
		RelatedID: id,
		Payload: map[string]interface{}{
			"assessmentId": id,
			"status":       models.AssessmentStatusCompleted,
			"message":      "Your reading assessment results are ready.",
		},
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("assessment_id", id).Msg("result notification failed")
	}

	s.logger.Info().Str("assessment_id", id).Msg("assessment completed")
	return nil
}

// FailProcessing moves the assessment to error and tells the student.
func (s *assessmentService) FailProcessing(ctx context.Context, id, reason string) error {
	moved, err := s.assessments.TransitionStatus(ctx, id,
		models.AssessmentStatusProcessing, models.AssessmentStatusError,
		map[string]interface{}{"diagnostic": boundDiagnostic(reason)})
	if err != nil {
		return err
	}
	if !moved {
		return ErrInvalidState
	}

	observability.AssessmentTransitions().WithLabelValues(models.AssessmentStatusProcessing, models.AssessmentStatusError).Inc()
	s.logger.Warn().Str("assessment_id", id).Str("reason", boundDiagnostic(reason)).Msg("assessment failed")

	assessment, err := s.load(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("assessment_id", id).Msg("reload failed assessment")
		return nil
	}

	_, err = s.notifications.Raise(ctx, NotificationRaise{
		UserID:    assessment.StudentID,
		Type:      models.NotificationTypeSystem,
		Message:   failureNotice,
		RelatedID: id,
		Payload: map[string]interface{}{
			"assessmentId": id,
			"status":       models.AssessmentStatusError,
			"message":      failureNotice,
		},
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("assessment_id", id).Msg("failure notification failed")
	}
	return nil
}

// RecordAttemptFailure stores the latest diagnostic without leaving processing.
func (s *assessmentService) RecordAttemptFailure(ctx context.Context, id, reason string) error {
	moved, err := s.assessments.TransitionStatus(ctx, id,
		models.AssessmentStatusProcessing, models.AssessmentStatusProcessing,
		map[string]interface{}{"diagnostic": boundDiagnostic(reason)})
	if err != nil {
		return err
	}
	if !moved {
		return ErrInvalidState
	}
	return nil
}

func boundDiagnostic(reason string) string {
	reason = strings.TrimSpace(reason)
	if len(reason) <= models.DiagnosticMaxLength {
		return reason
	}
	// Drop a rune split by the cut; postgres rejects invalid UTF-8 in text columns.
	return strings.ToValidUTF8(reason[:models.DiagnosticMaxLength], "")
}
