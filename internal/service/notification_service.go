package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/readmaster-api/internal/dto"
	"github.com/noah-isme/readmaster-api/internal/models"
	"github.com/noah-isme/readmaster-api/internal/observability"
	"github.com/noah-isme/readmaster-api/internal/repository"
)

// Notifier fans a notification out to realtime observers.
type Notifier interface {
	Notify(ctx context.Context, userID, eventType string, payload interface{})
}

// NotificationRaise describes one notification to persist and push.
type NotificationRaise struct {
	UserID    string
	Type      string
	Message   string
	RelatedID string
	// Payload is pushed to live channels; the stored notification is pushed when nil.
	Payload interface{}
}

// NotificationService persists notifications and pushes them to connected users.
type NotificationService interface {
	Raise(ctx context.Context, payload NotificationRaise) (dto.NotificationResponse, error)
	List(ctx context.Context, userID string, query dto.NotificationListQuery) (dto.NotificationListResponse, error)
	MarkRead(ctx context.Context, id, userID string) (dto.NotificationResponse, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

type notificationService struct {
	repo      repository.NotificationRepository
	notifier  Notifier
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	sanitizer *bluemonday.Policy
}

// NewNotificationService constructs a notification service.
func NewNotificationService(repo repository.NotificationRepository, notifier Notifier, validate *validator.Validate, logger zerolog.Logger) NotificationService {
	return &notificationService{
		repo:      repo,
		notifier:  notifier,
		validator: validate,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/readmaster-api/internal/service/notification"),
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Raise stores the notification and then dispatches it. A failed write is
// returned to the caller but the realtime push still happens.
func (s *notificationService) Raise(ctx context.Context, payload NotificationRaise) (dto.NotificationResponse, error) {
	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		return dto.NotificationResponse{}, ErrInvalidInput
	}

	switch payload.Type {
	case models.NotificationTypeAssignment, models.NotificationTypeResult, models.NotificationTypeFeedback, models.NotificationTypeSystem:
	default:
		return dto.NotificationResponse{}, ErrInvalidInput
	}

	cleanMessage := strings.TrimSpace(s.sanitizer.Sanitize(payload.Message))
	if cleanMessage == "" {
		return dto.NotificationResponse{}, errors.New("notification message empty after sanitization")
	}

	spanCtx, span := s.tracer.Start(ctx, "notifications.raise", trace.WithAttributes(
		attribute.String("notification.user_id", userID),
		attribute.String("notification.type", payload.Type),
	))
	defer span.End()

	model := models.Notification{
		UserID:  userID,
		Type:    payload.Type,
		Message: cleanMessage,
	}
	if related := strings.TrimSpace(payload.RelatedID); related != "" {
		model.RelatedEntityID = &related
	}

	persistErr := s.repo.Create(spanCtx, &model)
	if persistErr != nil {
		span.RecordError(persistErr)
		s.logger.Error().Err(persistErr).Str("user_id", userID).Str("type", payload.Type).Msg("persist notification")
	}

	response := dto.NewNotificationResponse(model)
	push := payload.Payload
	if push == nil {
		push = response
	}
	if s.notifier != nil {
		s.notifier.Notify(spanCtx, userID, payload.Type, push)
	}

	observability.NotificationsPublished().WithLabelValues(payload.Type).Inc()

	if persistErr != nil {
		return response, &TransientError{Op: "persist notification", Err: persistErr}
	}
	return response, nil
}

func (s *notificationService) List(ctx context.Context, userID string, query dto.NotificationListQuery) (dto.NotificationListResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return dto.NotificationListResponse{}, ErrInvalidInput
	}
	if err := s.validator.Struct(query); err != nil {
		return dto.NotificationListResponse{}, err
	}

	notifications, total, err := s.repo.ListByUser(ctx, userID, repository.NotificationFilter{
		UnreadOnly: query.UnreadOnly,
		Limit:      query.Limit,
		Offset:     query.Offset,
	})
	if err != nil {
		return dto.NotificationListResponse{}, err
	}

	return dto.NotificationListResponse{
		Items: dto.NewNotificationResponseSlice(notifications),
		Total: total,
	}, nil
}

func (s *notificationService) MarkRead(ctx context.Context, id, userID string) (dto.NotificationResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(
		attribute.String("notification.user_id", userID),
	))
	defer span.End()

	notification, err := s.repo.MarkRead(spanCtx, id, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return dto.NotificationResponse{}, ErrNotFound
		}
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}

	return dto.NewNotificationResponse(notification), nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrInvalidInput
	}
	return s.repo.MarkAllRead(ctx, userID)
}
