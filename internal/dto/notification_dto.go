package dto

import (
	"time"

	"github.com/noah-isme/readmaster-api/internal/models"
)

// NotificationListQuery filters a notification listing.
type NotificationListQuery struct {
	UnreadOnly bool `validate:"-"`
	Limit      int  `validate:"gte=0,lte=100"`
	Offset     int  `validate:"gte=0"`
}

// NotificationResponse represents a notification to API consumers.
type NotificationResponse struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Type            string    `json:"type"`
	Message         string    `json:"message"`
	RelatedEntityID *string   `json:"related_entity_id,omitempty"`
	Read            bool      `json:"read"`
	CreatedAt       time.Time `json:"created_at"`
}

// NotificationListResponse wraps a page of notifications.
type NotificationListResponse struct {
	Items []NotificationResponse `json:"items"`
	Total int64                  `json:"total"`
}

// MarkAllReadResponse reports how many notifications changed.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

// NewNotificationResponse converts a model into a response DTO.
func NewNotificationResponse(notification models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:              notification.ID,
		UserID:          notification.UserID,
		Type:            notification.Type,
		Message:         notification.Message,
		RelatedEntityID: notification.RelatedEntityID,
		Read:            notification.Read,
		CreatedAt:       notification.CreatedAt,
	}
}

// NewNotificationResponseSlice converts a slice of models into DTOs.
func NewNotificationResponseSlice(notifications []models.Notification) []NotificationResponse {
	responses := make([]NotificationResponse, 0, len(notifications))
	for _, notification := range notifications {
		responses = append(responses, NewNotificationResponse(notification))
	}
	return responses
}
