package dto

import (
	"time"

	"github.com/noah-isme/readmaster-api/internal/models"
	"github.com/noah-isme/readmaster-api/pkg/storage"
)

// AssessmentCreateRequest starts an assessment for a reading.
type AssessmentCreateRequest struct {
	ReadingID string `json:"reading_id" validate:"required,uuid"`
	StudentID string `json:"student_id" validate:"omitempty,max=64"`
}

// UploadURLRequest asks for a direct upload target.
type UploadURLRequest struct {
	ContentType string `json:"content_type" validate:"omitempty,max=64"`
}

// ConfirmUploadRequest reports the uploaded blob.
type ConfirmUploadRequest struct {
	BlobName string `json:"blob_name" validate:"required,max=512"`
}

// QuizAnswerRequest is a single answer in a quiz submission.
type QuizAnswerRequest struct {
	QuestionID       string `json:"question_id" validate:"required,max=36"`
	SelectedOptionID string `json:"selected_option_id" validate:"required,max=64"`
}

// QuizSubmissionRequest carries every answer for an assessment.
type QuizSubmissionRequest struct {
	Answers []QuizAnswerRequest `json:"answers" validate:"required,min=1,dive"`
}

// AssessmentResponse is the client view of an assessment. The stored
// diagnostic is never exposed.
type AssessmentResponse struct {
	ID           string    `json:"id"`
	StudentID    string    `json:"student_id"`
	ReadingID    string    `json:"reading_id"`
	AssignedByID *string   `json:"assigned_by_id,omitempty"`
	Status       string    `json:"status"`
	HasAudio     bool      `json:"has_audio"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewAssessmentResponse builds a response DTO from a model.
func NewAssessmentResponse(assessment models.Assessment) AssessmentResponse {
	return AssessmentResponse{
		ID:           assessment.ID,
		StudentID:    assessment.StudentID,
		ReadingID:    assessment.ReadingID,
		AssignedByID: assessment.AssignedByID,
		Status:       assessment.Status,
		HasAudio:     assessment.AudioBlobRef != "",
		CreatedAt:    assessment.CreatedAt,
		UpdatedAt:    assessment.UpdatedAt,
	}
}

// AssessmentResultResponse exposes the analysis once processing finished.
type AssessmentResultResponse struct {
	AssessmentID       string                 `json:"assessment_id"`
	Status             string                 `json:"status"`
	Transcript         string                 `json:"transcript,omitempty"`
	Analysis           map[string]interface{} `json:"analysis,omitempty"`
	ComprehensionScore *float64               `json:"comprehension_score"`
}

// NewAssessmentResultResponse builds a result DTO. Result may be nil while
// the assessment is still pending or processing.
func NewAssessmentResultResponse(assessment models.Assessment) AssessmentResultResponse {
	response := AssessmentResultResponse{
		AssessmentID: assessment.ID,
		Status:       assessment.Status,
	}
	if assessment.Status == models.AssessmentStatusCompleted {
		response.Transcript = assessment.RawTranscript
	}
	if assessment.Result != nil {
		response.Analysis = map[string]interface{}(assessment.Result.Analysis)
		response.ComprehensionScore = assessment.Result.ComprehensionScore
	}
	return response
}

// UploadURLResponse tells the client where and how to upload the recording.
type UploadURLResponse struct {
	AssessmentID string            `json:"assessment_id"`
	BlobName     string            `json:"blob_name"`
	UploadURL    string            `json:"upload_url"`
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
	ExpiresAt    time.Time         `json:"expires_at"`
}

// NewUploadURLResponse builds the upload target DTO.
func NewUploadURLResponse(assessmentID, blobName string, target storage.UploadTarget) UploadURLResponse {
	return UploadURLResponse{
		AssessmentID: assessmentID,
		BlobName:     blobName,
		UploadURL:    target.URL,
		Method:       target.Method,
		Headers:      target.Headers,
		Fields:       target.Fields,
		ExpiresAt:    target.ExpiresAt,
	}
}

// QuizSubmissionResponse reports the comprehension score.
type QuizSubmissionResponse struct {
	AssessmentID       string  `json:"assessment_id"`
	ComprehensionScore float64 `json:"comprehension_score"`
	TotalQuestions     int     `json:"total_questions"`
	CorrectAnswers     int     `json:"correct_answers"`
}
