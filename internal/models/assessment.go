package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Assessment lifecycle states. Transitions only move forward:
// pending_audio -> processing -> completed | error.
const (
	AssessmentStatusPendingAudio = "pending_audio"
	AssessmentStatusProcessing   = "processing"
	AssessmentStatusCompleted    = "completed"
	AssessmentStatusError        = "error"
)

// DiagnosticMaxLength bounds the stored failure diagnostic.
const DiagnosticMaxLength = 500

// Assessment is one student attempt at a reading.
type Assessment struct {
	ID            string            `gorm:"primaryKey;size:36" json:"id"`
	StudentID     string            `gorm:"size:64;not null;index" json:"student_id"`
	ReadingID     string            `gorm:"size:36;not null;index" json:"reading_id"`
	AssignedByID  *string           `gorm:"size:64" json:"assigned_by_id,omitempty"`
	Status        string            `gorm:"size:32;not null;index;default:pending_audio" json:"status"`
	AudioBlobRef  string            `gorm:"size:512" json:"audio_blob_ref"`
	RawTranscript string            `gorm:"type:text" json:"raw_transcript"`
	Diagnostic    string            `gorm:"size:512" json:"-"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Result        *AssessmentResult `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"result,omitempty"`
	Answers       []StudentAnswer   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (a *Assessment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = AssessmentStatusPendingAudio
	}
	return nil
}

// AssessmentResult is the 1:1 analysis and scoring shadow of a processed assessment.
type AssessmentResult struct {
	ID                 string            `gorm:"primaryKey;size:36" json:"id"`
	AssessmentID       string            `gorm:"size:36;not null;uniqueIndex" json:"assessment_id"`
	Analysis           datatypes.JSONMap `json:"analysis"`
	ComprehensionScore *float64          `json:"comprehension_score"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (r *AssessmentResult) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// StudentAnswer is one append-only quiz answer row.
type StudentAnswer struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	AssessmentID     string    `gorm:"size:36;not null;index" json:"assessment_id"`
	QuestionID       string    `gorm:"size:36;not null" json:"question_id"`
	StudentID        string    `gorm:"size:64;not null;index" json:"student_id"`
	SelectedOptionID string    `gorm:"size:64;not null" json:"selected_option_id"`
	IsCorrect        bool      `gorm:"not null;default:false" json:"is_correct"`
	AnsweredAt       time.Time `json:"answered_at"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (a *StudentAnswer) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
