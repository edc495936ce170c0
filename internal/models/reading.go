package models

import "time"

// Reading is the reading material an assessment refers to. Content management
// lives outside this service; only the fields the pipeline reads are mapped.
type Reading struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Language  string    `gorm:"size:16;default:en" json:"language"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QuizQuestion is one comprehension question with its answer key.
type QuizQuestion struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	ReadingID       string    `gorm:"size:36;not null;index" json:"reading_id"`
	QuestionText    string    `gorm:"type:text;not null" json:"question_text"`
	CorrectOptionID string    `gorm:"size:64;not null" json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}
