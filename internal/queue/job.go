package queue

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job statuses.
const (
	StatusPending = "pending"
	StatusLeased  = "leased"
	StatusDone    = "done"
	StatusDead    = "dead"
)

// LastErrorMaxLength bounds the error text stored on a job row.
const LastErrorMaxLength = 500

// Job is one durable unit of background work.
type Job struct {
	ID             string            `gorm:"primaryKey;size:36"`
	Name           string            `gorm:"size:128;not null;index"`
	DedupeKey      *string           `gorm:"size:191;uniqueIndex"`
	Payload        datatypes.JSONMap `gorm:"not null"`
	Status         string            `gorm:"size:16;not null;index:idx_jobs_due,priority:1"`
	Attempts       int               `gorm:"not null;default:0"`
	MaxAttempts    int               `gorm:"not null"`
	NextAttemptAt  time.Time         `gorm:"not null;index:idx_jobs_due,priority:2"`
	LeaseOwner     string            `gorm:"size:128"`
	LeaseExpiresAt *time.Time
	LastError      string `gorm:"size:512"`
	ProcessedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName pins the table so the queue can share a database with the API.
func (Job) TableName() string { return "queue_jobs" }

// BeforeCreate assigns a UUID when the caller did not provide one.
func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	return nil
}

// Delivery is what a handler receives for one leased attempt.
type Delivery struct {
	JobID       string
	Name        string
	Payload     map[string]interface{}
	Attempt     int
	MaxAttempts int
}

// Final reports whether a failure of this attempt exhausts the job.
func (d Delivery) Final() bool {
	return d.Attempt >= d.MaxAttempts
}

// String returns the payload value for key or an empty string.
func (d Delivery) String(key string) string {
	value, _ := d.Payload[key].(string)
	return value
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The job is moved to dead.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var target *permanentError
	return errors.As(err, &target)
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > LastErrorMaxLength {
		return strings.ToValidUTF8(msg[:LastErrorMaxLength], "")
	}
	return msg
}
