package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/readmaster-api/internal/models"
)

// AssessmentRepository persists assessments, their results and quiz answers.
type AssessmentRepository interface {
	Create(ctx context.Context, assessment *models.Assessment) error
	FindByID(ctx context.Context, id string) (models.Assessment, error)
	FindWithResult(ctx context.Context, id string) (models.Assessment, error)
	TransitionStatus(ctx context.Context, id, from, to string, fields map[string]interface{}) (bool, error)
	UpsertResult(ctx context.Context, result *models.AssessmentResult) error
	SetComprehensionScore(ctx context.Context, assessmentID string, score float64) error
	CreateAnswers(ctx context.Context, answers []models.StudentAnswer) error
	WithTx(tx *gorm.DB) AssessmentRepository
}

type assessmentRepository struct {
	db *gorm.DB
}

// NewAssessmentRepository constructs a GORM backed repository.
func NewAssessmentRepository(db *gorm.DB) AssessmentRepository {
	return &assessmentRepository{db: db}
}

func (r *assessmentRepository) WithTx(tx *gorm.DB) AssessmentRepository {
	return &assessmentRepository{db: tx}
}

func (r *assessmentRepository) Create(ctx context.Context, assessment *models.Assessment) error {
	return r.db.WithContext(ctx).Create(assessment).Error
}

func (r *assessmentRepository) FindByID(ctx context.Context, id string) (models.Assessment, error) {
	var assessment models.Assessment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&assessment).Error; err != nil {
		return models.Assessment{}, err
	}
	return assessment, nil
}

func (r *assessmentRepository) FindWithResult(ctx context.Context, id string) (models.Assessment, error) {
	var assessment models.Assessment
	if err := r.db.WithContext(ctx).Preload("Result").Where("id = ?", id).First(&assessment).Error; err != nil {
		return models.Assessment{}, err
	}
	return assessment, nil
}

// TransitionStatus moves the assessment from one status to another only when
// the stored status still equals from. It reports whether a row was updated.
func (r *assessmentRepository) TransitionStatus(ctx context.Context, id, from, to string, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for key, value := range fields {
		updates[key] = value
	}

	result := r.db.WithContext(ctx).
		Model(&models.Assessment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// UpsertResult writes the analysis keyed by assessment id. Re-running the
// analysis replaces the stored payload and keeps any comprehension score.
func (r *assessmentRepository) UpsertResult(ctx context.Context, result *models.AssessmentResult) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "assessment_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"analysis", "updated_at"}),
	}).Create(result).Error
}

func (r *assessmentRepository) SetComprehensionScore(ctx context.Context, assessmentID string, score float64) error {
	result := r.db.WithContext(ctx).
		Model(&models.AssessmentResult{}).
		Where("assessment_id = ?", assessmentID).
		Update("comprehension_score", score)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.db.WithContext(ctx).Create(&models.AssessmentResult{
			AssessmentID:       assessmentID,
			ComprehensionScore: &score,
		}).Error
	}
	return nil
}

func (r *assessmentRepository) CreateAnswers(ctx context.Context, answers []models.StudentAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(answers, 100).Error
}

// IsNotFound reports whether err is the GORM missing-record error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
