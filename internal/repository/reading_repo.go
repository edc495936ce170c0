package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/readmaster-api/internal/models"
)

// ReadingRepository exposes read-only access to readings and their answer keys.
type ReadingRepository interface {
	FindByID(ctx context.Context, id string) (models.Reading, error)
	QuestionsByIDs(ctx context.Context, ids []string) ([]models.QuizQuestion, error)
}

type readingRepository struct {
	db *gorm.DB
}

// NewReadingRepository constructs a GORM backed repository.
func NewReadingRepository(db *gorm.DB) ReadingRepository {
	return &readingRepository{db: db}
}

func (r *readingRepository) FindByID(ctx context.Context, id string) (models.Reading, error) {
	var reading models.Reading
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&reading).Error; err != nil {
		return models.Reading{}, err
	}
	return reading, nil
}

func (r *readingRepository) QuestionsByIDs(ctx context.Context, ids []string) ([]models.QuizQuestion, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var questions []models.QuizQuestion
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}
