package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/readmaster-api/internal/dto"
	"github.com/noah-isme/readmaster-api/internal/models"
)

// QuizAnswer is one graded-to-be answer.
type QuizAnswer struct {
	QuestionID       string
	SelectedOptionID string
}

// QuizScore summarises a graded quiz.
type QuizScore struct {
	Score   float64
	Total   int
	Correct int
	// Correctness holds the per-answer result in input order.
	Correctness []bool
}

// ScoreQuiz grades answers against key, which maps question id to the correct
// option id. The score is the percentage of correct answers rounded to two
// decimals; no answers scores zero. Every answered question must be in key.
func ScoreQuiz(answers []QuizAnswer, key map[string]string) (QuizScore, error) {
	result := QuizScore{Total: len(answers), Correctness: make([]bool, len(answers))}
	if len(answers) == 0 {
		return result, nil
	}

	for i, answer := range answers {
		correctOption, ok := key[answer.QuestionID]
		if !ok {
			return QuizScore{}, fmt.Errorf("question %s is not part of this reading: %w", answer.QuestionID, ErrInvalidInput)
		}
		if answer.SelectedOptionID == correctOption {
			result.Correctness[i] = true
			result.Correct++
		}
	}

	result.Score = math.Round(float64(result.Correct)/float64(result.Total)*100*100) / 100
	return result, nil
}

// SubmitQuiz grades the answers of a completed assessment, stores them and
// overwrites the comprehension score.
func (s *assessmentService) SubmitQuiz(ctx context.Context, id string, requester Requester, payload dto.QuizSubmissionRequest) (dto.QuizSubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.QuizSubmissionResponse{}, err
	}

	assessment, err := s.load(ctx, id)
	if err != nil {
		return dto.QuizSubmissionResponse{}, err
	}
	if !requester.owns(assessment) {
		return dto.QuizSubmissionResponse{}, ErrForbidden
	}
	if assessment.Status != models.AssessmentStatusCompleted {
		return dto.QuizSubmissionResponse{}, ErrInvalidState
	}

	answers := make([]QuizAnswer, 0, len(payload.Answers))
	questionIDs := make([]string, 0, len(payload.Answers))
	seen := make(map[string]struct{}, len(payload.Answers))
	for _, a := range payload.Answers {
		answer := QuizAnswer{
			QuestionID:       strings.TrimSpace(a.QuestionID),
			SelectedOptionID: strings.TrimSpace(a.SelectedOptionID),
		}
		answers = append(answers, answer)
		if _, ok := seen[answer.QuestionID]; !ok {
			seen[answer.QuestionID] = struct{}{}
			questionIDs = append(questionIDs, answer.QuestionID)
		}
	}

	questions, err := s.readings.QuestionsByIDs(ctx, questionIDs)
	if err != nil {
		return dto.QuizSubmissionResponse{}, err
	}
	key := make(map[string]string, len(questions))
	for _, q := range questions {
		if q.ReadingID == assessment.ReadingID {
			key[q.ID] = q.CorrectOptionID
		}
	}

	score, err := ScoreQuiz(answers, key)
	if err != nil {
		return dto.QuizSubmissionResponse{}, err
	}

	answeredAt := time.Now().UTC()
	rows := make([]models.StudentAnswer, 0, len(answers))
	for i, answer := range answers {
		rows = append(rows, models.StudentAnswer{
			AssessmentID:     assessment.ID,
			QuestionID:       answer.QuestionID,
			StudentID:        assessment.StudentID,
			SelectedOptionID: answer.SelectedOptionID,
			IsCorrect:        score.Correctness[i],
			AnsweredAt:       answeredAt,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.assessments.WithTx(tx)
		if err := repo.CreateAnswers(ctx, rows); err != nil {
			return err
		}
		return repo.SetComprehensionScore(ctx, assessment.ID, score.Score)
	})
	if err != nil {
		return dto.QuizSubmissionResponse{}, err
	}

	s.logger.Info().
		Str("assessment_id", assessment.ID).
		Float64("score", score.Score).
		Int("correct", score.Correct).
		Int("total", score.Total).
		Msg("quiz graded")

	return dto.QuizSubmissionResponse{
		AssessmentID:       assessment.ID,
		ComprehensionScore: score.Score,
		TotalQuestions:     score.Total,
		CorrectAnswers:     score.Correct,
	}, nil
}
