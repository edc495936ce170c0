package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/readmaster-api/internal/models"
	"github.com/noah-isme/readmaster-api/internal/queue"
	"github.com/noah-isme/readmaster-api/internal/repository"
	"github.com/noah-isme/readmaster-api/pkg/ai"
	"github.com/noah-isme/readmaster-api/pkg/storage"
)

type fakeStorage struct {
	fail error
}

func (f *fakeStorage) Name() string { return "fake" }

func (f *fakeStorage) PresignUpload(_ context.Context, key, contentType string, ttl time.Duration) (storage.UploadTarget, error) {
	if f.fail != nil {
		return storage.UploadTarget{}, f.fail
	}
	return storage.UploadTarget{
		URL:       "https://storage.test/" + key + "?sig=upload",
		Method:    "PUT",
		Headers:   map[string]string{"Content-Type": contentType},
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (f *fakeStorage) PresignDownload(_ context.Context, key string, _ time.Duration) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	return "https://storage.test/" + key + "?sig=download", nil
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	calls    []ai.AnalysisInput
	err      error
	panics   bool
	analysis ai.Analysis
}

func (f *fakeAnalyzer) Analyze(_ context.Context, input ai.AnalysisInput) (ai.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, input)
	if f.panics {
		panic("decoder crashed")
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.analysis != nil {
		return f.analysis, nil
	}
	return ai.Analysis{"transcription": "the cat sat on the mat", "words_per_minute": 95}, nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type notified struct {
	UserID  string
	Event   string
	Payload interface{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notified
}

func (r *recordingNotifier) Notify(_ context.Context, userID, eventType string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, notified{UserID: userID, Event: eventType, Payload: payload})
}

func (r *recordingNotifier) list() []notified {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notified, len(r.events))
	copy(out, r.events)
	return out
}

type testEnv struct {
	db          *gorm.DB
	jobs        *queue.Store
	storage     *fakeStorage
	analyzer    *fakeAnalyzer
	notifier    *recordingNotifier
	assessments repository.AssessmentRepository
	readings    repository.ReadingRepository
	service     AssessmentService
	notices     NotificationService
	worker      *AnalysisWorker
	reading     models.Reading
	questions   []models.QuizQuestion
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Reading{},
		&models.QuizQuestion{},
		&models.Assessment{},
		&models.AssessmentResult{},
		&models.StudentAnswer{},
		&models.Notification{},
	))

	jobs := queue.NewStore(db, 3)
	require.NoError(t, jobs.Migrate())

	env := &testEnv{
		db:          db,
		jobs:        jobs,
		storage:     &fakeStorage{},
		analyzer:    &fakeAnalyzer{},
		notifier:    &recordingNotifier{},
		assessments: repository.NewAssessmentRepository(db),
		readings:    repository.NewReadingRepository(db),
	}

	validate := validator.New()
	logger := zerolog.Nop()
	broker := NewUploadURLBroker(env.storage, time.Hour, 15*time.Minute, logger)
	env.notices = NewNotificationService(repository.NewNotificationRepository(db), env.notifier, validate, logger)
	env.service = NewAssessmentService(db, env.assessments, env.readings, jobs, broker, env.notices, validate, logger)
	env.worker = NewAnalysisWorker(env.assessments, env.readings, env.service, broker, env.analyzer, "en", logger)

	env.reading = models.Reading{ID: uuid.NewString(), Title: "The Cat", Language: "en"}
	require.NoError(t, db.Create(&env.reading).Error)
	for i, correct := range []string{"a", "b", "c"} {
		question := models.QuizQuestion{
			ID:              uuid.NewString(),
			ReadingID:       env.reading.ID,
			QuestionText:    fmt.Sprintf("question %d", i+1),
			CorrectOptionID: correct,
		}
		require.NoError(t, db.Create(&question).Error)
		env.questions = append(env.questions, question)
	}

	return env
}

var (
	student = Requester{UserID: "student-1", Role: RoleStudent}
	other   = Requester{UserID: "student-2", Role: RoleStudent}
	teacher = Requester{UserID: "teacher-1", Role: RoleTeacher}
	parent  = Requester{UserID: "parent-1", Role: RoleParent}
)

func (e *testEnv) newAssessment(t *testing.T) models.Assessment {
	t.Helper()
	assessment := models.Assessment{StudentID: student.UserID, ReadingID: e.reading.ID}
	require.NoError(t, e.assessments.Create(context.Background(), &assessment))
	return assessment
}

func blobFor(id string) string {
	return AudioObjectKey(id, "audio/wav")
}

func (e *testEnv) status(t *testing.T, id string) models.Assessment {
	t.Helper()
	assessment, err := e.assessments.FindByID(context.Background(), id)
	require.NoError(t, err)
	return assessment
}

func (e *testEnv) jobCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&queue.Job{}).Count(&count).Error)
	return count
}

var errBoom = errors.New("boom")
