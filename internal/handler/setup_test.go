package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/readmaster-api/internal/config"
	"github.com/noah-isme/readmaster-api/internal/handler"
	"github.com/noah-isme/readmaster-api/internal/middleware"
	"github.com/noah-isme/readmaster-api/internal/models"
	"github.com/noah-isme/readmaster-api/internal/queue"
	"github.com/noah-isme/readmaster-api/internal/realtime"
	"github.com/noah-isme/readmaster-api/internal/repository"
	"github.com/noah-isme/readmaster-api/internal/router"
	"github.com/noah-isme/readmaster-api/internal/service"
	"github.com/noah-isme/readmaster-api/pkg/storage"
)

const testJWTSecret = "handler-secret"

type stubStorage struct{}

func (stubStorage) Name() string { return "stub" }

func (stubStorage) PresignUpload(_ context.Context, key, contentType string, ttl time.Duration) (storage.UploadTarget, error) {
	return storage.UploadTarget{
		URL:       "https://storage.test/" + key,
		Method:    http.MethodPut,
		Headers:   map[string]string{"Content-Type": contentType},
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (stubStorage) PresignDownload(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.test/" + key, nil
}

type testApp struct {
	app           *fiber.App
	db            *gorm.DB
	jobs          *queue.Store
	registry      *realtime.Registry
	assessments   service.AssessmentService
	notifications service.NotificationService
	reading       models.Reading
	questions     []models.QuizQuestion
}

func setupApp(t *testing.T) *testApp {
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

	validate := validator.New()
	logger := zerolog.New(io.Discard)

	registry := realtime.NewRegistry(logger)
	dispatcher := realtime.NewDispatcher(logger, realtime.NewRegistryObserver(registry))

	assessmentRepo := repository.NewAssessmentRepository(db)
	readingRepo := repository.NewReadingRepository(db)
	broker := service.NewUploadURLBroker(stubStorage{}, time.Hour, 15*time.Minute, logger)
	notificationService := service.NewNotificationService(repository.NewNotificationRepository(db), dispatcher, validate, logger)
	assessmentService := service.NewAssessmentService(db, assessmentRepo, readingRepo, jobs, broker, notificationService, validate, logger)

	app := fiber.New()
	app.Use(middleware.CorrelationID())
	cfg := config.Config{AppName: "Test", AppEnv: "test", JWTSecret: testJWTSecret}
	router.Register(app, cfg, router.Dependencies{
		AssessmentHandler:   handler.NewAssessmentHandler(assessmentService, logger),
		NotificationHandler: handler.NewNotificationHandler(notificationService, logger),
		RealtimeHandler:     handler.NewRealtimeHandler(registry, handler.RealtimeConfig{JWTSecret: testJWTSecret, WriteTimeout: time.Second}, logger),
		JWTMiddleware:       middleware.JWTProtected(testJWTSecret),
	})

	env := &testApp{
		app:           app,
		db:            db,
		jobs:          jobs,
		registry:      registry,
		assessments:   assessmentService,
		notifications: notificationService,
		reading:       models.Reading{ID: uuid.NewString(), Title: "Frogs", Language: "en"},
	}
	require.NoError(t, db.Create(&env.reading).Error)
	for i, correct := range []string{"a", "b"} {
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

func tokenFor(t *testing.T, userID, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"type": "access",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func (a *testApp) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func startFiberServer(t *testing.T, app *fiber.App) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	t.Cleanup(func() {
		_ = app.Shutdown()
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	})

	return listener.Addr().String()
}

func serviceStudent(id string) service.Requester {
	return service.Requester{UserID: id, Role: service.RoleStudent}
}
