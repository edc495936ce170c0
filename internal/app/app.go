package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/readmaster-api/internal/config"
	"github.com/noah-isme/readmaster-api/internal/database"
	"github.com/noah-isme/readmaster-api/internal/handler"
	"github.com/noah-isme/readmaster-api/internal/models"
	"github.com/noah-isme/readmaster-api/internal/observability"
	"github.com/noah-isme/readmaster-api/internal/queue"
	"github.com/noah-isme/readmaster-api/internal/realtime"
	"github.com/noah-isme/readmaster-api/internal/repository"
	"github.com/noah-isme/readmaster-api/internal/service"
	"github.com/noah-isme/readmaster-api/pkg/ai"
	"github.com/noah-isme/readmaster-api/pkg/storage"
)

// Container holds the long lived collaborators shared by the API and worker processes.
type Container struct {
	Config   config.Config
	Logger   zerolog.Logger
	DB       *gorm.DB
	Redis    *redis.Client
	NATS     *nats.Conn
	Validate *validator.Validate

	Jobs       *queue.Store
	Registry   *realtime.Registry
	Dispatcher *realtime.Dispatcher
	Cluster    *realtime.ClusterObserver

	Assessments   service.AssessmentService
	Notifications service.NotificationService
	Worker        *service.AnalysisWorker
}

// Build connects infrastructure, migrates the schema and assembles services.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Container, error) {
	db, err := database.ConnectPostgres(cfg.DatabaseURL, PoolOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	redisClient, err := database.ConnectRedis(ctx, cfg.RedisURL, cfg.AppName)
	if err != nil {
		closeDB(db)
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		closeTransports(redisClient, nil)
		closeDB(db)
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	c, err := Assemble(db, redisClient, natsConn, cfg, logger)
	if err != nil {
		closeTransports(redisClient, natsConn)
		closeDB(db)
		return nil, err
	}
	return c, nil
}

// Assemble wires services on top of already opened connections. Redis and
// NATS may be nil, in which case notifications stay on this node.
func Assemble(db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn, cfg config.Config, logger zerolog.Logger) (*Container, error) {
	if err := Migrate(db); err != nil {
		return nil, err
	}

	provider, err := NewStorageProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	analyzer, err := NewAnalyzer(cfg, logger)
	if err != nil {
		return nil, err
	}

	observability.RegisterMetrics()

	validate := validator.New(validator.WithRequiredStructEnabled())
	jobs := queue.NewStore(db, cfg.JobMaxAttempts)

	registry := realtime.NewRegistry(logger)
	dispatcher := realtime.NewDispatcher(logger, realtime.NewRegistryObserver(registry))
	cluster := realtime.NewClusterObserver(registry, redisClient, natsConn, cfg.EventPrefix, logger)
	if cluster.Enabled() {
		dispatcher.Subscribe(cluster)
	}

	assessmentRepo := repository.NewAssessmentRepository(db)
	readingRepo := repository.NewReadingRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	broker := service.NewUploadURLBroker(provider, cfg.UploadURLTTL, cfg.DownloadURLTTL, logger)
	notifications := service.NewNotificationService(notificationRepo, dispatcher, validate, logger)
	assessments := service.NewAssessmentService(db, assessmentRepo, readingRepo, jobs, broker, notifications, validate, logger)
	worker := service.NewAnalysisWorker(assessmentRepo, readingRepo, assessments, broker, analyzer, cfg.DefaultLanguage, logger)

	return &Container{
		Config:        cfg,
		Logger:        logger,
		DB:            db,
		Redis:         redisClient,
		NATS:          natsConn,
		Validate:      validate,
		Jobs:          jobs,
		Registry:      registry,
		Dispatcher:    dispatcher,
		Cluster:       cluster,
		Assessments:   assessments,
		Notifications: notifications,
		Worker:        worker,
	}, nil
}

// PoolOptions maps the database.* settings onto connection pool limits.
func PoolOptions(cfg config.Config) database.PoolOptions {
	return database.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Reading{},
		&models.QuizQuestion{},
		&models.Assessment{},
		&models.AssessmentResult{},
		&models.StudentAnswer{},
		&models.Notification{},
	); err != nil {
		return fmt.Errorf("migrate models: %w", err)
	}
	if err := queue.NewStore(db, 0).Migrate(); err != nil {
		return fmt.Errorf("migrate queue: %w", err)
	}
	return nil
}

// NewStorageProvider returns the object storage backend selected by storage.provider.
func NewStorageProvider(cfg config.Config, logger zerolog.Logger) (storage.Provider, error) {
	switch cfg.StorageProvider {
	case "cloudinary":
		return storage.NewCloudinary(storage.CloudinaryConfig{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
	case "minio", "":
		return storage.NewMinio(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported storage provider %q", cfg.StorageProvider)
	}
}

// NewAnalyzer returns the speech analysis backend selected by analysis.provider.
func NewAnalyzer(cfg config.Config, logger zerolog.Logger) (ai.Analyzer, error) {
	switch cfg.AnalysisProvider {
	case "openai":
		return ai.NewOpenAIAnalyzer(ai.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
			Logger: logger,
		})
	case "mock", "":
		logger.Warn().Msg("using mock speech analyzer")
		return ai.NewMockAnalyzer(), nil
	default:
		return nil, fmt.Errorf("unsupported analysis provider %q", cfg.AnalysisProvider)
	}
}

// NewWorkerPool builds the queue pool that drains analysis jobs.
func (c *Container) NewWorkerPool(concurrency int) *queue.Pool {
	if concurrency <= 0 {
		concurrency = c.Config.WorkerConcurrency
	}
	pool := queue.NewPool(c.Jobs, queue.PoolConfig{
		Concurrency:  concurrency,
		PollInterval: c.Config.WorkerPollInterval,
		LeaseTTL:     c.Config.JobLeaseTTL,
		RetryDelay:   c.Config.JobRetryDelay,
		OnOutcome: func(name, outcome string, _ time.Duration) {
			observability.AnalysisJobs().WithLabelValues(name, outcome).Inc()
		},
	}, c.Logger)
	pool.Register(service.AnalysisJobName, c.Worker)
	return pool
}

// HealthProbes returns a probe per configured backing service.
func (c *Container) HealthProbes() []handler.HealthProbe {
	probes := []handler.HealthProbe{{
		Name:  "database",
		Check: func(ctx context.Context) error { return database.PingDB(ctx, c.DB) },
	}}
	if c.Redis != nil {
		probes = append(probes, handler.HealthProbe{
			Name:  "redis",
			Check: func(ctx context.Context) error { return c.Redis.Ping(ctx).Err() },
		})
	}
	if c.NATS != nil {
		probes = append(probes, handler.HealthProbe{
			Name: "nats",
			Check: func(context.Context) error {
				if !c.NATS.IsConnected() {
					return fmt.Errorf("nats status %s", c.NATS.Status())
				}
				return nil
			},
		})
	}
	return probes
}

// Close releases network connections held by the container.
func (c *Container) Close() error {
	var errs []error
	if c.NATS != nil {
		if err := c.NATS.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}

func closeTransports(redisClient *redis.Client, natsConn *nats.Conn) {
	if natsConn != nil {
		natsConn.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
