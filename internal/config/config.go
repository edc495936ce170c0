package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API and worker processes.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	LogLevel    string
	LogFile     string
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	EventPrefix string
	JWTSecret   string

	StorageProvider        string
	MinioEndpoint          string
	MinioAccessKey         string
	MinioSecretKey         string
	MinioBucket            string
	MinioUseSSL            bool
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	UploadURLTTL           time.Duration
	DownloadURLTTL         time.Duration

	AnalysisProvider string
	OpenAIAPIKey     string
	OpenAIModel      string
	DefaultLanguage  string

	WorkerEnabled      bool
	WorkerConcurrency  int
	WorkerPollInterval time.Duration
	JobLeaseTTL        time.Duration
	JobMaxAttempts     int
	JobRetryDelay      time.Duration

	WSWriteTimeout  time.Duration
	UploadRateLimit int
	CORSOrigins     string

	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("READMASTER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Readmaster API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("events.prefix", "readmaster")
	v.SetDefault("storage.provider", "minio")
	v.SetDefault("minio.bucket", "readmaster-audio")
	v.SetDefault("cloudinary.folder", "readmaster")
	v.SetDefault("storage.upload_ttl", "1h")
	v.SetDefault("storage.download_ttl", "15m")
	v.SetDefault("analysis.provider", "mock")
	v.SetDefault("analysis.language", "en")
	v.SetDefault("openai.model", "whisper-1")
	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_interval", "2s")
	v.SetDefault("jobs.lease_ttl", "10m")
	v.SetDefault("jobs.max_attempts", 3)
	v.SetDefault("jobs.retry_delay", "5m")
	v.SetDefault("ws.write_timeout", "10s")
	v.SetDefault("ratelimit.upload_per_minute", 10)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	durations := map[string]time.Duration{}
	for _, key := range []string{"storage.upload_ttl", "storage.download_ttl", "worker.poll_interval", "jobs.lease_ttl", "jobs.retry_delay", "ws.write_timeout", "database.conn_max_lifetime"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", key)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:     v.GetString("app.name"),
		AppEnv:      v.GetString("app.env"),
		AppPort:     v.GetString("app.port"),
		LogLevel:    strings.ToLower(v.GetString("log.level")),
		LogFile:     v.GetString("log.file"),
		DatabaseURL: v.GetString("database.url"),
		RedisURL:    v.GetString("redis.url"),
		NATSURL:     v.GetString("nats.url"),
		EventPrefix: v.GetString("events.prefix"),
		JWTSecret:   v.GetString("jwt.secret"),

		StorageProvider:        strings.ToLower(v.GetString("storage.provider")),
		MinioEndpoint:          v.GetString("minio.endpoint"),
		MinioAccessKey:         v.GetString("minio.access_key"),
		MinioSecretKey:         v.GetString("minio.secret_key"),
		MinioBucket:            v.GetString("minio.bucket"),
		MinioUseSSL:            v.GetBool("minio.use_ssl"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		UploadURLTTL:           durations["storage.upload_ttl"],
		DownloadURLTTL:         durations["storage.download_ttl"],

		AnalysisProvider: strings.ToLower(v.GetString("analysis.provider")),
		OpenAIAPIKey:     v.GetString("openai_api_key"),
		OpenAIModel:      v.GetString("openai.model"),
		DefaultLanguage:  v.GetString("analysis.language"),

		WorkerEnabled:      v.GetBool("worker.enabled"),
		WorkerConcurrency:  v.GetInt("worker.concurrency"),
		WorkerPollInterval: durations["worker.poll_interval"],
		JobLeaseTTL:        durations["jobs.lease_ttl"],
		JobMaxAttempts:     v.GetInt("jobs.max_attempts"),
		JobRetryDelay:      durations["jobs.retry_delay"],

		WSWriteTimeout:  durations["ws.write_timeout"],
		UploadRateLimit: v.GetInt("ratelimit.upload_per_minute"),
		CORSOrigins:     v.GetString("cors.allow_origins"),

		DBMaxOpenConns:    v.GetInt("database.max_open_conns"),
		DBMaxIdleConns:    v.GetInt("database.max_idle_conns"),
		DBConnMaxLifetime: durations["database.conn_max_lifetime"],
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.StorageProvider {
	case "minio", "cloudinary":
	default:
		return Config{}, fmt.Errorf("unsupported storage provider %q", cfg.StorageProvider)
	}

	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 4
	}

	if cfg.JobMaxAttempts <= 0 {
		cfg.JobMaxAttempts = 3
	}

	return cfg, nil
}
