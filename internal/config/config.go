package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server   ServerConfig
	Pipeline PipelineConfig
	Fetcher  FetcherConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Archive  ArchiveConfig
	Events   EventsConfig
}

type ServerConfig struct {
	Port            int           `envconfig:"API_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"10s"`
}

type PipelineConfig struct {
	MaxParallel   int           `envconfig:"PIPELINE_MAX_PARALLEL" default:"3"`
	MaxQueued     int           `envconfig:"PIPELINE_MAX_QUEUED" default:"50"`
	WorkDir       string        `envconfig:"PIPELINE_WORK_DIR" default:"/tmp/fetchbay"`
	SweepInterval time.Duration `envconfig:"PIPELINE_SWEEP_INTERVAL" default:"1h"`
	// WorkDirMaxAge is how old an orphaned per-job work directory must be
	// before the janitor removes it.
	WorkDirMaxAge time.Duration `envconfig:"PIPELINE_WORKDIR_MAX_AGE" default:"24h"`
}

type FetcherConfig struct {
	BinaryPath  string `envconfig:"FETCHER_BINARY" default:"yt-dlp"`
	CookieFile  string `envconfig:"FETCHER_COOKIE_FILE" default:""`
	FFmpegPath  string `envconfig:"FETCHER_FFMPEG" default:"ffmpeg"`
	FFprobePath string `envconfig:"FETCHER_FFPROBE" default:"ffprobe"`
}

type DatabaseConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"fetchbay"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"fetchbay"`
	DBName   string `envconfig:"POSTGRES_DB" default:"fetchbay"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
	// Enabled selects the Redis session cache; when false, the service
	// falls back to the in-memory implementation.
	Enabled bool `envconfig:"REDIS_ENABLED" default:"true"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type ArchiveConfig struct {
	Endpoint string `envconfig:"ARCHIVE_ENDPOINT" default:"localhost:9000"`
	// PublicEndpoint is the external-facing endpoint presigned URLs are
	// signed against. Empty means the internal endpoint is public.
	PublicEndpoint string        `envconfig:"ARCHIVE_PUBLIC_ENDPOINT" default:""`
	AccessKey string        `envconfig:"ARCHIVE_ACCESS_KEY" default:"minioadmin"`
	SecretKey string        `envconfig:"ARCHIVE_SECRET_KEY" default:"minioadmin"`
	Bucket    string        `envconfig:"ARCHIVE_BUCKET" default:"artifacts"`
	UseSSL    bool          `envconfig:"ARCHIVE_USE_SSL" default:"false"`
	URLExpiry time.Duration `envconfig:"ARCHIVE_URL_EXPIRY" default:"24h"`
}

type EventsConfig struct {
	Host     string `envconfig:"RABBITMQ_HOST" default:"localhost"`
	Port     int    `envconfig:"RABBITMQ_PORT" default:"5672"`
	User     string `envconfig:"RABBITMQ_USER" default:"fetchbay"`
	Password string `envconfig:"RABBITMQ_PASSWORD" default:"fetchbay"`
	VHost    string `envconfig:"RABBITMQ_VHOST" default:"/"`
}

func (c EventsConfig) URL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%d%s",
		c.User, c.Password, c.Host, c.Port, c.VHost,
	)
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
