package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"qsearch"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"qsearch"`

	QdrantHost       string `envconfig:"QDRANT_HOST" default:"qdrant"`
	QdrantPort       int    `envconfig:"QDRANT_PORT" default:"6334"`
	QdrantCollection string `envconfig:"QDRANT_COLLECTION" default:"documents"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	GeminiAPIKey       string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel     string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	EmbeddingDimension int    `envconfig:"EMBEDDING_DIMENSION" default:"768"`

	EnableAPI    bool `envconfig:"ENABLE_API" default:"true"`
	EnableWorker bool `envconfig:"ENABLE_WORKER" default:"true"`

	// Retry budgets per pipeline stage. Kept in config, not buried in
	// worker code, so the effective policy is inspectable per deployment.
	AcquireMaxAttempts int           `envconfig:"ACQUIRE_MAX_ATTEMPTS" default:"3"`
	EmbedMaxAttempts   int           `envconfig:"EMBED_MAX_ATTEMPTS" default:"2"`
	StoreMaxAttempts   int           `envconfig:"STORE_MAX_ATTEMPTS" default:"3"`
	DeleteMaxAttempts  int           `envconfig:"DELETE_MAX_ATTEMPTS" default:"2"`
	RetryBackoffBase   time.Duration `envconfig:"RETRY_BACKOFF_BASE" default:"1s"`
	RetryBackoffMax    time.Duration `envconfig:"RETRY_BACKOFF_MAX" default:"30s"`

	FetchTimeout  time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	EmbedTimeout  time.Duration `envconfig:"EMBED_TIMEOUT" default:"60s"`
	UpsertTimeout time.Duration `envconfig:"UPSERT_TIMEOUT" default:"30s"`

	ServerPort           int    `envconfig:"SERVER_PORT" default:"8080"`
	MaxUploadSizeMB      int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`
	UploadDir            string `envconfig:"UPLOAD_DIR" default:"./uploads"`
	QueryLogPath         string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	IngestionConcurrency int    `envconfig:"INGESTION_CONCURRENCY" default:"4"`

	JobRetentionHours int `envconfig:"JOB_RETENTION_HOURS" default:"168"`

	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may already be set in the shell; .env files are optional.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.QdrantCollection == "" {
		return fmt.Errorf("%w: QDRANT_COLLECTION", ErrMissingRequired)
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("%w: EMBEDDING_DIMENSION must be positive", ErrMissingRequired)
	}
	if c.EnableWorker && c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY (worker enabled)", ErrMissingRequired)
	}
	return nil
}
