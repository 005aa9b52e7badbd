package config

import (
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"kbase"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"kbase"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`

	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`

	ServerPort    int    `envconfig:"SERVER_PORT" default:"8081"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	UploadDir     string `envconfig:"UPLOAD_DIR" default:"./uploads"`

	// Ingestion
	MaxPDFSizeMB      int64 `envconfig:"MAX_PDF_SIZE_MB" default:"20"`
	ChunkMinChars     int   `envconfig:"CHUNK_MIN_CHARS" default:"200"`
	ChunkMaxChars     int   `envconfig:"CHUNK_MAX_CHARS" default:"1200"`
	ChunkOverlapChars int   `envconfig:"CHUNK_OVERLAP_CHARS" default:"150"`
	EmbedBatchSize    int   `envconfig:"EMBED_BATCH_SIZE" default:"32"`
	EmbedMaxRetries   int   `envconfig:"EMBED_MAX_RETRIES" default:"5"`
	JobMaxAttempts    int   `envconfig:"JOB_MAX_ATTEMPTS" default:"3"`
	MaxPagesPerJob    int   `envconfig:"MAX_PAGES_PER_JOB" default:"50"`

	// Fetcher
	FetchTimeoutSeconds int    `envconfig:"FETCH_TIMEOUT_SECONDS" default:"45"`
	FetchMaxParallel    int    `envconfig:"FETCH_MAX_PARALLEL" default:"2"`
	FetchUserAgent      string `envconfig:"FETCH_USER_AGENT" default:"kbase-ingest/1.0"`

	// Worker
	EnableWorker         bool `envconfig:"ENABLE_WORKER" default:"true"`
	WorkerPollSeconds    int  `envconfig:"WORKER_POLL_SECONDS" default:"30"`
	JobStaleAfterSeconds int  `envconfig:"JOB_STALE_AFTER_SECONDS" default:"600"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may be set in the shell instead; a missing .env is not an error.
	_ = godotenv.Load(".env")

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
	if c.ChunkMaxChars <= c.ChunkMinChars {
		return fmt.Errorf("CHUNK_MAX_CHARS must exceed CHUNK_MIN_CHARS")
	}
	if c.ChunkOverlapChars >= c.ChunkMaxChars {
		return fmt.Errorf("CHUNK_OVERLAP_CHARS must be below CHUNK_MAX_CHARS")
	}
	if c.EmbedBatchSize <= 0 {
		return fmt.Errorf("EMBED_BATCH_SIZE must be positive")
	}
	return nil
}

// MaxPDFBytes is the submit-time upload ceiling in bytes.
func (c *Config) MaxPDFBytes() int64 {
	return c.MaxPDFSizeMB << 20
}
