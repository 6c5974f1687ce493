package common

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/invoice-ingest/constants"
)

// Config holds all application configuration
type Config struct {
	Database        DatabaseConfig
	Server          ServerConfig
	Queue           QueueConfig
	Extraction      ExtractionConfig
	Blob            BlobConfig
	Events          EventsConfig
	Invoices        InvoicesConfig
	DefaultCurrency string
	LogLevel        slog.Level
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // postgres | sqlite
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr   string
	EventsPort int
}

// QueueConfig holds processing queue configuration
type QueueConfig struct {
	Concurrency int
	JobTimeout  time.Duration // 0 disables the per-job deadline
}

// ExtractionConfig selects and configures the extraction vendor
type ExtractionConfig struct {
	Vendor string // azure | openai
	Azure  AzureConfig
	OpenAI OpenAIConfig
}

// AzureConfig holds document-intelligence configuration
type AzureConfig struct {
	Endpoint          string
	APIKey            string
	ModelID           string
	APIVersion        string
	PollInterval      time.Duration
	MaxRetries        int
	BaseBackoff       time.Duration
	RequestsPerSecond float64
	Timeout           time.Duration
}

// OpenAIConfig holds LLM-related configuration
type OpenAIConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
}

// BlobConfig holds blob storage configuration
type BlobConfig struct {
	Backend   string // gcs | local
	Bucket    string
	LocalDir  string
	SignedTTL time.Duration
}

// EventsConfig holds outbound event configuration
type EventsConfig struct {
	SinkURL string
	Source  string
}

// InvoicesConfig holds the invoice service (duplicate check) configuration
type InvoicesConfig struct {
	Addr     string
	Timeout  time.Duration
	FailOpen bool
}

// LoadConfig loads configuration from environment variables. A .env file in the working
// directory, when present, is loaded first without overriding variables already set.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}
	return &Config{
		Database: DatabaseConfig{
			Driver:           strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			GRPCAddr:   getEnv("GRPC_ADDR", ":8080"),
			EventsPort: getEnvAsInt("EVENTS_PORT", 8081),
		},
		Queue: QueueConfig{
			Concurrency: getEnvAsInt("QUEUE_CONCURRENCY", 2),
			JobTimeout:  getEnvAsDuration("QUEUE_JOB_TIMEOUT", 0),
		},
		Extraction: ExtractionConfig{
			Vendor: strings.ToLower(getEnv("EXTRACTION_VENDOR", "azure")),
			Azure: AzureConfig{
				Endpoint:          getEnv("AZURE_DI_ENDPOINT", ""),
				APIKey:            getEnv("AZURE_DI_KEY", ""),
				ModelID:           getEnv("AZURE_DI_MODEL", "prebuilt-invoice"),
				APIVersion:        getEnv("AZURE_DI_API_VERSION", "2024-11-30"),
				PollInterval:      getEnvAsDuration("AZURE_DI_POLL_INTERVAL", 2*time.Second),
				MaxRetries:        getEnvAsInt("AZURE_DI_MAX_RETRIES", 5),
				BaseBackoff:       getEnvAsDuration("AZURE_DI_BASE_BACKOFF", time.Second),
				RequestsPerSecond: getEnvAsFloat("AZURE_DI_RPS", 0),
				Timeout:           getEnvAsDuration("AZURE_DI_HTTP_TIMEOUT", 30*time.Second),
			},
			OpenAI: OpenAIConfig{
				Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
				APIKey:      getEnv("OPENAI_API_KEY", ""),
				BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Temperature: float32(getEnvAsFloat("OPENAI_TEMPERATURE", 0.0)),
				Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
				MaxRetries:  getEnvAsInt("OPENAI_MAX_RETRIES", 5),
				BaseBackoff: getEnvAsDuration("OPENAI_BASE_BACKOFF", time.Second),
			},
		},
		Blob: BlobConfig{
			Backend:   strings.ToLower(getEnv("BLOB_BACKEND", "gcs")),
			Bucket:    getEnv("BLOB_BUCKET", ""),
			LocalDir:  getEnv("BLOB_LOCAL_DIR", "./tmp/blobs"),
			SignedTTL: getEnvAsDuration("BLOB_SIGNED_URL_TTL", 15*time.Minute),
		},
		Events: EventsConfig{
			SinkURL: getEnv("EVENTS_SINK_URL", ""),
			Source:  getEnv("EVENTS_SOURCE", "/invoice-ingest/documents"),
		},
		Invoices: InvoicesConfig{
			Addr:     getEnv("INVOICES_GRPC_ADDR", ""),
			Timeout:  getEnvAsDuration("INVOICES_TIMEOUT", 5*time.Second),
			FailOpen: getEnvAsBool("INVOICES_FAIL_OPEN", true),
		},
		DefaultCurrency: strings.ToUpper(getEnv("DEFAULT_CURRENCY", constants.DefaultCurrency)),
		LogLevel:        getEnvAsLevel("LOG_LEVEL", slog.LevelInfo),
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsLevel(key string, defaultValue slog.Level) slog.Level {
	if value := os.Getenv(key); value != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(value)); err == nil {
			return lvl
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	v := NewValidator()
	v.Field("DB_URL", c.Database.DSN, Required)
	v.Field("DB_DRIVER", c.Database.Driver, OneOf("postgres", "sqlite"))
	v.Field("GRPC_ADDR", c.Server.GRPCAddr, Required)
	v.Field("DEFAULT_CURRENCY", c.DefaultCurrency, CurrencyCode)
	v.Field("EXTRACTION_VENDOR", c.Extraction.Vendor, OneOf("azure", "openai"))
	v.Field("BLOB_BACKEND", c.Blob.Backend, OneOf("gcs", "local"))

	switch c.Extraction.Vendor {
	case "azure":
		v.Field("AZURE_DI_ENDPOINT", c.Extraction.Azure.Endpoint, Required)
		v.Field("AZURE_DI_KEY", c.Extraction.Azure.APIKey, Required)
	case "openai":
		v.Field("OPENAI_API_KEY", c.Extraction.OpenAI.APIKey, Required)
	}
	if c.Blob.Backend == "gcs" {
		v.Field("BLOB_BUCKET", c.Blob.Bucket, Required)
	}
	if c.Queue.Concurrency < 1 {
		v.Field("QUEUE_CONCURRENCY", c.Queue.Concurrency, func(f string, val interface{}) *FieldError {
			return &FieldError{Field: f, Value: val, Message: "must be at least 1"}
		})
	}

	if v.HasErrors() {
		return NewAppError("CONFIG_ERROR", v.ErrorMessage(), ErrInvalidInput)
	}
	return nil
}
