package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"property-valuation/models"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	StoreDriver string
	SQLitePath  string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MaxConcurrentTasks int
	CheckpointEvery    int
	StoreRetries       int
	StoreRetryDelayMs  int

	MarketPricePerSqm float64
	ModelWeightsFile  string

	ArtifactDir    string
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
	MinIORegion    string

	WebhookURL string
	InputFiles []string

	LogLevel  string
	LogFormat string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
		SQLitePath:  getEnv("SQLITE_PATH", "./data/valuation.db"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "valuation"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "valuation123"),
		PostgresDB:       getEnv("POSTGRES_DB", "valuation_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		MaxConcurrentTasks: getEnvInt("MAX_CONCURRENT_TASKS", 5),
		CheckpointEvery:    getEnvInt("CHECKPOINT_EVERY", 50),
		StoreRetries:       getEnvInt("STORE_RETRIES", 3),
		StoreRetryDelayMs:  getEnvInt("STORE_RETRY_DELAY_MS", 200),

		MarketPricePerSqm: getEnvFloat("MARKET_PRICE_PER_SQM", 10000),
		ModelWeightsFile:  getEnv("MODEL_WEIGHTS_FILE", ""),

		ArtifactDir:    getEnv("ARTIFACT_DIR", "./output"),
		MinIOEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinIOBucket:    getEnv("MINIO_BUCKET", "valuations"),
		MinIOUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinIORegion:    getEnv("MINIO_REGION", ""),

		WebhookURL: getEnv("WEBHOOK_URL", ""),
		InputFiles: splitList(getEnv("INPUT_FILES", "")),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// MinIOEnabled reports whether results should be uploaded to MinIO instead
// of the local artifact directory.
func (c *Config) MinIOEnabled() bool {
	return c.MinIOEndpoint != ""
}

type weightsFile struct {
	Weights models.Weights `yaml:"weights"`
}

// LoadWeights reads a YAML file of the form
//
//	weights:
//	  linear: 0.3
//	  income: 0.1
//
// An empty path yields nil weights. Values are validated by the caller.
func LoadWeights(path string) (models.Weights, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read weights file: %w", err)
	}
	var wf weightsFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("config: parse weights file %s: %w", path, err)
	}
	if len(wf.Weights) == 0 {
		return nil, fmt.Errorf("config: weights file %s has no weights", path)
	}
	return wf.Weights, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
