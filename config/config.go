package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	RecordStoreFile     = "file"
	RecordStorePostgres = "postgres"
	RecordStoreHTTP     = "http"

	ObjectStoreS3    = "s3"
	ObjectStoreMinio = "minio"
)

type Config struct {
	Port string

	RedisHost      string
	RedisPort      int
	RedisPassword  string
	RedisDB        int
	RedisPrefix    string
	QueueName      string
	QueueRetention int

	RecordStore        string
	RecordStoreFile    string
	APIURL             string
	RecordStoreTimeout time.Duration
	DatabaseURL        string

	UploadDir      string
	MaxUploadBytes int64

	WorkerCount       int
	FFMPEGPath        string
	FFProbePath       string
	MaxDuration       float64
	MaxWidth          int
	MaxHeight         int
	GIFHeight         int
	GIFFPS            int
	ConversionTimeout time.Duration
	PreviewEnabled    bool
	PreviewSize       int

	ObjectStore     string
	S3Bucket        string
	S3Region        string
	AWSS3AccessKey  string
	AWSS3SecretKey  string
	S3Endpoint      string
	S3UsePathStyle  bool
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioUseSSL     bool
	MinioBucket     string
	KafkaBrokers    []string
	KafkaTopic      string

	RecoveryInterval time.Duration
	StallTimeout     time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads the configuration from the environment. When envFile is set it is
// loaded first; a missing file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	redisPrefix := getEnv("REDIS_PREFIX", "")
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_DATABASE", "gifconverter")
	dbUser := getEnv("DB_USERNAME", "gifconverter")
	dbPassword := getEnv("DB_PASSWORD", "")
	dbSSLMode := getEnv("DB_SSLMODE", "disable")

	// lib/pq supports "key=value" connection strings and this avoids
	// URI escaping issues for special characters in passwords.
	var dbURL string
	if dbPassword != "" {
		dbURL = fmt.Sprintf(
			"host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
			dbHost, dbPort, dbName, dbUser, dbPassword, dbSSLMode,
		)
	} else {
		dbURL = fmt.Sprintf(
			"host=%s port=%s dbname=%s user=%s sslmode=%s",
			dbHost, dbPort, dbName, dbUser, dbSSLMode,
		)
	}

	cfg := &Config{
		Port: getEnv("PORT", "3000"),

		RedisHost:      getEnv("REDIS_HOST", "localhost"),
		RedisPort:      getEnvInt("REDIS_PORT", 6379),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisPrefix:    redisPrefix,
		QueueName:      applyPrefix(getEnv("QUEUE_NAME", "mp4-to-gif-queue"), redisPrefix),
		QueueRetention: getEnvInt("QUEUE_RETENTION", 1000),

		RecordStore:        strings.ToLower(getEnv("RECORD_STORE", RecordStoreFile)),
		RecordStoreFile:    getEnv("RECORD_STORE_FILE", "db.json"),
		APIURL:             strings.TrimRight(getEnv("API_URL", "http://localhost:3000"), "/"),
		RecordStoreTimeout: getEnvDuration("RECORD_STORE_TIMEOUT", 10*time.Second),
		DatabaseURL:        dbURL,

		UploadDir:      getEnv("UPLOAD_DIR", "uploads"),
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 10000000)),

		WorkerCount:       getEnvInt("WORKER_COUNT", 1),
		FFMPEGPath:        getEnv("FFMPEG_PATH", "ffmpeg"),
		FFProbePath:       getEnv("FFPROBE_PATH", "ffprobe"),
		MaxDuration:       getEnvFloat("MAX_DURATION_SECONDS", 40),
		MaxWidth:          getEnvInt("MAX_WIDTH", 1024),
		MaxHeight:         getEnvInt("MAX_HEIGHT", 768),
		GIFHeight:         getEnvInt("GIF_HEIGHT", 400),
		GIFFPS:            getEnvInt("GIF_FPS", 5),
		ConversionTimeout: time.Duration(getEnvInt("CONVERSION_TIMEOUT", 0)) * time.Second,
		PreviewEnabled:    getEnvBool("PREVIEW_ENABLED", true),
		PreviewSize:       getEnvInt("PREVIEW_SIZE", 160),

		ObjectStore: strings.ToLower(getEnv("OBJECT_STORE", "")),
		S3Bucket:    getEnv("S3_BUCKET", "gifconverter"),
		// Prefer S3_* vars, fall back to the AWS_* names
		S3Region:       getEnvWithFallback("S3_REGION", "AWS_DEFAULT_REGION", "us-east-1"),
		AWSS3AccessKey: getEnvWithFallback("S3_KEY", "AWS_ACCESS_KEY_ID", ""),
		AWSS3SecretKey: getEnvWithFallback("S3_SECRET", "AWS_SECRET_ACCESS_KEY", ""),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3UsePathStyle: getEnvBool("S3_USE_PATH_STYLE_ENDPOINT", false),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", "minio"),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", "minio123"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioBucket:    getEnv("MINIO_BUCKET", "gifconverter"),
		KafkaBrokers:   getEnvList("KAFKA_BROKERS"),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "conversion-records"),

		RecoveryInterval: getEnvDuration("RECOVERY_INTERVAL", 5*time.Minute),
		StallTimeout:     getEnvDuration("STALL_TIMEOUT", 10*time.Minute),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.RecordStore {
	case RecordStoreFile, RecordStorePostgres, RecordStoreHTTP:
	default:
		return fmt.Errorf("unknown RECORD_STORE %q", c.RecordStore)
	}
	switch c.ObjectStore {
	case "", ObjectStoreS3, ObjectStoreMinio:
	default:
		return fmt.Errorf("unknown OBJECT_STORE %q", c.ObjectStore)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.WorkerCount)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.RecordStore == RecordStoreHTTP && c.RecordStoreTimeout <= 0 {
		return fmt.Errorf("RECORD_STORE_TIMEOUT must be positive, got %s", c.RecordStoreTimeout)
	}
	if c.GIFHeight <= 0 || c.GIFFPS <= 0 {
		return fmt.Errorf("GIF_HEIGHT and GIF_FPS must be positive")
	}
	return nil
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// RecordStoreURL is the json-server compatible collection used by the http
// record store backend.
func (c *Config) RecordStoreURL() string {
	return c.APIURL + "/json/files"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvWithFallback(primaryKey, secondaryKey, fallback string) string {
	if value := os.Getenv(primaryKey); value != "" {
		return value
	}
	if value := os.Getenv(secondaryKey); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func applyPrefix(key string, prefix string) string {
	if prefix == "" {
		return key
	}
	return prefix + key
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
