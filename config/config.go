package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"gopkg.in/yaml.v3"
)

const (
	StorageTemp = "temp"
	StorageDisk = "disk"
	StorageS3   = "s3"
)

type Config struct {
	HTTPAddr  string
	LogFormat string
	LogLevel  string

	AcceptedExtensions []string
	MaxPixels          int
	DownsampleBound    int
	ReducedQuality     int
	DefaultQuality     int
	TieredQuality      bool
	TierThreshold      int
	TierQuality        int
	MaxFileSize        int64
	MaxFiles           int
	MaxRequestSize     int64

	WorkerCount       int
	ConversionTimeout int
	MaxRetries        int

	StorageMode   string
	UploadDir     string
	OutputDir     string
	NameSuffix    bool
	CacheEntries  int
	CacheMaxBytes int64

	S3Bucket       string
	S3Prefix       string
	S3Region       string
	AWSS3AccessKey string
	AWSS3SecretKey string
	S3Endpoint     string
	S3UsePathStyle bool
	S3Teardown     bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	StatusTTL     int

	DatabaseURL string
}

// env resolves keys against the process environment first and the optional
// CONFIG_FILE second.
type env struct {
	file map[string]string
}

// Load reads the configuration from the environment. When CONFIG_FILE points
// to a YAML document of KEY: value pairs, those values act as defaults that
// the environment overrides.
func Load() (*Config, error) {
	e := env{file: map[string]string{}}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &e.file); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	redisPrefix := e.getEnv("REDIS_PREFIX", "")

	cfg := &Config{
		HTTPAddr:  e.getEnv("HTTP_ADDR", ":8080"),
		LogFormat: e.getEnv("LOG_FORMAT", "text"),
		LogLevel:  e.getEnv("LOG_LEVEL", "info"),

		AcceptedExtensions: e.getEnvList("ACCEPTED_EXTENSIONS", []string{".jpg", ".jpeg", ".png", ".bmp", ".tiff", ".heic", ".webp"}),
		MaxPixels:          e.getEnvInt("MAX_PIXELS", 50_000_000),
		DownsampleBound:    e.getEnvInt("DOWNSAMPLE_BOUND", 2048),
		ReducedQuality:     e.getEnvInt("REDUCED_QUALITY", 75),
		DefaultQuality:     e.getEnvInt("DEFAULT_QUALITY", 90),
		TieredQuality:      e.getEnvBool("TIERED_QUALITY", false),
		TierThreshold:      e.getEnvInt("TIER_THRESHOLD", 1024),
		TierQuality:        e.getEnvInt("TIER_QUALITY", 80),
		MaxFileSize:        int64(e.getEnvInt("MAX_FILE_SIZE", 10<<20)),
		MaxFiles:           e.getEnvInt("MAX_FILES", 10),
		MaxRequestSize:     int64(e.getEnvInt("MAX_REQUEST_SIZE", 1<<30)),

		WorkerCount:       e.getEnvInt("CONVERSION_WORKER_COUNT", 4),
		ConversionTimeout: e.getEnvInt("CONVERSION_TIMEOUT", 120),
		MaxRetries:        e.getEnvInt("CONVERSION_MAX_RETRIES", 2),

		StorageMode:   strings.ToLower(e.getEnv("STORAGE_MODE", StorageTemp)),
		UploadDir:     e.getEnv("UPLOAD_DIR", "uploads"),
		OutputDir:     e.getEnv("OUTPUT_DIR", "output"),
		NameSuffix:    e.getEnvBool("NAME_SUFFIX", false),
		CacheEntries:  e.getEnvInt("CACHE_ENTRIES", 128),
		CacheMaxBytes: int64(e.getEnvInt("CACHE_MAX_BYTES", 2<<20)),

		S3Bucket: e.getEnv("AWS_BUCKET", "webp-artifacts"),
		S3Prefix: e.getEnv("S3_PREFIX", "artifacts/"),
		// Prefer unified S3_* vars, fall back to legacy AWS_* vars for compatibility
		S3Region:       e.getEnvWithFallback("S3_REGION", "AWS_DEFAULT_REGION", "us-east-1"),
		AWSS3AccessKey: e.getEnvWithFallback("S3_KEY", "AWS_ACCESS_KEY_ID", ""),
		AWSS3SecretKey: e.getEnvWithFallback("S3_SECRET", "AWS_SECRET_ACCESS_KEY", ""),
		S3Endpoint:     e.getEnv("S3_ENDPOINT", ""),
		S3UsePathStyle: e.getEnvBool("S3_USE_PATH_STYLE_ENDPOINT", false),
		S3Teardown:     e.getEnvBool("S3_TEARDOWN", false),

		RedisAddr:     e.getEnv("REDIS_ADDR", ""),
		RedisPassword: e.getEnv("REDIS_PASSWORD", ""),
		RedisDB:       e.getEnvInt("REDIS_CONVERSION_DB", 3),
		RedisPrefix:   redisPrefix,
		StatusTTL:     e.getEnvInt("CONVERSION_STATUS_TTL", 3600),

		DatabaseURL: e.databaseURL(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the knobs that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.HTTPAddr, validation.Required),
		validation.Field(&c.AcceptedExtensions, validation.Required),
		validation.Field(&c.MaxPixels, validation.Required, validation.Min(1)),
		validation.Field(&c.DownsampleBound, validation.Required, validation.Min(1)),
		validation.Field(&c.ReducedQuality, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.DefaultQuality, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.TierQuality, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.WorkerCount, validation.Min(0)),
		validation.Field(&c.ConversionTimeout, validation.Min(0)),
		validation.Field(&c.MaxRetries, validation.Min(0)),
		validation.Field(&c.MaxRequestSize, validation.Min(int64(0))),
		validation.Field(&c.StorageMode, validation.Required, validation.In(StorageTemp, StorageDisk, StorageS3)),
		validation.Field(&c.UploadDir, requiredIf(c.StorageMode == StorageDisk)...),
		validation.Field(&c.OutputDir, requiredIf(c.StorageMode == StorageDisk)...),
		validation.Field(&c.S3Bucket, requiredIf(c.StorageMode == StorageS3)...),
	)
}

func requiredIf(cond bool) []validation.Rule {
	if cond {
		return []validation.Rule{validation.Required}
	}
	return nil
}

// Timeout returns the per-conversion deadline, zero meaning none.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.ConversionTimeout) * time.Second
}

// RequestLimit bounds the size of a multipart upload body, zero meaning no
// bound. It only guards against hostile bodies: oversized files below it are
// skipped one by one by the validator.
func (c *Config) RequestLimit() int64 {
	if c.MaxRequestSize <= 0 {
		return 0
	}
	return c.MaxRequestSize
}

// StatusKey is the Redis hash holding the status of an artifact.
func (c *Config) StatusKey(id string) string {
	return applyPrefix("conversion:status:"+id, c.RedisPrefix)
}

func (e env) databaseURL() string {
	dbHost := e.getEnv("DB_HOST", "")
	if url := e.getEnv("DATABASE_URL", ""); url != "" {
		return url
	}
	if dbHost == "" {
		return ""
	}
	dbPort := e.getEnv("DB_PORT", "5432")
	dbName := e.getEnv("DB_DATABASE", "webpconverter")
	dbUser := e.getEnv("DB_USERNAME", "webpconverter")
	dbPassword := e.getEnv("DB_PASSWORD", "")
	dbSSLMode := e.getEnv("DB_SSLMODE", "disable")

	// lib/pq supports "key=value" connection strings and this avoids
	// URI escaping issues for special characters in passwords.
	dbURL := fmt.Sprintf("host=%s port=%s dbname=%s user=%s sslmode=%s",
		dbHost, dbPort, dbName, dbUser, dbSSLMode)
	if dbPassword != "" {
		dbURL += fmt.Sprintf(" password=%s", dbPassword)
	}
	return dbURL
}

func (e env) lookup(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return e.file[key]
}

func (e env) getEnv(key, fallback string) string {
	if value := e.lookup(key); value != "" {
		return value
	}
	return fallback
}

func (e env) getEnvWithFallback(primaryKey, secondaryKey, fallback string) string {
	if value := e.lookup(primaryKey); value != "" {
		return value
	}
	if value := e.lookup(secondaryKey); value != "" {
		return value
	}
	return fallback
}

func (e env) getEnvInt(key string, fallback int) int {
	if value := e.lookup(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func (e env) getEnvBool(key string, fallback bool) bool {
	if value := e.lookup(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}

// getEnvList splits a comma separated list, normalizing extensions to a
// lower-case dotted form.
func (e env) getEnvList(key string, fallback []string) []string {
	value := e.lookup(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, ".") {
			part = "." + part
		}
		out = append(out, part)
	}
	return out
}

func applyPrefix(key string, prefix string) string {
	if prefix == "" {
		return key
	}
	return prefix + key
}
