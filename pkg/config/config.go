package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dreschagin/eventlogger/internal/application/eventlogger"
	"github.com/dreschagin/eventlogger/internal/domain/valueobject"
)

// Удаленные хранилища, которые умеет поднимать сервис
const (
	SinkDynamoDB   = "dynamodb"
	SinkPostgres   = "postgres"
	SinkCloudWatch = "cloudwatch"
	SinkS3         = "s3"
	SinkNATS       = "nats"
	SinkMemory     = "memory"
	SinkNone       = "none"
)

// Источники identity
const (
	IdentityStatic = "static"
	IdentityRedis  = "redis"
)

type Config struct {
	Server     ServerConfig
	LogLevel   string
	Events     EventsConfig
	RemoteSink string
	DynamoDB   DynamoDBConfig
	Database   DatabaseConfig
	CloudWatch CloudWatchConfig
	S3         S3Config
	NATS       NATSConfig
	Identity   IdentityConfig
	Redis      RedisConfig
	Security   SecurityConfig
	Ingest     IngestConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// EventsConfig начальные настройки конвейера событий
type EventsConfig struct {
	RemoteEnabled    bool
	LocalEnabled     bool
	LocalFile        string // пусто: stdout
	MaxRetries       int
	RetryDelay       time.Duration
	IncludeUserInfo  bool
	GlobalParameters map[string]interface{}
	MinimumLevel     valueobject.Level
	BatchMode        bool
	BatchSize        int
	BatchTimeout     time.Duration
	Collection       string
	Category         string
}

type DynamoDBConfig struct {
	TablePrefix     string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	TTL             time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type CloudWatchConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	LogGroupName    string
	AutoCreate      bool

	MetricsEnabled   bool
	MetricsNamespace string
	MetricsInterval  time.Duration
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	URLMode         string
	PresignedTTL    time.Duration
}

type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Stream        string
}

type IdentityConfig struct {
	Provider        string
	UserID          string
	Email           string
	SessionID       string
	RefreshInterval time.Duration
}

type RedisConfig struct {
	Host         string
	Port         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type SecurityConfig struct {
	AllowedOrigins []string
	AuthEnabled    bool
	AuthToken      string
}

type IngestConfig struct {
	MaxBodyBytes   int64
	RateLimitRPS   float64
	RateLimitBurst int
}

func Load() (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	events, err := loadEvents()
	if err != nil {
		return nil, err
	}

	dynamoTTL, err := parseDuration(getEnv("DYNAMODB_TTL", "0s"))
	if err != nil {
		return nil, fmt.Errorf("invalid DYNAMODB_TTL: %w", err)
	}

	presignedTTL, err := parseDuration(getEnv("S3_PRESIGNED_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid S3_PRESIGNED_TTL: %w", err)
	}

	metricsInterval, err := parseDuration(getEnv("CLOUDWATCH_METRICS_INTERVAL", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CLOUDWATCH_METRICS_INTERVAL: %w", err)
	}

	refreshInterval, err := parseDuration(getEnv("IDENTITY_REFRESH_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid IDENTITY_REFRESH_INTERVAL: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	maxBodyKB, err := getEnvInt("INGEST_MAX_BODY_KB", 1024)
	if err != nil {
		return nil, err
	}

	rateLimitRPS, err := strconv.ParseFloat(getEnv("INGEST_RATE_LIMIT_RPS", "50"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid INGEST_RATE_LIMIT_RPS: %w", err)
	}

	rateLimitBurst, err := getEnvInt("INGEST_RATE_LIMIT_BURST", 100)
	if err != nil {
		return nil, err
	}

	awsRegion := getEnv("AWS_REGION", "us-east-1")

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		Events:     events,
		RemoteSink: strings.ToLower(getEnv("REMOTE_SINK", SinkMemory)),
		DynamoDB: DynamoDBConfig{
			TablePrefix:     getEnv("DYNAMODB_TABLE_PREFIX", ""),
			Region:          getEnv("DYNAMODB_REGION", awsRegion),
			Endpoint:        getEnv("DYNAMODB_ENDPOINT", ""),
			AccessKeyID:     getEnv("DYNAMODB_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("DYNAMODB_SECRET_ACCESS_KEY", ""),
			TTL:             dynamoTTL,
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "events"),
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		CloudWatch: CloudWatchConfig{
			Region:           awsRegion,
			Endpoint:         getEnv("AWS_ENDPOINT", ""),
			AccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
			LogGroupName:     getEnv("CLOUDWATCH_LOG_GROUP", "/eventlogger/events"),
			AutoCreate:       getEnvBool("CLOUDWATCH_AUTO_CREATE", true),
			MetricsEnabled:   getEnvBool("CLOUDWATCH_METRICS_ENABLED", false),
			MetricsNamespace: getEnv("CLOUDWATCH_METRICS_NAMESPACE", "EventLogger/Pipeline"),
			MetricsInterval:  metricsInterval,
		},
		S3: S3Config{
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", "ru-central1"),
			Endpoint:        getEnv("S3_ENDPOINT", "https://storage.yandexcloud.net"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    getEnvBool("S3_USE_PATH_STYLE", true),
			URLMode:         getEnv("S3_URL_MODE", "presigned"),
			PresignedTTL:    presignedTTL,
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", "nats://localhost:4222"),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "events"),
			Stream:        getEnv("NATS_STREAM", "EVENTS"),
		},
		Identity: IdentityConfig{
			Provider:        strings.ToLower(getEnv("IDENTITY_PROVIDER", IdentityStatic)),
			UserID:          getEnv("IDENTITY_USER_ID", ""),
			Email:           getEnv("IDENTITY_EMAIL", ""),
			SessionID:       getEnv("IDENTITY_SESSION_ID", ""),
			RefreshInterval: refreshInterval,
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnv("REDIS_PORT", "6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           redisDB,
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:8080,http://127.0.0.1:8080")),
			AuthEnabled:    getEnvBool("AUTH_ENABLED", false),
			AuthToken:      getEnv("AUTH_BEARER_TOKEN", ""),
		},
		Ingest: IngestConfig{
			MaxBodyBytes:   int64(maxBodyKB) * 1024,
			RateLimitRPS:   rateLimitRPS,
			RateLimitBurst: rateLimitBurst,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadEvents() (EventsConfig, error) {
	maxRetries, err := getEnvInt("EVENTS_MAX_RETRIES", eventlogger.DefaultMaxRetries)
	if err != nil {
		return EventsConfig{}, err
	}

	retryDelay, err := parseDuration(getEnv("EVENTS_RETRY_DELAY", eventlogger.DefaultRetryDelay.String()))
	if err != nil {
		return EventsConfig{}, fmt.Errorf("invalid EVENTS_RETRY_DELAY: %w", err)
	}

	batchSize, err := getEnvInt("EVENTS_BATCH_SIZE", eventlogger.DefaultBatchSize)
	if err != nil {
		return EventsConfig{}, err
	}

	batchTimeout, err := parseDuration(getEnv("EVENTS_BATCH_TIMEOUT", eventlogger.DefaultBatchTimeout.String()))
	if err != nil {
		return EventsConfig{}, fmt.Errorf("invalid EVENTS_BATCH_TIMEOUT: %w", err)
	}

	minLevel, err := valueobject.ParseLevel(getEnv("EVENTS_MIN_LEVEL", "debug"))
	if err != nil {
		return EventsConfig{}, fmt.Errorf("invalid EVENTS_MIN_LEVEL: %w", err)
	}

	params, err := parseParams(getEnv("EVENTS_GLOBAL_PARAMS", ""))
	if err != nil {
		return EventsConfig{}, fmt.Errorf("invalid EVENTS_GLOBAL_PARAMS: %w", err)
	}

	return EventsConfig{
		RemoteEnabled:    getEnvBool("EVENTS_REMOTE_ENABLED", true),
		LocalEnabled:     getEnvBool("EVENTS_LOCAL_ENABLED", true),
		LocalFile:        getEnv("EVENTS_LOCAL_FILE", ""),
		MaxRetries:       maxRetries,
		RetryDelay:       retryDelay,
		IncludeUserInfo:  getEnvBool("EVENTS_INCLUDE_USER_INFO", true),
		GlobalParameters: params,
		MinimumLevel:     minLevel,
		BatchMode:        getEnvBool("EVENTS_BATCH_MODE", false),
		BatchSize:        batchSize,
		BatchTimeout:     batchTimeout,
		Collection:       getEnv("EVENTS_COLLECTION", eventlogger.DefaultCollection),
		Category:         getEnv("EVENTS_CATEGORY", eventlogger.DefaultCategory),
	}, nil
}

func (c *Config) validate() error {
	switch c.RemoteSink {
	case SinkDynamoDB, SinkPostgres, SinkCloudWatch, SinkNATS, SinkMemory, SinkNone:
	case SinkS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when REMOTE_SINK=s3")
		}
	default:
		return fmt.Errorf("unsupported REMOTE_SINK: %s", c.RemoteSink)
	}

	switch c.Identity.Provider {
	case IdentityStatic:
	case IdentityRedis:
		if c.Identity.SessionID == "" {
			return fmt.Errorf("IDENTITY_SESSION_ID is required when IDENTITY_PROVIDER=redis")
		}
	default:
		return fmt.Errorf("unsupported IDENTITY_PROVIDER: %s", c.Identity.Provider)
	}

	if c.Security.AuthEnabled && c.Security.AuthToken == "" {
		return fmt.Errorf("AUTH_BEARER_TOKEN is required when AUTH_ENABLED=true")
	}

	return nil
}

// EventLoggerOverrides переводит начальные настройки в параметры конвейера
func (c *Config) EventLoggerOverrides(onError eventlogger.ErrorCallback) eventlogger.Overrides {
	e := c.Events
	return eventlogger.Overrides{
		RemoteEnabled:    eventlogger.Bool(e.RemoteEnabled),
		LocalEnabled:     eventlogger.Bool(e.LocalEnabled),
		MaxRetries:       eventlogger.Int(e.MaxRetries),
		RetryDelay:       eventlogger.Duration(e.RetryDelay),
		OnError:          onError,
		IncludeUserInfo:  eventlogger.Bool(e.IncludeUserInfo),
		GlobalParameters: e.GlobalParameters,
		MinimumLevel:     eventlogger.LevelOf(e.MinimumLevel),
		BatchMode:        eventlogger.Bool(e.BatchMode),
		BatchSize:        eventlogger.Int(e.BatchSize),
		BatchTimeout:     eventlogger.Duration(e.BatchTimeout),
		Collection:       eventlogger.String(e.Collection),
		Category:         eventlogger.String(e.Category),
	}
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Database)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return parsed, nil
}

func splitCSV(raw string) []string {
	items := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// parseParams разбирает "k=v,k=v". Значения true/false и числа сохраняют тип.
func parseParams(raw string) (map[string]interface{}, error) {
	items := splitCSV(raw)
	if len(items) == 0 {
		return nil, nil
	}

	params := make(map[string]interface{}, len(items))
	for _, item := range items {
		key, value, ok := strings.Cut(item, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", item)
		}
		params[key] = typedValue(strings.TrimSpace(value))
	}

	return params, nil
}

func typedValue(raw string) interface{} {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}
