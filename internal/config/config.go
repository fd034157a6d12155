package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Persistence drivers
const (
	DriverPebble   = "pebble"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverNone     = "none"
)

// Environment variables that override secrets and paths in the file
const (
	EnvGeminiAPIKey     = "GEMINI_API_KEY"
	EnvDatabasePassword = "DATABASE_PASSWORD"
	EnvRabbitMQPassword = "RABBITMQ_PASSWORD"
	EnvDataDir          = "PIPELINE_DATA_DIR"
	EnvLogLevel         = "LOG_LEVEL"
	EnvServerPort       = "SERVER_PORT"
)

var validate = validator.New()

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Logging     LoggingConfig     `yaml:"logging"`
	App         AppConfig         `yaml:"app"`
	Queue       QueueConfig       `yaml:"queue"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Processing  ProcessingConfig  `yaml:"processing"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Gemini      GeminiConfig      `yaml:"gemini"`
	Extraction  ExtractionConfig  `yaml:"extraction"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Intake      IntakeConfig      `yaml:"intake"`
	Events      EventsConfig      `yaml:"events"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      AMQPQueueConfig  `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// AMQPQueueConfig holds the broker-side intake queue
type AMQPQueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format       string `yaml:"format" validate:"omitempty,oneof=json console text"`
	Output       string `yaml:"output"`
	EnableSource bool   `yaml:"enable_source"`
	NoColor      bool   `yaml:"no_color"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// QueueConfig holds the in-process work queue limits
type QueueConfig struct {
	MaxQueueSize         int           `yaml:"max_queue_size" validate:"gt=0"`
	MaxRetries           int           `yaml:"max_retries" validate:"gte=1,lte=20"`
	RetryDelay           time.Duration `yaml:"retry_delay" validate:"gte=0"`
	CompletedHistorySize int           `yaml:"completed_history_size" validate:"gt=0"`
	FailedHistorySize    int           `yaml:"failed_history_size" validate:"gt=0"`
	HistoryMaxAge        time.Duration `yaml:"history_max_age" validate:"gt=0"`
	PersistInterval      time.Duration `yaml:"persist_interval" validate:"gt=0"`
	PurgeInterval        time.Duration `yaml:"purge_interval" validate:"gt=0"`
}

// SchedulerConfig holds the token budget and grouping settings
type SchedulerConfig struct {
	MaxTokensPerRequest  int     `yaml:"max_tokens_per_request" validate:"gt=0"`
	PromptTemplateTokens int     `yaml:"prompt_template_tokens" validate:"gte=0"`
	SafetyBufferTokens   int     `yaml:"safety_buffer_tokens" validate:"gte=0"`
	WordsPerToken        float64 `yaml:"words_per_token" validate:"gt=0"`
	MinBatchSize         int     `yaml:"min_batch_size" validate:"gte=1"`
	MaxBatchSize         int     `yaml:"max_batch_size" validate:"gtefield=MinBatchSize,lte=50"`
	GroupingEnabled      *bool   `yaml:"grouping_enabled"`
	GroupingThreshold    int     `yaml:"grouping_threshold" validate:"gte=0"`
	SimilarityThreshold  float64 `yaml:"similarity_threshold" validate:"gte=0,lte=1"`
}

// ProcessingConfig holds the orchestrator loop settings
type ProcessingConfig struct {
	PollInterval     time.Duration       `yaml:"poll_interval" validate:"gt=0"`
	BatchSize        int                 `yaml:"batch_size" validate:"gt=0"`
	RequestTimeout   time.Duration       `yaml:"request_timeout" validate:"gt=0"`
	RateLimitBackoff time.Duration       `yaml:"rate_limit_backoff" validate:"gte=0"`
	HealthInterval   time.Duration       `yaml:"health_interval" validate:"gt=0"`
	ShutdownTimeout  time.Duration       `yaml:"shutdown_timeout" validate:"gt=0"`
	BusinessHours    BusinessHoursConfig `yaml:"business_hours"`
	Health           HealthConfig        `yaml:"health"`
}

// BusinessHoursConfig limits processing to a local-time window
type BusinessHoursConfig struct {
	Enabled   bool `yaml:"enabled"`
	StartHour int  `yaml:"start_hour" validate:"gte=0,lte=23"`
	EndHour   int  `yaml:"end_hour" validate:"gte=0,lte=24"`
}

// HealthConfig holds the health check thresholds
type HealthConfig struct {
	QueueDepthThreshold  int     `yaml:"queue_depth_threshold" validate:"gt=0"`
	MinThroughputPerHour int     `yaml:"min_throughput_per_hour" validate:"gte=0"`
	MaxFailureRate       float64 `yaml:"max_failure_rate" validate:"gte=0,lte=1"`
}

// RateLimitConfig holds the generation quota
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"gt=0"`
	Burst             int `yaml:"burst" validate:"gte=0"`
	RequestsPerDay    int `yaml:"requests_per_day" validate:"gt=0"`
}

// GeminiConfig holds the generation service settings
type GeminiConfig struct {
	APIKey          string  `yaml:"api_key"`
	Model           string  `yaml:"model" validate:"required"`
	Temperature     float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxOutputTokens int32   `yaml:"max_output_tokens" validate:"gte=0"`
}

// ExtractionConfig holds the text extraction quality gate
type ExtractionConfig struct {
	MinWords   int     `yaml:"min_words" validate:"gte=0"`
	MinQuality float64 `yaml:"min_quality" validate:"gte=0,lte=1"`
}

// PersistenceConfig selects where queue snapshots are kept
type PersistenceConfig struct {
	Driver  string `yaml:"driver" validate:"oneof=pebble postgres memory none"`
	DataDir string `yaml:"data_dir" validate:"required_if=Driver pebble"`
	Sync    bool   `yaml:"sync"`
}

// IntakeConfig controls the AMQP producer intake
type IntakeConfig struct {
	Enabled      bool          `yaml:"enabled"`
	ConsumerTag  string        `yaml:"consumer_tag"`
	Concurrency  int           `yaml:"concurrency" validate:"gte=0,lte=64"`
	RequeueDelay time.Duration `yaml:"requeue_delay" validate:"gte=0"`
}

// EventsConfig controls publishing of batch and health notifications
type EventsConfig struct {
	Publish        bool          `yaml:"publish"`
	PublishTimeout time.Duration `yaml:"publish_timeout" validate:"gte=0"`
}

// Load reads and parses the configuration file, then applies environment
// overrides and defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.ApplyDefaults()

	return &config, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvGeminiAPIKey); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv(EnvDatabasePassword); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv(EnvRabbitMQPassword); v != "" {
		c.RabbitMQ.Password = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.Persistence.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvServerPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvServerPort, v, err)
		}
		c.Server.Port = port
	}
	return nil
}

// ApplyDefaults fills every unset value. Zero means unset, so a pipeline
// setting that must be zero has to be expressed some other way (for example
// rate_limit_backoff: 1ns).
func (c *Config) ApplyDefaults() {
	setDuration(&c.Server.ReadTimeout, 15*time.Second)
	setDuration(&c.Server.WriteTimeout, 30*time.Second)
	setDuration(&c.Server.IdleTimeout, 60*time.Second)
	setDuration(&c.Server.ShutdownTimeout, 30*time.Second)
	setInt64(&c.Server.MaxBodyBytes, 32<<20)

	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "console")
	setString(&c.Logging.Output, "stdout")

	setString(&c.RabbitMQ.Exchange.Type, "direct")
	setString(&c.RabbitMQ.VHost, "/")
	setInt(&c.RabbitMQ.Connection.RetryAttempts, 5)
	setDuration(&c.RabbitMQ.Connection.RetryInterval, 5*time.Second)
	setDuration(&c.RabbitMQ.Connection.Heartbeat, 10*time.Second)
	setDuration(&c.RabbitMQ.Publish.RetryInterval, 100*time.Millisecond)
	setFloat(&c.RabbitMQ.Publish.BackoffMultiplier, 2)

	setString(&c.Database.SSLMode, "disable")
	setDuration(&c.Database.ConnectTimeout, 5*time.Second)

	setInt(&c.Queue.MaxQueueSize, 1000)
	setInt(&c.Queue.MaxRetries, 3)
	setDuration(&c.Queue.RetryDelay, time.Minute)
	setInt(&c.Queue.CompletedHistorySize, 1000)
	setInt(&c.Queue.FailedHistorySize, 500)
	setDuration(&c.Queue.HistoryMaxAge, 24*time.Hour)
	setDuration(&c.Queue.PersistInterval, 30*time.Second)
	setDuration(&c.Queue.PurgeInterval, time.Hour)

	setInt(&c.Scheduler.MaxTokensPerRequest, 30000)
	setInt(&c.Scheduler.PromptTemplateTokens, 1000)
	setInt(&c.Scheduler.SafetyBufferTokens, 2000)
	setFloat(&c.Scheduler.WordsPerToken, 0.75)
	setInt(&c.Scheduler.MinBatchSize, 3)
	setInt(&c.Scheduler.MaxBatchSize, 15)
	setInt(&c.Scheduler.GroupingThreshold, 6)
	setFloat(&c.Scheduler.SimilarityThreshold, 0.3)
	if c.Scheduler.GroupingEnabled == nil {
		enabled := true
		c.Scheduler.GroupingEnabled = &enabled
	}

	setDuration(&c.Processing.PollInterval, 10*time.Second)
	setInt(&c.Processing.BatchSize, 30)
	setDuration(&c.Processing.RequestTimeout, 2*time.Minute)
	setDuration(&c.Processing.RateLimitBackoff, 5*time.Minute)
	setDuration(&c.Processing.HealthInterval, time.Minute)
	setDuration(&c.Processing.ShutdownTimeout, 3*time.Minute)
	if c.Processing.BusinessHours.StartHour == 0 && c.Processing.BusinessHours.EndHour == 0 {
		c.Processing.BusinessHours.StartHour = 9
		c.Processing.BusinessHours.EndHour = 17
	}
	setInt(&c.Processing.Health.QueueDepthThreshold, 500)
	setInt(&c.Processing.Health.MinThroughputPerHour, 10)
	setFloat(&c.Processing.Health.MaxFailureRate, 0.2)

	setInt(&c.RateLimit.RequestsPerMinute, 10)
	setInt(&c.RateLimit.Burst, 1)
	setInt(&c.RateLimit.RequestsPerDay, 1000)

	setString(&c.Gemini.Model, "gemini-2.0-flash")
	setInt32(&c.Gemini.MaxOutputTokens, 8192)

	setInt(&c.Extraction.MinWords, 20)
	setFloat(&c.Extraction.MinQuality, 0.3)

	setString(&c.Persistence.Driver, DriverPebble)
	if c.Persistence.Driver == DriverPebble {
		setString(&c.Persistence.DataDir, "data/queue")
	}

	setString(&c.Intake.ConsumerTag, "resume-intake")
	setInt(&c.Intake.Concurrency, 2)
	setDuration(&c.Intake.RequeueDelay, 5*time.Second)

	setDuration(&c.Events.PublishTimeout, 5*time.Second)
}

// ValidateAPIConfig checks what the api service needs: an HTTP port and a
// broker to publish intake requests to
func (c *Config) ValidateAPIConfig() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateRabbitMQ(); err != nil {
		return err
	}
	if c.RabbitMQ.RoutingKey == "" {
		return fmt.Errorf("rabbitmq routing key is required")
	}
	if err := validate.Struct(c.Logging); err != nil {
		return fmt.Errorf("invalid logging config: %s", describe(err))
	}
	return nil
}

// ValidateWorkerConfig checks the pipeline settings and every backing
// service the enabled features need
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateServer(); err != nil {
		return err
	}

	if c.Gemini.APIKey == "" {
		return fmt.Errorf("gemini api key is required (set %s)", EnvGeminiAPIKey)
	}

	if c.Intake.Enabled || c.Events.Publish {
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	}
	if c.Intake.Enabled && c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required when intake is enabled")
	}

	if c.Persistence.Driver == DriverPostgres {
		if err := c.validateDatabase(); err != nil {
			return err
		}
	}

	sections := []struct {
		name string
		v    any
	}{
		{"logging", c.Logging},
		{"queue", c.Queue},
		{"scheduler", c.Scheduler},
		{"processing", c.Processing},
		{"rate_limit", c.RateLimit},
		{"gemini", c.Gemini},
		{"extraction", c.Extraction},
		{"persistence", c.Persistence},
		{"intake", c.Intake},
		{"events", c.Events},
	}
	for _, s := range sections {
		if err := validate.Struct(s.v); err != nil {
			return fmt.Errorf("invalid %s config: %s", s.name, describe(err))
		}
	}

	if c.Scheduler.PromptTemplateTokens+c.Scheduler.SafetyBufferTokens >= c.Scheduler.MaxTokensPerRequest {
		return fmt.Errorf("scheduler prompt and safety tokens leave no room for resumes")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}
	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}
	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}
	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

// describe turns validator errors into "field: rule" text
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag())
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setInt32(v *int32, def int32) {
	if *v == 0 {
		*v = def
	}
}

func setInt64(v *int64, def int64) {
	if *v == 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}
