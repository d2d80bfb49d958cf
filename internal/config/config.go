package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Bus        BusConfig        `mapstructure:"bus"`
	Processing ProcessingConfig `mapstructure:"processing"`
	SLA        SLAConfig        `mapstructure:"sla"`
	Duplicate  DuplicateConfig  `mapstructure:"duplicate"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Storage    StorageConfig    `mapstructure:"storage"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig holds the ops HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds sqlite configuration; empty path selects the
// in-memory repositories
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// RedisConfig holds the bus transport configuration; empty URL selects
// the in-process bus
type RedisConfig struct {
	URL         string        `mapstructure:"url"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// BusConfig holds event bus delivery tuning
type BusConfig struct {
	StreamMaxLen    int           `mapstructure:"stream_max_len"`
	ConsumerPool    int           `mapstructure:"consumer_pool"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffCap time.Duration `mapstructure:"retry_backoff_cap"`
	ShutdownDrain   time.Duration `mapstructure:"shutdown_drain"`
}

// ProcessingConfig holds pipeline tuning knobs, modifiable per tenant
type ProcessingConfig struct {
	OCRConfidenceThreshold float64       `mapstructure:"ocr_confidence_threshold"`
	AutoApproveEnabled     bool          `mapstructure:"auto_approve_enabled"`
	AutoApproveMaxAmount   float64       `mapstructure:"auto_approve_max_amount"`
	ApprovalThresholds     []float64     `mapstructure:"approval_thresholds"`
	OCRTimeout             time.Duration `mapstructure:"ocr_timeout"`
	LLMTimeout             time.Duration `mapstructure:"llm_timeout"`
	StorageTimeout         time.Duration `mapstructure:"storage_timeout"`
	EscalationSweep        time.Duration `mapstructure:"escalation_sweep"`
}

// SLAConfig holds stage deadlines and the escalation ladder timing
type SLAConfig struct {
	ProcessingHours         int     `mapstructure:"processing_hours"`
	ReviewHours             int     `mapstructure:"review_hours"`
	ApprovalHours           int     `mapstructure:"approval_hours"`
	WarningThreshold        float64 `mapstructure:"warning_threshold"`
	FirstReminderHours      int     `mapstructure:"first_reminder_hours"`
	ManagerEscalationHours  int     `mapstructure:"manager_escalation_hours"`
	DirectorEscalationHours int     `mapstructure:"director_escalation_hours"`
}

// DuplicateConfig holds duplicate detection windows
type DuplicateConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	HashWindowDays    int     `mapstructure:"hash_window_days"`
	SimilarWindowDays int     `mapstructure:"similar_window_days"`
	AmountTolerance   float64 `mapstructure:"amount_tolerance"`
}

// RiskConfig holds risk scoring thresholds
type RiskConfig struct {
	ReviewThreshold float64 `mapstructure:"review_threshold"`
}

// StorageConfig holds document storage configuration; empty path
// selects the in-memory store
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// OpenAIConfig holds the summarizer adapter configuration; empty key
// disables the adapter and the template fallback is used
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// AuditConfig holds audit log retention
type AuditConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with all defaults applied and no file read
func Default() *Config {
	setDefaults()
	var cfg Config
	_ = viper.Unmarshal(&cfg)
	return &cfg
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8085)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("database.path", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	viper.SetDefault("redis.url", "")
	viper.SetDefault("redis.dial_timeout", 5*time.Second)

	viper.SetDefault("bus.stream_max_len", 10000)
	viper.SetDefault("bus.consumer_pool", 1)
	viper.SetDefault("bus.max_retries", 3)
	viper.SetDefault("bus.retry_backoff", time.Second)
	viper.SetDefault("bus.retry_backoff_cap", 30*time.Second)
	viper.SetDefault("bus.shutdown_drain", 30*time.Second)

	viper.SetDefault("processing.ocr_confidence_threshold", 0.85)
	viper.SetDefault("processing.auto_approve_enabled", false)
	viper.SetDefault("processing.auto_approve_max_amount", 1000.0)
	viper.SetDefault("processing.approval_thresholds", []float64{500, 5000, 25000})
	viper.SetDefault("processing.ocr_timeout", 60*time.Second)
	viper.SetDefault("processing.llm_timeout", 60*time.Second)
	viper.SetDefault("processing.storage_timeout", 10*time.Second)
	viper.SetDefault("processing.escalation_sweep", time.Minute)

	viper.SetDefault("sla.processing_hours", 24)
	viper.SetDefault("sla.review_hours", 48)
	viper.SetDefault("sla.approval_hours", 72)
	viper.SetDefault("sla.warning_threshold", 0.75)
	viper.SetDefault("sla.first_reminder_hours", 4)
	viper.SetDefault("sla.manager_escalation_hours", 8)
	viper.SetDefault("sla.director_escalation_hours", 24)

	viper.SetDefault("duplicate.enabled", true)
	viper.SetDefault("duplicate.hash_window_days", 90)
	viper.SetDefault("duplicate.similar_window_days", 7)
	viper.SetDefault("duplicate.amount_tolerance", 0.01)

	viper.SetDefault("risk.review_threshold", 0.5)

	viper.SetDefault("storage.path", "")

	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("openai.temperature", 0.3)
	viper.SetDefault("openai.max_tokens", 300)
	viper.SetDefault("openai.timeout", 60*time.Second)

	viper.SetDefault("audit.retention_days", 2555)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

func bindEnvVars() {
	viper.BindEnv("redis.url", "REDIS_URL")
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("database.path", "DATABASE_PATH")
	viper.BindEnv("storage.path", "STORAGE_PATH")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Bus.MaxRetries < 0 {
		return fmt.Errorf("bus.max_retries must be non-negative")
	}
	if c.SLA.WarningThreshold <= 0 || c.SLA.WarningThreshold >= 1 {
		return fmt.Errorf("sla.warning_threshold must be in (0, 1)")
	}
	if c.Duplicate.AmountTolerance < 0 {
		return fmt.Errorf("duplicate.amount_tolerance must be non-negative")
	}
	if len(c.Processing.ApprovalThresholds) == 0 {
		return fmt.Errorf("processing.approval_thresholds must not be empty")
	}
	return nil
}
