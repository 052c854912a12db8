package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Scoring        ScoringConfig
	Pipeline       PipelineConfig
	Extractor      ExtractorConfig
	Deduplication  DeduplicationConfig
	CircuitBreaker CircuitBreakerConfig
	API            APIConfig
}

type ServerConfig struct {
	Port                int `mapstructure:"port"`
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Redis   RedisConfig
	MongoDB MongoDBConfig
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	GroupID     string   `mapstructure:"group_id"`
	EventsTopic string   `mapstructure:"events_topic"`
	DLQTopic    string   `mapstructure:"dlq_topic"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ScoringConfig holds the health calculation weights and decay parameters.
// The three weights should sum to roughly 1.0; this is validated softly at
// load time, never per calculation.
type ScoringConfig struct {
	AutomatedTestWeight         float64 `mapstructure:"automated_test_weight"`
	CommunityVerificationWeight float64 `mapstructure:"community_verification_weight"`
	CommunityTipWeight          float64 `mapstructure:"community_tip_weight"`
	DecayRatePerDay             float64 `mapstructure:"decay_rate_per_day"`
	MaxEventAgeDays             int     `mapstructure:"max_event_age_days"`
}

func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		AutomatedTestWeight:         0.6,
		CommunityVerificationWeight: 0.3,
		CommunityTipWeight:          0.1,
		DecayRatePerDay:             0.1,
		MaxEventAgeDays:             30,
	}
}

type PipelineConfig struct {
	BatchSize             int           `mapstructure:"batch_size"`
	MaxConcurrentMessages int           `mapstructure:"max_concurrent_messages"`
	IdleDelay             time.Duration `mapstructure:"idle_delay"`
	RetryBaseDelay        time.Duration `mapstructure:"retry_base_delay"`
	MaxRetryDelay         time.Duration `mapstructure:"max_retry_delay"`
	MaxDeliveryAttempts   int           `mapstructure:"max_delivery_attempts"`
	EnableDLQ             bool          `mapstructure:"enable_dlq"`
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		BatchSize:             10,
		MaxConcurrentMessages: 5,
		IdleDelay:             100 * time.Millisecond,
		RetryBaseDelay:        1 * time.Second,
		MaxRetryDelay:         60 * time.Second,
		MaxDeliveryAttempts:   3,
		EnableDLQ:             true,
	}
}

type ExtractorConfig struct {
	Provider        string        `mapstructure:"provider"`
	Model           string        `mapstructure:"model"`
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	MaxRetries      int           `mapstructure:"max_retries"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type DeduplicationConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	TTLSeconds   int    `mapstructure:"ttl_seconds"`
	OnRedisError string `mapstructure:"on_redis_error"` // "allow" or "deny" (default: "allow")
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type APIConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
