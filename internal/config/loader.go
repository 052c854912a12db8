package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	scoring := DefaultScoringConfig()
	viper.SetDefault("scoring.automated_test_weight", scoring.AutomatedTestWeight)
	viper.SetDefault("scoring.community_verification_weight", scoring.CommunityVerificationWeight)
	viper.SetDefault("scoring.community_tip_weight", scoring.CommunityTipWeight)
	viper.SetDefault("scoring.decay_rate_per_day", scoring.DecayRatePerDay)
	viper.SetDefault("scoring.max_event_age_days", scoring.MaxEventAgeDays)

	pipeline := DefaultPipelineConfig()
	viper.SetDefault("pipeline.batch_size", pipeline.BatchSize)
	viper.SetDefault("pipeline.max_concurrent_messages", pipeline.MaxConcurrentMessages)
	viper.SetDefault("pipeline.idle_delay", pipeline.IdleDelay)
	viper.SetDefault("pipeline.retry_base_delay", pipeline.RetryBaseDelay)
	viper.SetDefault("pipeline.max_retry_delay", pipeline.MaxRetryDelay)
	viper.SetDefault("pipeline.max_delivery_attempts", pipeline.MaxDeliveryAttempts)
	viper.SetDefault("pipeline.enable_dlq", pipeline.EnableDLQ)

	viper.SetDefault("extractor.provider", "none")
	viper.SetDefault("extractor.max_retries", 3)
	viper.SetDefault("extractor.timeout", "30s")
	viper.SetDefault("extractor.temperature", 0.1)
	viper.SetDefault("extractor.max_tokens", 1000)
	viper.SetDefault("extractor.initial_interval", "1s")
	viper.SetDefault("extractor.max_interval", "30s")

	viper.SetDefault("deduplication.enabled", true)
	viper.SetDefault("deduplication.ttl_seconds", 2592000)
	viper.SetDefault("deduplication.on_redis_error", "allow")

	viper.SetDefault("logging.level", "info")
}

func bindEnvVariables() {
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.events_topic", "BROKER_KAFKA_EVENTS_TOPIC")
	viper.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("extractor.provider", "EXTRACTOR_PROVIDER")
	viper.BindEnv("extractor.model", "EXTRACTOR_MODEL")
	viper.BindEnv("extractor.api_key", "EXTRACTOR_API_KEY")
	viper.BindEnv("extractor.base_url", "EXTRACTOR_BASE_URL")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	return nil
}
