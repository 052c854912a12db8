package constants

import "time"

const (
	ServiceName = "health-service"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
	KafkaPullTimeout  = 2 * time.Second
)

const (
	DefaultHTTPTimeout = 30 * time.Second
)

const (
	DefaultEventsTopic = "deal-health-events"
	DefaultDLQTopic    = "deal-health-events-dlq"
)

const (
	CacheKeyPrefixEvent = "event:"
)

const (
	DefaultMongoDBName          = "dealhealth"
	CollectionPromotions        = "promotions"
	CollectionProcessingHistory = "processing_history"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

const (
	NeutralHealthScore = 50
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"
)
