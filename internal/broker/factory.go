package broker

import (
	"fmt"

	"dealhealth/internal/config"
	"dealhealth/internal/logger"
)

func NewQueue(cfg config.BrokerConfig, log logger.Logger) (Queue, error) {
	switch cfg.Type {
	case "kafka":
		return NewKafkaQueue(cfg.Kafka, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
