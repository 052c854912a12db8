package bootstrap

import (
	"context"
	"fmt"

	"dealhealth/internal/broker"
	"dealhealth/internal/config"
	"dealhealth/internal/logger"
)

type Base struct {
	Config *config.Config
	Logger logger.Logger
	Queue  broker.Queue
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

func (b *Base) InitBroker(serviceName string) error {
	queue, err := broker.NewQueue(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create queue: %w", err)
	}

	b.Queue = queue
	b.Logger.Infow("Broker initialized", "service", serviceName, "type", b.Config.Broker.Type)
	return nil
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Queue != nil {
		if err := b.Queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("queue close error: %w", err))
		}
	}

	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	errs = append(errs, b.ShutdownBroker()...)

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
