package bootstrap

import (
	"persistenceai/internal/cfg"
	"persistenceai/pkg/events"
	"persistenceai/pkg/logger"
)

// InitEvents returns a Kafka publisher when brokers are configured and a
// no-op publisher otherwise.
func InitEvents(c *cfg.KafkaConfig, l logger.Logger) (events.Publisher, error) {
	if !c.Enabled() {
		return events.Nop{}, nil
	}
	return events.NewKafkaPublisher(c.Brokers, c.Topic, events.WithKafkaLogger(l))
}
