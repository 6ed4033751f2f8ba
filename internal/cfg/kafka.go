package cfg

import (
	"fmt"

	"persistenceai/pkg/validator"
)

// KafkaConfig is optional: without brokers lifecycle events are dropped.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

func (l *Loader) loadKafka() KafkaConfig {
	cfg := KafkaConfig{
		Brokers: splitAndTrim(l.getEnvWithDefault("KAFKA_BROKERS", ""), ","),
		Topic:   l.getEnvWithDefault("KAFKA_TOPIC", "session-events"),
	}
	if cfg.Enabled() {
		if err := validator.ValidateTopic(cfg.Topic); err != nil {
			l.errs = append(l.errs, fmt.Errorf("KAFKA_TOPIC %q: %w", cfg.Topic, err))
		}
	}
	return cfg
}
