package bootstrap

import (
	"persistenceai/internal/cfg"
	"persistenceai/pkg/logger"
	"persistenceai/pkg/registry"
)

func InitRegistry(c *cfg.RegistryConfig, l logger.Logger) (*registry.Registry, error) {
	return registry.Open(c.Path, registry.Options{
		CompactEvery:       c.CompactEvery,
		TombstoneRetention: c.TombstoneRetention,
		Logger:             l,
	})
}
