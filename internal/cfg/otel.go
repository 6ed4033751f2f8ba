package cfg

import "errors"

type OtelConfig struct {
	OTLPEndpoint string
	ServiceName  string
	SamplerRatio float64
}

func (l *Loader) loadOtel() OtelConfig {
	cfg := OtelConfig{
		OTLPEndpoint: l.getEnvWithDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  l.getEnvWithDefault("OTEL_SERVICE_NAME", "persistenceai"),
		SamplerRatio: l.getEnvFloatOrDefault("OTEL_SAMPLER_RATIO", 1.0),
	}
	if cfg.SamplerRatio < 0 || cfg.SamplerRatio > 1 {
		l.errs = append(l.errs, errors.New("OTEL_SAMPLER_RATIO must be within [0, 1]"))
	}
	return cfg
}
