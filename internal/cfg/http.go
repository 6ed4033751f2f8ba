package cfg

import "time"

type HTTPServerConfig struct {
	ListenAddress string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

func (l *Loader) loadHTTPServer() HTTPServerConfig {
	return HTTPServerConfig{
		ListenAddress: l.getEnvWithDefault("LISTEN_ADDRESS", ":4096"),
		ReadTimeout:   l.getEnvDurationOrDefault("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:  l.getEnvDurationOrDefault("HTTP_WRITE_TIMEOUT", 15*time.Second),
	}
}
