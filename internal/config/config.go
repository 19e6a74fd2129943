package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	DefaultPort              = 8790
	DefaultGraphBaseURL      = "https://graph.facebook.com"
	DefaultGraphAPIVersion   = "v18.0"
	DefaultRateLimitRequests = 10
	DefaultRateLimitWindow   = 60
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:                  DefaultPort,
			Bind:                  "loopback",
			RequestTimeoutSeconds: 15,
		},
		Database: DatabaseConfig{
			Driver:                 "sqlite",
			MaxOpenConns:           25,
			MaxIdleConns:           10,
			ConnMaxLifetimeMinutes: 5,
		},
		WhatsApp: WhatsAppConfig{
			BaseURL:        DefaultGraphBaseURL,
			APIVersion:     DefaultGraphAPIVersion,
			TimeoutSeconds: 10,
		},
		RateLimit: RateLimitConfig{
			Requests:      DefaultRateLimitRequests,
			WindowSeconds: DefaultRateLimitWindow,
		},
		Media: MediaConfig{
			Region:         "us-east-1",
			MaxBytes:       16 << 20,
			TimeoutSeconds: 30,
		},
		Realtime: RealtimeConfig{
			AMQP: AMQPConfig{
				Exchange:  "vlowchat.events",
				Producer:  "vlowchat",
				QueueSize: 1024,
			},
		},
		Invoices: InvoicesConfig{
			NumberPrefix: "INV",
		},
		Cache: CacheConfig{
			WorkspaceTTLSeconds: 60,
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}
