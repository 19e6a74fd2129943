package config

import (
	"fmt"
	"net/url"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		add("server.port", "port must be 0-65535, got %d", cfg.Server.Port)
	}
	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Server.Bind != "" && !slices.Contains(validBinds, cfg.Server.Bind) {
		add("server.bind", "must be one of %v, got %q", validBinds, cfg.Server.Bind)
	}
	if cfg.Server.TLS.Enabled && (cfg.Server.TLS.CertPath == "" || cfg.Server.TLS.KeyPath == "") {
		add("server.tls", "certPath and keyPath are required when TLS is enabled")
	}
	if cfg.Server.RequestTimeoutSeconds < 0 {
		add("server.requestTimeoutSeconds", "must not be negative")
	}

	// Database
	validDrivers := []string{"sqlite", "postgres"}
	if !slices.Contains(validDrivers, cfg.Database.Driver) {
		add("database.driver", "must be one of %v, got %q", validDrivers, cfg.Database.Driver)
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.DSN == "" {
		add("database.dsn", "required when driver is postgres")
	}

	// WhatsApp
	if cfg.WhatsApp.BaseURL != "" {
		if u, err := url.Parse(cfg.WhatsApp.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("whatsapp.baseUrl", "must be an absolute URL, got %q", cfg.WhatsApp.BaseURL)
		}
	}
	if (cfg.WhatsApp.AccessToken == "") != (cfg.WhatsApp.PhoneNumberID == "") {
		add("whatsapp", "accessToken and phoneNumberId must be set together")
	}
	if cfg.WhatsApp.TimeoutSeconds < 0 {
		add("whatsapp.timeoutSeconds", "must not be negative")
	}

	// Rate limit
	if cfg.RateLimit.Requests < 1 {
		add("rateLimit.requests", "must be at least 1, got %d", cfg.RateLimit.Requests)
	}
	if cfg.RateLimit.WindowSeconds < 1 {
		add("rateLimit.windowSeconds", "must be at least 1, got %d", cfg.RateLimit.WindowSeconds)
	}

	// Media (only if enabled)
	if cfg.Media.Enabled {
		if cfg.Media.Bucket == "" {
			add("media.bucket", "bucket is required when media is enabled")
		}
		if cfg.Media.AccessKey == "" || cfg.Media.SecretKey == "" {
			add("media", "accessKey and secretKey are required when media is enabled")
		}
		if !cfg.WhatsApp.Configured() {
			add("media.enabled", "media re-hosting needs WhatsApp credentials to download media")
		}
	}

	// Realtime
	if cfg.Realtime.AMQP.URL != "" {
		if u, err := url.Parse(cfg.Realtime.AMQP.URL); err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") {
			add("realtime.amqp.url", "must be an amqp:// or amqps:// URL")
		}
	}

	// Logging
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}
	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	return issues
}
