package config

import "time"

// Config is the root configuration for vlowchat.
type Config struct {
	Server    ServerConfig    `yaml:"server,omitempty"`
	Database  DatabaseConfig  `yaml:"database,omitempty"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp,omitempty"`
	Widget    WidgetConfig    `yaml:"widget,omitempty"`
	RateLimit RateLimitConfig `yaml:"rateLimit,omitempty"`
	Media     MediaConfig     `yaml:"media,omitempty"`
	Realtime  RealtimeConfig  `yaml:"realtime,omitempty"`
	Invoices  InvoicesConfig  `yaml:"invoices,omitempty"`
	Cache     CacheConfig     `yaml:"cache,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
}

// ServerConfig controls the HTTP/WebSocket server.
type ServerConfig struct {
	Port           int       `yaml:"port,omitempty"`
	Bind           string    `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string    `yaml:"customBindHost,omitempty"`
	TLS            ServerTLS `yaml:"tls,omitempty"`
	// AllowedOrigins gates cross-origin requests to the agent API and the
	// realtime socket. The widget endpoint has its own per-workspace list.
	AllowedOrigins        []string `yaml:"allowedOrigins,omitempty"`
	RequestTimeoutSeconds int      `yaml:"requestTimeoutSeconds,omitempty"`
}

// RequestTimeout bounds every HTTP request.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ServerTLS configures TLS for the server.
type ServerTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// DatabaseConfig selects and tunes the relational store.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver,omitempty"` // "sqlite" | "postgres"
	DSN                    string `yaml:"dsn,omitempty"`    // file path for sqlite, URL for postgres
	MaxOpenConns           int    `yaml:"maxOpenConns,omitempty"`
	MaxIdleConns           int    `yaml:"maxIdleConns,omitempty"`
	ConnMaxLifetimeMinutes int    `yaml:"connMaxLifetimeMinutes,omitempty"`
}

// WhatsAppConfig holds Cloud API credentials and webhook secrets.
type WhatsAppConfig struct {
	BaseURL        string `yaml:"baseUrl,omitempty"`
	APIVersion     string `yaml:"apiVersion,omitempty"`
	PhoneNumberID  string `yaml:"phoneNumberId,omitempty"`
	AccessToken    string `yaml:"accessToken,omitempty"`
	VerifyToken    string `yaml:"verifyToken,omitempty"`
	AppSecret      string `yaml:"appSecret,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
}

// Timeout bounds each Cloud API call.
func (c WhatsAppConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Configured reports whether outbound sends can be attempted.
func (c WhatsAppConfig) Configured() bool {
	return c.AccessToken != "" && c.PhoneNumberID != ""
}

// WidgetConfig controls the website widget endpoint.
type WidgetConfig struct {
	// RequireSecret rejects workspaces that have not configured a widget secret.
	RequireSecret bool `yaml:"requireSecret,omitempty"`
}

// RateLimitConfig sets the widget quota per visitor.
type RateLimitConfig struct {
	Requests      int `yaml:"requests,omitempty"`
	WindowSeconds int `yaml:"windowSeconds,omitempty"`
}

// Window returns the fixed window length.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// MediaConfig configures S3 re-hosting of inbound media.
type MediaConfig struct {
	Enabled       bool   `yaml:"enabled,omitempty"`
	Bucket        string `yaml:"bucket,omitempty"`
	Region        string `yaml:"region,omitempty"`
	Endpoint      string `yaml:"endpoint,omitempty"`
	AccessKey     string `yaml:"accessKey,omitempty"`
	SecretKey     string `yaml:"secretKey,omitempty"`
	PathStyle     bool   `yaml:"pathStyle,omitempty"`
	PublicBaseURL string `yaml:"publicBaseUrl,omitempty"`
	MaxBytes      int64  `yaml:"maxBytes,omitempty"`

	// TimeoutSeconds bounds one background copy of an inbound attachment.
	TimeoutSeconds int `yaml:"timeoutSeconds,omitempty"`
}

// Timeout bounds one media re-host.
func (c MediaConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RealtimeConfig configures event fan-out beyond the built-in WebSocket hub.
type RealtimeConfig struct {
	AMQP AMQPConfig `yaml:"amqp,omitempty"`
}

// AMQPConfig configures the RabbitMQ publisher. Empty URL disables it.
type AMQPConfig struct {
	URL      string `yaml:"url,omitempty"`
	Exchange string `yaml:"exchange,omitempty"`
	Producer string `yaml:"producer,omitempty"`

	// QueueSize is how many events may wait for the broker before new ones
	// are dropped.
	QueueSize int `yaml:"queueSize,omitempty"`
}

// InvoicesConfig controls invoice numbering.
type InvoicesConfig struct {
	NumberPrefix string `yaml:"numberPrefix,omitempty"`
}

// CacheConfig controls in-process lookup caches.
type CacheConfig struct {
	WorkspaceTTLSeconds int `yaml:"workspaceTtlSeconds,omitempty"`
}

// WorkspaceTTL is how long a resolved workspace stays cached.
func (c CacheConfig) WorkspaceTTL() time.Duration {
	return time.Duration(c.WorkspaceTTLSeconds) * time.Second
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`        // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}
