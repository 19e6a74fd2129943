package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so tokens and DSNs can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Database.DSN = expandEnvVars(cfg.Database.DSN)
	cfg.WhatsApp.AccessToken = expandEnvVars(cfg.WhatsApp.AccessToken)
	cfg.WhatsApp.VerifyToken = expandEnvVars(cfg.WhatsApp.VerifyToken)
	cfg.WhatsApp.AppSecret = expandEnvVars(cfg.WhatsApp.AppSecret)
	cfg.Media.AccessKey = expandEnvVars(cfg.Media.AccessKey)
	cfg.Media.SecretKey = expandEnvVars(cfg.Media.SecretKey)
	cfg.Realtime.AMQP.URL = expandEnvVars(cfg.Realtime.AMQP.URL)
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the process
// environment. Variables that are already set win. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return &ConfigError{Message: "failed to load " + f + ": " + err.Error()}
		}
	}
	return nil
}

// Load reads the config file, applies .env files and environment overrides,
// and returns a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if err := LoadDotEnv(".env", filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return cfg, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = d.Server.Bind
	}
	if cfg.Server.RequestTimeoutSeconds == 0 {
		cfg.Server.RequestTimeoutSeconds = d.Server.RequestTimeoutSeconds
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = d.Database.Driver
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = d.Database.MaxOpenConns
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = d.Database.MaxIdleConns
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = d.Database.ConnMaxLifetimeMinutes
	}
	if cfg.WhatsApp.BaseURL == "" {
		cfg.WhatsApp.BaseURL = d.WhatsApp.BaseURL
	}
	if cfg.WhatsApp.APIVersion == "" {
		cfg.WhatsApp.APIVersion = d.WhatsApp.APIVersion
	}
	if cfg.WhatsApp.TimeoutSeconds == 0 {
		cfg.WhatsApp.TimeoutSeconds = d.WhatsApp.TimeoutSeconds
	}
	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = d.RateLimit.Requests
	}
	if cfg.RateLimit.WindowSeconds == 0 {
		cfg.RateLimit.WindowSeconds = d.RateLimit.WindowSeconds
	}
	if cfg.Media.Region == "" {
		cfg.Media.Region = d.Media.Region
	}
	if cfg.Media.MaxBytes == 0 {
		cfg.Media.MaxBytes = d.Media.MaxBytes
	}
	if cfg.Media.TimeoutSeconds == 0 {
		cfg.Media.TimeoutSeconds = d.Media.TimeoutSeconds
	}
	if cfg.Realtime.AMQP.Exchange == "" {
		cfg.Realtime.AMQP.Exchange = d.Realtime.AMQP.Exchange
	}
	if cfg.Realtime.AMQP.Producer == "" {
		cfg.Realtime.AMQP.Producer = d.Realtime.AMQP.Producer
	}
	if cfg.Realtime.AMQP.QueueSize == 0 {
		cfg.Realtime.AMQP.QueueSize = d.Realtime.AMQP.QueueSize
	}
	if cfg.Invoices.NumberPrefix == "" {
		cfg.Invoices.NumberPrefix = d.Invoices.NumberPrefix
	}
	if cfg.Cache.WorkspaceTTLSeconds == 0 {
		cfg.Cache.WorkspaceTTLSeconds = d.Cache.WorkspaceTTLSeconds
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = d.Logging.ConsoleStyle
	}
}

// applyEnvOverrides reads VLOWCHAT_* and provider environment variables and
// overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VLOWCHAT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VLOWCHAT_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("VLOWCHAT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("VLOWCHAT_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = strings.ToLower(v)
	}
	if v := firstEnv("VLOWCHAT_DATABASE_DSN", "DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("WHATSAPP_ACCESS_TOKEN"); v != "" {
		cfg.WhatsApp.AccessToken = v
	}
	if v := os.Getenv("WHATSAPP_PHONE_NUMBER_ID"); v != "" {
		cfg.WhatsApp.PhoneNumberID = v
	}
	if v := os.Getenv("WHATSAPP_VERIFY_TOKEN"); v != "" {
		cfg.WhatsApp.VerifyToken = v
	}
	if v := os.Getenv("WHATSAPP_APP_SECRET"); v != "" {
		cfg.WhatsApp.AppSecret = v
	}
	if v := firstEnv("VLOWCHAT_AMQP_URL", "RABBITMQ_URL"); v != "" {
		cfg.Realtime.AMQP.URL = v
	}
	if v := os.Getenv("VLOWCHAT_S3_ACCESS_KEY"); v != "" {
		cfg.Media.AccessKey = v
	}
	if v := os.Getenv("VLOWCHAT_S3_SECRET_KEY"); v != "" {
		cfg.Media.SecretKey = v
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}
