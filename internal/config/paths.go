package config

import (
	"os"
	"path/filepath"
	"strings"
)

const defaultBaseDir = ".vlowchat"

// Paths holds resolved filesystem paths for vlowchat data.
type Paths struct {
	Base    string // ~/.vlowchat
	Config  string // ~/.vlowchat/config.yaml
	Data    string // ~/.vlowchat/data
	Logs    string // ~/.vlowchat/logs
	Exports string // ~/.vlowchat/exports
}

// ResolvePaths computes all standard paths from the home directory.
// If VLOWCHAT_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("VLOWCHAT_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:    base,
		Config:  filepath.Join(base, "config.yaml"),
		Data:    filepath.Join(base, "data"),
		Logs:    filepath.Join(base, "logs"),
		Exports: filepath.Join(base, "exports"),
	}, nil
}

// DefaultSQLitePath is where the sqlite database lives when no DSN is set.
func (p Paths) DefaultSQLitePath() string {
	return filepath.Join(p.Data, "vlowchat.db")
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Data, p.Logs, p.Exports} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// blockedKeys are keys that must never appear in config paths.
var blockedKeys = map[string]bool{
	"__proto__":   true,
	"prototype":   true,
	"constructor": true,
}

// ParseConfigPath splits a dot-separated config path into segments.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: "config path contains empty segment"}
		}
		if blockedKeys[p] {
			return nil, &ConfigError{Message: "config path contains blocked key: " + p}
		}
	}
	return parts, nil
}

// GetValueAtPath traverses a nested map using the given path segments.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	var current any = root
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = m[key]; !ok {
			return nil, false
		}
	}
	return current, true
}

// SetValueAtPath sets a value in a nested map, creating intermediate maps as needed.
// Non-map intermediates are replaced.
func SetValueAtPath(root map[string]any, path []string, value any) {
	current := root
	for _, key := range path[:len(path)-1] {
		m, ok := current[key].(map[string]any)
		if !ok {
			m = map[string]any{}
			current[key] = m
		}
		current = m
	}
	current[path[len(path)-1]] = value
}

// UnsetValueAtPath removes a value at the given path. Returns true if removed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	current := root
	for _, key := range path[:len(path)-1] {
		m, ok := current[key].(map[string]any)
		if !ok {
			return false
		}
		current = m
	}
	last := path[len(path)-1]
	if _, ok := current[last]; !ok {
		return false
	}
	delete(current, last)
	return true
}
