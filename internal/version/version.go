// Package version carries build metadata stamped in by the linker.
package version

import (
	"fmt"
	"runtime"
)

// Set via ldflags at build time:
//
//	go build -ldflags "-X github.com/soyeahso/vlowchat/internal/version.Version=1.0.0
//	  -X github.com/soyeahso/vlowchat/internal/version.Commit=abc123
//	  -X github.com/soyeahso/vlowchat/internal/version.Date=2026-01-01"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a formatted version string.
func Info() string {
	return fmt.Sprintf("vlowchat %s (commit: %s, built: %s, %s/%s)",
		Version, short(Commit), Date, runtime.GOOS, runtime.GOARCH)
}

// UserAgent identifies this build on outbound provider calls.
func UserAgent() string {
	return fmt.Sprintf("vlowchat/%s (+%s)", Version, short(Commit))
}

// Fields returns build metadata for status output and health payloads.
func Fields() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  short(Commit),
		"date":    Date,
		"go":      runtime.Version(),
	}
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
