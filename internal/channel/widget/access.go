package widget

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/soyeahso/vlowchat/internal/domain"
)

// SecretHeader carries the plaintext widget secret.
const SecretHeader = "X-Widget-Secret"

// HashSecret returns the stored form of a widget secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Access holds the request attributes checked against workspace settings.
type Access struct {
	Secret string
	Origin string
}

// CheckAccess enforces the workspace's widget secret and origin list. With
// requireSecret set, workspaces without a secret are refused.
func CheckAccess(ws domain.Workspace, a Access, requireSecret bool) error {
	if ws.HasWidgetSecret() {
		if a.Secret == "" {
			return domain.Unauthenticated("Missing widget secret")
		}
		got := HashSecret(a.Secret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(ws.WidgetSecretHash))) != 1 {
			return domain.Unauthenticated("Invalid widget secret")
		}
	} else if requireSecret {
		return domain.Forbidden("Widget secret not configured for this workspace")
	}

	if len(ws.WidgetAllowedOrigins) > 0 && !OriginAllowed(a.Origin, ws.WidgetAllowedOrigins) {
		return domain.Forbidden("Origin not allowed")
	}
	return nil
}

// OriginAllowed matches origin against exact entries and "*.domain"
// wildcards. A wildcard matches subdomains only, never the apex.
func OriginAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return false
	}
	origin = strings.ToLower(strings.TrimRight(origin, "/"))
	scheme, host, hasScheme := strings.Cut(origin, "://")
	if !hasScheme {
		host = origin
		scheme = ""
	}

	for _, entry := range allowed {
		entry = strings.ToLower(strings.TrimRight(strings.TrimSpace(entry), "/"))
		if entry == origin {
			return true
		}
		eScheme, eHost, eHasScheme := strings.Cut(entry, "://")
		if !eHasScheme {
			eHost = entry
			eScheme = ""
		}
		suffix, ok := strings.CutPrefix(eHost, "*.")
		if !ok {
			continue
		}
		if eScheme != "" && eScheme != scheme {
			continue
		}
		if strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
