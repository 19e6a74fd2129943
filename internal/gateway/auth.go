package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/soyeahso/vlowchat/internal/domain"
)

// Directory resolves API tokens and memberships.
type Directory interface {
	PrincipalByTokenHash(ctx context.Context, tokenHash string) (domain.Principal, error)
	WorkspacesForUser(ctx context.Context, userID string) ([]string, error)
}

// HashToken returns the stored form of an API token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// authenticate resolves a raw token to its principal.
func (s *Server) authenticate(ctx context.Context, token string) (domain.Principal, error) {
	if token == "" {
		return domain.Principal{}, domain.Unauthenticated("Missing bearer token")
	}
	if s.directory == nil {
		return domain.Principal{}, domain.Unauthenticated("Authentication not configured")
	}
	p, err := s.directory.PrincipalByTokenHash(ctx, HashToken(token))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Principal{}, domain.Unauthenticated("Invalid token")
	}
	if err != nil {
		return domain.Principal{}, err
	}
	return p, nil
}

// authedHandler is an API handler that runs after bearer authentication.
type authedHandler func(w http.ResponseWriter, r *http.Request, p domain.Principal)

// requireAuth wraps h with bearer authentication and the per-IP failure
// limit.
func (s *Server) requireAuth(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authLimiter.allow(r.RemoteAddr) {
			s.writeError(w, r, domain.RateLimited(authRateWindow))
			return
		}
		p, err := s.authenticate(r.Context(), bearerToken(r))
		if err != nil {
			if domain.KindOf(err) == domain.KindAuthentication {
				s.authLimiter.recordFailure(r.RemoteAddr)
			}
			s.writeError(w, r, err)
			return
		}
		h(w, r, p)
	}
}

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000 // max tracked IPs to prevent memory exhaustion
)

// authRateLimiter counts failed authentications per client IP over a
// fixed window that starts at the first failure.
type authRateLimiter struct {
	failures *gocache.Cache
}

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{failures: gocache.New(authRateWindow, time.Minute)}
}

func clientHost(remoteAddr string) string {
	host, _, _ := net.SplitHostPort(remoteAddr)
	if host == "" {
		host = remoteAddr
	}
	return host
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	n, ok := l.failures.Get(clientHost(remoteAddr))
	if !ok {
		return true
	}
	return n.(int) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := clientHost(remoteAddr)
	if _, err := l.failures.IncrementInt(host, 1); err == nil {
		return
	}
	if l.failures.ItemCount() >= authRateMaxIPs {
		l.failures.DeleteExpired()
		if l.failures.ItemCount() >= authRateMaxIPs {
			return
		}
	}
	if err := l.failures.Add(host, 1, gocache.DefaultExpiration); err != nil {
		// Lost a race with a concurrent first failure.
		l.failures.IncrementInt(host, 1)
	}
}
