package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/soyeahso/vlowchat/internal/domain"
)

func TestHashToken(t *testing.T) {
	assert.Len(t, HashToken("secret"), 64)
	assert.Equal(t, HashToken("secret"), HashToken("secret"))
	assert.NotEqual(t, HashToken("secret"), HashToken("Secret"))
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, bearerToken(r))
		})
	}
}

func TestAuthRateLimiter(t *testing.T) {
	l := newAuthRateLimiter()
	addr := "10.0.0.1:5555"

	for range authRateMaxFails - 1 {
		l.recordFailure(addr)
	}
	assert.True(t, l.allow(addr))

	l.recordFailure(addr)
	assert.False(t, l.allow(addr))
	assert.False(t, l.allow("10.0.0.1:6666"), "limit is per host, not per port")
	assert.True(t, l.allow("10.0.0.2:5555"))
}

func TestStatusFor(t *testing.T) {
	cases := map[domain.ErrorKind]int{
		domain.KindValidation:     http.StatusBadRequest,
		domain.KindAuthentication: http.StatusUnauthorized,
		domain.KindAuthorization:  http.StatusForbidden,
		domain.KindNotFound:       http.StatusNotFound,
		domain.KindConflict:       http.StatusConflict,
		domain.KindRateLimited:    http.StatusTooManyRequests,
		domain.KindUpstream:       http.StatusBadGateway,
		domain.KindInternal:       http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusFor(kind), kind)
	}
}

func TestWriteError_RetryAfterRoundsUp(t *testing.T) {
	s := &Server{log: testLogger()}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/widget/messages", nil)

	s.writeError(w, r, domain.RateLimited(1500*time.Millisecond))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
}

func TestWriteError_HidesInternalDetail(t *testing.T) {
	s := &Server{log: testLogger()}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/chats/x", nil)

	s.writeError(w, r, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), assert.AnError.Error())
}
