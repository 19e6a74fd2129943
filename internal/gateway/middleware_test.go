package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/vlowchat/internal/config"
	"github.com/soyeahso/vlowchat/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

func TestRequestIDMiddleware(t *testing.T) {
	h := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "given")
	h.ServeHTTP(w, r)
	assert.Equal(t, "given", w.Header().Get("X-Request-ID"))
}

func TestTimeoutMiddleware(t *testing.T) {
	var deadline time.Time
	var hasDeadline bool
	h := timeoutMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, hasDeadline = r.Context().Deadline()
	}), time.Second)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/x", nil))
	require.True(t, hasDeadline)
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, time.Second)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.False(t, hasDeadline, "the socket is exempt")
}

func TestRecoverMiddleware(t *testing.T) {
	h := recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), testLogger())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}

func TestStatusWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}
	sw.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusTeapot, sw.status)

	_, _, err := sw.Hijack()
	assert.Error(t, err, "recorder cannot be hijacked")
}

func TestCheckWebSocketOrigin(t *testing.T) {
	check := checkWebSocketOrigin([]string{"https://inbox.example"})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://inbox.example")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(r))
}

func TestResolveBindAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8790", resolveBindAddr(testServerConfig("loopback", "")))
	assert.Equal(t, "0.0.0.0:8790", resolveBindAddr(testServerConfig("lan", "")))
	assert.Equal(t, "10.1.2.3:8790", resolveBindAddr(testServerConfig("custom", "10.1.2.3")))
}

func testServerConfig(bind, host string) config.ServerConfig {
	return config.ServerConfig{Port: 8790, Bind: bind, CustomBindHost: host}
}
