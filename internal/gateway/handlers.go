package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/soyeahso/vlowchat/internal/domain"
)

// Body size caps.
const (
	maxJSONBody    = 1 << 20
	maxWebhookBody = 4 << 20
)

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only populates Status; the authenticated RPC handler populates all fields.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Clients  int    `json:"clients,omitempty"`
	Database string `json:"database,omitempty"`
	UptimeMs int64  `json:"uptimeMs,omitempty"`
}

// handleHealth returns the server health status. A failing database ping
// turns it into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("health check: database unreachable")
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", UptimeMs: s.Uptime().Milliseconds()})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found", Code: string(domain.KindNotFound)})
}

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthentication:
		return http.StatusUnauthorized
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Unclassified errors are logged and hidden behind a
// generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	de := domain.AsError(err)
	status := statusFor(de.Kind)
	if de.Kind == domain.KindInternal {
		s.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}
	if de.Kind == domain.KindRateLimited && de.RetryAfter > 0 {
		secs := int(math.Ceil(de.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}
	writeJSON(w, status, errorBody{Error: de.Message, Code: string(de.Kind), Details: de.Details})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := readBody(w, r, maxJSONBody)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return domain.Validation("Invalid request body")
	}
	return nil
}

// readBody reads at most limit bytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, domain.Validation("Request body too large")
		}
		return nil, domain.Validation("Invalid request body")
	}
	return body, nil
}

// queryLimit parses the optional limit query parameter.
func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.Validation("limit must be a non-negative integer")
	}
	return n, nil
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(ctx *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondErr renders a service error as an error response.
func (rc *RequestContext) RespondErr(err error) {
	de := domain.AsError(err)
	if de.Kind == domain.KindInternal {
		rc.Server.log.Error().Err(err).Str("method", rc.Frame.Method).Msg("rpc failed")
	}
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:       string(de.Kind),
		Message:    de.Message,
		Details:    de.Details,
		RetryAfter: int(de.RetryAfter.Milliseconds()),
	})
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}
