package gateway

import (
	"net/http"
	"time"

	"github.com/soyeahso/vlowchat/internal/channel/whatsapp"
	"github.com/soyeahso/vlowchat/internal/channel/widget"
	"github.com/soyeahso/vlowchat/internal/domain"
)

// handleWhatsAppVerify answers the webhook subscription handshake.
func (s *Server) handleWhatsAppVerify(w http.ResponseWriter, r *http.Request) {
	challenge, ok := whatsapp.VerifyHandshake(r.URL.Query(), s.cfg.WhatsApp.VerifyToken)
	if !ok {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("webhook verification failed")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	s.log.Info().Msg("webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// handleWhatsAppEvents ingests a webhook delivery. A store failure answers
// 500 so the provider redelivers; ingestion is idempotent per message id.
func (s *Server) handleWhatsAppEvents(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, maxWebhookBody)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if secret := s.cfg.WhatsApp.AppSecret; secret != "" {
		if !whatsapp.VerifySignature(body, r.Header.Get(whatsapp.SignatureHeader), secret) {
			s.log.Warn().Str("remote", r.RemoteAddr).Msg("webhook signature mismatch")
			s.writeError(w, r, domain.Unauthenticated("Invalid signature"))
			return
		}
	}
	payload, err := whatsapp.ParseWebhook(body)
	if err != nil {
		s.writeError(w, r, domain.Validation("Invalid webhook payload"))
		return
	}
	if s.ingest == nil {
		s.writeError(w, r, domain.Internal(errIngestUnavailable))
		return
	}

	sum, err := s.ingest.IngestWhatsApp(r.Context(), payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Debug().
		Int("stored", sum.Stored).
		Int("duplicates", sum.Duplicates).
		Int("skipped", sum.Skipped).
		Msg("webhook processed")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// WidgetResponse is returned for an accepted widget message.
type WidgetResponse struct {
	Success   bool      `json:"success"`
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}

// handleWidgetMessage ingests a post from the website widget.
func (s *Server) handleWidgetMessage(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, maxJSONBody)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	post, err := widget.ParsePost(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.ingest == nil {
		s.writeError(w, r, domain.Internal(errIngestUnavailable))
		return
	}

	res, err := s.ingest.IngestWidget(r.Context(), post, widget.Access{
		Secret: r.Header.Get(widget.SecretHeader),
		Origin: r.Header.Get("Origin"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WidgetResponse{
		Success:   true,
		ChatID:    res.Chat.ID,
		MessageID: res.Message.ID,
		CreatedAt: res.Message.CreatedAt,
	})
}
