package gateway

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/soyeahso/vlowchat/internal/dispatch"
	"github.com/soyeahso/vlowchat/internal/domain"
	"github.com/soyeahso/vlowchat/internal/invoice"
)

// SendResponse is returned for a dispatched reply.
type SendResponse struct {
	Success        bool                  `json:"success"`
	MessageID      string                `json:"message_id"`
	WaMessageID    string                `json:"wa_message_id,omitempty"`
	DeliveryStatus domain.DeliveryStatus `json:"delivery_status"`
}

func (s *Server) handleSendHuman(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	s.handleSend(w, r, p, s.dispatch.SendHuman)
}

func (s *Server) handleSendAI(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	s.handleSend(w, r, p, s.dispatch.SendAI)
}

type sendFunc func(ctx context.Context, p domain.Principal, req dispatch.Request) (dispatch.Result, error)

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, p domain.Principal, send sendFunc) {
	var req dispatch.Request
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := send(r.Context(), p, req)
	if err != nil {
		de := domain.AsError(err)
		if de.Kind == domain.KindUpstream && res.Message.ID != "" {
			// Stored but not delivered: tell the caller which row it was.
			s.writeError(w, r, &domain.Error{
				Kind:    de.Kind,
				Message: de.Message,
				Err:     de.Err,
				Details: map[string]any{
					"provider_error": de.Details,
					"message_id":     res.Message.ID,
				},
			})
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SendResponse{
		Success:        true,
		MessageID:      res.Message.ID,
		WaMessageID:    res.WaMessageID,
		DeliveryStatus: res.DeliveryStatus,
	})
}

type statusBody struct {
	Status string `json:"status"`
}

func (s *Server) handleChatStatus(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	var body statusBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	chat, err := s.inbox.SetStatus(r.Context(), p, r.PathValue("id"), body.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleChatRead(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	chat, err := s.inbox.MarkRead(r.Context(), p, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	chat, err := s.inbox.GetChat(r.Context(), p, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	chats, err := s.inbox.ListChats(r.Context(), p, r.PathValue("id"), r.URL.Query().Get("status"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	msgs, err := s.inbox.ListMessages(r.Context(), p, r.PathValue("id"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	var req invoice.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	inv, err := s.invoices.Create(r.Context(), p, r.PathValue("id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func invoiceListRequest(r *http.Request) (invoice.ListRequest, error) {
	limit, err := queryLimit(r)
	if err != nil {
		return invoice.ListRequest{}, err
	}
	q := r.URL.Query()
	return invoice.ListRequest{Statuses: q["status"], ChatID: q.Get("chat_id"), Limit: limit}, nil
}

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	req, err := invoiceListRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.invoices.List(r.Context(), p, r.PathValue("id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": list})
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	inv, err := s.invoices.Get(r.Context(), p, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleInvoiceStatus(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	var body statusBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	inv, err := s.invoices.UpdateStatus(r.Context(), p, r.PathValue("id"), body.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handlePaidToday(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	n, err := s.invoices.PaidToday(r.Context(), p, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleExportInvoices streams the filtered invoices as a workbook. The file
// is rendered into memory first so a failure can still produce a JSON error.
func (s *Server) handleExportInvoices(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	req, err := invoiceListRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if _, err := s.invoices.Export(r.Context(), p, r.PathValue("id"), req, &buf); err != nil {
		s.writeError(w, r, err)
		return
	}
	name := fmt.Sprintf("invoices-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
