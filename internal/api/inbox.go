package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.io/infrasutra/mailbridge/internal/pagination"
	"github.io/infrasutra/mailbridge/internal/store"
)

const inboundPrefix = "/api/inbound-emails/"

type inboundEmail struct {
	ID            string         `json:"id"`
	MessageID     string         `json:"message_id"`
	FromEmail     string         `json:"from_email"`
	FromName      string         `json:"from_name"`
	To            string         `json:"to"`
	Cc            string         `json:"cc"`
	Bcc           string         `json:"bcc"`
	Subject       string         `json:"subject"`
	TextBody      string         `json:"text_body"`
	HTMLBody      string         `json:"html_body"`
	StrippedReply string         `json:"stripped_reply"`
	Tag           string         `json:"tag"`
	MailboxHash   string         `json:"mailbox_hash"`
	Headers       []store.Header `json:"headers"`
	Date          string         `json:"date"`
	CreatedAt     string         `json:"created_at"`
}

type inboundPage struct {
	Count    int32          `json:"count"`
	Next     *string        `json:"next"`
	Previous *string        `json:"previous"`
	Results  []inboundEmail `json:"results"`
}

func toInboundEmail(message store.StoredMessage) inboundEmail {
	headers := message.Headers
	if headers == nil {
		headers = []store.Header{}
	}
	return inboundEmail{
		ID:            message.ID,
		MessageID:     message.ProviderMessageID,
		FromEmail:     message.FromEmail,
		FromName:      message.FromName,
		To:            message.To,
		Cc:            message.Cc,
		Bcc:           message.Bcc,
		Subject:       message.Subject,
		TextBody:      message.TextBody,
		HTMLBody:      message.HTMLBody,
		StrippedReply: message.StrippedReply,
		Tag:           message.Tag,
		MailboxHash:   message.MailboxHash,
		Headers:       headers,
		Date:          message.ReceivedDate,
		CreatedAt:     message.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// handleInboundEmails serves the caller's inbox. Messages are written only
// by the webhook, so create and update are never allowed.
func (s *Server) handleInboundEmails(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, inboundPrefix), "/")
	if id == "" {
		if r.Method != http.MethodGet {
			s.respondDetail(w, http.StatusMethodNotAllowed, detailMethod)
			return
		}
		s.handleInboundList(w, r, user)
		return
	}
	if strings.Contains(id, "/") {
		s.respondDetail(w, http.StatusNotFound, detailNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleInboundDetail(w, r, user, id)
	case http.MethodDelete:
		s.handleInboundDelete(w, r, user, id)
	default:
		s.respondDetail(w, http.StatusMethodNotAllowed, detailMethod)
	}
}

func (s *Server) handleInboundList(w http.ResponseWriter, r *http.Request, user store.User) {
	params := pagination.GetPaginationParams(r.URL.Query())
	messages, count, err := s.store.ListMessages(r.Context(), user.ID, params.Sort, params.Offset, params.Limit)
	if err != nil {
		s.respondError(w, "list messages", err)
		return
	}
	next, previous := pagination.Links(r.URL, params, count)
	page := inboundPage{
		Count:    count,
		Next:     next,
		Previous: previous,
		Results:  make([]inboundEmail, 0, len(messages)),
	}
	for _, message := range messages {
		page.Results = append(page.Results, toInboundEmail(message))
	}
	s.respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleInboundDetail(w http.ResponseWriter, r *http.Request, user store.User, id string) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		s.respondDetail(w, http.StatusNotFound, detailNotFound)
		return
	}
	message, err := s.store.GetMessage(r.Context(), user.ID, parsed.String())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.respondDetail(w, http.StatusNotFound, detailNotFound)
			return
		}
		s.respondError(w, "load message", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toInboundEmail(message))
}

func (s *Server) handleInboundDelete(w http.ResponseWriter, r *http.Request, user store.User, id string) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		s.respondDetail(w, http.StatusNotFound, detailNotFound)
		return
	}
	deleted, err := s.store.DeleteMessage(r.Context(), user.ID, parsed.String())
	if err != nil {
		s.respondError(w, "delete message", err)
		return
	}
	if !deleted {
		s.respondDetail(w, http.StatusNotFound, detailNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
