package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.io/infrasutra/mailbridge/internal/outbound"
	"github.io/infrasutra/mailbridge/internal/store"
)

const outboundPrefix = "/api/outbound-messages/"

func callerOf(user store.User) outbound.Caller {
	return outbound.Caller{UserID: user.ID, Email: user.Email}
}

func (s *Server) handleOutboundMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, outboundPrefix), "/")
	if id == "" {
		switch r.Method {
		case http.MethodGet:
			s.handleOutboundList(w, r, user)
		case http.MethodPost:
			s.handleOutboundSend(w, r, user)
		default:
			s.respondDetail(w, http.StatusMethodNotAllowed, detailMethod)
		}
		return
	}
	if strings.Contains(id, "/") {
		s.respondDetail(w, http.StatusNotFound, detailNotFound)
		return
	}
	if r.Method != http.MethodGet {
		s.respondDetail(w, http.StatusMethodNotAllowed, detailMethod)
		return
	}
	s.handleOutboundDetail(w, r, user, id)
}

func (s *Server) handleOutboundSend(w http.ResponseWriter, r *http.Request, user store.User) {
	var req outbound.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondDetail(w, http.StatusBadRequest, "JSON parse error.")
		return
	}
	resp, err := s.proxy.Send(r.Context(), callerOf(user), req)
	if err != nil {
		var invalid outbound.ValidationError
		if errors.As(err, &invalid) {
			s.respondJSON(w, http.StatusBadRequest, invalid)
			return
		}
		s.respondError(w, "send message", err)
		return
	}
	s.respondUpstream(w, resp)
}

func (s *Server) handleOutboundList(w http.ResponseWriter, r *http.Request, user store.User) {
	resp, err := s.proxy.List(r.Context(), callerOf(user), r.URL.Query())
	if err != nil {
		s.respondError(w, "search sent messages", err)
		return
	}
	s.respondUpstream(w, resp)
}

func (s *Server) handleOutboundDetail(w http.ResponseWriter, r *http.Request, user store.User, id string) {
	resp, err := s.proxy.Retrieve(r.Context(), callerOf(user), id)
	if err != nil {
		if errors.Is(err, outbound.ErrNotFound) {
			s.respondDetail(w, http.StatusNotFound, detailNotFound)
			return
		}
		s.respondError(w, "load sent message", err)
		return
	}
	s.respondUpstream(w, resp)
}

// respondUpstream forwards a provider reply without reinterpreting it.
func (s *Server) respondUpstream(w http.ResponseWriter, resp outbound.UpstreamResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
