package inbound

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.io/infrasutra/mailbridge/internal/config"
	"github.io/infrasutra/mailbridge/internal/metrics"
	"github.io/infrasutra/mailbridge/internal/store"
)

// Store is the persistence the webhook needs.
type Store interface {
	UserLookup
	DeliveryLookup
	CreateMessages(ctx context.Context, messages []store.StoredMessage) ([]store.StoredMessage, error)
}

// Handler serves the provider's inbound webhook.
//
// Responses are chosen for the provider's retry policy: 200 for accepted and
// already-delivered messages, 403 for authentication failures and for
// messages with no local recipient (so they bounce instead of retrying).
type Handler struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	username string
	password string
	maxBytes int64

	now   func() time.Time
	newID func() (string, error)
}

func NewHandler(cfg config.PostmarkConfig, st Store, notifier Notifier, logger *slog.Logger) *Handler {
	maxBytes := int64(cfg.WebhookMaxBytes)
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	return &Handler{
		store:    st,
		notifier: notifier,
		logger:   logger,
		username: cfg.WebhookUsername,
		password: cfg.WebhookPassword,
		maxBytes: maxBytes,
		now:      time.Now,
		newID:    newMessageID,
	}
}

func newMessageID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		metrics.RecordWebhook(metrics.OutcomeUnauthorized)
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "Unauthorized"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		metrics.RecordWebhook(metrics.OutcomeMalformed)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("inbound payload too large", "limit", tooLarge.Limit)
			respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
			return
		}
		h.logger.Warn("read inbound payload", "error", err)
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}

	payload, err := ParsePayload(body)
	if err != nil {
		metrics.RecordWebhook(metrics.OutcomeMalformed)
		h.logger.Warn("malformed inbound payload", "error", err)
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}
	if payload.skipped != "" {
		h.logger.Warn("inbound payload field has unexpected type", "field", payload.skipped, "message_id", payload.MessageID)
	}

	created, status, err := h.deliver(r.Context(), payload, body)
	if err != nil {
		metrics.RecordWebhook(metrics.OutcomeError)
		h.logger.Error("store inbound email", "message_id", payload.MessageID, "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "unable to store message"})
		return
	}
	if status == http.StatusForbidden {
		metrics.RecordWebhook(metrics.OutcomeNoRecipient)
		h.logger.Warn("no user found for inbound email, bouncing", "to", payload.To, "message_id", payload.MessageID)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	if len(created) == 0 {
		metrics.RecordWebhook(metrics.OutcomeDuplicate)
	} else {
		metrics.RecordWebhook(metrics.OutcomeAccepted)
		metrics.AddMessagesCreated(len(created))
		if h.notifier != nil {
			h.notifier.Delivered(r.Context(), created)
		}
	}
	h.logger.Info("inbound email accepted", "message_id", payload.MessageID, "created", len(created))
	w.WriteHeader(http.StatusOK)
}

// deliver resolves, deduplicates and stores the payload. It returns 403
// when no local user matches.
func (h *Handler) deliver(ctx context.Context, payload Payload, raw []byte) ([]store.StoredMessage, int, error) {
	users, err := ResolveRecipients(ctx, h.store, payload)
	if err != nil {
		return nil, 0, err
	}
	if len(users) == 0 {
		return nil, http.StatusForbidden, nil
	}

	users, err = Deduplicate(ctx, h.store, payload.MessageID, users)
	if err != nil {
		return nil, 0, err
	}
	if len(users) == 0 {
		return nil, http.StatusOK, nil
	}

	messages, err := buildMessages(payload, raw, users, h.now(), h.newID)
	if err != nil {
		return nil, 0, err
	}
	// Copies lost to a concurrent delivery of the same message are skipped
	// by the store and simply absent from created.
	created, err := h.store.CreateMessages(ctx, messages)
	if err != nil {
		return nil, 0, err
	}
	return created, http.StatusOK, nil
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.username == "" || h.password == "" {
		h.logger.Warn("webhook credentials not configured, rejecting all webhook requests")
		return false
	}
	username, password, ok := r.BasicAuth()
	if !ok {
		h.logger.Warn("webhook request without basic auth", "remote", r.RemoteAddr)
		return false
	}
	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) == 1
	passMatch := subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) == 1
	if !userMatch || !passMatch {
		h.logger.Warn("webhook basic auth mismatch", "remote", r.RemoteAddr)
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
