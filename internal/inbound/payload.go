// Package inbound accepts the provider's inbound webhook and stores one copy
// of each delivered message per matching local user.
package inbound

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"github.io/infrasutra/mailbridge/internal/store"
)

var (
	errInvalidEncoding = errors.New("payload is not valid UTF-8")
	errNotObject       = errors.New("payload is not a JSON object")
)

// Address is one structured sender or recipient descriptor.
type Address struct {
	Email       string `json:"Email"`
	Name        string `json:"Name"`
	MailboxHash string `json:"MailboxHash"`
}

// Payload holds the webhook fields mailbridge reads. Everything else is kept
// only in the raw body.
type Payload struct {
	MessageID         string         `json:"MessageID"`
	From              string         `json:"From"`
	FromFull          *Address       `json:"FromFull"`
	To                string         `json:"To"`
	ToFull            []Address      `json:"ToFull"`
	Cc                string         `json:"Cc"`
	Bcc               string         `json:"Bcc"`
	Subject           string         `json:"Subject"`
	TextBody          string         `json:"TextBody"`
	HTMLBody          string         `json:"HtmlBody"`
	StrippedTextReply string         `json:"StrippedTextReply"`
	Tag               string         `json:"Tag"`
	MailboxHash       string         `json:"MailboxHash"`
	Headers           []store.Header `json:"Headers"`
	Date              string         `json:"Date"`

	// skipped names the first field left empty because its JSON type did
	// not match.
	skipped string
}

// ParsePayload decodes a webhook body. Invalid UTF-8 is rejected even where
// the JSON decoder would substitute replacement characters. A field whose
// JSON type does not match is left empty and the rest of the payload is
// still used. Only a body that is not a JSON object is rejected.
func ParsePayload(body []byte) (Payload, error) {
	var payload Payload
	if !utf8.Valid(body) {
		return payload, errInvalidEncoding
	}
	if trimmed := bytes.TrimSpace(body); json.Valid(trimmed) && trimmed[0] != '{' {
		return payload, errNotObject
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return Payload{}, err
		}
		payload.skipped = typeErr.Field
	}
	return payload, nil
}

func (p Payload) senderEmail() string {
	if p.FromFull != nil && p.FromFull.Email != "" {
		return p.FromFull.Email
	}
	return p.From
}

func (p Payload) senderName() string {
	if p.FromFull == nil {
		return ""
	}
	return p.FromFull.Name
}

// buildMessages creates one stored copy per owner. All copies share the
// payload fields and differ only in id and owner.
func buildMessages(p Payload, raw []byte, owners []store.User, now time.Time, newID func() (string, error)) ([]store.StoredMessage, error) {
	headers := p.Headers
	if headers == nil {
		headers = []store.Header{}
	}
	messages := make([]store.StoredMessage, 0, len(owners))
	for _, owner := range owners {
		id, err := newID()
		if err != nil {
			return nil, err
		}
		messages = append(messages, store.StoredMessage{
			ID:                id,
			OwnerID:           owner.ID,
			ProviderMessageID: p.MessageID,
			FromEmail:         p.senderEmail(),
			FromName:          p.senderName(),
			To:                p.To,
			Cc:                p.Cc,
			Bcc:               p.Bcc,
			Subject:           p.Subject,
			TextBody:          p.TextBody,
			HTMLBody:          p.HTMLBody,
			StrippedReply:     p.StrippedTextReply,
			Tag:               p.Tag,
			MailboxHash:       p.MailboxHash,
			Headers:           headers,
			RawPayload:        json.RawMessage(raw),
			ReceivedDate:      p.Date,
			CreatedAt:         now,
		})
	}
	return messages, nil
}
