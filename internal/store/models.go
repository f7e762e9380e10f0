package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	LastLogin    time.Time
}

// Header is one name/value pair from the inbound message, in received order.
type Header struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// StoredMessage is one recipient's copy of an inbound email. The same
// provider message may be stored once per owner.
type StoredMessage struct {
	ID                string
	OwnerID           int64
	ProviderMessageID string

	FromEmail string
	FromName  string

	To  string
	Cc  string
	Bcc string

	Subject       string
	TextBody      string
	HTMLBody      string
	StrippedReply string

	Tag         string
	MailboxHash string
	Headers     []Header
	RawPayload  json.RawMessage

	ReceivedDate string
	CreatedAt    time.Time
}
