package outbound

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/emersion/go-message/mail"
)

// addressOf strips any display name from an address header value.
func addressOf(value string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(value))
	if err != nil {
		return "", err
	}
	return addr.Address, nil
}

// checkSender returns the from_email error message, or "" when from may be
// used by caller.
func checkSender(from string, caller Caller) string {
	if caller.Email == "" {
		return msgNoEmail
	}
	address, err := addressOf(from)
	if err != nil {
		return msgInvalidAddress
	}
	if !strings.EqualFold(address, caller.Email) {
		return fmt.Sprintf("You can only send from your own address (%s).", caller.Email)
	}
	return ""
}

// sentBy reports whether a provider message detail body was sent from the
// caller's address. Unparseable bodies and senders never match.
func sentBy(body []byte, caller Caller) bool {
	if caller.Email == "" {
		return false
	}
	var detail struct {
		From string `json:"From"`
	}
	if err := json.Unmarshal(body, &detail); err != nil {
		return false
	}
	address, err := addressOf(detail.From)
	if err != nil {
		return false
	}
	return strings.EqualFold(address, caller.Email)
}
