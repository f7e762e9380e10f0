// Package outbound sends mail and reads sent mail through the provider API
// on behalf of a local user, who may only ever act as themselves.
package outbound

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Link tracking choices accepted by the provider. TrackLinksNone is never
// sent upstream.
const (
	TrackLinksNone        = "None"
	TrackLinksHTMLAndText = "HtmlAndText"
	TrackLinksHTMLOnly    = "HtmlOnly"
	TrackLinksTextOnly    = "TextOnly"

	DefaultMessageStream = "outbound"

	maxSubjectLength = 2000
	maxTagLength     = 1000
)

const (
	msgRequired       = "This field is required."
	msgInvalidAddress = "Enter a valid email address."
	msgNoBody         = "Either text_body or html_body is required."
	msgNoEmail        = "Your account has no email configured; you cannot send mail."
)

// Caller is the authenticated user an outbound operation runs as.
type Caller struct {
	UserID int64
	Email  string
}

// SendRequest is the caller's outbound message.
type SendRequest struct {
	FromEmail     string            `json:"from_email"`
	To            string            `json:"to"`
	Cc            string            `json:"cc"`
	Bcc           string            `json:"bcc"`
	Subject       string            `json:"subject"`
	TextBody      string            `json:"text_body"`
	HTMLBody      string            `json:"html_body"`
	ReplyTo       string            `json:"reply_to"`
	Tag           string            `json:"tag"`
	TrackOpens    bool              `json:"track_opens"`
	TrackLinks    string            `json:"track_links"`
	Metadata      map[string]string `json:"metadata"`
	MessageStream string            `json:"message_stream"`
}

// ValidationError maps request fields to their error messages. It encodes
// directly as the 400 response body.
type ValidationError map[string][]string

func (e ValidationError) Error() string {
	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(e[field], " ")))
	}
	return "invalid send request: " + strings.Join(parts, "; ")
}

func (e ValidationError) add(field, message string) {
	e[field] = append(e[field], message)
}

// Validate applies defaults and checks the request for caller. Field errors
// are reported together; the body check runs only once every field is valid.
func (r *SendRequest) Validate(caller Caller) error {
	if r.TrackLinks == "" {
		r.TrackLinks = TrackLinksNone
	}
	if r.MessageStream == "" {
		r.MessageStream = DefaultMessageStream
	}

	errs := ValidationError{}
	if strings.TrimSpace(r.FromEmail) == "" {
		errs.add("from_email", msgRequired)
	} else if msg := checkSender(r.FromEmail, caller); msg != "" {
		errs.add("from_email", msg)
	}
	if strings.TrimSpace(r.To) == "" {
		errs.add("to", msgRequired)
	}
	if utf8.RuneCountInString(r.Subject) > maxSubjectLength {
		errs.add("subject", fmt.Sprintf("Ensure this field has no more than %d characters.", maxSubjectLength))
	}
	if utf8.RuneCountInString(r.Tag) > maxTagLength {
		errs.add("tag", fmt.Sprintf("Ensure this field has no more than %d characters.", maxTagLength))
	}
	switch r.TrackLinks {
	case TrackLinksNone, TrackLinksHTMLAndText, TrackLinksHTMLOnly, TrackLinksTextOnly:
	default:
		errs.add("track_links", fmt.Sprintf("%q is not a valid choice.", r.TrackLinks))
	}
	if len(errs) > 0 {
		return errs
	}

	if r.TextBody == "" && r.HTMLBody == "" {
		errs.add("non_field_errors", msgNoBody)
		return errs
	}
	return nil
}
