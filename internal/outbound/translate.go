package outbound

import (
	"bytes"
	"encoding/json"
)

// wireField maps one SendRequest field to its provider name. include is nil
// for fields that are always sent.
type wireField struct {
	name    string
	value   func(r *SendRequest) any
	include func(r *SendRequest) bool
}

var wireFields = []wireField{
	{name: "From", value: func(r *SendRequest) any { return r.FromEmail }},
	{name: "To", value: func(r *SendRequest) any { return r.To }},
	{name: "Cc", value: func(r *SendRequest) any { return r.Cc }, include: func(r *SendRequest) bool { return r.Cc != "" }},
	{name: "Bcc", value: func(r *SendRequest) any { return r.Bcc }, include: func(r *SendRequest) bool { return r.Bcc != "" }},
	{name: "Subject", value: func(r *SendRequest) any { return r.Subject }},
	{name: "HtmlBody", value: func(r *SendRequest) any { return r.HTMLBody }, include: func(r *SendRequest) bool { return r.HTMLBody != "" }},
	{name: "TextBody", value: func(r *SendRequest) any { return r.TextBody }, include: func(r *SendRequest) bool { return r.TextBody != "" }},
	{name: "ReplyTo", value: func(r *SendRequest) any { return r.ReplyTo }, include: func(r *SendRequest) bool { return r.ReplyTo != "" }},
	{name: "Tag", value: func(r *SendRequest) any { return r.Tag }, include: func(r *SendRequest) bool { return r.Tag != "" }},
	{name: "TrackOpens", value: func(r *SendRequest) any { return r.TrackOpens }, include: func(r *SendRequest) bool { return r.TrackOpens }},
	{name: "TrackLinks", value: func(r *SendRequest) any { return r.TrackLinks }, include: func(r *SendRequest) bool {
		return r.TrackLinks != "" && r.TrackLinks != TrackLinksNone
	}},
	{name: "Metadata", value: func(r *SendRequest) any { return r.Metadata }, include: func(r *SendRequest) bool { return len(r.Metadata) > 0 }},
	{name: "MessageStream", value: func(r *SendRequest) any {
		if r.MessageStream == "" {
			return DefaultMessageStream
		}
		return r.MessageStream
	}},
}

type wireValue struct {
	name  string
	value any
}

// Message is a provider send payload. Fields encode in a fixed order.
type Message struct {
	fields []wireValue
}

// Translate converts a validated request to the provider's send payload.
func Translate(r SendRequest) Message {
	var msg Message
	for _, field := range wireFields {
		if field.include != nil && !field.include(&r) {
			continue
		}
		msg.fields = append(msg.fields, wireValue{name: field.name, value: field.value(&r)})
	}
	return msg
}

// Get returns the value of a wire field and whether it is present.
func (m Message) Get(name string) (any, bool) {
	for _, field := range m.fields {
		if field.name == name {
			return field.value, true
		}
	}
	return nil, false
}

// Names lists the present wire fields in encoding order.
func (m Message) Names() []string {
	names := make([]string, 0, len(m.fields))
	for _, field := range m.fields {
		names = append(names, field.name)
	}
	return names
}

func (m Message) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range m.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(field.name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(field.value)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
