package outbound

import (
	"context"
	"errors"
	"net/url"
)

// ErrNotFound is returned for provider messages the caller may not see. It
// is indistinguishable from a message that does not exist.
var ErrNotFound = errors.New("outbound message not found")

// senderParam is the provider's list filter on sender address.
const senderParam = "fromemail"

var listParams = []string{
	"count",
	"offset",
	"recipient",
	"tag",
	"status",
	"todate",
	"fromdate",
	"subject",
	"messagestream",
}

var listDefaults = map[string]string{
	"count":  "20",
	"offset": "0",
}

// emptyList is returned without calling the provider when the caller has no
// address to scope the search to.
var emptyList = []byte(`{"TotalCount":0,"Messages":[]}`)

// UpstreamResponse is a provider reply, forwarded to callers unchanged.
type UpstreamResponse struct {
	Status int
	Body   []byte
}

func (r UpstreamResponse) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Upstream is the provider API. Non-2xx replies are responses, not errors;
// an error means no reply was received.
type Upstream interface {
	Send(ctx context.Context, message Message) (UpstreamResponse, error)
	List(ctx context.Context, params url.Values) (UpstreamResponse, error)
	Retrieve(ctx context.Context, messageID string) (UpstreamResponse, error)
}

type Proxy struct {
	upstream Upstream
}

func NewProxy(upstream Upstream) *Proxy {
	return &Proxy{upstream: upstream}
}

// Send validates req for caller and submits it. A ValidationError is
// returned before anything is sent.
func (p *Proxy) Send(ctx context.Context, caller Caller, req SendRequest) (UpstreamResponse, error) {
	if err := req.Validate(caller); err != nil {
		return UpstreamResponse{}, err
	}
	return p.upstream.Send(ctx, Translate(req))
}

// List searches the caller's sent messages. Only allow-listed parameters
// are forwarded and the sender filter is always the caller's own address.
func (p *Proxy) List(ctx context.Context, caller Caller, query url.Values) (UpstreamResponse, error) {
	if caller.Email == "" {
		return UpstreamResponse{Status: 200, Body: emptyList}, nil
	}
	return p.upstream.List(ctx, ListParams(query, caller))
}

// ListParams builds the provider query for a caller's search.
func ListParams(query url.Values, caller Caller) url.Values {
	params := url.Values{}
	for _, name := range listParams {
		value := query.Get(name)
		if value == "" {
			value = listDefaults[name]
		}
		if value != "" {
			params.Set(name, value)
		}
	}
	params.Set(senderParam, caller.Email)
	return params
}

// Retrieve returns a sent message's details. Provider errors pass through;
// messages sent by anyone other than caller yield ErrNotFound.
func (p *Proxy) Retrieve(ctx context.Context, caller Caller, messageID string) (UpstreamResponse, error) {
	resp, err := p.upstream.Retrieve(ctx, messageID)
	if err != nil {
		return UpstreamResponse{}, err
	}
	if !resp.OK() {
		return resp, nil
	}
	if !sentBy(resp.Body, caller) {
		return UpstreamResponse{}, ErrNotFound
	}
	return resp, nil
}
