package inbound

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.io/infrasutra/mailbridge/internal/config"
	"github.io/infrasutra/mailbridge/internal/store"
)

const (
	webhookUser = "postmark"
	webhookPass = "s3cret"
)

var samplePayload = map[string]any{
	"FromName": "Postmarkapp Support",
	"From":     "support@postmarkapp.com",
	"FromFull": map[string]any{
		"Email":       "support@postmarkapp.com",
		"Name":        "Postmarkapp Support",
		"MailboxHash": "",
	},
	"To": `"Firstname Lastname" <yourhash+SampleHash@inbound.postmarkapp.com>`,
	"ToFull": []map[string]any{
		{"Email": "yourhash+SampleHash@inbound.postmarkapp.com", "Name": "Firstname Lastname", "MailboxHash": "SampleHash"},
	},
	"Cc":                "cc@example.com",
	"Bcc":               "",
	"Subject":           "Test subject",
	"MessageID":         "73e6d360-66eb-11e1-8e72-a8904824019b",
	"MailboxHash":       "SampleHash",
	"Date":              "Fri, 1 Aug 2014 16:45:32 -04:00",
	"TextBody":          "This is a test text body.",
	"HtmlBody":          "<html><body><p>This is a test html body.</p></body></html>",
	"StrippedTextReply": "This is the reply text",
	"Tag":               "TestTag",
	"Headers": []map[string]string{
		{"Name": "X-Header-Test", "Value": ""},
		{"Name": "X-Spam-Status", "Value": "No"},
	},
}

func withFields(base map[string]any, fields map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(fields))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func recipients(emails ...string) []map[string]any {
	out := make([]map[string]any, 0, len(emails))
	for _, email := range emails {
		out = append(out, map[string]any{"Email": email, "Name": "", "MailboxHash": ""})
	}
	return out
}

type recordingNotifier struct {
	mu        sync.Mutex
	delivered []store.StoredMessage
}

func (n *recordingNotifier) Delivered(_ context.Context, messages []store.StoredMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered = append(n.delivered, messages...)
}

type testEnv struct {
	store    *store.Store
	handler  *Handler
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T, cfg config.PostmarkConfig) *testEnv {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	notifier := &recordingNotifier{}
	return &testEnv{
		store:    s,
		handler:  NewHandler(cfg, s, notifier, slog.New(slog.DiscardHandler)),
		notifier: notifier,
	}
}

func configured() config.PostmarkConfig {
	return config.PostmarkConfig{WebhookUsername: webhookUser, WebhookPassword: webhookPass}
}

func (e *testEnv) user(t *testing.T, username, email string) store.User {
	t.Helper()
	user := store.User{Username: username, Email: email, PasswordHash: "x"}
	if err := e.store.CreateUser(context.Background(), &user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func (e *testEnv) post(t *testing.T, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return e.postRaw(body, webhookUser, webhookPass)
}

func (e *testEnv) postRaw(body []byte, username, password string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/postmark/inbound/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if username != "" || password != "" {
		req.SetBasicAuth(username, password)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) messages(t *testing.T, owner store.User) []store.StoredMessage {
	t.Helper()
	messages, _, err := e.store.ListMessages(context.Background(), owner.ID, "oldest", 0, 100)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return messages
}

func TestWebhook_StoresMappedFields(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, configured())
	owner := env.user(t, "inbox", "yourhash+SampleHash@inbound.postmarkapp.com")

	rec := env.post(t, samplePayload)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body: got %q, want empty", rec.Body.String())
	}

	messages := env.messages(t, owner)
	if len(messages) != 1 {
		t.Fatalf("messages: got %d, want 1", len(messages))
	}
	got := messages[0]
	checks := []struct{ field, got, want string }{
		{"message id", got.ProviderMessageID, "73e6d360-66eb-11e1-8e72-a8904824019b"},
		{"from email", got.FromEmail, "support@postmarkapp.com"},
		{"from name", got.FromName, "Postmarkapp Support"},
		{"to", got.To, `"Firstname Lastname" <yourhash+SampleHash@inbound.postmarkapp.com>`},
		{"cc", got.Cc, "cc@example.com"},
		{"subject", got.Subject, "Test subject"},
		{"text", got.TextBody, "This is a test text body."},
		{"stripped reply", got.StrippedReply, "This is the reply text"},
		{"tag", got.Tag, "TestTag"},
		{"mailbox hash", got.MailboxHash, "SampleHash"},
		{"date", got.ReceivedDate, "Fri, 1 Aug 2014 16:45:32 -04:00"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %q, want %q", c.field, c.got, c.want)
		}
	}
	if len(got.Headers) != 2 || got.Headers[1] != (store.Header{Name: "X-Spam-Status", Value: "No"}) {
		t.Errorf("headers: got %+v", got.Headers)
	}

	var raw map[string]any
	if err := json.Unmarshal(got.RawPayload, &raw); err != nil {
		t.Fatalf("raw payload: %v", err)
	}
	if raw["FromName"] != "Postmarkapp Support" {
		t.Errorf("raw payload should keep unmapped fields, got %v", raw["FromName"])
	}

	if len(env.notifier.delivered) != 1 || env.notifier.delivered[0].ID != got.ID {
		t.Errorf("notifier: got %d messages", len(env.notifier.delivered))
	}
}

func TestWebhook_Idempotent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, configured())
	owner := env.user(t, "inbox", "yourhash+SampleHash@inbound.postmarkapp.com")

	for i := 0; i < 2; i++ {
		if rec := env.post(t, samplePayload); rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status %d", i+1, rec.Code)
		}
	}
	if got := len(env.messages(t, owner)); got != 1 {
		t.Errorf("messages: got %d, want 1", got)
	}
	if got := len(env.notifier.delivered); got != 1 {
		t.Errorf("notifications: got %d, want 1", got)
	}
}

func TestWebhook_FanOut(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, configured())
	a := env.user(t, "a", "a@test.com")
	b := env.user(t, "b", "b@test.com")

	payload := withFields(samplePayload, map[string]any{
		"MessageID": "multi-1",
		"ToFull":    recipients("a@test.com", "b@test.com"),
	})
	if rec := env.post(t, payload); rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	for _, owner := range []store.User{a, b} {
		messages := env.messages(t, owner)
		if len(messages) != 1 || messages[0].ProviderMessageID != "multi-1" {
			t.Errorf("user %s: got %d messages", owner.Username, len(messages))
		}
	}
}

func TestWebhook_PartialRedelivery(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, configured())
	a := env.user(t, "a", "a@test.com")
	b := env.user(t, "b", "b@test.com")

	first := withFields(samplePayload, map[string]any{
		"MessageID": "redelivery-1",
		"ToFull":    recipients("a@test.com"),
	})
	if rec := env.post(t, first); rec.Code != http.StatusOK {
		t.Fatalf("first delivery: status %d", rec.Code)
	}

	second := withFields(first, map[string]any{"ToFull": recipients("a@test.com", "b@test.com")})
	if rec := env.post(t, second); rec.Code != http.StatusOK {
		t.Fatalf("redelivery: status %d", rec.Code)
	}

	if got := len(env.messages(t, a)); got != 1 {
		t.Errorf("user a: got %d messages, want 1", got)
	}
	if got := len(env.messages(t, b)); got != 1 {
		t.Errorf("user b: got %d messages, want 1", got)
	}
}

func TestWebhook_NoMatchBounces(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, configured())
	other := env.user(t, "other", "other@test.com")

	rec := env.post(t, samplePayload)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusForbidden)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body: got %q, want empty", rec.Body.String())
	}
	if got := len(env.messages(t, other)); got != 0 {
		t.Errorf("messages: got %d, want 0", got)
	}
}

func TestWebhook_MatchIsCaseSensitive(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, configured())
	env.user(t, "upper", "A@Test.com")

	payload := map[string]any{"MessageID": "case-1", "ToFull": recipients("a@test.com")}
	if rec := env.post(t, payload); rec.Code != http.StatusForbidden {
		t.Errorf("status: got %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestWebhook_RawToFallback(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, configured())
	owner := env.user(t, "minuser", "a@b.com")

	payload := map[string]any{"MessageID": "minimal-1", "From": "sender@x.com", "To": "a@b.com"}
	if rec := env.post(t, payload); rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	messages := env.messages(t, owner)
	if len(messages) != 1 {
		t.Fatalf("messages: got %d, want 1", len(messages))
	}
	if messages[0].FromEmail != "sender@x.com" {
		t.Errorf("from email: got %q, want %q", messages[0].FromEmail, "sender@x.com")
	}
	if messages[0].Subject != "" || len(messages[0].Headers) != 0 {
		t.Errorf("absent fields should default empty, got subject %q headers %v", messages[0].Subject, messages[0].Headers)
	}

	multi := map[string]any{"MessageID": "minimal-2", "To": "a@b.com, c@d.com"}
	if rec := env.post(t, multi); rec.Code != http.StatusForbidden {
		t.Errorf("comma-joined raw To: got %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestWebhook_EmptyMessageIDNeverMerged(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, configured())
	owner := env.user(t, "a", "a@test.com")

	payload := map[string]any{"MessageID": "", "ToFull": recipients("a@test.com")}
	for i := 0; i < 2; i++ {
		if rec := env.post(t, payload); rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status %d", i+1, rec.Code)
		}
	}
	if got := len(env.messages(t, owner)); got != 2 {
		t.Errorf("messages: got %d, want 2", got)
	}
}

type racingStore struct {
	*store.Store
}

// OwnersWithMessage hides existing copies, as if another delivery committed
// between the check and the insert.
func (racingStore) OwnersWithMessage(context.Context, string, []int64) (map[int64]struct{}, error) {
	return map[int64]struct{}{}, nil
}

func TestWebhook_ConcurrentDuplicateAbsorbed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, configured())
	owner := env.user(t, "a", "a@test.com")
	env.handler = NewHandler(configured(), racingStore{env.store}, env.notifier, slog.New(slog.DiscardHandler))

	payload := map[string]any{"MessageID": "race-1", "ToFull": recipients("a@test.com")}
	for i := 0; i < 2; i++ {
		if rec := env.post(t, payload); rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status %d", i+1, rec.Code)
		}
	}
	if got := len(env.messages(t, owner)); got != 1 {
		t.Errorf("messages: got %d, want 1", got)
	}
	if got := len(env.notifier.delivered); got != 1 {
		t.Errorf("notifications: got %d, want 1", got)
	}
}

func TestWebhook_Authentication(t *testing.T) {
	t.Parallel()

	body, _ := json.Marshal(samplePayload)
	tests := []struct {
		name     string
		cfg      config.PostmarkConfig
		username string
		password string
	}{
		{name: "missing credentials", cfg: configured()},
		{name: "wrong password", cfg: configured(), username: webhookUser, password: "nope"},
		{name: "wrong username", cfg: configured(), username: "someone", password: webhookPass},
		{name: "empty configured password", cfg: config.PostmarkConfig{WebhookUsername: webhookUser}, username: webhookUser, password: ""},
		{name: "empty configured username", cfg: config.PostmarkConfig{WebhookPassword: webhookPass}, username: "", password: webhookPass},
		{name: "nothing configured", cfg: config.PostmarkConfig{}, username: "any", password: "thing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, tt.cfg)
			owner := env.user(t, "inbox", "yourhash+SampleHash@inbound.postmarkapp.com")

			rec := env.postRaw(body, tt.username, tt.password)
			if rec.Code != http.StatusForbidden {
				t.Fatalf("status: got %d, want %d", rec.Code, http.StatusForbidden)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != `{"error":"Unauthorized"}` {
				t.Errorf("body: got %q", got)
			}
			if got := len(env.messages(t, owner)); got != 0 {
				t.Errorf("messages: got %d, want 0", got)
			}
		})
	}
}

func TestWebhook_MalformedPayload(t *testing.T) {
	t.Parallel()

	bodies := map[string][]byte{
		"truncated json": []byte(`{"MessageID": "x"`),
		"not json":       []byte("hello"),
		"invalid utf8":   []byte("{\"Subject\":\"\xc3\x28\"}"),
		"array body":     []byte(`[{"To": "a@b.com"}]`),
		"string body":    []byte(`"a@b.com"`),
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, configured())
			rec := env.postRaw(body, webhookUser, webhookPass)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status: got %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != `{"error":"Invalid JSON"}` {
				t.Errorf("body: got %q", got)
			}
		})
	}
}

func TestWebhook_MismatchedFieldTypeIgnored(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, configured())
	owner := env.user(t, "typed", "typed@test.com")

	body := []byte(`{"MessageID": "typed-1", "To": 42, "Subject": ["x"], "ToFull": [{"Email": "typed@test.com"}]}`)
	if rec := env.postRaw(body, webhookUser, webhookPass); rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	messages := env.messages(t, owner)
	if len(messages) != 1 {
		t.Fatalf("messages: got %d, want 1", len(messages))
	}
	if messages[0].To != "" || messages[0].Subject != "" {
		t.Errorf("mistyped fields should be empty, got to %q subject %q", messages[0].To, messages[0].Subject)
	}

	// Nothing left to route on: bounce rather than ask for a retry.
	if rec := env.postRaw([]byte(`{"To": 42}`), webhookUser, webhookPass); rec.Code != http.StatusForbidden {
		t.Errorf("unroutable mistyped payload: got %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestWebhook_PayloadTooLarge(t *testing.T) {
	t.Parallel()

	cfg := configured()
	cfg.WebhookMaxBytes = 16
	env := newTestEnv(t, cfg)
	rec := env.postRaw([]byte(`{"Subject":"this body is longer than sixteen bytes"}`), webhookUser, webhookPass)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status: got %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, configured())
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/webhooks/postmark/inbound/", nil)
		req.SetBasicAuth(webhookUser, webhookPass)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: got %d, want %d", method, rec.Code, http.StatusMethodNotAllowed)
		}
	}
}
