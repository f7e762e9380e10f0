// Command webhook replays Postmark-style inbound deliveries against a running
// mailbridge and prints each user's inbox afterwards.
//
// Create the users first:
//
//	mailbridge adduser -username test1 -email test1@mailbridge.dev -password test1
//	mailbridge adduser -username test2 -email test2@mailbridge.dev -password test2
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type inboxResponse struct {
	Count   int `json:"count"`
	Results []struct {
		ID        string `json:"id"`
		MessageID string `json:"message_id"`
		Subject   string `json:"subject"`
	} `json:"results"`
}

func main() {
	baseURL := getenvDefault("MAILBRIDGE_URL", "http://localhost:3025")
	hookUser := getenvDefault("POSTMARK_WEBHOOK_USERNAME", "postmark")
	hookPass := getenvDefault("POSTMARK_WEBHOOK_PASSWORD", "postmark")

	client := &http.Client{Timeout: 10 * time.Second}
	users := []struct{ username, password, email string }{
		{"test1", "test1", "test1@mailbridge.dev"},
		{"test2", "test2", "test2@mailbridge.dev"},
	}

	messageID := fmt.Sprintf("example-%d", time.Now().UnixNano())
	payload := map[string]any{
		"MessageID": messageID,
		"From":      "sender@example.com",
		"FromFull":  map[string]string{"Email": "sender@example.com", "Name": "Example Sender"},
		"To":        users[0].email + ", " + users[1].email,
		"ToFull": []map[string]string{
			{"Email": users[0].email, "Name": "Test One"},
			{"Email": users[1].email, "Name": "Test Two"},
		},
		"Subject":  "Hello from the webhook example",
		"TextBody": "One provider message, one copy per recipient.",
		"Date":     time.Now().Format(time.RFC1123Z),
		"Headers":  []map[string]string{{"Name": "X-Example", "Value": "yes"}},
	}

	// The second delivery is a provider retry and must not add copies.
	for attempt := 1; attempt <= 2; attempt++ {
		status := postWebhook(client, baseURL, hookUser, hookPass, payload)
		fmt.Printf("delivery %d of %s: HTTP %d\n", attempt, messageID, status)
	}

	for _, user := range users {
		token := login(client, baseURL, user.username, user.password)
		inbox := listInbox(client, baseURL, token)
		fmt.Printf("%s has %d message(s)\n", user.email, inbox.Count)
		for _, message := range inbox.Results {
			fmt.Printf("- %s %s %q\n", message.ID, message.MessageID, message.Subject)
		}
	}
}

func postWebhook(client *http.Client, baseURL, username, password string, payload any) int {
	body, err := json.Marshal(payload)
	must(err)
	req, err := http.NewRequest(http.MethodPost, baseURL+"/webhooks/postmark/inbound/", bytes.NewReader(body))
	must(err)
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(username, password)
	resp, err := client.Do(req)
	must(err)
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func login(client *http.Client, baseURL, username, password string) string {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	must(err)
	resp, err := client.Post(baseURL+"/api/login", "application/json", bytes.NewReader(body))
	must(err)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fail("login %s: HTTP %d", username, resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	must(json.NewDecoder(resp.Body).Decode(&out))
	return out.Token
}

func listInbox(client *http.Client, baseURL, token string) inboxResponse {
	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/inbound-emails/", nil)
	must(err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	must(err)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fail("list inbox: HTTP %d", resp.StatusCode)
	}
	var out inboxResponse
	must(json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func must(err error) {
	if err != nil {
		fail("%v", err)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
