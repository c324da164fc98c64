package notify

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/watchpost/watchpost/internal/config"
)

func TestTelegramNotifierSendsMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewTelegramNotifier("tok", "42")
	n.baseURL = server.URL

	if err := n.SendAlert("service down", PriorityHigh); err != nil {
		t.Fatalf("SendAlert returned error: %v", err)
	}

	if gotPath != "/bottok/sendMessage" {
		t.Errorf("unexpected request path %q", gotPath)
	}
	if gotBody["chat_id"] != "42" {
		t.Errorf("expected chat_id 42, got %v", gotBody["chat_id"])
	}
	text, _ := gotBody["text"].(string)
	if !strings.Contains(text, "service down") {
		t.Errorf("expected message text in payload, got %q", text)
	}
	if !strings.HasPrefix(text, "🚨") {
		t.Errorf("expected high-priority emoji prefix, got %q", text)
	}
}

func TestSlackNotifierStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewSlackNotifier(server.URL)
	if err := n.SendAlert("msg", PriorityNormal); err == nil {
		t.Fatalf("expected error for non-2xx response")
	}
}

func TestWebhookNotifierPayload(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected JSON content type")
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL)
	if err := n.SendAlert("recovered", PriorityNormal); err != nil {
		t.Fatalf("SendAlert returned error: %v", err)
	}

	if gotBody["message"] != "recovered" {
		t.Errorf("expected message in payload, got %v", gotBody["message"])
	}
	if gotBody["priority"] != "normal" {
		t.Errorf("expected priority normal, got %v", gotBody["priority"])
	}
}

type stubChannel struct {
	calls int
	err   error
}

func (s *stubChannel) SendAlert(string, Priority) error {
	s.calls++
	return s.err
}

func TestMultiNotifierAttemptsAllChannels(t *testing.T) {
	failing := &stubChannel{err: errors.New("boom")}
	working := &stubChannel{}

	n := NewMultiNotifier(nil, failing, working)
	err := n.SendAlert("msg", PriorityHigh)

	if err == nil {
		t.Fatalf("expected first error to be surfaced")
	}
	if failing.calls != 1 || working.calls != 1 {
		t.Fatalf("expected all channels attempted, got %d/%d", failing.calls, working.calls)
	}
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name string
		cfgs []config.NotificationConfig
		want string
	}{
		{"no channels", nil, "notify.NoopNotifier"},
		{"disabled channel", []config.NotificationConfig{{Type: "slack", WebhookURL: "u"}}, "notify.NoopNotifier"},
		{"single telegram", []config.NotificationConfig{{Type: "telegram", Enabled: true, Token: "t", ChatID: "c"}}, "*notify.TelegramNotifier"},
		{"multiple channels", []config.NotificationConfig{
			{Type: "slack", Enabled: true, WebhookURL: "u"},
			{Type: "webhook", Enabled: true, WebhookURL: "u"},
		}, "*notify.MultiNotifier"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := FromConfig(tt.cfgs, nil)
			got := typeName(n)
			if got != tt.want {
				t.Fatalf("FromConfig built %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(v interface{}) string {
	switch v.(type) {
	case NoopNotifier:
		return "notify.NoopNotifier"
	case *TelegramNotifier:
		return "*notify.TelegramNotifier"
	case *SlackNotifier:
		return "*notify.SlackNotifier"
	case *WebhookNotifier:
		return "*notify.WebhookNotifier"
	case *MultiNotifier:
		return "*notify.MultiNotifier"
	}
	return "unknown"
}
