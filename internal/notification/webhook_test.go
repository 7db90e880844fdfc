package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebhookSendPayload(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.Send(context.Background(), Alert{
		Level:   AlertWarning,
		Feed:    "ESU5:1",
		Title:   "feed data outage",
		Message: "5 consecutive bars without usable indicator data",
		Streak:  5,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got.Level != "WARNING" {
		t.Errorf("level = %q, want WARNING", got.Level)
	}
	if got.Feed != "ESU5:1" {
		t.Errorf("feed = %q, want \"ESU5:1\"", got.Feed)
	}
	if got.Streak != 5 {
		t.Errorf("streak = %d, want 5", got.Streak)
	}
	if got.TS == "" {
		t.Error("expected timestamp in payload")
	}
}

func TestWebhookSendBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	if err := n.Send(context.Background(), Alert{Level: AlertInfo, Title: "x"}); err == nil {
		t.Fatal("expected error on 502 response")
	}
}

func TestRenderTelegramText(t *testing.T) {
	text := renderTelegramText(Alert{
		Level:   AlertWarning,
		Feed:    "NQU5:3",
		Title:   "feed data outage",
		Message: "no usable data",
	})
	if !strings.Contains(text, "⚠️") {
		t.Error("warning emoji missing")
	}
	if !strings.Contains(text, "`NQU5:3`") {
		t.Errorf("feed line missing from %q", text)
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	got := escapeMarkdownV2("ESU5:1 (bar #42)")
	want := `ESU5:1 \(bar \#42\)`
	if got != want {
		t.Errorf("escaped = %q, want %q", got, want)
	}
}
