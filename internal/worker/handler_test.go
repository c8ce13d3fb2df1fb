package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/commercekit/storefront/internal/domain"
)

func TestHandle(t *testing.T) {
	var sent []map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/send" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var msg map[string]string
		if err := json.Unmarshal(body, &msg); err != nil {
			t.Fatalf("unmarshal email request: %v", err)
		}
		sent = append(sent, msg)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewNotificationHandler(server.URL, server.Client(), logger)

	event := domain.OrderCompletedEvent{
		OrderID:   "order-1",
		UserID:    "user-1",
		Status:    domain.OrderStatusCompleted,
		Total:     3120,
		Timestamp: time.Now(),
	}
	payload, _ := json.Marshal(event)

	if err := handler.Handle(context.Background(), payload); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if len(sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sent))
	}
	if sent[0]["to"] != "user-1@example.com" {
		t.Errorf("to = %q", sent[0]["to"])
	}
	if !strings.Contains(sent[0]["subject"], "Confirmation") {
		t.Errorf("subject = %q, want confirmation", sent[0]["subject"])
	}
	if !strings.Contains(sent[0]["body"], "$31.20") {
		t.Errorf("body = %q, want formatted total", sent[0]["body"])
	}
}

func TestHandle_PendingInventory(t *testing.T) {
	var sent []map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var msg map[string]string
		_ = json.Unmarshal(body, &msg)
		sent = append(sent, msg)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewNotificationHandler(server.URL, server.Client(), logger)

	payload, _ := json.Marshal(domain.OrderCompletedEvent{
		OrderID: "order-2",
		UserID:  "user-1",
		Status:  domain.OrderStatusPendingInventory,
		Total:   900,
	})

	if err := handler.Handle(context.Background(), payload); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if len(sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sent))
	}
	if !strings.Contains(sent[0]["body"], "out of stock") {
		t.Errorf("body = %q, want backorder notice", sent[0]["body"])
	}
}

func TestHandle_EmailFailureReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewNotificationHandler(server.URL, server.Client(), logger)

	payload, _ := json.Marshal(domain.OrderCompletedEvent{OrderID: "order-3", UserID: "user-1"})

	if err := handler.Handle(context.Background(), payload); err == nil {
		t.Fatal("expected error when email service fails")
	}
}
