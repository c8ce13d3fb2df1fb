// Package worker consumes order lifecycle events and drives customer
// notifications through the email service.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/commercekit/storefront/internal/domain"
)

type NotificationHandler struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewNotificationHandler(emailServiceURL string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		logger:          logger,
	}
}

// Handle processes one order.completed event. Returning an error leaves
// the message uncommitted so the consumer redelivers it.
func (h *NotificationHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderCompletedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order completed event: %w", err)
	}

	h.logger.Info("processing order completed event",
		"order_id", event.OrderID, "user_id", event.UserID, "status", event.Status)

	var subject, body string
	switch event.Status {
	case domain.OrderStatusPendingInventory:
		subject = "Order Received: " + event.OrderID
		body = fmt.Sprintf(
			"Your payment for order %s was received. Some items are temporarily out of stock; we will ship as soon as they are available.",
			event.OrderID)
	default:
		subject = "Order Confirmation: " + event.OrderID
		body = fmt.Sprintf("Your order %s has been confirmed. Total charged: $%d.%02d.",
			event.OrderID, event.Total/100, event.Total%100)
	}

	if err := h.sendEmail(ctx, map[string]string{
		"to":      event.UserID + "@example.com",
		"subject": subject,
		"body":    body,
	}); err != nil {
		h.logger.Error("failed to send order email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send order email: %w", err)
	}

	h.logger.Info("order notification sent", "order_id", event.OrderID)
	return nil
}

func (h *NotificationHandler) sendEmail(ctx context.Context, body map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
