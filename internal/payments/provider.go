// Package payments abstracts the payment service provider behind a
// small session-oriented contract so the checkout orchestrator never
// touches PSP types directly.
package payments

import (
	"context"
	"time"
)

// LineItem describes one checkout line as presented to the PSP.
type LineItem struct {
	Name string
	SKU  string
	// UnitAmount is the unit price in cents.
	UnitAmount int64
	Quantity   int64
}

// SessionRequest carries everything needed to open a checkout session.
type SessionRequest struct {
	UserID         string
	Currency       string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	Metadata       map[string]string
	Items          []LineItem
}

// Session is the PSP's reference for a created checkout session.
type Session struct {
	ID          string
	IntentID    string
	RedirectURL string
	ExpiresAt   time.Time
}

// Provider is the PSP adapter contract.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error)
}
