package domain

import "time"

// OrderCompletedEvent is published after a confirmed payment has been
// reconciled into an order, keyed by order id.
type OrderCompletedEvent struct {
	OrderID          string      `json:"order_id"`
	UserID           string      `json:"user_id"`
	Status           OrderStatus `json:"status"`
	Total            int64       `json:"total"`
	Items            []OrderItem `json:"items"`
	PaymentSessionID string      `json:"payment_session_id"`
	Timestamp        time.Time   `json:"timestamp"`
}
