package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending          OrderStatus = "pending"
	OrderStatusPendingInventory OrderStatus = "pending_inventory"
	OrderStatusCompleted        OrderStatus = "completed"
	OrderStatusCancelled        OrderStatus = "cancelled"
	OrderStatusRefunded         OrderStatus = "refunded"
)

type OrderItem struct {
	ProductID string  `json:"product_id"`
	VariantID *string `json:"variant_id,omitempty"`
	Quantity  int     `json:"quantity"`
	// Price is the unit price in cents at the time of purchase.
	Price int64 `json:"price"`
}

// StatusChange is one entry in an order's append-only status history.
type StatusChange struct {
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	Actor     string      `json:"actor,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type Order struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	Items            []OrderItem    `json:"items"`
	Subtotal         int64          `json:"subtotal"`
	Discount         int64          `json:"discount"`
	Total            int64          `json:"total"`
	CouponCode       *string        `json:"coupon_code,omitempty"`
	PaymentSessionID string         `json:"payment_session_id,omitempty"`
	PaymentIntentID  string         `json:"payment_intent_id,omitempty"`
	Status           OrderStatus    `json:"status"`
	StatusHistory    []StatusChange `json:"status_history,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
