package orders

import (
	"fmt"
	"sort"
	"strings"

	"github.com/commercekit/storefront/internal/domain"
)

// statusTransitions maps each order status to the set of statuses it may
// legally move to. Statuses absent from a set are rejected.
var statusTransitions = map[domain.OrderStatus]map[domain.OrderStatus]bool{
	domain.OrderStatusPending: {
		domain.OrderStatusCompleted: true,
		domain.OrderStatusCancelled: true,
	},
	domain.OrderStatusPendingInventory: {
		domain.OrderStatusCompleted: true,
		domain.OrderStatusCancelled: true,
	},
	domain.OrderStatusCompleted: {
		domain.OrderStatusRefunded: true,
	},
	domain.OrderStatusCancelled: {
		domain.OrderStatusPending: true,
	},
	domain.OrderStatusRefunded: {},
}

// TransitionError reports an illegal order status change with a
// business-rule message.
type TransitionError struct {
	From    domain.OrderStatus
	To      domain.OrderStatus
	Message string
}

func (e *TransitionError) Error() string {
	return e.Message
}

// IsValidTransition reports whether from may move to to. Both statuses
// must be known; unknown statuses are never valid.
func IsValidTransition(from, to domain.OrderStatus) bool {
	next, ok := statusTransitions[from]
	return ok && next[to]
}

// ValidateTransition returns nil for a legal change and a
// *TransitionError explaining the rejection otherwise.
func ValidateTransition(from, to domain.OrderStatus) error {
	if IsValidTransition(from, to) {
		return nil
	}

	msg := transitionMessage(from, to)
	return &TransitionError{From: from, To: to, Message: msg}
}

func transitionMessage(from, to domain.OrderStatus) string {
	switch {
	case from == domain.OrderStatusCompleted && to == domain.OrderStatusCancelled:
		return "cannot cancel a completed order; refund it instead"
	case from == domain.OrderStatusRefunded:
		return "refunded is a final status; no further transitions are allowed"
	case from == domain.OrderStatusPending && to == domain.OrderStatusRefunded,
		from == domain.OrderStatusPendingInventory && to == domain.OrderStatusRefunded:
		return "cannot refund an order that was never completed"
	}

	next, ok := statusTransitions[from]
	if !ok {
		return fmt.Sprintf("unknown order status %q", from)
	}
	if len(next) == 0 {
		return fmt.Sprintf("%s is a final status; no further transitions are allowed", from)
	}

	allowed := make([]string, 0, len(next))
	for s := range next {
		allowed = append(allowed, string(s))
	}
	sort.Strings(allowed)
	return fmt.Sprintf("invalid transition %s -> %s; valid next states are %s",
		from, to, strings.Join(allowed, ", "))
}

// TransitionRequest names one requested status change, typically from an
// admin bulk operation.
type TransitionRequest struct {
	OrderID string             `json:"order_id"`
	From    domain.OrderStatus `json:"from"`
	To      domain.OrderStatus `json:"to"`
}

// InvalidTransition pairs a rejected request with its message.
type InvalidTransition struct {
	TransitionRequest
	Message string `json:"message"`
}

// PartitionTransitions splits reqs into valid and invalid requests. It
// validates only; no transition is applied.
func PartitionTransitions(reqs []TransitionRequest) (valid []TransitionRequest, invalid []InvalidTransition) {
	for _, req := range reqs {
		if err := ValidateTransition(req.From, req.To); err != nil {
			invalid = append(invalid, InvalidTransition{
				TransitionRequest: req,
				Message:           err.Error(),
			})
			continue
		}
		valid = append(valid, req)
	}
	return valid, invalid
}
