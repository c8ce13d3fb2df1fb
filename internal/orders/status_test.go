package orders

import (
	"errors"
	"strings"
	"testing"

	"github.com/commercekit/storefront/internal/domain"
)

var allStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusPendingInventory,
	domain.OrderStatusCompleted,
	domain.OrderStatusCancelled,
	domain.OrderStatusRefunded,
}

func TestIsValidTransition(t *testing.T) {
	valid := map[domain.OrderStatus][]domain.OrderStatus{
		domain.OrderStatusPending:          {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
		domain.OrderStatusPendingInventory: {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
		domain.OrderStatusCompleted:        {domain.OrderStatusRefunded},
		domain.OrderStatusCancelled:        {domain.OrderStatusPending},
		domain.OrderStatusRefunded:         {},
	}

	for _, from := range allStatuses {
		allowed := map[domain.OrderStatus]bool{}
		for _, to := range valid[from] {
			allowed[to] = true
		}
		for _, to := range allStatuses {
			got := IsValidTransition(from, to)
			if got != allowed[to] {
				t.Errorf("IsValidTransition(%s, %s) = %v, want %v", from, to, got, allowed[to])
			}
		}
	}
}

func TestValidateTransition(t *testing.T) {
	t.Run("valid pairs return nil", func(t *testing.T) {
		if err := ValidateTransition(domain.OrderStatusPending, domain.OrderStatusCompleted); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
		if err := ValidateTransition(domain.OrderStatusCancelled, domain.OrderStatusPending); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("every invalid pair carries a message", func(t *testing.T) {
		for _, from := range allStatuses {
			for _, to := range allStatuses {
				if IsValidTransition(from, to) {
					continue
				}
				err := ValidateTransition(from, to)
				if err == nil {
					t.Errorf("ValidateTransition(%s, %s) = nil, want error", from, to)
					continue
				}
				var te *TransitionError
				if !errors.As(err, &te) {
					t.Errorf("ValidateTransition(%s, %s) returned %T, want *TransitionError", from, to, err)
					continue
				}
				if te.Message == "" {
					t.Errorf("ValidateTransition(%s, %s) has empty message", from, to)
				}
			}
		}
	})

	t.Run("completed to cancelled names the rule", func(t *testing.T) {
		err := ValidateTransition(domain.OrderStatusCompleted, domain.OrderStatusCancelled)
		if err == nil || !strings.Contains(err.Error(), "cannot cancel a completed order") {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("refunded is terminal", func(t *testing.T) {
		err := ValidateTransition(domain.OrderStatusRefunded, domain.OrderStatusPending)
		if err == nil || !strings.Contains(err.Error(), "final status") {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("generic message lists valid next states", func(t *testing.T) {
		err := ValidateTransition(domain.OrderStatusCancelled, domain.OrderStatusCompleted)
		if err == nil || !strings.Contains(err.Error(), "valid next states are pending") {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		if err := ValidateTransition("shipped", domain.OrderStatusCompleted); err == nil {
			t.Error("expected error for unknown status")
		}
	})
}

func TestPartitionTransitions(t *testing.T) {
	reqs := []TransitionRequest{
		{OrderID: "a", From: domain.OrderStatusPending, To: domain.OrderStatusCompleted},
		{OrderID: "b", From: domain.OrderStatusCompleted, To: domain.OrderStatusCancelled},
		{OrderID: "c", From: domain.OrderStatusPendingInventory, To: domain.OrderStatusCancelled},
	}

	valid, invalid := PartitionTransitions(reqs)

	if len(valid) != 2 {
		t.Fatalf("expected 2 valid, got %d", len(valid))
	}
	if valid[0].OrderID != "a" || valid[1].OrderID != "c" {
		t.Errorf("unexpected valid set: %+v", valid)
	}
	if len(invalid) != 1 {
		t.Fatalf("expected 1 invalid, got %d", len(invalid))
	}
	if invalid[0].OrderID != "b" || invalid[0].Message == "" {
		t.Errorf("unexpected invalid entry: %+v", invalid[0])
	}
}
