package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/commercekit/storefront/internal/domain"
)

var (
	// ErrInsufficientStock means the requested delta would drive the
	// counter negative and the reason does not permit clamping.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict means the compare-and-swap retry budget was exhausted
	// under concurrent writers.
	ErrConflict = errors.New("inventory update conflict: retry budget exhausted")
	// ErrInvalidReason rejects reason codes outside the closed set.
	ErrInvalidReason = errors.New("invalid adjustment reason")
)

const (
	maxAttempts = 3
	baseBackoff = 25 * time.Millisecond
)

// AdjustmentRequest asks for a signed delta against one stock counter.
type AdjustmentRequest struct {
	ProductID string                  `json:"product_id"`
	VariantID *string                 `json:"variant_id,omitempty"`
	Delta     int                     `json:"delta"`
	Reason    domain.AdjustmentReason `json:"reason"`
	ActorID   string                  `json:"actor_id"`
	Metadata  map[string]string       `json:"metadata,omitempty"`
}

// BulkResult reports the outcome of one item of a bulk adjustment.
type BulkResult struct {
	Request AdjustmentRequest             `json:"request"`
	Entry   *domain.InventoryHistoryEntry `json:"entry,omitempty"`
	Err     error                         `json:"-"`
}

// Service applies stock adjustments optimistically: read a versioned
// counter, compute the new quantity, and write it with the version as
// predicate, retrying with doubling backoff on contention.
type Service struct {
	store       Store
	logger      *slog.Logger
	sleep       func(time.Duration)
	adjustments metric.Int64Counter
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// InstrumentWith records accepted adjustments on the given counter.
func (s *Service) InstrumentWith(counter metric.Int64Counter) {
	s.adjustments = counter
}

// Available returns the current stock for a product or variant, never
// negative.
func (s *Service) Available(ctx context.Context, productID string, variantID *string) (int, error) {
	rec, err := s.store.GetStock(ctx, productID, variantID)
	if err != nil {
		return 0, err
	}
	if rec.Quantity < 0 {
		return 0, nil
	}
	return rec.Quantity, nil
}

func (s *Service) CheckAvailability(ctx context.Context, productID string, variantID *string, quantity int) (bool, error) {
	available, err := s.Available(ctx, productID, variantID)
	if err != nil {
		return false, err
	}
	return quantity <= available, nil
}

// Adjust applies one signed delta. Every accepted adjustment is
// reflected in the final count (no lost updates) and appends exactly one
// history entry; failed adjustments append nothing.
func (s *Service) Adjust(ctx context.Context, req AdjustmentRequest) (*domain.InventoryHistoryEntry, error) {
	if !domain.ValidAdjustmentReason(req.Reason) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReason, req.Reason)
	}

	if req.Delta == 0 {
		// No stock write, but the touch is still auditable.
		rec, err := s.store.GetStock(ctx, req.ProductID, req.VariantID)
		if err != nil {
			return nil, err
		}
		entry := newHistoryEntry(req, rec.Quantity, rec.Quantity)
		if err := s.store.AppendHistory(ctx, entry); err != nil {
			return nil, err
		}
		return entry, nil
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			s.sleep(baseBackoff << (attempt - 1))
		}

		rec, err := s.store.GetStock(ctx, req.ProductID, req.VariantID)
		if err != nil {
			return nil, err
		}

		newQuantity := rec.Quantity + req.Delta
		if newQuantity < 0 {
			if req.Reason != domain.ReasonManualCorrection {
				return nil, fmt.Errorf("%w: %d available, adjustment %d",
					ErrInsufficientStock, rec.Quantity, req.Delta)
			}
			newQuantity = 0
		}

		entry := newHistoryEntry(req, rec.Quantity, newQuantity)
		ok, err := s.store.CompareAndSwap(ctx, *rec, newQuantity, entry)
		if err != nil {
			return nil, err
		}
		if ok {
			if s.adjustments != nil {
				s.adjustments.Add(ctx, 1)
			}
			s.logger.Info("inventory adjusted",
				"product_id", req.ProductID,
				"adjustment", entry.Adjustment,
				"new_quantity", newQuantity,
				"reason", req.Reason)
			return entry, nil
		}
	}

	return nil, ErrConflict
}

// BulkAdjust applies each request independently. A failing item does not
// roll back its siblings; the caller gets one result per request, in
// order.
func (s *Service) BulkAdjust(ctx context.Context, reqs []AdjustmentRequest) []BulkResult {
	results := make([]BulkResult, 0, len(reqs))
	for _, req := range reqs {
		entry, err := s.Adjust(ctx, req)
		if err != nil {
			s.logger.Warn("bulk adjustment item failed",
				"product_id", req.ProductID, "error", err)
		}
		results = append(results, BulkResult{Request: req, Entry: entry, Err: err})
	}
	return results
}

func (s *Service) History(ctx context.Context, productID string, variantID *string, limit, offset int) ([]domain.InventoryHistoryEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.History(ctx, productID, variantID, limit, offset)
}

func (s *Service) Metrics(ctx context.Context) (*domain.InventoryMetrics, error) {
	return s.store.Metrics(ctx)
}

// Turnover relates units sold over [from, to) to the average stock held
// during the period. When no history rows fall in the range the current
// stock stands in for the average.
func (s *Service) Turnover(ctx context.Context, productID string, variantID *string, from, to time.Time) (*domain.TurnoverReport, error) {
	sold, err := s.store.SalesVolume(ctx, productID, variantID, from, to)
	if err != nil {
		return nil, err
	}

	avg, ok, err := s.store.AverageStock(ctx, productID, variantID, from, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		rec, err := s.store.GetStock(ctx, productID, variantID)
		if err != nil {
			return nil, err
		}
		avg = float64(rec.Quantity)
	}

	report := &domain.TurnoverReport{
		ProductID:    productID,
		VariantID:    variantID,
		From:         from,
		To:           to,
		UnitsSold:    sold,
		AverageStock: avg,
	}
	if avg > 0 {
		report.Turnover = float64(sold) / avg
	}
	return report, nil
}

func newHistoryEntry(req AdjustmentRequest, previous, current int) *domain.InventoryHistoryEntry {
	return &domain.InventoryHistoryEntry{
		ProductID:        req.ProductID,
		VariantID:        req.VariantID,
		PreviousQuantity: previous,
		NewQuantity:      current,
		Adjustment:       current - previous,
		Reason:           req.Reason,
		ActorID:          req.ActorID,
		Metadata:         req.Metadata,
		CreatedAt:        time.Now().UTC(),
	}
}
