package checkout

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/commercekit/storefront/internal/cart"
)

// Snapshot freezes the priced contents of a checkout session at creation
// time. Confirmation trusts the snapshot, not the live cart, so later
// cart edits cannot change what the customer paid for.
type Snapshot struct {
	SessionID  string            `json:"session_id"`
	UserID     string            `json:"user_id"`
	CouponCode *string           `json:"coupon_code,omitempty"`
	Lines      []cart.PricedLine `json:"lines"`
	Subtotal   int64             `json:"subtotal"`
	Discount   int64             `json:"discount"`
	Total      int64             `json:"total"`
	CreatedAt  time.Time         `json:"created_at"`
}

type SnapshotRepository struct {
	db *sql.DB
}

func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

func (r *SnapshotRepository) Save(ctx context.Context, snap *Snapshot) error {
	lines, err := json.Marshal(snap.Lines)
	if err != nil {
		return fmt.Errorf("marshal session lines: %w", err)
	}

	query := `
		INSERT INTO checkout_sessions (session_id, user_id, coupon_code, lines, subtotal_cents, discount_cents, total_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(ctx, query,
		snap.SessionID, snap.UserID, snap.CouponCode, lines,
		snap.Subtotal, snap.Discount, snap.Total, snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save checkout session: %w", err)
	}
	return nil
}

// Get returns nil with no error when the session id is unknown; the
// caller decides how to treat a missing snapshot.
func (r *SnapshotRepository) Get(ctx context.Context, sessionID string) (*Snapshot, error) {
	query := `
		SELECT session_id, user_id, coupon_code, lines, subtotal_cents, discount_cents, total_cents, created_at
		FROM checkout_sessions
		WHERE session_id = $1
	`
	var (
		snap  Snapshot
		lines []byte
	)
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&snap.SessionID, &snap.UserID, &snap.CouponCode, &lines,
		&snap.Subtotal, &snap.Discount, &snap.Total, &snap.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	if err := json.Unmarshal(lines, &snap.Lines); err != nil {
		return nil, fmt.Errorf("unmarshal session lines: %w", err)
	}
	return &snap, nil
}
