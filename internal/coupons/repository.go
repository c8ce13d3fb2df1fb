package coupons

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/commercekit/storefront/internal/domain"
)

var (
	ErrNotFound = errors.New("coupon not found")
	// ErrExhausted means the usage cap was hit before this redemption
	// could be recorded.
	ErrExhausted = errors.New("coupon usage limit reached")
	ErrConflict  = errors.New("coupon update conflict")
)

const redeemAttempts = 3

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create stores a coupon with its code uppercased so lookups are
// case-insensitive.
func (r *Repository) Create(ctx context.Context, coupon *domain.Coupon) error {
	if coupon.ID == "" {
		coupon.ID = uuid.New().String()
	}
	coupon.Code = strings.ToUpper(strings.TrimSpace(coupon.Code))

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO coupons (id, code, discount_percent, expires_at, active, user_id, max_uses, current_uses, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0)
	`, coupon.ID, coupon.Code, coupon.DiscountPercent, coupon.ExpiresAt,
		coupon.Active, coupon.UserID, coupon.MaxUses, coupon.CurrentUses)
	return err
}

func (r *Repository) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	coupon := &domain.Coupon{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, code, discount_percent, expires_at, active, user_id, max_uses, current_uses
		FROM coupons
		WHERE code = $1
	`, strings.ToUpper(strings.TrimSpace(code))).Scan(&coupon.ID, &coupon.Code,
		&coupon.DiscountPercent, &coupon.ExpiresAt, &coupon.Active,
		&coupon.UserID, &coupon.MaxUses, &coupon.CurrentUses)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return coupon, nil
}

// Redeem increments the usage counter under the same versioned
// compare-and-swap discipline as stock writes, deactivating the coupon
// when the cap is reached.
func (r *Repository) Redeem(ctx context.Context, code string) (*domain.Coupon, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	for attempt := 0; attempt < redeemAttempts; attempt++ {
		coupon := &domain.Coupon{}
		var version int64
		err := r.db.QueryRowContext(ctx, `
			SELECT id, code, discount_percent, expires_at, active, user_id, max_uses, current_uses, version
			FROM coupons
			WHERE code = $1
		`, code).Scan(&coupon.ID, &coupon.Code, &coupon.DiscountPercent,
			&coupon.ExpiresAt, &coupon.Active, &coupon.UserID,
			&coupon.MaxUses, &coupon.CurrentUses, &version)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, ErrNotFound
			}
			return nil, err
		}

		if coupon.MaxUses != nil && coupon.CurrentUses >= *coupon.MaxUses {
			return nil, ErrExhausted
		}

		newUses := coupon.CurrentUses + 1
		active := coupon.Active
		if coupon.MaxUses != nil && newUses >= *coupon.MaxUses {
			active = false
		}

		result, err := r.db.ExecContext(ctx, `
			UPDATE coupons SET current_uses = $1, active = $2, version = version + 1
			WHERE id = $3 AND version = $4
		`, newUses, active, coupon.ID, version)
		if err != nil {
			return nil, err
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return nil, err
		}
		if rowsAffected == 1 {
			coupon.CurrentUses = newUses
			coupon.Active = active
			return coupon, nil
		}
	}

	return nil, ErrConflict
}

// Deactivate turns a coupon off; expired single-use codes end up here.
func (r *Repository) Deactivate(ctx context.Context, code string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE coupons SET active = FALSE, version = version + 1
		WHERE code = $1
	`, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Release detaches a coupon from its owning user, turning a user-scoped
// code into a general-use one.
func (r *Repository) Release(ctx context.Context, code string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE coupons SET user_id = NULL, version = version + 1
		WHERE code = $1
	`, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
