package cart

import (
	"context"
	"database/sql"

	"github.com/commercekit/storefront/internal/domain"
)

// nilVariant stands in for "no variant" inside the cart_items primary
// key, which cannot contain NULL.
const nilVariant = "00000000-0000-0000-0000-000000000000"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, variant_id, quantity
		FROM cart_items
		WHERE user_id = $1
		ORDER BY product_id, variant_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cart := &domain.Cart{UserID: userID, Lines: []domain.CartLine{}}
	for rows.Next() {
		var line domain.CartLine
		var variantID string
		if err := rows.Scan(&line.ProductID, &variantID, &line.Quantity); err != nil {
			return nil, err
		}
		if variantID != nilVariant {
			line.VariantID = &variantID
		}
		cart.Lines = append(cart.Lines, line)
	}

	return cart, rows.Err()
}

// SetLine upserts a cart line; a zero quantity removes it.
func (r *Repository) SetLine(ctx context.Context, userID string, line domain.CartLine) error {
	variantID := nilVariant
	if line.VariantID != nil {
		variantID = *line.VariantID
	}

	if line.Quantity <= 0 {
		_, err := r.db.ExecContext(ctx, `
			DELETE FROM cart_items
			WHERE user_id = $1 AND product_id = $2 AND variant_id = $3
		`, userID, line.ProductID, variantID)
		return err
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cart_items (user_id, product_id, variant_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id, variant_id)
		DO UPDATE SET quantity = EXCLUDED.quantity
	`, userID, line.ProductID, variantID, line.Quantity)
	return err
}

func (r *Repository) Clear(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	return err
}
