package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/commercekit/storefront/internal/domain"
)

var ErrNotFound = errors.New("product not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a product and its variants in one transaction. The
// unique index on (product_id, attributes) rejects duplicate attribute
// combinations.
func (r *Repository) Create(ctx context.Context, product *domain.Product) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, name, price_cents, stock, version, created_at)
		VALUES ($1, $2, $3, $4, 0, $5)
	`, product.ID, product.Name, product.Price, product.Stock, product.CreatedAt)
	if err != nil {
		return err
	}

	for i := range product.Variants {
		variant := &product.Variants[i]
		if variant.ID == "" {
			variant.ID = uuid.New().String()
		}
		variant.ProductID = product.ID

		attrs, err := json.Marshal(variant.Attributes)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO product_variants (id, product_id, attributes, price_cents, stock, version)
			VALUES ($1, $2, $3, $4, $5, 0)
		`, variant.ID, product.ID, attrs, variant.Price, variant.Stock)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	product := &domain.Product{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, price_cents, stock, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.Price, &product.Stock, &product.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := r.loadVariants(ctx, product); err != nil {
		return nil, err
	}

	return product, nil
}

func (r *Repository) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, price_cents, stock, created_at
		FROM products
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	productMap := make(map[string]*domain.Product)
	var productIDs []string

	for rows.Next() {
		var product domain.Product
		if err := rows.Scan(&product.ID, &product.Name, &product.Price, &product.Stock, &product.CreatedAt); err != nil {
			return nil, err
		}
		productMap[product.ID] = &product
		productIDs = append(productIDs, product.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(productIDs) == 0 {
		return []domain.Product{}, nil
	}

	variantRows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, attributes, price_cents, stock
		FROM product_variants
		WHERE product_id = ANY($1)
	`, pq.Array(productIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = variantRows.Close() }()

	for variantRows.Next() {
		variant, err := scanVariant(variantRows)
		if err != nil {
			return nil, err
		}
		product := productMap[variant.ProductID]
		product.Variants = append(product.Variants, *variant)
	}

	if err := variantRows.Err(); err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(productIDs))
	for _, id := range productIDs {
		products = append(products, *productMap[id])
	}

	return products, nil
}

func (r *Repository) loadVariants(ctx context.Context, product *domain.Product) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, attributes, price_cents, stock
		FROM product_variants
		WHERE product_id = $1
	`, product.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		variant, err := scanVariant(rows)
		if err != nil {
			return err
		}
		product.Variants = append(product.Variants, *variant)
	}

	return rows.Err()
}

func scanVariant(rows *sql.Rows) (*domain.Variant, error) {
	variant := &domain.Variant{}
	var attrs []byte
	if err := rows.Scan(&variant.ID, &variant.ProductID, &attrs, &variant.Price, &variant.Stock); err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &variant.Attributes); err != nil {
			return nil, err
		}
	}
	return variant, nil
}
