package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/commercekit/storefront/internal/domain"
)

var ErrNotFound = errors.New("product or variant not found")

// StockRecord is a versioned read of one stock counter. The version is
// the predicate for the subsequent compare-and-swap write.
type StockRecord struct {
	ProductID string
	VariantID *string
	Quantity  int
	Version   int64
}

// Store is the persistence contract the adjustment service runs against.
type Store interface {
	GetStock(ctx context.Context, productID string, variantID *string) (*StockRecord, error)
	// CompareAndSwap writes newQuantity and appends entry in one
	// transaction, guarded by rec.Version. Returns false without
	// side effects when the version no longer matches.
	CompareAndSwap(ctx context.Context, rec StockRecord, newQuantity int, entry *domain.InventoryHistoryEntry) (bool, error)
	AppendHistory(ctx context.Context, entry *domain.InventoryHistoryEntry) error
	History(ctx context.Context, productID string, variantID *string, limit, offset int) ([]domain.InventoryHistoryEntry, error)
	Metrics(ctx context.Context) (*domain.InventoryMetrics, error)
	SalesVolume(ctx context.Context, productID string, variantID *string, from, to time.Time) (int, error)
	AverageStock(ctx context.Context, productID string, variantID *string, from, to time.Time) (float64, bool, error)
}

type Repository struct {
	db *sql.DB
}

var _ Store = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetStock(ctx context.Context, productID string, variantID *string) (*StockRecord, error) {
	rec := &StockRecord{ProductID: productID, VariantID: variantID}

	var err error
	if variantID == nil {
		err = r.db.QueryRowContext(ctx, `
			SELECT stock, version FROM products WHERE id = $1
		`, productID).Scan(&rec.Quantity, &rec.Version)
	} else {
		err = r.db.QueryRowContext(ctx, `
			SELECT stock, version FROM product_variants WHERE id = $1 AND product_id = $2
		`, *variantID, productID).Scan(&rec.Quantity, &rec.Version)
	}
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return rec, nil
}

func (r *Repository) CompareAndSwap(ctx context.Context, rec StockRecord, newQuantity int, entry *domain.InventoryHistoryEntry) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var result sql.Result
	if rec.VariantID == nil {
		result, err = tx.ExecContext(ctx, `
			UPDATE products SET stock = $1, version = version + 1
			WHERE id = $2 AND version = $3
		`, newQuantity, rec.ProductID, rec.Version)
	} else {
		result, err = tx.ExecContext(ctx, `
			UPDATE product_variants SET stock = $1, version = version + 1
			WHERE id = $2 AND product_id = $3 AND version = $4
		`, newQuantity, *rec.VariantID, rec.ProductID, rec.Version)
	}
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected == 0 {
		return false, nil
	}

	if err := insertHistory(ctx, tx, entry); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

func (r *Repository) AppendHistory(ctx context.Context, entry *domain.InventoryHistoryEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertHistory(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) History(ctx context.Context, productID string, variantID *string, limit, offset int) ([]domain.InventoryHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, variant_id, previous_quantity, new_quantity,
			adjustment, reason, actor_id, metadata, created_at
		FROM inventory_history
		WHERE product_id = $1 AND ($2::uuid IS NULL OR variant_id = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, productID, variantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []domain.InventoryHistoryEntry
	for rows.Next() {
		var entry domain.InventoryHistoryEntry
		var metadata []byte
		if err := rows.Scan(&entry.ID, &entry.ProductID, &entry.VariantID,
			&entry.PreviousQuantity, &entry.NewQuantity, &entry.Adjustment,
			&entry.Reason, &entry.ActorID, &metadata, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, err
			}
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// lowStockThreshold marks counters that should trigger a restock.
const lowStockThreshold = 5

func (r *Repository) Metrics(ctx context.Context) (*domain.InventoryMetrics, error) {
	metrics := &domain.InventoryMetrics{}

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE stock = 0),
			COUNT(*) FILTER (WHERE stock > 0 AND stock < $1),
			COALESCE(SUM(stock), 0),
			COALESCE(SUM(stock::bigint * price_cents), 0)
		FROM products
	`, lowStockThreshold).Scan(&metrics.OutOfStock, &metrics.LowStock,
		&metrics.TotalUnits, &metrics.TotalValue)
	if err != nil {
		return nil, err
	}

	var outOfStock, lowStock, units int
	var value int64
	err = r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE v.stock = 0),
			COUNT(*) FILTER (WHERE v.stock > 0 AND v.stock < $1),
			COALESCE(SUM(v.stock), 0),
			COALESCE(SUM(v.stock::bigint * COALESCE(v.price_cents, p.price_cents)), 0)
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
	`, lowStockThreshold).Scan(&outOfStock, &lowStock, &units, &value)
	if err != nil {
		return nil, err
	}

	metrics.OutOfStock += outOfStock
	metrics.LowStock += lowStock
	metrics.TotalUnits += units
	metrics.TotalValue += value

	return metrics, nil
}

// SalesVolume sums units sold (negative sale adjustments) in the range.
func (r *Repository) SalesVolume(ctx context.Context, productID string, variantID *string, from, to time.Time) (int, error) {
	var sold int
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(-adjustment), 0)
		FROM inventory_history
		WHERE product_id = $1 AND ($2::uuid IS NULL OR variant_id = $2)
			AND reason = $3 AND adjustment < 0
			AND created_at >= $4 AND created_at < $5
	`, productID, variantID, domain.ReasonSale, from, to).Scan(&sold)
	return sold, err
}

// AverageStock reports the mean post-adjustment quantity over the range.
// The second return is false when no history rows fall inside it.
func (r *Repository) AverageStock(ctx context.Context, productID string, variantID *string, from, to time.Time) (float64, bool, error) {
	var avg sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT AVG(new_quantity)
		FROM inventory_history
		WHERE product_id = $1 AND ($2::uuid IS NULL OR variant_id = $2)
			AND created_at >= $3 AND created_at < $4
	`, productID, variantID, from, to).Scan(&avg)
	if err != nil {
		return 0, false, err
	}
	return avg.Float64, avg.Valid, nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, entry *domain.InventoryHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	metadata := []byte("{}")
	if len(entry.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_history (id, product_id, variant_id, previous_quantity,
			new_quantity, adjustment, reason, actor_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, entry.ProductID, entry.VariantID, entry.PreviousQuantity,
		entry.NewQuantity, entry.Adjustment, entry.Reason, entry.ActorID, metadata, entry.CreatedAt)
	return err
}
