package domain

import "time"

// AdjustmentReason is the closed set of causes an inventory write may cite.
type AdjustmentReason string

const (
	ReasonSale               AdjustmentReason = "sale"
	ReasonReturn             AdjustmentReason = "return"
	ReasonRestock            AdjustmentReason = "restock"
	ReasonAdjustment         AdjustmentReason = "adjustment"
	ReasonDamage             AdjustmentReason = "damage"
	ReasonTheft              AdjustmentReason = "theft"
	ReasonTransfer           AdjustmentReason = "transfer"
	ReasonReservationExpired AdjustmentReason = "reservation_expired"
	ReasonManualCorrection   AdjustmentReason = "manual_correction"
)

func ValidAdjustmentReason(r AdjustmentReason) bool {
	switch r {
	case ReasonSale, ReasonReturn, ReasonRestock, ReasonAdjustment,
		ReasonDamage, ReasonTheft, ReasonTransfer,
		ReasonReservationExpired, ReasonManualCorrection:
		return true
	}
	return false
}

// InventoryHistoryEntry is an append-only record of one accepted stock
// adjustment. Entries are never updated or deleted.
type InventoryHistoryEntry struct {
	ID               string            `json:"id"`
	ProductID        string            `json:"product_id"`
	VariantID        *string           `json:"variant_id,omitempty"`
	PreviousQuantity int               `json:"previous_quantity"`
	NewQuantity      int               `json:"new_quantity"`
	Adjustment       int               `json:"adjustment"`
	Reason           AdjustmentReason  `json:"reason"`
	ActorID          string            `json:"actor_id"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// InventoryMetrics aggregates stock health across the catalog.
type InventoryMetrics struct {
	OutOfStock int   `json:"out_of_stock"`
	LowStock   int   `json:"low_stock"`
	TotalUnits int   `json:"total_units"`
	TotalValue int64 `json:"total_value"`
}

// TurnoverReport relates units sold over a period to the average stock
// held during it.
type TurnoverReport struct {
	ProductID    string    `json:"product_id"`
	VariantID    *string   `json:"variant_id,omitempty"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	UnitsSold    int       `json:"units_sold"`
	AverageStock float64   `json:"average_stock"`
	Turnover     float64   `json:"turnover"`
}
