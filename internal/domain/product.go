package domain

import "time"

// Variant is a specific attribute combination of a product (size, color)
// with its own stock count and optional price override.
type Variant struct {
	ID         string            `json:"id"`
	ProductID  string            `json:"product_id"`
	Attributes map[string]string `json:"attributes"`
	// Price overrides the product price when set, in cents.
	Price *int64 `json:"price,omitempty"`
	Stock int    `json:"stock"`
}

type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	Stock     int       `json:"stock"`
	Variants  []Variant `json:"variants,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EffectivePrice resolves the unit price for a variant of p, falling back
// to the product price when the variant has no override.
func (p *Product) EffectivePrice(variantID *string) int64 {
	if variantID == nil {
		return p.Price
	}
	for i := range p.Variants {
		if p.Variants[i].ID == *variantID {
			if p.Variants[i].Price != nil {
				return *p.Variants[i].Price
			}
			return p.Price
		}
	}
	return p.Price
}
