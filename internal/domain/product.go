package domain

import (
	"time"

	"github.com/google/uuid"
)

// Product is a catalog record keyed by SKU. Optional attributes are nil when absent.
type Product struct {
	ID                    uuid.UUID `json:"id"`
	SKU                   string    `json:"sku"`
	Title                 string    `json:"title"`
	Description           string    `json:"description"`
	Link                  string    `json:"link"`
	ImageLink             string    `json:"image_link"`
	Availability          string    `json:"availability"`
	Price                 *float64  `json:"price"`
	Condition             string    `json:"condition"`
	Brand                 string    `json:"brand"`
	GTIN                  string    `json:"gtin"`
	SalePrice             *float64  `json:"sale_price,omitempty"`
	ItemGroupID           *string   `json:"item_group_id,omitempty"`
	GoogleProductCategory *string   `json:"google_product_category,omitempty"`
	ProductType           *string   `json:"product_type,omitempty"`
	Size                  *string   `json:"size,omitempty"`
	Color                 *string   `json:"color,omitempty"`
	Material              *string   `json:"material,omitempty"`
	Pattern               *string   `json:"pattern,omitempty"`
	Gender                *string   `json:"gender,omitempty"`
	Model                 *string   `json:"model,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (p Product) String() string {
	return p.SKU + " - " + p.Title
}
