package ingestion

import (
	"context"
	"fmt"

	"github.com/rpattn/feedimport/internal/domain"
	"github.com/rpattn/feedimport/internal/repository"

	"github.com/jackc/pgx/v5"
)

// TxRunner runs fn inside a transaction that commits when fn returns nil and rolls back otherwise.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

// CatalogUpserter writes accepted rows into the product catalog, one transaction per row.
type CatalogUpserter struct {
	tx       TxRunner
	products repository.ProductRepository
}

// NewCatalogUpserter creates an upserter.
func NewCatalogUpserter(tx TxRunner, products repository.ProductRepository) *CatalogUpserter {
	return &CatalogUpserter{tx: tx, products: products}
}

// Upsert creates or fully replaces the catalog record keyed by the row's id.
func (u *CatalogUpserter) Upsert(ctx context.Context, row Row) (domain.Product, error) {
	product := ProductFromRow(row)
	if product.SKU == "" {
		return domain.Product{}, fmt.Errorf("row %d has no product id", row.Number)
	}

	var stored domain.Product
	err := u.tx.WithTx(ctx, func(tx pgx.Tx) error {
		var upsertErr error
		stored, _, upsertErr = u.products.UpsertBySKU(ctx, tx, product)
		return upsertErr
	})
	if err != nil {
		return domain.Product{}, err
	}
	return stored, nil
}

// ProductFromRow maps a row to catalog attributes. Prices that do not parse become nil,
// and empty or whitespace-only optional values become nil rather than "".
func ProductFromRow(row Row) domain.Product {
	product := domain.Product{
		SKU:                   row.Get(ColumnID),
		Title:                 row.Get(ColumnTitle),
		Description:           row.Get(ColumnDescription),
		Link:                  row.Get(ColumnLink),
		ImageLink:             row.Get(ColumnImageLink),
		Availability:          row.Get(ColumnAvailability),
		Condition:             row.Get(ColumnCondition),
		Brand:                 row.Get(ColumnBrand),
		GTIN:                  row.Get(ColumnGTIN),
		Price:                 optionalPrice(row.Get(ColumnPrice)),
		SalePrice:             optionalPrice(row.Get(ColumnSalePrice)),
		ItemGroupID:           optionalText(row.Get(ColumnItemGroupID)),
		GoogleProductCategory: optionalText(row.Get(ColumnGoogleProductCategory)),
		ProductType:           optionalText(row.Get(ColumnProductType)),
		Size:                  optionalText(row.Get(ColumnSize)),
		Color:                 optionalText(row.Get(ColumnColor)),
		Material:              optionalText(row.Get(ColumnMaterial)),
		Pattern:               optionalText(row.Get(ColumnPattern)),
		Gender:                optionalText(row.Get(ColumnGender)),
		Model:                 optionalText(row.Get(ColumnModel)),
	}
	return product
}

func optionalText(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func optionalPrice(raw string) *float64 {
	value, ok := ParsePrice(raw)
	if !ok {
		return nil
	}
	return &value
}
