package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestProductFromRowNormalizesValues(t *testing.T) {
	row := completeRow(map[Column]string{
		ColumnPrice:     "10,000 USD",
		ColumnSalePrice: "not a number",
		ColumnColor:     "   ",
		ColumnSize:      "",
		ColumnModel:     "  X-200  ",
	})

	product := ProductFromRow(row)

	if product.SKU != "SKU-1" {
		t.Fatalf("expected sku SKU-1, got %q", product.SKU)
	}
	if product.Price == nil || *product.Price != 10000 {
		t.Fatalf("expected price 10000, got %v", product.Price)
	}
	if product.SalePrice != nil {
		t.Fatalf("expected unparseable sale price to be nil, got %v", *product.SalePrice)
	}
	if product.Color != nil {
		t.Fatalf("expected whitespace color to be nil, got %q", *product.Color)
	}
	if product.Size != nil {
		t.Fatalf("expected empty size to be nil, got %q", *product.Size)
	}
	if product.Model == nil || *product.Model != "X-200" {
		t.Fatalf("expected trimmed model X-200, got %v", product.Model)
	}
	if product.ItemGroupID == nil || *product.ItemGroupID != "group-1" {
		t.Fatalf("expected item group id to be mapped, got %v", product.ItemGroupID)
	}
}

func TestProductFromRowInvalidPriceIsNil(t *testing.T) {
	product := ProductFromRow(completeRow(map[Column]string{ColumnPrice: "N/A"}))
	if product.Price != nil {
		t.Fatalf("expected nil price, got %v", *product.Price)
	}
}

func TestCatalogUpserterCommitsPerRow(t *testing.T) {
	tx := &fakeTxRunner{}
	products := newStubProductRepo()
	upserter := NewCatalogUpserter(tx, products)

	first := completeRow(map[Column]string{ColumnID: "ABC123", ColumnTitle: "First"})
	second := completeRow(map[Column]string{ColumnID: "ABC123", ColumnTitle: "Second", ColumnColor: ""})

	if _, err := upserter.Upsert(context.Background(), first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	stored, err := upserter.Upsert(context.Background(), second)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if tx.begun != 2 || tx.committed != 2 || tx.rolledBack != 0 {
		t.Fatalf("unexpected tx usage: %+v", tx)
	}
	if len(products.products) != 1 {
		t.Fatalf("expected one catalog record, got %d", len(products.products))
	}
	if stored.Title != "Second" || products.products["ABC123"].Title != "Second" {
		t.Fatalf("expected second title to win, got %q", products.products["ABC123"].Title)
	}
	if products.products["ABC123"].Color != nil {
		t.Fatalf("expected overwrite to clear color, got %q", *products.products["ABC123"].Color)
	}
}

func TestCatalogUpserterRollsBackOnFailure(t *testing.T) {
	tx := &fakeTxRunner{}
	products := newStubProductRepo()
	products.failSKU["BAD"] = errors.New(`duplicate key value violates unique constraint "products_sku_key"`)
	upserter := NewCatalogUpserter(tx, products)

	_, err := upserter.Upsert(context.Background(), completeRow(map[Column]string{ColumnID: "BAD"}))
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(err.Error(), "products_sku_key") {
		t.Fatalf("expected underlying message to be preserved, got %v", err)
	}
	if tx.rolledBack != 1 || tx.committed != 0 {
		t.Fatalf("expected rollback, got %+v", tx)
	}
}

func TestCatalogUpserterReportsTransactionStartFailure(t *testing.T) {
	tx := &fakeTxRunner{beginErr: errors.New("connection refused")}
	products := newStubProductRepo()
	upserter := NewCatalogUpserter(tx, products)

	if _, err := upserter.Upsert(context.Background(), completeRow(nil)); err == nil {
		t.Fatalf("expected error when transaction cannot start")
	}
	if products.writes != 0 {
		t.Fatalf("expected no writes, got %d", products.writes)
	}
}
