package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/feedimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const productColumns = `id, sku, title, description, link, image_link, availability, price,
	condition, brand, gtin, sale_price, item_group_id, google_product_category, product_type,
	size, color, material, pattern, gender, model, created_at, updated_at`

type productRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository wires a repository backed by pgxpool.
func NewProductRepository(pool *pgxpool.Pool) ProductRepository {
	return &productRepository{pool: pool}
}

// UpsertBySKU overwrites every mapped column on conflict; absent optional
// attributes are written as NULL rather than keeping the previous value.
func (r *productRepository) UpsertBySKU(ctx context.Context, q DBTX, product domain.Product) (domain.Product, bool, error) {
	if q == nil {
		q = r.pool
	}
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}

	row := q.QueryRow(
		ctx,
		`INSERT INTO products (
			id, sku, title, description, link, image_link, availability, price,
			condition, brand, gtin, sale_price, item_group_id, google_product_category,
			product_type, size, color, material, pattern, gender, model
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21
		)
		ON CONFLICT (sku) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			link = EXCLUDED.link,
			image_link = EXCLUDED.image_link,
			availability = EXCLUDED.availability,
			price = EXCLUDED.price,
			condition = EXCLUDED.condition,
			brand = EXCLUDED.brand,
			gtin = EXCLUDED.gtin,
			sale_price = EXCLUDED.sale_price,
			item_group_id = EXCLUDED.item_group_id,
			google_product_category = EXCLUDED.google_product_category,
			product_type = EXCLUDED.product_type,
			size = EXCLUDED.size,
			color = EXCLUDED.color,
			material = EXCLUDED.material,
			pattern = EXCLUDED.pattern,
			gender = EXCLUDED.gender,
			model = EXCLUDED.model,
			updated_at = now()
		RETURNING `+productColumns+`, (xmax = 0) AS inserted`,
		product.ID,
		product.SKU,
		product.Title,
		product.Description,
		product.Link,
		product.ImageLink,
		product.Availability,
		product.Price,
		product.Condition,
		product.Brand,
		product.GTIN,
		product.SalePrice,
		product.ItemGroupID,
		product.GoogleProductCategory,
		product.ProductType,
		product.Size,
		product.Color,
		product.Material,
		product.Pattern,
		product.Gender,
		product.Model,
	)

	var (
		stored   domain.Product
		inserted bool
	)
	dest := append(productScanTargets(&stored), &inserted)
	if err := row.Scan(dest...); err != nil {
		return domain.Product{}, false, fmt.Errorf("failed to upsert product %s: %w", product.SKU, err)
	}
	return stored, inserted, nil
}

func (r *productRepository) GetBySKU(ctx context.Context, sku string) (domain.Product, error) {
	var product domain.Product
	err := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE sku = $1`, sku).
		Scan(productScanTargets(&product)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Product{}, fmt.Errorf("product %s: %w", sku, ErrNotFound)
		}
		return domain.Product{}, fmt.Errorf("failed to get product: %w", err)
	}
	return product, nil
}

func productScanTargets(p *domain.Product) []any {
	return []any{
		&p.ID,
		&p.SKU,
		&p.Title,
		&p.Description,
		&p.Link,
		&p.ImageLink,
		&p.Availability,
		&p.Price,
		&p.Condition,
		&p.Brand,
		&p.GTIN,
		&p.SalePrice,
		&p.ItemGroupID,
		&p.GoogleProductCategory,
		&p.ProductType,
		&p.Size,
		&p.Color,
		&p.Material,
		&p.Pattern,
		&p.Gender,
		&p.Model,
		&p.CreatedAt,
		&p.UpdatedAt,
	}
}
