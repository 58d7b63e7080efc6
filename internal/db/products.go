package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopreel/shopreel/internal/models"
)

func (db *DB) CreateProduct(ctx context.Context, product *models.Product) error {
	query := `
		INSERT INTO products (id, user_id, name, description, image_urls)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		product.ID, product.UserID, product.Name, product.Description,
		pq.Array(product.ImageURLs),
	).Scan(&product.CreatedAt, &product.UpdatedAt)
}

func (db *DB) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	query := `
		SELECT id, user_id, name, description, image_urls, created_at, updated_at
		FROM products
		WHERE id = $1
	`

	product := &models.Product{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&product.ID, &product.UserID, &product.Name, &product.Description,
		pq.Array(&product.ImageURLs), &product.CreatedAt, &product.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	return product, nil
}

func (db *DB) ListProducts(ctx context.Context) ([]models.Product, error) {
	query := `
		SELECT id, user_id, name, description, image_urls, created_at, updated_at
		FROM products
		ORDER BY created_at DESC
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var product models.Product
		if err := rows.Scan(
			&product.ID, &product.UserID, &product.Name, &product.Description,
			pq.Array(&product.ImageURLs), &product.CreatedAt, &product.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, product)
	}

	return products, nil
}
