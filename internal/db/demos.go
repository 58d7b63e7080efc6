package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopreel/shopreel/internal/models"
)

func (db *DB) CreateDemoClip(ctx context.Context, clip *models.DemoClip) error {
	query := `
		INSERT INTO demo_clips (id, product_id, url, duration_seconds, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		clip.ID, clip.ProductID, clip.URL, clip.DurationSeconds, clip.Description,
	).Scan(&clip.CreatedAt)
}

func (db *DB) GetDemoClip(ctx context.Context, id uuid.UUID) (*models.DemoClip, error) {
	query := `
		SELECT id, product_id, url, duration_seconds, description, created_at
		FROM demo_clips
		WHERE id = $1
	`

	clip := &models.DemoClip{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&clip.ID, &clip.ProductID, &clip.URL, &clip.DurationSeconds,
		&clip.Description, &clip.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("demo clip not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get demo clip: %w", err)
	}

	return clip, nil
}

func (db *DB) ListProductDemoClips(ctx context.Context, productID uuid.UUID) ([]models.DemoClip, error) {
	query := `
		SELECT id, product_id, url, duration_seconds, description, created_at
		FROM demo_clips
		WHERE product_id = $1
		ORDER BY created_at
	`

	rows, err := db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query demo clips: %w", err)
	}
	defer rows.Close()

	var clips []models.DemoClip
	for rows.Next() {
		var clip models.DemoClip
		if err := rows.Scan(
			&clip.ID, &clip.ProductID, &clip.URL, &clip.DurationSeconds,
			&clip.Description, &clip.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan demo clip: %w", err)
		}
		clips = append(clips, clip)
	}

	return clips, nil
}
