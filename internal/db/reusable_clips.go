package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopreel/shopreel/internal/models"
)

func (db *DB) CreateReusableClip(ctx context.Context, clip *models.ReusableClip) error {
	query := `
		INSERT INTO reusable_clips (
			id, product_id, url, description, duration_seconds,
			source_prompt, mood, thumbnail_url, usage_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		clip.ID, clip.ProductID, clip.URL, clip.Description, clip.DurationSeconds,
		clip.SourcePrompt, clip.Mood, clip.ThumbnailURL, clip.UsageCount,
	).Scan(&clip.CreatedAt)
}

func (db *DB) GetReusableClip(ctx context.Context, id uuid.UUID) (*models.ReusableClip, error) {
	query := `
		SELECT
			id, product_id, url, description, duration_seconds,
			source_prompt, mood, thumbnail_url, usage_count, last_used_at, created_at
		FROM reusable_clips
		WHERE id = $1
	`

	clip := &models.ReusableClip{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&clip.ID, &clip.ProductID, &clip.URL, &clip.Description,
		&clip.DurationSeconds, &clip.SourcePrompt, &clip.Mood,
		&clip.ThumbnailURL, &clip.UsageCount, &clip.LastUsedAt, &clip.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reusable clip not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reusable clip: %w", err)
	}

	return clip, nil
}

// ListProductReusableClips returns the product's reuse candidates ranked by
// how often previous plans have picked them.
func (db *DB) ListProductReusableClips(ctx context.Context, productID uuid.UUID) ([]models.ReusableClip, error) {
	query := `
		SELECT
			id, product_id, url, description, duration_seconds,
			source_prompt, mood, thumbnail_url, usage_count, last_used_at, created_at
		FROM reusable_clips
		WHERE product_id = $1
		ORDER BY usage_count DESC, created_at DESC
	`

	rows, err := db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reusable clips: %w", err)
	}
	defer rows.Close()

	var clips []models.ReusableClip
	for rows.Next() {
		var clip models.ReusableClip
		if err := rows.Scan(
			&clip.ID, &clip.ProductID, &clip.URL, &clip.Description,
			&clip.DurationSeconds, &clip.SourcePrompt, &clip.Mood,
			&clip.ThumbnailURL, &clip.UsageCount, &clip.LastUsedAt, &clip.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reusable clip: %w", err)
		}
		clips = append(clips, clip)
	}

	return clips, nil
}

// MarkReusableClipUsed bumps the usage counter when a new plan cuts from an
// indexed clip instead of requesting fresh synthesis.
func (db *DB) MarkReusableClipUsed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE reusable_clips
		SET usage_count = usage_count + 1, last_used_at = NOW()
		WHERE id = $1
	`
	_, err := db.ExecContext(ctx, query, id)
	return err
}
