package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopreel/shopreel/internal/models"
)

func (db *DB) CreateAvatar(ctx context.Context, avatar *models.Avatar) error {
	query := `
		INSERT INTO avatars (id, user_id, name, image_url)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		avatar.ID, avatar.UserID, avatar.Name, avatar.ImageURL,
	).Scan(&avatar.CreatedAt, &avatar.UpdatedAt)
}

func (db *DB) GetAvatar(ctx context.Context, id uuid.UUID) (*models.Avatar, error) {
	query := `
		SELECT id, user_id, name, image_url, created_at, updated_at
		FROM avatars
		WHERE id = $1
	`

	avatar := &models.Avatar{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&avatar.ID, &avatar.UserID, &avatar.Name, &avatar.ImageURL,
		&avatar.CreatedAt, &avatar.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("avatar not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get avatar: %w", err)
	}

	return avatar, nil
}

func (db *DB) ListAvatars(ctx context.Context) ([]models.Avatar, error) {
	query := `
		SELECT id, user_id, name, image_url, created_at, updated_at
		FROM avatars
		ORDER BY created_at DESC
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query avatars: %w", err)
	}
	defer rows.Close()

	var avatars []models.Avatar
	for rows.Next() {
		var avatar models.Avatar
		if err := rows.Scan(
			&avatar.ID, &avatar.UserID, &avatar.Name, &avatar.ImageURL,
			&avatar.CreatedAt, &avatar.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan avatar: %w", err)
		}
		avatars = append(avatars, avatar)
	}

	return avatars, nil
}
