package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopreel/shopreel/internal/models"
)

const jobColumns = `
	id, user_id, avatar_id, product_id, tone, target_duration_seconds,
	demo_clip_ids, status, plan, composite_images, completed_composite_ids,
	clip_urls, completed_synthesis_call_ids, final_video_url,
	final_duration_seconds, error, error_step, created_at, updated_at
`

func (db *DB) CreateJob(ctx context.Context, job *models.VideoJob) error {
	query := `
		INSERT INTO video_jobs (
			id, user_id, avatar_id, product_id, tone, target_duration_seconds,
			demo_clip_ids, status, composite_images, clip_urls
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '{}'::jsonb, '{}'::jsonb)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		job.ID, job.UserID, job.AvatarID, job.ProductID, job.Tone,
		job.TargetDurationSeconds, pq.Array(job.DemoClipIDs), job.Status,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*models.VideoJob, error) {
	query := `SELECT ` + jobColumns + ` FROM video_jobs WHERE id = $1`

	job := &models.VideoJob{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.UserID, &job.AvatarID, &job.ProductID, &job.Tone,
		&job.TargetDurationSeconds, pq.Array(&job.DemoClipIDs), &job.Status,
		&job.PlanJSON, &job.CompositeImages, pq.Array(&job.CompletedCompositeIDs),
		&job.ClipURLs, pq.Array(&job.CompletedSynthesisCallIDs),
		&job.FinalVideoURL, &job.FinalDurationSeconds,
		&job.Error, &job.ErrorStep, &job.CreatedAt, &job.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

func (db *DB) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	query := `UPDATE video_jobs SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, status, id)
	return err
}

// SetJobPlan stores the validated plan document verbatim and marks planning
// complete in one write.
func (db *DB) SetJobPlan(ctx context.Context, id uuid.UUID, planJSON []byte) error {
	query := `
		UPDATE video_jobs
		SET plan = $1, status = $2, error = NULL, error_step = NULL, updated_at = NOW()
		WHERE id = $3
	`
	_, err := db.ExecContext(ctx, query, planJSON, models.JobStatusPlanningCompleted, id)
	return err
}

// SetJobError records a failure against the step it happened in. The
// checkpoint sets are left untouched so a later advance resumes from the same
// point. When fatal is true the job status moves to failed; otherwise the job
// stalls at its current stage status.
func (db *DB) SetJobError(ctx context.Context, id uuid.UUID, errorStep, message string, fatal bool) error {
	if fatal {
		query := `
			UPDATE video_jobs
			SET status = $1, error = $2, error_step = $3, updated_at = NOW()
			WHERE id = $4
		`
		_, err := db.ExecContext(ctx, query, models.JobStatusFailed, message, errorStep, id)
		return err
	}

	query := `
		UPDATE video_jobs
		SET error = $1, error_step = $2, updated_at = NOW()
		WHERE id = $3
	`
	_, err := db.ExecContext(ctx, query, message, errorStep, id)
	return err
}

// ClearJobError wipes a recorded failure before a stage is re-entered.
func (db *DB) ClearJobError(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE video_jobs SET error = NULL, error_step = NULL, updated_at = NOW() WHERE id = $1`
	_, err := db.ExecContext(ctx, query, id)
	return err
}

// AppendCompletedComposite records one finished composite: the id joins the
// completed set and the image URL lands in the id-keyed map, in a single
// guarded UPDATE. The membership guard in the WHERE clause makes the write
// idempotent — a concurrent or repeated advance can never duplicate an entry.
// Returns false when the composite was already recorded.
func (db *DB) AppendCompletedComposite(ctx context.Context, id uuid.UUID, compositeID, imageURL string) (bool, error) {
	query := `
		UPDATE video_jobs
		SET completed_composite_ids = array_append(completed_composite_ids, $2),
		    composite_images = composite_images || jsonb_build_object($2::text, $3::text),
		    updated_at = NOW()
		WHERE id = $1 AND NOT ($2 = ANY(completed_composite_ids))
	`
	res, err := db.ExecContext(ctx, query, id, compositeID, imageURL)
	if err != nil {
		return false, fmt.Errorf("failed to append completed composite: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// AppendCompletedCall is the synthesis-call twin of AppendCompletedComposite:
// (call_id, clip_url) recorded as a pair, never by positional index.
func (db *DB) AppendCompletedCall(ctx context.Context, id uuid.UUID, callID, clipURL string) (bool, error) {
	query := `
		UPDATE video_jobs
		SET completed_synthesis_call_ids = array_append(completed_synthesis_call_ids, $2),
		    clip_urls = clip_urls || jsonb_build_object($2::text, $3::text),
		    updated_at = NOW()
		WHERE id = $1 AND NOT ($2 = ANY(completed_synthesis_call_ids))
	`
	res, err := db.ExecContext(ctx, query, id, callID, clipURL)
	if err != nil {
		return false, fmt.Errorf("failed to append completed call: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RemoveCompletedComposite drops one composite from the checkpoint so it can
// be regenerated (user-driven delete, the only subtractive write).
func (db *DB) RemoveCompletedComposite(ctx context.Context, id uuid.UUID, compositeID string) error {
	query := `
		UPDATE video_jobs
		SET completed_composite_ids = array_remove(completed_composite_ids, $2),
		    composite_images = composite_images - $2,
		    updated_at = NOW()
		WHERE id = $1
	`
	_, err := db.ExecContext(ctx, query, id, compositeID)
	return err
}

func (db *DB) RemoveCompletedCall(ctx context.Context, id uuid.UUID, callID string) error {
	query := `
		UPDATE video_jobs
		SET completed_synthesis_call_ids = array_remove(completed_synthesis_call_ids, $2),
		    clip_urls = clip_urls - $2,
		    updated_at = NOW()
		WHERE id = $1
	`
	_, err := db.ExecContext(ctx, query, id, callID)
	return err
}

func (db *DB) SetJobFinalVideo(ctx context.Context, id uuid.UUID, url string, durationSeconds int) error {
	query := `
		UPDATE video_jobs
		SET final_video_url = $1, final_duration_seconds = $2, status = $3,
		    error = NULL, error_step = NULL, updated_at = NOW()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, url, durationSeconds, models.JobStatusCompleted, id)
	return err
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (db *DB) ListJobs(ctx context.Context, status string, limit, offset int) ([]models.VideoJob, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseSelect := `SELECT ` + jobColumns + ` FROM video_jobs`

	if status != "" {
		query := baseSelect + ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		rows, err = db.QueryContext(ctx, query, status, limit, offset)
	} else {
		query := baseSelect + ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		rows, err = db.QueryContext(ctx, query, limit, offset)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.VideoJob
	for rows.Next() {
		var job models.VideoJob
		if err := rows.Scan(
			&job.ID, &job.UserID, &job.AvatarID, &job.ProductID, &job.Tone,
			&job.TargetDurationSeconds, pq.Array(&job.DemoClipIDs), &job.Status,
			&job.PlanJSON, &job.CompositeImages, pq.Array(&job.CompletedCompositeIDs),
			&job.ClipURLs, pq.Array(&job.CompletedSynthesisCallIDs),
			&job.FinalVideoURL, &job.FinalDurationSeconds,
			&job.Error, &job.ErrorStep, &job.CreatedAt, &job.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}
