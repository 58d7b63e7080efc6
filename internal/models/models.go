package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enums

// JobStatus is the lifecycle position of a video job. Transitions are
// forward-only; a partially failed stage is re-entered without moving the
// status backward.
type JobStatus string

const (
	JobStatusPending              JobStatus = "pending"
	JobStatusPlanning             JobStatus = "planning"
	JobStatusPlanningCompleted    JobStatus = "planning_completed"
	JobStatusGeneratingComposites JobStatus = "generating_composites"
	JobStatusGeneratingVideo      JobStatus = "generating_video"
	JobStatusVeoClipsCompleted    JobStatus = "veo_clips_completed"
	JobStatusAssembling           JobStatus = "assembling"
	JobStatusCompleted            JobStatus = "completed"
	JobStatusFailed               JobStatus = "failed"
)

// Terminal reports whether the status ends the lifecycle. A failed job keeps
// its checkpoints and may still be advanced again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted
}

// StringMap is a JSONB column holding string-to-string pairs. Used for the
// id-keyed checkpoint maps (composite_id → image URL, call_id → clip URL) so
// an out-of-order completion can never mismatch an asset to its source.
type StringMap map[string]string

func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return json.Marshal(StringMap{})
	}
	return json.Marshal(m)
}

func (m *StringMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into StringMap", value)
	}
	return json.Unmarshal(bytes, m)
}

// Models

type Avatar struct {
	ID        uuid.UUID  `json:"id"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	Name      string     `json:"name"`
	ImageURL  string     `json:"image_url"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type Product struct {
	ID          uuid.UUID  `json:"id"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	ImageURLs   []string   `json:"image_urls"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// DemoClip is user-uploaded real footage of the product in use. The director
// may cut demo segments from it instead of requesting new synthesis.
type DemoClip struct {
	ID              uuid.UUID `json:"id"`
	ProductID       uuid.UUID `json:"product_id"`
	URL             string    `json:"url"`
	DurationSeconds float64   `json:"duration_seconds"`
	Description     *string   `json:"description,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// VideoJob is the unit of persistence and resumability. The completed_* sets
// and the id-keyed URL maps are the durable checkpoints: every stage appends
// to them atomically and re-dispatch only targets what is missing.
type VideoJob struct {
	ID                    uuid.UUID  `json:"id"`
	UserID                *uuid.UUID `json:"user_id,omitempty"`
	AvatarID              uuid.UUID  `json:"avatar_id"`
	ProductID             uuid.UUID  `json:"product_id"`
	Tone                  *string    `json:"tone,omitempty"`
	TargetDurationSeconds int        `json:"target_duration_seconds"`
	DemoClipIDs           []string   `json:"demo_clip_ids,omitempty"`
	Status                JobStatus  `json:"status"`

	// PlanJSON is the validated plan document stored verbatim; nil before
	// planning completes.
	PlanJSON []byte `json:"plan,omitempty"`

	CompositeImages           StringMap `json:"composite_images"`             // composite_id → stored image URL
	CompletedCompositeIDs     []string  `json:"completed_composite_ids"`
	ClipURLs                  StringMap `json:"clip_urls"`                    // call_id → stored clip URL
	CompletedSynthesisCallIDs []string  `json:"completed_synthesis_call_ids"`

	FinalVideoURL        *string `json:"final_video_url,omitempty"`
	FinalDurationSeconds *int    `json:"final_duration_seconds,omitempty"`

	Error     *string   `json:"error,omitempty"`
	ErrorStep *string   `json:"error_step,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCompletedComposite reports whether the composite's generation call has
// already succeeded. Every dispatch decision starts from this membership
// check so a repeated advance never redoes finished work.
func (j *VideoJob) HasCompletedComposite(compositeID string) bool {
	return contains(j.CompletedCompositeIDs, compositeID)
}

func (j *VideoJob) HasCompletedCall(callID string) bool {
	return contains(j.CompletedSynthesisCallIDs, callID)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ReusableClip is a generated b-roll clip registered against a product after
// assembly, available for future plans to cut from instead of paying for new
// synthesis.
type ReusableClip struct {
	ID              uuid.UUID  `json:"id"`
	ProductID       uuid.UUID  `json:"product_id"`
	URL             string     `json:"url"`
	Description     string     `json:"description"`
	DurationSeconds float64    `json:"duration_seconds"`
	SourcePrompt    string     `json:"source_prompt"`
	Mood            string     `json:"mood"`
	ThumbnailURL    *string    `json:"thumbnail_url,omitempty"`
	UsageCount      int        `json:"usage_count"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// DTOs for API responses

type CreateJobRequest struct {
	AvatarID              uuid.UUID   `json:"avatar_id"`
	ProductID             uuid.UUID   `json:"product_id"`
	Tone                  *string     `json:"tone,omitempty"`
	TargetDurationSeconds *int        `json:"target_duration_seconds,omitempty"` // Default: 24
	DemoClipIDs           []uuid.UUID `json:"demo_clip_ids,omitempty"`
}

type CreateJobResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Status JobStatus `json:"status"`
}

// JobProgress summarizes how far generation has come, for UI polling.
type JobProgress struct {
	Status          JobStatus `json:"status"`
	CompositesDone  int       `json:"composites_done"`
	CompositesTotal int       `json:"composites_total"`
	CallsDone       int       `json:"calls_done"`
	CallsTotal      int       `json:"calls_total"`
	CanAssemble     bool      `json:"can_assemble"`
	Error           *string   `json:"error,omitempty"`
	ErrorStep       *string   `json:"error_step,omitempty"`
}

type GenerateOneRequest struct {
	CompositeID string `json:"composite_id,omitempty"`
	CallID      string `json:"call_id,omitempty"`
}

type GenerateOneResponse struct {
	ResultURL string `json:"result_url"`
}

type DeleteAssetRequest struct {
	CompositeID string `json:"composite_id,omitempty"`
	ClipURL     string `json:"clip_url,omitempty"`
}

type CreateAvatarRequest struct {
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}

type CreateProductRequest struct {
	Name        string   `json:"name"`
	Description *string  `json:"description,omitempty"`
	ImageURLs   []string `json:"image_urls"`
}

type CreateDemoClipRequest struct {
	URL             string  `json:"url"`
	DurationSeconds float64 `json:"duration_seconds"`
	Description     *string `json:"description,omitempty"`
}
