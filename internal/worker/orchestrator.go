package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopreel/shopreel/internal/models"
	"github.com/shopreel/shopreel/internal/plan"
	"github.com/shopreel/shopreel/internal/services"
)

// Collaborator interfaces. The concrete implementations are *db.DB,
// *services.OpenAIService, *services.GeminiService, *services.VeoService,
// *storage.Storage, and *services.FFmpegService; the interfaces exist so the
// orchestration logic is testable without Postgres or paid API calls.

type Store interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.VideoJob, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error
	SetJobPlan(ctx context.Context, id uuid.UUID, planJSON []byte) error
	SetJobError(ctx context.Context, id uuid.UUID, errorStep, message string, fatal bool) error
	ClearJobError(ctx context.Context, id uuid.UUID) error
	AppendCompletedComposite(ctx context.Context, id uuid.UUID, compositeID, imageURL string) (bool, error)
	AppendCompletedCall(ctx context.Context, id uuid.UUID, callID, clipURL string) (bool, error)
	RemoveCompletedComposite(ctx context.Context, id uuid.UUID, compositeID string) error
	RemoveCompletedCall(ctx context.Context, id uuid.UUID, callID string) error
	SetJobFinalVideo(ctx context.Context, id uuid.UUID, url string, durationSeconds int) error

	GetAvatar(ctx context.Context, id uuid.UUID) (*models.Avatar, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetDemoClip(ctx context.Context, id uuid.UUID) (*models.DemoClip, error)
	ListProductDemoClips(ctx context.Context, productID uuid.UUID) ([]models.DemoClip, error)
	GetReusableClip(ctx context.Context, id uuid.UUID) (*models.ReusableClip, error)
	ListProductReusableClips(ctx context.Context, productID uuid.UUID) ([]models.ReusableClip, error)
	CreateReusableClip(ctx context.Context, clip *models.ReusableClip) error
	MarkReusableClipUsed(ctx context.Context, id uuid.UUID) error
}

type Planner interface {
	GeneratePlan(ctx context.Context, input services.PlanInput) (*plan.Plan, error)
}

type ImageSynthesizer interface {
	ComposeImage(ctx context.Context, prompt, avatarURL string, productImageURLs []string) ([]byte, error)
}

type VideoSynthesizer interface {
	SynthesizeClip(ctx context.Context, prompt, script string, imageData []byte, imageMimeType string) ([]byte, error)
}

type ObjectStore interface {
	Upload(ctx context.Context, storagePath string, data []byte, contentType string) error
	Fetch(ctx context.Context, url string) ([]byte, error)
	Delete(ctx context.Context, storagePath string) error
	GetPublicURL(storagePath string) string
	PathFromPublicURL(url string) (string, bool)
	GenerateStoragePath(jobID uuid.UUID, filename string) string
}

type ClipEditor interface {
	ExtractRange(ctx context.Context, inputPath string, startSec, endSec float64, outputPath string) error
	ConcatenateClips(ctx context.Context, clipPaths []string, outputPath string) error
	GetVideoDuration(ctx context.Context, videoPath string) (float64, error)
	CreateTempFile(filename string) string
	Cleanup(paths ...string)
}

// Orchestrator drives a job through the pipeline. Advance is the single
// entry point: it reads the durable checkpoints (stored plan, completed
// composite set, completed call set, final video URL) and performs whatever
// work is still missing, so calling it again after any crash or failure
// resumes instead of redoing.
type Orchestrator struct {
	store   Store
	planner Planner
	images  ImageSynthesizer
	video   VideoSynthesizer
	objects ObjectStore
	editor  ClipEditor

	dispatchSpacing      time.Duration // gap between synthesis dispatch slots
	compositeWaitTimeout time.Duration // max wait for a composite dependency

	// Injectable clock for tests; real wiring uses time.Now and a
	// context-aware sleep.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(
	store Store,
	planner Planner,
	images ImageSynthesizer,
	video VideoSynthesizer,
	objects ObjectStore,
	editor ClipEditor,
	dispatchSpacing time.Duration,
	compositeWaitTimeout time.Duration,
) *Orchestrator {
	return &Orchestrator{
		store:                store,
		planner:              planner,
		images:               images,
		video:                video,
		objects:              objects,
		editor:               editor,
		dispatchSpacing:      dispatchSpacing,
		compositeWaitTimeout: compositeWaitTimeout,
		now:                  time.Now,
		sleep:                sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Step names recorded in error_step so a failed job says where it died.
const (
	StepPlanning   = "planning"
	StepComposites = "generating_composites"
	StepSynthesis  = "generating_video"
	StepAssembly   = "assembling"
)

// setStatus writes a status transition. A lost write is logged, not fatal:
// Advance derives its work from the checkpoints, not from the status column.
func (o *Orchestrator) setStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus) {
	if err := o.store.UpdateJobStatus(ctx, jobID, status); err != nil {
		log.Printf("[Orchestrator] Job %s: failed to set status %s: %v", jobID, status, err)
	}
}

// recordError persists the failure that stopped this advance.
func (o *Orchestrator) recordError(ctx context.Context, jobID uuid.UUID, step, message string, fatal bool) {
	if err := o.store.SetJobError(ctx, jobID, step, message, fatal); err != nil {
		log.Printf("[Orchestrator] Job %s: failed to record %s error: %v", jobID, step, err)
	}
}

// Advance moves the job as far forward as it can go: plan if there is no
// plan, generate missing composites, dispatch missing synthesis calls,
// assemble if everything is in place. Safe to call repeatedly — finished
// work is never redone, and a second Advance after a partial failure picks
// up exactly where the first stopped.
func (o *Orchestrator) Advance(ctx context.Context, jobID uuid.UUID) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}

	if job.Status.Terminal() {
		log.Printf("[Orchestrator] Job %s already %s, nothing to do", jobID, job.Status)
		return nil
	}

	if job.Error != nil {
		// Re-advancing a stalled or failed job is an explicit retry.
		if err := o.store.ClearJobError(ctx, jobID); err != nil {
			return fmt.Errorf("failed to clear previous error: %w", err)
		}
	}

	// Stage 1: planning
	if len(job.PlanJSON) == 0 {
		if err := o.runPlanning(ctx, job); err != nil {
			o.recordError(ctx, jobID, StepPlanning, err.Error(), true)
			return fmt.Errorf("planning failed: %w", err)
		}
		job, err = o.store.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("failed to reload job after planning: %w", err)
		}
	}

	var p plan.Plan
	if err := json.Unmarshal(job.PlanJSON, &p); err != nil {
		o.recordError(ctx, jobID, StepPlanning, "stored plan is unreadable: "+err.Error(), true)
		return fmt.Errorf("failed to parse stored plan: %w", err)
	}

	// Stage 2: composite images
	if !compositesComplete(job, &p) {
		o.setStatus(ctx, jobID, models.JobStatusGeneratingComposites)
		if err := o.runComposites(ctx, job, &p); err != nil {
			// Per-task exhaustion stalls the stage but does not fail the
			// job: completed tasks are checkpointed and the next Advance
			// retries only the missing ones.
			o.recordError(ctx, jobID, StepComposites, err.Error(), false)
			return fmt.Errorf("composite generation incomplete: %w", err)
		}
		job, err = o.store.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("failed to reload job after composites: %w", err)
		}
	}

	// Stage 3: video synthesis
	if !callsComplete(job, &p) {
		o.setStatus(ctx, jobID, models.JobStatusGeneratingVideo)
		if err := o.runSynthesis(ctx, job, &p); err != nil {
			fatal := isDependencyTimeout(err)
			o.recordError(ctx, jobID, StepSynthesis, err.Error(), fatal)
			return fmt.Errorf("video synthesis incomplete: %w", err)
		}
		o.setStatus(ctx, jobID, models.JobStatusVeoClipsCompleted)
		job, err = o.store.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("failed to reload job after synthesis: %w", err)
		}
	} else if job.Status == models.JobStatusGeneratingVideo {
		o.setStatus(ctx, jobID, models.JobStatusVeoClipsCompleted)
	}

	// Stage 4: assembly
	if job.FinalVideoURL == nil {
		o.setStatus(ctx, jobID, models.JobStatusAssembling)
		if err := o.runAssembly(ctx, job, &p); err != nil {
			o.recordError(ctx, jobID, StepAssembly, err.Error(), true)
			return fmt.Errorf("assembly failed: %w", err)
		}
	}

	log.Printf("[Orchestrator] Job %s completed", jobID)
	return nil
}

// runPlanning asks the director for a plan, validates it, and persists it.
// An invalid plan is a hard failure: nothing is stored and no synthesis is
// ever dispatched from it.
func (o *Orchestrator) runPlanning(ctx context.Context, job *models.VideoJob) error {
	o.setStatus(ctx, job.ID, models.JobStatusPlanning)

	avatar, err := o.store.GetAvatar(ctx, job.AvatarID)
	if err != nil {
		return fmt.Errorf("failed to load avatar: %w", err)
	}
	product, err := o.store.GetProduct(ctx, job.ProductID)
	if err != nil {
		return fmt.Errorf("failed to load product: %w", err)
	}

	demoClips, err := o.loadJobDemoClips(ctx, job)
	if err != nil {
		return err
	}

	reusable, err := o.store.ListProductReusableClips(ctx, job.ProductID)
	if err != nil {
		return fmt.Errorf("failed to list reusable clips: %w", err)
	}

	tone := ""
	if job.Tone != nil {
		tone = *job.Tone
	}

	p, err := o.planner.GeneratePlan(ctx, services.PlanInput{
		Product:        product,
		Avatar:         avatar,
		DemoClips:      demoClips,
		ReusableClips:  reusable,
		Tone:           tone,
		TargetDuration: job.TargetDurationSeconds,
	})
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	inputs := plan.Inputs{
		ProductImageCount: len(product.ImageURLs),
		DemoClipIDs:       clipIDStrings(demoClips),
		ReusableClipIDs:   reusableIDStrings(reusable),
	}
	result := plan.Validate(p, inputs)
	for _, w := range result.Warnings {
		log.Printf("[Orchestrator] Plan warning for job %s: %s", job.ID, w)
	}
	if !result.Valid {
		return fmt.Errorf("plan rejected: %s", strings.Join(result.Errors, "; "))
	}

	planJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to serialize plan: %w", err)
	}

	if err := o.store.SetJobPlan(ctx, job.ID, planJSON); err != nil {
		return fmt.Errorf("failed to store plan: %w", err)
	}

	log.Printf("[Orchestrator] Job %s planned: %ds, %d composites, %d synthesis calls",
		job.ID, p.TotalDurationSeconds, len(p.ImageCompositeTasks), len(p.SynthesisCalls))
	return nil
}

// loadJobDemoClips resolves the job's selected demo clip ids, falling back to
// every demo clip on the product when none were selected.
func (o *Orchestrator) loadJobDemoClips(ctx context.Context, job *models.VideoJob) ([]models.DemoClip, error) {
	if len(job.DemoClipIDs) == 0 {
		clips, err := o.store.ListProductDemoClips(ctx, job.ProductID)
		if err != nil {
			return nil, fmt.Errorf("failed to list demo clips: %w", err)
		}
		return clips, nil
	}

	clips := make([]models.DemoClip, 0, len(job.DemoClipIDs))
	for _, idStr := range job.DemoClipIDs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("invalid demo clip id %q: %w", idStr, err)
		}
		clip, err := o.store.GetDemoClip(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load demo clip %s: %w", idStr, err)
		}
		clips = append(clips, *clip)
	}
	return clips, nil
}

// Progress reports stage completion counts for UI polling.
func (o *Orchestrator) Progress(ctx context.Context, jobID uuid.UUID) (*models.JobProgress, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	progress := &models.JobProgress{
		Status:    job.Status,
		Error:     job.Error,
		ErrorStep: job.ErrorStep,
	}

	if len(job.PlanJSON) == 0 {
		return progress, nil
	}

	var p plan.Plan
	if err := json.Unmarshal(job.PlanJSON, &p); err != nil {
		return nil, fmt.Errorf("failed to parse stored plan: %w", err)
	}

	progress.CompositesTotal = len(p.ImageCompositeTasks)
	progress.CallsTotal = len(p.SynthesisCalls)
	for _, task := range p.ImageCompositeTasks {
		if job.HasCompletedComposite(task.CompositeID) {
			progress.CompositesDone++
		}
	}
	for _, call := range p.SynthesisCalls {
		if job.HasCompletedCall(call.CallID) {
			progress.CallsDone++
		}
	}
	progress.CanAssemble = compositesComplete(job, &p) && callsComplete(job, &p)

	return progress, nil
}

// GenerateOne regenerates a single composite or synthesis call out of band,
// replacing any previously completed result for that id.
func (o *Orchestrator) GenerateOne(ctx context.Context, jobID uuid.UUID, req models.GenerateOneRequest) (string, error) {
	if (req.CompositeID == "") == (req.CallID == "") {
		return "", fmt.Errorf("exactly one of composite_id or call_id is required")
	}

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("failed to load job: %w", err)
	}
	if len(job.PlanJSON) == 0 {
		return "", fmt.Errorf("job has no plan yet")
	}

	var p plan.Plan
	if err := json.Unmarshal(job.PlanJSON, &p); err != nil {
		return "", fmt.Errorf("failed to parse stored plan: %w", err)
	}

	if req.CompositeID != "" {
		task := p.CompositeTask(req.CompositeID)
		if task == nil {
			return "", fmt.Errorf("composite %q not in plan", req.CompositeID)
		}
		if job.HasCompletedComposite(req.CompositeID) {
			if err := o.store.RemoveCompletedComposite(ctx, jobID, req.CompositeID); err != nil {
				return "", fmt.Errorf("failed to clear previous composite: %w", err)
			}
		}
		url, err := o.generateComposite(ctx, job, task)
		if err != nil {
			return "", err
		}
		return url, nil
	}

	call := p.Call(req.CallID)
	if call == nil {
		return "", fmt.Errorf("synthesis call %q not in plan", req.CallID)
	}
	if job.HasCompletedCall(req.CallID) {
		if err := o.store.RemoveCompletedCall(ctx, jobID, req.CallID); err != nil {
			return "", fmt.Errorf("failed to clear previous clip: %w", err)
		}
	}
	url, err := o.generateClip(ctx, job, call)
	if err != nil {
		return "", err
	}
	return url, nil
}

// DeleteOne removes a generated asset so the next Advance (or GenerateOne)
// regenerates it. The storage object is deleted best-effort; the checkpoint
// removal is what matters for re-dispatch.
func (o *Orchestrator) DeleteOne(ctx context.Context, jobID uuid.UUID, req models.DeleteAssetRequest) error {
	if (req.CompositeID == "") == (req.ClipURL == "") {
		return fmt.Errorf("exactly one of composite_id or clip_url is required")
	}

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}

	if req.CompositeID != "" {
		url, ok := job.CompositeImages[req.CompositeID]
		if !ok {
			return fmt.Errorf("composite %q has no generated image", req.CompositeID)
		}
		if path, ok := o.objects.PathFromPublicURL(url); ok {
			if err := o.objects.Delete(ctx, path); err != nil {
				log.Printf("[Orchestrator] Failed to delete composite object %s: %v", path, err)
			}
		}
		return o.store.RemoveCompletedComposite(ctx, jobID, req.CompositeID)
	}

	callID := ""
	for id, url := range job.ClipURLs {
		if url == req.ClipURL {
			callID = id
			break
		}
	}
	if callID == "" {
		return fmt.Errorf("no generated clip matches url %q", req.ClipURL)
	}
	if path, ok := o.objects.PathFromPublicURL(req.ClipURL); ok {
		if err := o.objects.Delete(ctx, path); err != nil {
			log.Printf("[Orchestrator] Failed to delete clip object %s: %v", path, err)
		}
	}
	return o.store.RemoveCompletedCall(ctx, jobID, callID)
}

func compositesComplete(job *models.VideoJob, p *plan.Plan) bool {
	for _, task := range p.ImageCompositeTasks {
		if !job.HasCompletedComposite(task.CompositeID) {
			return false
		}
	}
	return true
}

func callsComplete(job *models.VideoJob, p *plan.Plan) bool {
	for _, call := range p.SynthesisCalls {
		if !job.HasCompletedCall(call.CallID) {
			return false
		}
	}
	return true
}

func clipIDStrings(clips []models.DemoClip) []string {
	ids := make([]string, len(clips))
	for i, c := range clips {
		ids[i] = c.ID.String()
	}
	return ids
}

func reusableIDStrings(clips []models.ReusableClip) []string {
	ids := make([]string, len(clips))
	for i, c := range clips {
		ids[i] = c.ID.String()
	}
	return ids
}
