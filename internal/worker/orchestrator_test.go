package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopreel/shopreel/internal/models"
	"github.com/shopreel/shopreel/internal/plan"
)

// testRig bundles an orchestrator wired entirely to fakes, with a simulated
// clock so rate-limit spacing and dependency polling cost no wall time.
type testRig struct {
	orch    *Orchestrator
	store   *fakeStore
	planner *fakePlanner
	images  *fakeImages
	video   *fakeVideo
	objects *fakeObjects
	editor  *fakeEditor
	clock   *fakeClock
	job     *models.VideoJob
}

func newTestRig(t *testing.T, p *plan.Plan) *testRig {
	t.Helper()

	avatar := &models.Avatar{ID: uuid.New(), Name: "Maya", ImageURL: "https://cdn.test/avatar.jpg"}
	product := &models.Product{
		ID:        uuid.New(),
		Name:      "Glow Serum",
		ImageURLs: []string{"https://cdn.test/serum_front.jpg", "https://cdn.test/serum_side.jpg"},
	}

	job := &models.VideoJob{
		ID:                    uuid.New(),
		AvatarID:              avatar.ID,
		ProductID:             product.ID,
		TargetDurationSeconds: 24,
		Status:                models.JobStatusPending,
		CompositeImages:       models.StringMap{},
		ClipURLs:              models.StringMap{},
	}
	if p != nil {
		job.TargetDurationSeconds = p.TotalDurationSeconds
	}

	store := newFakeStore(job, avatar, product)
	clock := newFakeClock()
	planner := &fakePlanner{plan: p}
	images := &fakeImages{}
	video := &fakeVideo{clock: clock}
	objects := newFakeObjects()
	editor := newFakeEditor(t.TempDir())

	orch := NewOrchestrator(store, planner, images, video, objects, editor, 30*time.Second, 5*time.Minute)
	orch.now = clock.now
	orch.sleep = clock.sleep

	return &testRig{
		orch: orch, store: store, planner: planner, images: images,
		video: video, objects: objects, editor: editor, clock: clock, job: job,
	}
}

// plan24 is a full 24-second plan: one composite, three synthesis calls
// (talking head from the avatar, composite b-roll, product b-roll), each
// used whole in the cut list.
func plan24() *plan.Plan {
	return &plan.Plan{
		TotalDurationSeconds: 24,
		ImageCompositeTasks: []plan.ImageCompositeTask{
			{CompositeID: "comp_1", ProductImageIndexes: []int{0}, Prompt: "avatar holding the serum at a sunlit vanity", Description: "hero shot"},
		},
		SynthesisCalls: []plan.SynthesisCall{
			{CallID: "veo_1", SourceImageType: plan.SourceAvatar, Prompt: "creator speaks to camera", Script: "This serum changed my whole routine."},
			{CallID: "veo_2", SourceImageType: plan.SourceComposite, SourceImageRef: "comp_1", Prompt: "slow push-in on the vibrant serum bottle"},
			{CallID: "veo_3", SourceImageType: plan.SourceProduct, SourceImageRef: "0", Prompt: "serum drop in macro detail"},
		},
		Segments: []plan.Segment{
			{Type: plan.SegmentTalkingHead, SynthesisCallID: "veo_1", StartTime: 0, EndTime: 8},
			{Type: plan.SegmentVirtualBroll, SynthesisCallID: "veo_2", StartTime: 0, EndTime: 8},
			{Type: plan.SegmentProductBroll, SynthesisCallID: "veo_3", StartTime: 0, EndTime: 8},
		},
		OutputClips: []plan.OutputClip{
			{SynthesisCallID: "veo_1", StartTime: 0, EndTime: 8, Order: 0},
			{SynthesisCallID: "veo_2", StartTime: 0, EndTime: 8, Order: 1},
			{SynthesisCallID: "veo_3", StartTime: 0, EndTime: 8, Order: 2},
		},
	}
}

func TestAdvanceRunsFullPipeline(t *testing.T) {
	rig := newTestRig(t, plan24())
	ctx := context.Background()

	if err := rig.orch.Advance(ctx, rig.job.ID); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	job, _ := rig.store.GetJob(ctx, rig.job.ID)
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("expected status completed, got %s", job.Status)
	}
	if job.FinalVideoURL == nil {
		t.Fatal("expected final video URL to be set")
	}
	if job.FinalDurationSeconds == nil || *job.FinalDurationSeconds != 24 {
		t.Fatalf("expected final duration 24, got %v", job.FinalDurationSeconds)
	}
	if len(job.CompletedSynthesisCallIDs) != 3 {
		t.Fatalf("expected 3 completed calls, got %d", len(job.CompletedSynthesisCallIDs))
	}
	if len(job.CompletedCompositeIDs) != 1 {
		t.Fatalf("expected 1 completed composite, got %d", len(job.CompletedCompositeIDs))
	}

	// The job must pass through every intermediate status in order.
	want := []models.JobStatus{
		models.JobStatusPlanning,
		models.JobStatusPlanningCompleted,
		models.JobStatusGeneratingComposites,
		models.JobStatusGeneratingVideo,
		models.JobStatusVeoClipsCompleted,
		models.JobStatusAssembling,
		models.JobStatusCompleted,
	}
	if len(rig.store.statusLog) != len(want) {
		t.Fatalf("status log %v, want %v", rig.store.statusLog, want)
	}
	for i, s := range want {
		if rig.store.statusLog[i] != s {
			t.Errorf("status[%d] = %s, want %s", i, rig.store.statusLog[i], s)
		}
	}
}

func TestAdvanceSurvivesLostStatusWrites(t *testing.T) {
	// Status transitions are bookkeeping; the pipeline runs off the
	// checkpoints. A store that drops them gets logged, not aborted.
	rig := newTestRig(t, plan24())
	rig.store.statusErr = errors.New("connection reset by peer")
	ctx := context.Background()

	if err := rig.orch.Advance(ctx, rig.job.ID); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	job, _ := rig.store.GetJob(ctx, rig.job.ID)
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if job.FinalVideoURL == nil {
		t.Fatal("expected final video URL despite lost status writes")
	}
}

func TestAdvanceIndexesBrollForReuse(t *testing.T) {
	rig := newTestRig(t, plan24())
	ctx := context.Background()

	if err := rig.orch.Advance(ctx, rig.job.ID); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	// veo_2 (virtual_broll) and veo_3 (product_broll) become reusable;
	// the talking head does not.
	if len(rig.store.indexed) != 2 {
		t.Fatalf("expected 2 indexed clips, got %d", len(rig.store.indexed))
	}
	for _, clip := range rig.store.indexed {
		if clip.ProductID != rig.job.ProductID {
			t.Errorf("indexed clip bound to wrong product")
		}
		if clip.DurationSeconds != 8 {
			t.Errorf("indexed clip duration = %v, want 8", clip.DurationSeconds)
		}
		if clip.UsageCount != 1 {
			t.Errorf("indexed clip usage_count = %d, want 1", clip.UsageCount)
		}
	}
}

func TestAdvanceResumeSkipsCompletedWork(t *testing.T) {
	rig := newTestRig(t, plan24())
	ctx := context.Background()

	// Simulate a prior run that planned, generated the composite, and
	// finished veo_1 before crashing.
	planJSON, _ := json.Marshal(plan24())
	rig.store.job.PlanJSON = planJSON
	rig.store.job.Status = models.JobStatusGeneratingVideo
	rig.store.job.CompletedCompositeIDs = []string{"comp_1"}
	rig.store.job.CompositeImages["comp_1"] = fakePublicPrefix + "jobs/x/composite_comp_1.png"
	rig.objects.objects["jobs/x/composite_comp_1.png"] = []byte("png")
	rig.store.job.CompletedSynthesisCallIDs = []string{"veo_1"}
	rig.store.job.ClipURLs["veo_1"] = fakePublicPrefix + "jobs/x/clip_veo_1.mp4"
	rig.objects.objects["jobs/x/clip_veo_1.mp4"] = []byte("mp4")

	if err := rig.orch.Advance(ctx, rig.job.ID); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	if rig.planner.calls != 0 {
		t.Errorf("planner invoked on resume: %d calls", rig.planner.calls)
	}
	if len(rig.images.rendered) != 0 {
		t.Errorf("composite regenerated on resume: %v", rig.images.rendered)
	}
	// Only the two missing calls are dispatched, and veo_1 exactly once.
	if len(rig.video.prompts) != 2 {
		t.Fatalf("expected 2 synthesis dispatches, got %d: %v", len(rig.video.prompts), rig.video.prompts)
	}
	for _, p := range rig.video.prompts {
		if strings.Contains(p, "speaks to camera") {
			t.Errorf("completed call veo_1 was re-dispatched")
		}
	}

	job, _ := rig.store.GetJob(ctx, rig.job.ID)
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
}

func TestAdvanceTerminalJobIsNoOp(t *testing.T) {
	rig := newTestRig(t, plan24())
	ctx := context.Background()

	rig.store.job.Status = models.JobStatusCompleted

	if err := rig.orch.Advance(ctx, rig.job.ID); err != nil {
		t.Fatalf("Advance on completed job errored: %v", err)
	}
	if rig.planner.calls != 0 || len(rig.video.prompts) != 0 {
		t.Error("completed job triggered new work")
	}
}

func TestDispatchSpacing(t *testing.T) {
	// Slot offsets must hold whether synthesis returns instantly or eats
	// most of the slot: call i is held until i*30s after the batch starts,
	// not 30s after the previous call returned.
	latencies := []time.Duration{0, 12 * time.Second}
	for _, latency := range latencies {
		t.Run(latency.String(), func(t *testing.T) {
			rig := newTestRig(t, plan24())
			rig.video.latency = latency
			ctx := context.Background()

			start := rig.clock.now()
			if err := rig.orch.Advance(ctx, rig.job.ID); err != nil {
				t.Fatalf("Advance failed: %v", err)
			}

			if len(rig.video.dispatchAt) != 3 {
				t.Fatalf("expected 3 dispatches, got %d", len(rig.video.dispatchAt))
			}
			// The batch starts after planning and composites, so measure
			// offsets relative to the first dispatch.
			base := rig.video.dispatchAt[0]
			if base.Before(start) {
				t.Fatal("clock went backwards")
			}
			for i, at := range rig.video.dispatchAt {
				want := time.Duration(i) * 30 * time.Second
				if got := at.Sub(base); got != want {
					t.Errorf("dispatch %d at offset %v, want %v", i, got, want)
				}
			}
		})
	}
}

func TestPlanningFailureIsFatal(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.planner.err = errors.New("model unavailable")
	ctx := context.Background()

	if err := rig.orch.Advance(ctx, rig.job.ID); err == nil {
		t.Fatal("expected error")
	}

	job, _ := rig.store.GetJob(ctx, rig.job.ID)
	if job.Status != models.JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.ErrorStep == nil || *job.ErrorStep != StepPlanning {
		t.Fatalf("expected error step %q, got %v", StepPlanning, job.ErrorStep)
	}
}

func TestInvalidPlanRejectedBeforeAnySynthesis(t *testing.T) {
	bad := plan24()
	bad.TotalDurationSeconds = 18 // not in the allowed set
	rig := newTestRig(t, bad)
	rig.job.TargetDurationSeconds = 24
	ctx := context.Background()

	if err := rig.orch.Advance(ctx, rig.job.ID); err == nil {
		t.Fatal("expected error")
	}

	if len(rig.images.rendered) != 0 || len(rig.video.prompts) != 0 {
		t.Error("synthesis dispatched from an invalid plan")
	}
	job, _ := rig.store.GetJob(ctx, rig.job.ID)
	if job.Status != models.JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if len(job.PlanJSON) != 0 {
		t.Error("invalid plan was persisted")
	}
}

func TestCompositeFailureIsolation(t *testing.T) {
	p := plan24()
	p.ImageCompositeTasks = []plan.ImageCompositeTask{
		{CompositeID: "comp_1", ProductImageIndexes: []int{0}, Prompt: "prompt one"},
		{CompositeID: "comp_2", ProductImageIndexes: []int{1}, Prompt: "prompt two"},
		{CompositeID: "comp_3", ProductImageIndexes: []int{0, 1}, Prompt: "prompt three"},
	}
	p.SynthesisCalls[1].SourceImageRef = "comp_1"
	rig := newTestRig(t, p)
	rig.images.failFor = map[string]error{"prompt two": errors.New("content filter")}
	ctx := context.Background()

	err := rig.orch.Advance(ctx, rig.job.ID)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "comp_2") {
		t.Fatalf("error should name the failed task, got: %v", err)
	}

	// Siblings complete and are checkpointed despite comp_2 exhausting
	// its retries.
	job, _ := rig.store.GetJob(ctx, rig.job.ID)
	if !job.HasCompletedComposite("comp_1") || !job.HasCompletedComposite("comp_3") {
		t.Fatalf("sibling composites not recorded: %v", job.CompletedCompositeIDs)
	}
	if job.HasCompletedComposite("comp_2") {
		t.Fatal("failed composite recorded as completed")
	}

	// The stall is resumable, not fatal: status holds at the stage and
	// the error is recorded.
	if job.Status != models.JobStatusGeneratingComposites {
		t.Fatalf("expected generating_composites, got %s", job.Status)
	}
	if job.Error == nil || job.ErrorStep == nil || *job.ErrorStep != StepComposites {
		t.Fatalf("expected recorded composite error, got error=%v step=%v", job.Error, job.ErrorStep)
	}

	// A later advance retries only comp_2.
	rig.images.failFor = nil
	before := len(rig.images.rendered)
	if err := rig.orch.Advance(ctx, rig.job.ID); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if got := len(rig.images.rendered) - before; got != 1 {
		t.Fatalf("expected 1 composite retry, got %d", got)
	}
	job, _ = rig.store.GetJob(ctx, rig.job.ID)
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed after resume, got %s", job.Status)
	}
	if job.Error != nil {
		t.Fatal("stale error not cleared on resume")
	}
}

func TestSynthesisRetriesThenExhausts(t *testing.T) {
	rig := newTestRig(t, plan24())
	rig.video.failAlways = errors.New("capacity")
	ctx := context.Background()

	if err := rig.orch.Advance(ctx, rig.job.ID); err == nil {
		t.Fatal("expected error")
	}

	// veo_1 gets exactly 3 attempts before the dispatcher gives up.
	if len(rig.video.dispatchAt) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(rig.video.dispatchAt))
	}

	job, _ := rig.store.GetJob(ctx, rig.job.ID)
	if job.Status != models.JobStatusGeneratingVideo {
		t.Fatalf("expected generating_video (resumable stall), got %s", job.Status)
	}
	if job.ErrorStep == nil || *job.ErrorStep != StepSynthesis {
		t.Fatalf("expected error step %q, got %v", StepSynthesis, job.ErrorStep)
	}
	if len(job.CompletedSynthesisCallIDs) != 0 {
		t.Fatal("failed call recorded as completed")
	}
}

func TestCompositeDependencyTimeoutFailsJob(t *testing.T) {
	rig := newTestRig(t, plan24())
	ctx := context.Background()

	job := cloneJob(rig.store.job)
	// comp_1 is in the completed set but its image URL never landed, so
	// the dispatcher polls until the window closes.
	_, err := rig.orch.waitForComposite(ctx, job, "comp_1")
	if err == nil {
		t.Fatal("expected timeout")
	}
	if !isDependencyTimeout(err) {
		t.Fatalf("expected dependency timeout, got: %v", err)
	}

	// Poll cadence is 5s; a 5 minute window takes 60 polls.
	for _, d := range rig.clock.sleeps {
		if d != 5*time.Second {
			t.Fatalf("unexpected poll interval %v", d)
		}
	}
	if len(rig.clock.sleeps) != 60 {
		t.Fatalf("expected 60 polls, got %d", len(rig.clock.sleeps))
	}
}

func TestAssemblyCutsSubRanges(t *testing.T) {
	p := &plan.Plan{
		TotalDurationSeconds: 16,
		SynthesisCalls: []plan.SynthesisCall{
			{CallID: "veo_1", SourceImageType: plan.SourceAvatar, Prompt: "talking", Script: "hi"},
			{CallID: "veo_2", SourceImageType: plan.SourceProduct, SourceImageRef: "0", Prompt: "broll"},
		},
		Segments: []plan.Segment{
			{Type: plan.SegmentTalkingHead, SynthesisCallID: "veo_1", StartTime: 0, EndTime: 8},
			{Type: plan.SegmentProductBroll, SynthesisCallID: "veo_2", StartTime: 0, EndTime: 8},
		},
		// Deliberately unordered: assembly must sort by Order.
		OutputClips: []plan.OutputClip{
			{SynthesisCallID: "veo_2", StartTime: 0, EndTime: 8, Order: 2},
			{SynthesisCallID: "veo_1", StartTime: 0, EndTime: 4, Order: 0},
			{SynthesisCallID: "veo_1", StartTime: 4, EndTime: 8, Order: 1},
		},
	}
	rig := newTestRig(t, p)
	ctx := context.Background()

	if err := rig.orch.Advance(ctx, rig.job.ID); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	wantCuts := [][2]float64{{0, 4}, {4, 8}, {0, 8}}
	if len(rig.editor.extracted) != len(wantCuts) {
		t.Fatalf("extracted %v, want %v", rig.editor.extracted, wantCuts)
	}
	for i, w := range wantCuts {
		if rig.editor.extracted[i] != w {
			t.Errorf("cut %d = %v, want %v", i, rig.editor.extracted[i], w)
		}
	}

	job, _ := rig.store.GetJob(ctx, rig.job.ID)
	if job.FinalDurationSeconds == nil || *job.FinalDurationSeconds != 16 {
		t.Fatalf("expected final duration 16, got %v", job.FinalDurationSeconds)
	}
}

func TestAssemblyDurationMismatchIsFatal(t *testing.T) {
	rig := newTestRig(t, plan24())
	short := 21.0
	rig.editor.durationOverride = &short
	ctx := context.Background()

	if err := rig.orch.Advance(ctx, rig.job.ID); err == nil {
		t.Fatal("expected error")
	}

	job, _ := rig.store.GetJob(ctx, rig.job.ID)
	if job.Status != models.JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.ErrorStep == nil || *job.ErrorStep != StepAssembly {
		t.Fatalf("expected error step %q, got %v", StepAssembly, job.ErrorStep)
	}
	if job.FinalVideoURL != nil {
		t.Fatal("mismatched video was recorded as final")
	}
}

func TestGenerateOneReplacesCompletedCall(t *testing.T) {
	rig := newTestRig(t, plan24())
	ctx := context.Background()

	if err := rig.orch.Advance(ctx, rig.job.ID); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	url, err := rig.orch.GenerateOne(ctx, rig.job.ID, models.GenerateOneRequest{CallID: "veo_2"})
	if err != nil {
		t.Fatalf("GenerateOne failed: %v", err)
	}
	if url == "" {
		t.Fatal("expected result URL")
	}

	job, _ := rig.store.GetJob(ctx, rig.job.ID)
	if !job.HasCompletedCall("veo_2") {
		t.Fatal("regenerated call not recorded")
	}
	if job.ClipURLs["veo_2"] != url {
		t.Fatalf("clip URL not updated: %s vs %s", job.ClipURLs["veo_2"], url)
	}
}

func TestGenerateOneRejectsAmbiguousRequest(t *testing.T) {
	rig := newTestRig(t, plan24())
	ctx := context.Background()

	if _, err := rig.orch.GenerateOne(ctx, rig.job.ID, models.GenerateOneRequest{}); err == nil {
		t.Error("empty request accepted")
	}
	if _, err := rig.orch.GenerateOne(ctx, rig.job.ID, models.GenerateOneRequest{CompositeID: "comp_1", CallID: "veo_1"}); err == nil {
		t.Error("request naming both ids accepted")
	}
}

func TestDeleteOneClearsCheckpoint(t *testing.T) {
	rig := newTestRig(t, plan24())
	ctx := context.Background()

	if err := rig.orch.Advance(ctx, rig.job.ID); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	job, _ := rig.store.GetJob(ctx, rig.job.ID)
	clipURL := job.ClipURLs["veo_3"]

	if err := rig.orch.DeleteOne(ctx, rig.job.ID, models.DeleteAssetRequest{ClipURL: clipURL}); err != nil {
		t.Fatalf("DeleteOne failed: %v", err)
	}

	job, _ = rig.store.GetJob(ctx, rig.job.ID)
	if job.HasCompletedCall("veo_3") {
		t.Fatal("deleted clip still in completed set")
	}
	if _, ok := job.ClipURLs["veo_3"]; ok {
		t.Fatal("deleted clip URL still recorded")
	}
	if len(rig.objects.deleted) == 0 {
		t.Fatal("storage object not deleted")
	}
}

func TestDeleteOneComposite(t *testing.T) {
	rig := newTestRig(t, plan24())
	ctx := context.Background()

	if err := rig.orch.Advance(ctx, rig.job.ID); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	if err := rig.orch.DeleteOne(ctx, rig.job.ID, models.DeleteAssetRequest{CompositeID: "comp_1"}); err != nil {
		t.Fatalf("DeleteOne failed: %v", err)
	}
	job, _ := rig.store.GetJob(ctx, rig.job.ID)
	if job.HasCompletedComposite("comp_1") {
		t.Fatal("deleted composite still in completed set")
	}
}

func TestProgressCounts(t *testing.T) {
	rig := newTestRig(t, plan24())
	ctx := context.Background()

	progress, err := rig.orch.Progress(ctx, rig.job.ID)
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if progress.CompositesTotal != 0 || progress.CallsTotal != 0 {
		t.Fatal("unplanned job should report zero totals")
	}

	if err := rig.orch.Advance(ctx, rig.job.ID); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	progress, err = rig.orch.Progress(ctx, rig.job.ID)
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if progress.CompositesDone != 1 || progress.CompositesTotal != 1 {
		t.Errorf("composites %d/%d, want 1/1", progress.CompositesDone, progress.CompositesTotal)
	}
	if progress.CallsDone != 3 || progress.CallsTotal != 3 {
		t.Errorf("calls %d/%d, want 3/3", progress.CallsDone, progress.CallsTotal)
	}
	if !progress.CanAssemble {
		t.Error("expected CanAssemble")
	}
	if progress.Status != models.JobStatusCompleted {
		t.Errorf("status %s, want completed", progress.Status)
	}
}
