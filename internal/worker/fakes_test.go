package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopreel/shopreel/internal/models"
	"github.com/shopreel/shopreel/internal/plan"
	"github.com/shopreel/shopreel/internal/services"
)

// In-memory fakes for the orchestrator's collaborators. They mimic the real
// implementations' contracts closely enough that the state machine cannot
// tell the difference: the store's append operations are membership-guarded
// like the SQL they stand in for, and the clock only moves when something
// sleeps.

type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	return nil
}

type fakeStore struct {
	mu        sync.Mutex
	job       *models.VideoJob
	avatar    *models.Avatar
	product   *models.Product
	demoClips map[uuid.UUID]*models.DemoClip
	reusable  map[uuid.UUID]*models.ReusableClip

	statusErr error // when set, UpdateJobStatus and SetJobError fail

	statusLog []models.JobStatus
	indexed   []*models.ReusableClip
	usedClips []uuid.UUID
}

func newFakeStore(job *models.VideoJob, avatar *models.Avatar, product *models.Product) *fakeStore {
	return &fakeStore{
		job:       job,
		avatar:    avatar,
		product:   product,
		demoClips: make(map[uuid.UUID]*models.DemoClip),
		reusable:  make(map[uuid.UUID]*models.ReusableClip),
	}
}

func (s *fakeStore) GetJob(_ context.Context, id uuid.UUID) (*models.VideoJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job == nil || s.job.ID != id {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return cloneJob(s.job), nil
}

func cloneJob(j *models.VideoJob) *models.VideoJob {
	c := *j
	c.DemoClipIDs = append([]string(nil), j.DemoClipIDs...)
	c.PlanJSON = append([]byte(nil), j.PlanJSON...)
	c.CompletedCompositeIDs = append([]string(nil), j.CompletedCompositeIDs...)
	c.CompletedSynthesisCallIDs = append([]string(nil), j.CompletedSynthesisCallIDs...)
	c.CompositeImages = models.StringMap{}
	for k, v := range j.CompositeImages {
		c.CompositeImages[k] = v
	}
	c.ClipURLs = models.StringMap{}
	for k, v := range j.ClipURLs {
		c.ClipURLs[k] = v
	}
	return &c
}

func (s *fakeStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		return s.statusErr
	}
	s.job.Status = status
	s.statusLog = append(s.statusLog, status)
	return nil
}

func (s *fakeStore) SetJobPlan(_ context.Context, id uuid.UUID, planJSON []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.PlanJSON = append([]byte(nil), planJSON...)
	s.job.Status = models.JobStatusPlanningCompleted
	s.statusLog = append(s.statusLog, models.JobStatusPlanningCompleted)
	s.job.Error = nil
	s.job.ErrorStep = nil
	return nil
}

func (s *fakeStore) SetJobError(_ context.Context, id uuid.UUID, errorStep, message string, fatal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		return s.statusErr
	}
	s.job.Error = &message
	s.job.ErrorStep = &errorStep
	if fatal {
		s.job.Status = models.JobStatusFailed
		s.statusLog = append(s.statusLog, models.JobStatusFailed)
	}
	return nil
}

func (s *fakeStore) ClearJobError(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.Error = nil
	s.job.ErrorStep = nil
	return nil
}

func (s *fakeStore) AppendCompletedComposite(_ context.Context, id uuid.UUID, compositeID, imageURL string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.job.CompletedCompositeIDs {
		if c == compositeID {
			return false, nil
		}
	}
	s.job.CompletedCompositeIDs = append(s.job.CompletedCompositeIDs, compositeID)
	s.job.CompositeImages[compositeID] = imageURL
	return true, nil
}

func (s *fakeStore) AppendCompletedCall(_ context.Context, id uuid.UUID, callID, clipURL string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.job.CompletedSynthesisCallIDs {
		if c == callID {
			return false, nil
		}
	}
	s.job.CompletedSynthesisCallIDs = append(s.job.CompletedSynthesisCallIDs, callID)
	s.job.ClipURLs[callID] = clipURL
	return true, nil
}

func (s *fakeStore) RemoveCompletedComposite(_ context.Context, id uuid.UUID, compositeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.CompletedCompositeIDs = removeString(s.job.CompletedCompositeIDs, compositeID)
	delete(s.job.CompositeImages, compositeID)
	return nil
}

func (s *fakeStore) RemoveCompletedCall(_ context.Context, id uuid.UUID, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.CompletedSynthesisCallIDs = removeString(s.job.CompletedSynthesisCallIDs, callID)
	delete(s.job.ClipURLs, callID)
	return nil
}

func removeString(list []string, s string) []string {
	var out []string
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func (s *fakeStore) SetJobFinalVideo(_ context.Context, id uuid.UUID, url string, durationSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.FinalVideoURL = &url
	s.job.FinalDurationSeconds = &durationSeconds
	s.job.Status = models.JobStatusCompleted
	s.statusLog = append(s.statusLog, models.JobStatusCompleted)
	s.job.Error = nil
	s.job.ErrorStep = nil
	return nil
}

func (s *fakeStore) GetAvatar(_ context.Context, id uuid.UUID) (*models.Avatar, error) {
	if s.avatar == nil || s.avatar.ID != id {
		return nil, fmt.Errorf("avatar %s not found", id)
	}
	return s.avatar, nil
}

func (s *fakeStore) GetProduct(_ context.Context, id uuid.UUID) (*models.Product, error) {
	if s.product == nil || s.product.ID != id {
		return nil, fmt.Errorf("product %s not found", id)
	}
	return s.product, nil
}

func (s *fakeStore) GetDemoClip(_ context.Context, id uuid.UUID) (*models.DemoClip, error) {
	if clip, ok := s.demoClips[id]; ok {
		return clip, nil
	}
	return nil, fmt.Errorf("demo clip %s not found", id)
}

func (s *fakeStore) ListProductDemoClips(_ context.Context, productID uuid.UUID) ([]models.DemoClip, error) {
	var clips []models.DemoClip
	for _, c := range s.demoClips {
		if c.ProductID == productID {
			clips = append(clips, *c)
		}
	}
	return clips, nil
}

func (s *fakeStore) GetReusableClip(_ context.Context, id uuid.UUID) (*models.ReusableClip, error) {
	if clip, ok := s.reusable[id]; ok {
		return clip, nil
	}
	return nil, fmt.Errorf("reusable clip %s not found", id)
}

func (s *fakeStore) ListProductReusableClips(_ context.Context, productID uuid.UUID) ([]models.ReusableClip, error) {
	var clips []models.ReusableClip
	for _, c := range s.reusable {
		if c.ProductID == productID {
			clips = append(clips, *c)
		}
	}
	return clips, nil
}

func (s *fakeStore) CreateReusableClip(_ context.Context, clip *models.ReusableClip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reusable[clip.ID] = clip
	s.indexed = append(s.indexed, clip)
	return nil
}

func (s *fakeStore) MarkReusableClipUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if clip, ok := s.reusable[id]; ok {
		clip.UsageCount++
	}
	s.usedClips = append(s.usedClips, id)
	return nil
}

type fakePlanner struct {
	plan  *plan.Plan
	err   error
	calls int
}

func (p *fakePlanner) GeneratePlan(_ context.Context, _ services.PlanInput) (*plan.Plan, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.plan, nil
}

type fakeImages struct {
	mu       sync.Mutex
	failFor  map[string]error // keyed by prompt
	rendered []string
}

func (f *fakeImages) ComposeImage(_ context.Context, prompt, avatarURL string, productImageURLs []string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[prompt]; ok {
		return nil, err
	}
	f.rendered = append(f.rendered, prompt)
	return []byte("png:" + prompt), nil
}

type fakeVideo struct {
	mu          sync.Mutex
	clock       *fakeClock
	latency     time.Duration // simulated synthesis time per call
	dispatchAt  []time.Time
	prompts     []string
	failAlways  error
	failPrompts map[string]error
}

func (f *fakeVideo) SynthesizeClip(ctx context.Context, prompt, script string, imageData []byte, imageMimeType string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clock != nil {
		f.dispatchAt = append(f.dispatchAt, f.clock.now())
		if f.latency > 0 {
			_ = f.clock.sleep(ctx, f.latency)
		}
	}
	if f.failAlways != nil {
		return nil, f.failAlways
	}
	if err, ok := f.failPrompts[prompt]; ok {
		return nil, err
	}
	f.prompts = append(f.prompts, prompt)
	return []byte("mp4:" + prompt), nil
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

const fakePublicPrefix = "https://objects.test/"

func (f *fakeObjects) Upload(_ context.Context, storagePath string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[storagePath] = data
	return nil
}

func (f *fakeObjects) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if path, ok := strings.CutPrefix(url, fakePublicPrefix); ok {
		if data, ok := f.objects[path]; ok {
			return data, nil
		}
		return nil, fmt.Errorf("object %s not found", path)
	}
	// External URL (avatar photo, product photo, demo footage)
	return []byte("external:" + url), nil
}

func (f *fakeObjects) Delete(_ context.Context, storagePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, storagePath)
	f.deleted = append(f.deleted, storagePath)
	return nil
}

func (f *fakeObjects) GetPublicURL(storagePath string) string {
	return fakePublicPrefix + storagePath
}

func (f *fakeObjects) PathFromPublicURL(url string) (string, bool) {
	return strings.CutPrefix(url, fakePublicPrefix)
}

func (f *fakeObjects) GenerateStoragePath(jobID uuid.UUID, filename string) string {
	return fmt.Sprintf("jobs/%s/%s", jobID, filename)
}

// fakeEditor emulates exact cutting: the reported duration of the final
// video is the sum of all extracted windows, unless overridden.
type fakeEditor struct {
	mu               sync.Mutex
	dir              string
	extracted        [][2]float64
	concatenated     [][]string
	durationOverride *float64
	totalExtracted   float64
}

func newFakeEditor(dir string) *fakeEditor {
	return &fakeEditor{dir: dir}
}

func (f *fakeEditor) ExtractRange(_ context.Context, inputPath string, startSec, endSec float64, outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extracted = append(f.extracted, [2]float64{startSec, endSec})
	f.totalExtracted += endSec - startSec
	return os.WriteFile(outputPath, []byte("cut"), 0644)
}

func (f *fakeEditor) ConcatenateClips(_ context.Context, clipPaths []string, outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.concatenated = append(f.concatenated, append([]string(nil), clipPaths...))
	return os.WriteFile(outputPath, []byte("final"), 0644)
}

func (f *fakeEditor) GetVideoDuration(_ context.Context, videoPath string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.durationOverride != nil {
		return *f.durationOverride, nil
	}
	return f.totalExtracted, nil
}

func (f *fakeEditor) CreateTempFile(filename string) string {
	return filepath.Join(f.dir, filename)
}

func (f *fakeEditor) Cleanup(paths ...string) {
	for _, p := range paths {
		os.Remove(p)
	}
}
