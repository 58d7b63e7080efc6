package worker

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/shopreel/shopreel/internal/models"
	"github.com/shopreel/shopreel/internal/plan"
)

// Final duration may drift from the cut list by encoder frame rounding, but
// anything beyond half a second means a source was cut wrong.
const assemblyDurationTolerance = 0.5

// runAssembly cuts the plan's output windows from the synthesized and
// existing clips, joins them with hard cuts, verifies the result's duration,
// uploads it, and marks the job completed.
func (o *Orchestrator) runAssembly(ctx context.Context, job *models.VideoJob, p *plan.Plan) error {
	cuts := make([]plan.OutputClip, len(p.OutputClips))
	copy(cuts, p.OutputClips)
	sort.Slice(cuts, func(i, j int) bool { return cuts[i].Order < cuts[j].Order })

	log.Printf("[Assembler] Job %s: assembling %d cuts into %ds video", job.ID, len(cuts), p.TotalDurationSeconds)

	// Download each distinct source once.
	sourcePaths := make(map[string]string)
	usedReusable := make(map[uuid.UUID]bool)
	var tempFiles []string
	defer func() { o.editor.Cleanup(tempFiles...) }()

	var pieces []string
	for i, cut := range cuts {
		url, err := o.resolveCutSource(ctx, job, cut, usedReusable)
		if err != nil {
			return err
		}

		sourcePath, ok := sourcePaths[url]
		if !ok {
			data, err := o.objects.Fetch(ctx, url)
			if err != nil {
				return fmt.Errorf("failed to fetch source clip: %w", err)
			}
			sourcePath = o.editor.CreateTempFile(fmt.Sprintf("%s_src_%d.mp4", job.ID, len(sourcePaths)))
			if err := writeFile(sourcePath, data); err != nil {
				return fmt.Errorf("failed to stage source clip: %w", err)
			}
			sourcePaths[url] = sourcePath
			tempFiles = append(tempFiles, sourcePath)
		}

		piecePath := o.editor.CreateTempFile(fmt.Sprintf("%s_cut_%d.mp4", job.ID, i))
		if err := o.editor.ExtractRange(ctx, sourcePath, cut.StartTime, cut.EndTime, piecePath); err != nil {
			return fmt.Errorf("failed to extract cut %d: %w", cut.Order, err)
		}
		tempFiles = append(tempFiles, piecePath)
		pieces = append(pieces, piecePath)
	}

	finalPath := o.editor.CreateTempFile(fmt.Sprintf("%s_final.mp4", job.ID))
	tempFiles = append(tempFiles, finalPath)
	if err := o.editor.ConcatenateClips(ctx, pieces, finalPath); err != nil {
		return fmt.Errorf("failed to concatenate cuts: %w", err)
	}

	duration, err := o.editor.GetVideoDuration(ctx, finalPath)
	if err != nil {
		return fmt.Errorf("failed to probe final video: %w", err)
	}
	if math.Abs(duration-float64(p.TotalDurationSeconds)) > assemblyDurationTolerance {
		return fmt.Errorf("assembled duration %.2fs does not match planned %ds", duration, p.TotalDurationSeconds)
	}

	finalData, err := readFile(finalPath)
	if err != nil {
		return fmt.Errorf("failed to read final video: %w", err)
	}

	storagePath := o.objects.GenerateStoragePath(job.ID, "final.mp4")
	if err := o.objects.Upload(ctx, storagePath, finalData, "video/mp4"); err != nil {
		return fmt.Errorf("failed to upload final video: %w", err)
	}
	finalURL := o.objects.GetPublicURL(storagePath)

	if err := o.store.SetJobFinalVideo(ctx, job.ID, finalURL, p.TotalDurationSeconds); err != nil {
		return fmt.Errorf("failed to record final video: %w", err)
	}

	for id := range usedReusable {
		if err := o.store.MarkReusableClipUsed(ctx, id); err != nil {
			log.Printf("[Assembler] Job %s: failed to mark reusable clip %s used: %v", job.ID, id, err)
		}
	}

	o.registerReusableClips(ctx, job, p)

	log.Printf("[Assembler] Job %s: final video ready (%.2fs, %d bytes)", job.ID, duration, len(finalData))
	return nil
}

// resolveCutSource maps one cut list entry to a fetchable URL. Existing clip
// ids name either an uploaded demo clip or an indexed reusable clip.
func (o *Orchestrator) resolveCutSource(ctx context.Context, job *models.VideoJob, cut plan.OutputClip, usedReusable map[uuid.UUID]bool) (string, error) {
	if cut.SynthesisCallID != "" {
		url, ok := job.ClipURLs[cut.SynthesisCallID]
		if !ok {
			return "", fmt.Errorf("cut %d references call %s with no generated clip", cut.Order, cut.SynthesisCallID)
		}
		return url, nil
	}

	clipID, err := uuid.Parse(cut.ExistingClipID)
	if err != nil {
		return "", fmt.Errorf("cut %d has invalid existing clip id %q", cut.Order, cut.ExistingClipID)
	}

	if demo, err := o.store.GetDemoClip(ctx, clipID); err == nil {
		return demo.URL, nil
	}

	reusable, err := o.store.GetReusableClip(ctx, clipID)
	if err != nil {
		return "", fmt.Errorf("cut %d: existing clip %s not found: %w", cut.Order, cut.ExistingClipID, err)
	}
	usedReusable[reusable.ID] = true
	return reusable.URL, nil
}

// registerReusableClips indexes this job's freshly synthesized b-roll so
// future plans for the same product can cut from it instead of paying for
// new synthesis. Talking-head clips are face-and-script specific and are
// never indexed.
func (o *Orchestrator) registerReusableClips(ctx context.Context, job *models.VideoJob, p *plan.Plan) {
	brollCalls := make(map[string]bool)
	for _, seg := range p.Segments {
		if seg.SynthesisCallID == "" {
			continue
		}
		if seg.Type == plan.SegmentProductBroll || seg.Type == plan.SegmentVirtualBroll {
			brollCalls[seg.SynthesisCallID] = true
		}
	}

	for callID := range brollCalls {
		call := p.Call(callID)
		if call == nil {
			continue
		}
		url, ok := job.ClipURLs[callID]
		if !ok {
			continue
		}

		clip := &models.ReusableClip{
			ID:              uuid.New(),
			ProductID:       job.ProductID,
			URL:             url,
			Description:     call.Prompt,
			DurationSeconds: plan.ClipLengthSeconds,
			SourcePrompt:    call.Prompt,
			Mood:            inferMood(call.Prompt, job.Tone),
			UsageCount:      1,
		}
		if err := o.store.CreateReusableClip(ctx, clip); err != nil {
			log.Printf("[Assembler] Job %s: failed to index reusable clip for %s: %v", job.ID, callID, err)
			continue
		}
		log.Printf("[Assembler] Job %s: indexed reusable clip %s (mood=%s)", job.ID, clip.ID, clip.Mood)
	}
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0644)
}

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
