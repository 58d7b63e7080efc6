package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/shopreel/shopreel/internal/models"
	"github.com/shopreel/shopreel/internal/plan"
)

const (
	synthesisMaxAttempts = 3
	compositePollEvery   = 5 * time.Second
)

// errDependencyTimeout marks a composite dependency that never materialized.
// Unlike transient synthesis errors, this fails the job: waiting longer will
// not produce an image that generation never recorded.
var errDependencyTimeout = errors.New("composite dependency timed out")

func isDependencyTimeout(err error) bool {
	return errors.Is(err, errDependencyTimeout)
}

// runSynthesis dispatches every pending synthesis call, one at a time, in
// plan order. The video provider allows roughly two requests per minute, so
// call i in the batch is held until i*dispatchSpacing after the batch start
// — already-completed calls don't occupy a slot, which keeps resumed batches
// as fast as the remaining work allows.
func (o *Orchestrator) runSynthesis(ctx context.Context, job *models.VideoJob, p *plan.Plan) error {
	var pending []plan.SynthesisCall
	for _, call := range p.SynthesisCalls {
		if !job.HasCompletedCall(call.CallID) {
			pending = append(pending, call)
		}
	}

	if len(pending) == 0 {
		return nil
	}

	log.Printf("[Dispatcher] Job %s: dispatching %d of %d synthesis calls", job.ID, len(pending), len(p.SynthesisCalls))

	batchStart := o.now()
	for i, call := range pending {
		slot := batchStart.Add(time.Duration(i) * o.dispatchSpacing)
		if wait := slot.Sub(o.now()); wait > 0 {
			log.Printf("[Dispatcher] Job %s: holding %s for %v (rate limit slot %d)", job.ID, call.CallID, wait.Round(time.Second), i)
			if err := o.sleep(ctx, wait); err != nil {
				return err
			}
		}

		if _, err := o.generateClip(ctx, job, &call); err != nil {
			return fmt.Errorf("synthesis call %s: %w", call.CallID, err)
		}
	}

	return nil
}

// generateClip runs one synthesis call end to end: resolve the source image,
// synthesize with bounded retries, upload, checkpoint. Returns the stored
// clip URL.
func (o *Orchestrator) generateClip(ctx context.Context, job *models.VideoJob, call *plan.SynthesisCall) (string, error) {
	sourceURL, err := o.resolveSourceImage(ctx, job, call)
	if err != nil {
		return "", err
	}

	imageData, err := o.objects.Fetch(ctx, sourceURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch source image: %w", err)
	}

	var clipData []byte
	var lastErr error
	for attempt := 1; attempt <= synthesisMaxAttempts; attempt++ {
		clipData, lastErr = o.video.SynthesizeClip(ctx, call.Prompt, call.Script, imageData, mimeTypeForURL(sourceURL))
		if lastErr == nil {
			break
		}
		log.Printf("[Dispatcher] Job %s: %s attempt %d/%d failed: %v", job.ID, call.CallID, attempt, synthesisMaxAttempts, lastErr)
		if attempt < synthesisMaxAttempts {
			if err := o.sleep(ctx, retryBackoff(attempt)); err != nil {
				return "", err
			}
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("exhausted %d attempts: %w", synthesisMaxAttempts, lastErr)
	}

	storagePath := o.objects.GenerateStoragePath(job.ID, fmt.Sprintf("clip_%s.mp4", call.CallID))
	if err := o.objects.Upload(ctx, storagePath, clipData, "video/mp4"); err != nil {
		return "", fmt.Errorf("failed to upload clip: %w", err)
	}
	url := o.objects.GetPublicURL(storagePath)

	recorded, err := o.store.AppendCompletedCall(ctx, job.ID, call.CallID, url)
	if err != nil {
		return "", fmt.Errorf("failed to checkpoint clip: %w", err)
	}
	if !recorded {
		if path, ok := o.objects.PathFromPublicURL(url); ok {
			o.objects.Delete(ctx, path)
		}
		log.Printf("[Dispatcher] Job %s: %s already recorded, discarding duplicate", job.ID, call.CallID)
		return url, nil
	}

	log.Printf("[Dispatcher] Job %s: %s done (%d bytes)", job.ID, call.CallID, len(clipData))
	return url, nil
}

// resolveSourceImage maps a call's source reference to a fetchable URL. A
// composite reference that isn't checkpointed yet is polled for — composite
// generation may still be in flight on another worker — up to the configured
// timeout, after which the job is considered broken.
func (o *Orchestrator) resolveSourceImage(ctx context.Context, job *models.VideoJob, call *plan.SynthesisCall) (string, error) {
	switch call.SourceImageType {
	case plan.SourceAvatar:
		avatar, err := o.store.GetAvatar(ctx, job.AvatarID)
		if err != nil {
			return "", fmt.Errorf("failed to load avatar: %w", err)
		}
		return avatar.ImageURL, nil

	case plan.SourceProduct:
		product, err := o.store.GetProduct(ctx, job.ProductID)
		if err != nil {
			return "", fmt.Errorf("failed to load product: %w", err)
		}
		idx, err := strconv.Atoi(call.SourceImageRef)
		if err != nil || idx < 0 || idx >= len(product.ImageURLs) {
			return "", fmt.Errorf("invalid product image ref %q", call.SourceImageRef)
		}
		return product.ImageURLs[idx], nil

	case plan.SourceComposite:
		return o.waitForComposite(ctx, job, call.SourceImageRef)

	default:
		return "", fmt.Errorf("unknown source image type %q", call.SourceImageType)
	}
}

// waitForComposite polls the job record until the composite's image URL is
// checkpointed or the timeout elapses.
func (o *Orchestrator) waitForComposite(ctx context.Context, job *models.VideoJob, compositeID string) (string, error) {
	if url, ok := job.CompositeImages[compositeID]; ok {
		return url, nil
	}

	deadline := o.now().Add(o.compositeWaitTimeout)
	for {
		fresh, err := o.store.GetJob(ctx, job.ID)
		if err != nil {
			return "", fmt.Errorf("failed to reload job while waiting for composite: %w", err)
		}
		if url, ok := fresh.CompositeImages[compositeID]; ok {
			return url, nil
		}

		if !o.now().Before(deadline) {
			return "", fmt.Errorf("%w: %s not ready after %v", errDependencyTimeout, compositeID, o.compositeWaitTimeout)
		}

		log.Printf("[Dispatcher] Job %s: waiting for composite %s", job.ID, compositeID)
		if err := o.sleep(ctx, compositePollEvery); err != nil {
			return "", err
		}
	}
}

func mimeTypeForURL(url string) string {
	lower := strings.ToLower(url)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
