package worker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shopreel/shopreel/internal/models"
	"github.com/shopreel/shopreel/internal/plan"
)

const (
	compositeMaxAttempts = 3
	compositeConcurrency = 4
)

// runComposites generates every composite image the plan asks for that the
// job has not already checkpointed. Tasks run concurrently and independently:
// one task exhausting its retries never blocks or rolls back the others —
// their results are recorded and only the failures are reported.
func (o *Orchestrator) runComposites(ctx context.Context, job *models.VideoJob, p *plan.Plan) error {
	var pending []plan.ImageCompositeTask
	for _, task := range p.ImageCompositeTasks {
		if !job.HasCompletedComposite(task.CompositeID) {
			pending = append(pending, task)
		}
	}

	if len(pending) == 0 {
		return nil
	}

	log.Printf("[Composites] Job %s: generating %d of %d composites", job.ID, len(pending), len(p.ImageCompositeTasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(compositeConcurrency)

	failures := make([]string, len(pending))
	for i := range pending {
		i := i
		task := pending[i]
		g.Go(func() error {
			if _, err := o.generateComposite(gctx, job, &task); err != nil {
				log.Printf("[Composites] Job %s: %s failed: %v", job.ID, task.CompositeID, err)
				failures[i] = fmt.Sprintf("%s: %v", task.CompositeID, err)
			}
			// Errors are collected, not returned — returning would cancel
			// gctx and abort the sibling tasks mid-flight.
			return nil
		})
	}
	g.Wait()

	var failed []string
	for _, f := range failures {
		if f != "" {
			failed = append(failed, f)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d composite(s) failed: %s", len(failed), strings.Join(failed, "; "))
	}

	return nil
}

// generateComposite runs one composite task with bounded retries, uploads the
// result, and checkpoints it. Returns the stored image URL.
func (o *Orchestrator) generateComposite(ctx context.Context, job *models.VideoJob, task *plan.ImageCompositeTask) (string, error) {
	avatar, err := o.store.GetAvatar(ctx, job.AvatarID)
	if err != nil {
		return "", fmt.Errorf("failed to load avatar: %w", err)
	}
	product, err := o.store.GetProduct(ctx, job.ProductID)
	if err != nil {
		return "", fmt.Errorf("failed to load product: %w", err)
	}

	productURLs := make([]string, 0, len(task.ProductImageIndexes))
	for _, idx := range task.ProductImageIndexes {
		if idx < 0 || idx >= len(product.ImageURLs) {
			return "", fmt.Errorf("product image index %d out of range (have %d images)", idx, len(product.ImageURLs))
		}
		productURLs = append(productURLs, product.ImageURLs[idx])
	}

	var imageData []byte
	var lastErr error
	for attempt := 1; attempt <= compositeMaxAttempts; attempt++ {
		imageData, lastErr = o.images.ComposeImage(ctx, task.Prompt, avatar.ImageURL, productURLs)
		if lastErr == nil {
			break
		}
		log.Printf("[Composites] Job %s: %s attempt %d/%d failed: %v", job.ID, task.CompositeID, attempt, compositeMaxAttempts, lastErr)
		if attempt < compositeMaxAttempts {
			if err := o.sleep(ctx, retryBackoff(attempt)); err != nil {
				return "", err
			}
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("exhausted %d attempts: %w", compositeMaxAttempts, lastErr)
	}

	storagePath := o.objects.GenerateStoragePath(job.ID, fmt.Sprintf("composite_%s.png", task.CompositeID))
	if err := o.objects.Upload(ctx, storagePath, imageData, "image/png"); err != nil {
		return "", fmt.Errorf("failed to upload composite: %w", err)
	}
	url := o.objects.GetPublicURL(storagePath)

	recorded, err := o.store.AppendCompletedComposite(ctx, job.ID, task.CompositeID, url)
	if err != nil {
		return "", fmt.Errorf("failed to checkpoint composite: %w", err)
	}
	if !recorded {
		// A concurrent advance beat us to it. Its URL wins; drop ours.
		if path, ok := o.objects.PathFromPublicURL(url); ok {
			o.objects.Delete(ctx, path)
		}
		log.Printf("[Composites] Job %s: %s already recorded, discarding duplicate", job.ID, task.CompositeID)
		return url, nil
	}

	log.Printf("[Composites] Job %s: %s done (%d bytes)", job.ID, task.CompositeID, len(imageData))
	return url, nil
}

// retryBackoff returns the exponential delay before the next attempt:
// 1s, 2s, 4s, ... capped at 10s.
func retryBackoff(attempt int) time.Duration {
	d := time.Second << (attempt - 1)
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return d
}
