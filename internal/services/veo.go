package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Veo Video Synthesis Service
// Uses the Google Gen AI SDK to animate a source image (avatar photo,
// composite frame, or product photo) into a fixed 8-second clip.
// ---------------------------------------------------------------------------

const (
	defaultVeoModel    = "veo-3.1-generate-preview"
	veoPollInterval    = 10 * time.Second
	veoMaxPollDuration = 5 * time.Minute // Max time to wait for a single video
)

// VeoService handles video synthesis via Google's Veo model. Each call
// produces exactly one 8-second clip; the cut list decides how much of it
// survives into the final video.
type VeoService struct {
	apiKey string
	model  string
}

// NewVeoService creates a new Veo video synthesis service.
// apiKey: the Gemini API key (same key works for both Gemini and Veo)
// model: the Veo model to use (empty string defaults to veo-3.1-generate-preview)
func NewVeoService(apiKey, model string) *VeoService {
	if model == "" {
		model = defaultVeoModel
	}
	return &VeoService{
		apiKey: apiKey,
		model:  model,
	}
}

// buildVeoPrompt enhances the planner's shot prompt with delivery
// instructions and, for talking-head shots, the spoken script.
func buildVeoPrompt(rawPrompt, script string) string {
	var sb strings.Builder
	sb.WriteString(rawPrompt)

	if script != "" {
		fmt.Fprintf(&sb, `

The person in the source image speaks directly to camera, naturally and conversationally, with accurate lip sync: "%s"`, script)
	} else {
		sb.WriteString(`

No dialogue. Ambient sound only.`)
	}

	sb.WriteString(`

Visual style direction: Match the source image exactly — same person, same product, same setting, same lighting. The video should look like the source frame has come to life. Do not alter faces, product labels, or colors.

Motion direction: Natural, grounded handheld energy suitable for short-form social video. Avoid sudden jerky movements, morphing, or style changes between frames.`)

	return sb.String()
}

// SynthesizeClip generates an 8-second clip using Veo with the provided
// image as the first frame.
//
// The async operation is polled internally with a 5 minute timeout. This
// blocks the calling goroutine — intentional, since the dispatcher runs
// synthesis calls one at a time to respect provider rate limits.
//
// Parameters:
//   - prompt: the shot description from the plan
//   - script: spoken words for talking-head shots (empty for b-roll)
//   - imageData: raw bytes of the source image to use as the first frame
//   - imageMimeType: MIME type of the image (e.g., "image/png")
//
// Returns the raw video bytes (MP4) or an error.
func (s *VeoService) SynthesizeClip(ctx context.Context, prompt, script string, imageData []byte, imageMimeType string) ([]byte, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	enhancedPrompt := buildVeoPrompt(prompt, script)

	firstFrame := &genai.Image{
		ImageBytes: imageData,
		MIMEType:   imageMimeType,
	}

	// Portrait 9:16 at 1080p — the deliverable is vertical social video
	config := &genai.GenerateVideosConfig{
		AspectRatio:      "9:16",
		Resolution:       "1080p",
		PersonGeneration: "allow_adult",
		NumberOfVideos:   1,
	}

	log.Printf("[Veo] Starting synthesis (model=%s, promptLen=%d, scriptLen=%d, imageSize=%d bytes)", s.model, len(prompt), len(script), len(imageData))

	operation, err := client.Models.GenerateVideos(ctx, s.model, enhancedPrompt, firstFrame, config)
	if err != nil {
		return nil, fmt.Errorf("failed to start video synthesis: %w", err)
	}

	log.Printf("[Veo] Operation started: %s", operation.Name)

	// Poll until done, cancelled, or timed out
	deadline := time.Now().Add(veoMaxPollDuration)
	pollCount := 0
	for !operation.Done {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("video synthesis timed out after %v (polled %d times)", veoMaxPollDuration, pollCount)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("video synthesis cancelled: %w", ctx.Err())
		case <-time.After(veoPollInterval):
		}

		pollCount++
		operation, err = client.Operations.GetVideosOperation(ctx, operation, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to poll operation (attempt %d): %w", pollCount, err)
		}

		log.Printf("[Veo] Poll %d: done=%v", pollCount, operation.Done)
	}

	if operation.Error != nil && len(operation.Error) > 0 {
		errJSON, _ := json.Marshal(operation.Error)
		return nil, fmt.Errorf("video synthesis operation failed: %s", string(errJSON))
	}

	if operation.Response == nil {
		if operation.Metadata != nil {
			metaJSON, _ := json.Marshal(operation.Metadata)
			log.Printf("[Veo] Operation metadata: %s", string(metaJSON))
		}
		return nil, fmt.Errorf("no response in completed operation after %d polls (operation: %s)", pollCount, operation.Name)
	}

	// Check if videos were blocked by RAI (Responsible AI) safety filters
	if operation.Response.RAIMediaFilteredCount > 0 {
		reasons := "unknown"
		if len(operation.Response.RAIMediaFilteredReasons) > 0 {
			reasons = strings.Join(operation.Response.RAIMediaFilteredReasons, ", ")
		}
		return nil, fmt.Errorf("video blocked by safety filters: %d video(s) filtered, reasons: %s", operation.Response.RAIMediaFilteredCount, reasons)
	}

	if len(operation.Response.GeneratedVideos) == 0 {
		respJSON, _ := json.Marshal(operation.Response)
		return nil, fmt.Errorf("no videos in response (full response: %s)", string(respJSON))
	}

	video := operation.Response.GeneratedVideos[0]
	if video.Video == nil {
		return nil, fmt.Errorf("generated video object is nil")
	}

	log.Printf("[Veo] Clip ready, downloading...")

	downloadURI := genai.NewDownloadURIFromVideo(video.Video)
	videoBytes, err := client.Files.Download(ctx, downloadURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download generated video: %w", err)
	}

	if len(videoBytes) == 0 {
		return nil, fmt.Errorf("downloaded video is empty (0 bytes)")
	}

	log.Printf("[Veo] Clip synthesized successfully (%d bytes, %d polls)", len(videoBytes), pollCount)

	return videoBytes, nil
}
