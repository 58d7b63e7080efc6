package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/shopreel/shopreel/internal/models"
	"github.com/shopreel/shopreel/internal/plan"
)

type OpenAIService struct {
	client *openai.Client
}

func NewOpenAIService(apiKey string) *OpenAIService {
	return &OpenAIService{
		client: openai.NewClient(apiKey),
	}
}

// PlanInput carries everything the director needs to author a plan: the
// product, the avatar, the footage already available, and the creative tone.
type PlanInput struct {
	Product        *models.Product
	Avatar         *models.Avatar
	DemoClips      []models.DemoClip
	ReusableClips  []models.ReusableClip
	Tone           string
	TargetDuration int
}

// GeneratePlan asks the director model for a structured shot plan using JSON
// mode. The output is parsed into the plan shape here but NOT validated —
// callers run plan.Validate before persisting anything or paying for a
// single synthesis call.
func (s *OpenAIService) GeneratePlan(ctx context.Context, input PlanInput) (*plan.Plan, error) {
	systemPrompt := buildPlanSystemPrompt(input)
	userPrompt := buildPlanUserPrompt(input)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: "gpt-5-mini", // best reasoning/cost tradeoff for plan authoring
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 1.0,
	})

	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	rawContent := resp.Choices[0].Message.Content
	const maxLogLen = 2000

	var p plan.Plan
	if err := json.Unmarshal([]byte(rawContent), &p); err != nil {
		log.Printf("[Director] parse failed: %v", err)
		if len(rawContent) > maxLogLen {
			log.Printf("[Director] raw response (truncated): %s...", rawContent[:maxLogLen])
		} else {
			log.Printf("[Director] raw response: %s", rawContent)
		}
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}

	log.Printf("[Director] plan authored: %ds total, %d composites, %d calls, %d cuts",
		p.TotalDurationSeconds, len(p.ImageCompositeTasks), len(p.SynthesisCalls), len(p.OutputClips))

	return &p, nil
}

func buildPlanSystemPrompt(input PlanInput) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, `You are an expert short-form video director planning a vertical product marketing video for TikTok/Reels/Shorts.

You direct a pipeline with three tools:
1. IMAGE COMPOSITING: combine the creator's avatar photo with 1-2 product photos into a single staged frame (an "image_composite_task").
2. VIDEO SYNTHESIS: animate one source image (the avatar photo, a composite, or a raw product photo) into a fixed 8-second clip from a generation prompt (a "synthesis_call").
3. CUTTING: slice sub-ranges out of those 8-second clips (or out of the existing clips listed below) and join them with hard cuts (the "output_clips" cut list). There are no transitions and no bridging between generations.

TARGET DURATION: exactly %d seconds. Allowed totals are 16, 20, or 24 seconds only.
The number of synthesis_calls must be ceil(duration / 8): 16s needs 2 calls, 20s and 24s need 3.
Each output_clips window must satisfy 0 <= start < end <= 8, and the windows must sum to exactly the total duration. Orders are 0-based and contiguous.

Every synthesis call is billed and rate limited, so prefer cutting two segments out of one call over requesting an extra call, and prefer the existing clips below over new synthesis when they fit the story.

Segments describe the narrative: talking_head (avatar speaking to camera), demo_footage (real uploaded footage), product_broll, virtual_broll. Each names either the synthesis_call_id it is cut from or an existing_clip_id.

Respond with JSON matching this schema exactly:
{
  "total_duration_seconds": %d,
  "image_composite_tasks": [{"composite_id": "comp_1", "product_image_indexes": [0], "prompt": "...", "description": "..."}],
  "synthesis_calls": [{"call_id": "veo_1", "source_image_type": "avatar|composite|product", "source_image_ref": "comp_1 or product index", "prompt": "...", "script": "..."}],
  "segments": [{"type": "talking_head", "synthesis_call_id": "veo_1", "start_time": 0, "end_time": 8}],
  "output_clips": [{"synthesis_call_id": "veo_1", "start_time": 0, "end_time": 8, "order": 0}]
}

Prompts must be full cinematic shot descriptions: subject, setting, lighting, camera movement, all in the present tense. Scripts are the avatar's spoken words for talking-head calls; keep them conversational and under ~20 words per 8-second clip.`,
		input.TargetDuration, input.TargetDuration)

	if input.Tone != "" {
		fmt.Fprintf(&sb, "\n\nTONE: %s. Let it guide vocabulary, pacing, and energy in every prompt and script.", input.Tone)
	}

	return sb.String()
}

// buildPlanUserPrompt describes the concrete product, avatar, and available
// footage so references in the plan resolve against real assets.
func buildPlanUserPrompt(input PlanInput) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Product: %s\n", input.Product.Name)
	if input.Product.Description != nil && *input.Product.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", *input.Product.Description)
	}
	fmt.Fprintf(&sb, "Product photos available: %d (reference by zero-based index)\n", len(input.Product.ImageURLs))
	fmt.Fprintf(&sb, "Avatar: %s\n", input.Avatar.Name)

	if len(input.DemoClips) > 0 {
		sb.WriteString("\nUploaded demo footage (use existing_clip_id to cut from these):\n")
		for _, clip := range input.DemoClips {
			desc := ""
			if clip.Description != nil {
				desc = *clip.Description
			}
			fmt.Fprintf(&sb, "- id=%s duration=%.1fs %s\n", clip.ID, clip.DurationSeconds, desc)
		}
	}

	if len(input.ReusableClips) > 0 {
		sb.WriteString("\nPreviously generated b-roll for this product (use existing_clip_id to reuse instead of new synthesis):\n")
		for _, clip := range input.ReusableClips {
			fmt.Fprintf(&sb, "- id=%s duration=%.1fs mood=%s %s\n", clip.ID, clip.DurationSeconds, clip.Mood, clip.Description)
		}
	}

	fmt.Fprintf(&sb, "\nPlan a %d-second video.", input.TargetDuration)

	return sb.String()
}
