package plan

import (
	"fmt"
	"sort"
	"strconv"
)

// Tolerance for floating point duration sums. Cut boundaries come from an LLM
// as decimals; 1ms absorbs representation error without hiding real gaps.
const durationEpsilon = 0.001

// maxCompositeReuse is the number of synthesis calls that may share one
// composite before a warning is raised.
const maxCompositeReuse = 2

// Inputs carries the director's original context needed to resolve plan
// references: how many product photos exist and which existing clips
// (uploaded demos, reusable index entries) the plan may cut from.
type Inputs struct {
	ProductImageCount int
	DemoClipIDs       []string
	ReusableClipIDs   []string
}

// Result is the outcome of validating a candidate plan. Errors make the plan
// unusable; warnings are advisory and never block generation.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Validate checks a candidate plan against the structural and numeric
// invariants that must hold before any paid synthesis call is made. It is a
// pure function and never panics: a nil plan is simply invalid.
func Validate(p *Plan, inputs Inputs) Result {
	var errs, warns []string

	if p == nil {
		return Result{Valid: false, Errors: []string{"plan is empty"}}
	}

	if !isAllowedDuration(p.TotalDurationSeconds) {
		errs = append(errs, fmt.Sprintf(
			"total_duration_seconds must be one of %v, got %d",
			AllowedTotalDurations, p.TotalDurationSeconds))
	} else if want := ExpectedCallCount(p.TotalDurationSeconds); len(p.SynthesisCalls) != want {
		errs = append(errs, fmt.Sprintf(
			"plan needs %d synthesis calls for %ds, got %d",
			want, p.TotalDurationSeconds, len(p.SynthesisCalls)))
	}

	existing := make(map[string]bool, len(inputs.DemoClipIDs)+len(inputs.ReusableClipIDs))
	for _, id := range inputs.DemoClipIDs {
		existing[id] = true
	}
	for _, id := range inputs.ReusableClipIDs {
		existing[id] = true
	}

	callIDs := make(map[string]bool, len(p.SynthesisCalls))
	for i, call := range p.SynthesisCalls {
		if call.CallID == "" {
			errs = append(errs, fmt.Sprintf("synthesis call %d has no call_id", i))
			continue
		}
		if callIDs[call.CallID] {
			errs = append(errs, fmt.Sprintf("duplicate call_id %q", call.CallID))
		}
		callIDs[call.CallID] = true
	}

	compositeIDs := make(map[string]bool, len(p.ImageCompositeTasks))
	for i, task := range p.ImageCompositeTasks {
		if task.CompositeID == "" {
			errs = append(errs, fmt.Sprintf("composite task %d has no composite_id", i))
			continue
		}
		compositeIDs[task.CompositeID] = true
		if n := len(task.ProductImageIndexes); n < 1 || n > 2 {
			errs = append(errs, fmt.Sprintf(
				"composite %q must reference 1-2 product images, got %d", task.CompositeID, n))
		}
		for _, idx := range task.ProductImageIndexes {
			if idx < 0 || idx >= inputs.ProductImageCount {
				errs = append(errs, fmt.Sprintf(
					"composite %q references product image %d, only %d available",
					task.CompositeID, idx, inputs.ProductImageCount))
			}
		}
	}

	// Source image references must resolve before we pay for a single call.
	compositeUse := make(map[string]int)
	for _, call := range p.SynthesisCalls {
		switch call.SourceImageType {
		case SourceAvatar:
			// the job's avatar image, always available
		case SourceComposite:
			if !compositeIDs[call.SourceImageRef] {
				errs = append(errs, fmt.Sprintf(
					"call %q references unknown composite %q", call.CallID, call.SourceImageRef))
			}
			compositeUse[call.SourceImageRef]++
		case SourceProduct:
			idx, err := strconv.Atoi(call.SourceImageRef)
			if err != nil || idx < 0 || idx >= inputs.ProductImageCount {
				errs = append(errs, fmt.Sprintf(
					"call %q references product image %q, only %d available",
					call.CallID, call.SourceImageRef, inputs.ProductImageCount))
			}
		default:
			errs = append(errs, fmt.Sprintf(
				"call %q has unknown source_image_type %q", call.CallID, call.SourceImageType))
		}
		if call.Prompt == "" {
			errs = append(errs, fmt.Sprintf("call %q has an empty prompt", call.CallID))
		}
		if call.Script == "" {
			warns = append(warns, fmt.Sprintf("call %q has no script text", call.CallID))
		}
	}

	for id, n := range compositeUse {
		if n > maxCompositeReuse {
			warns = append(warns, fmt.Sprintf(
				"composite %q is reused by %d calls; footage may feel repetitive", id, n))
		}
	}

	for i, seg := range p.Segments {
		switch {
		case seg.SynthesisCallID != "":
			if !callIDs[seg.SynthesisCallID] {
				errs = append(errs, fmt.Sprintf(
					"segment %d references unknown call %q", i, seg.SynthesisCallID))
			}
		case seg.ExistingClipID != "":
			if !existing[seg.ExistingClipID] {
				errs = append(errs, fmt.Sprintf(
					"segment %d references unknown existing clip %q", i, seg.ExistingClipID))
			}
		default:
			errs = append(errs, fmt.Sprintf("segment %d names neither a call nor an existing clip", i))
		}
	}

	errs = append(errs, validateCutList(p, callIDs, existing)...)

	if p.TotalDurationSeconds < 16 {
		warns = append(warns, fmt.Sprintf(
			"total duration %ds is below 16s; short videos underperform", p.TotalDurationSeconds))
	}

	return Result{Valid: len(errs) == 0, Errors: errs, Warnings: warns}
}

// validateCutList checks that output_clips forms a contiguous zero-based order
// sequence whose windows sit inside one nominal clip and sum exactly to the
// plan's total duration.
func validateCutList(p *Plan, callIDs, existing map[string]bool) []string {
	var errs []string

	if len(p.OutputClips) == 0 {
		return []string{"output_clips is empty"}
	}

	clips := make([]OutputClip, len(p.OutputClips))
	copy(clips, p.OutputClips)
	sort.Slice(clips, func(i, j int) bool { return clips[i].Order < clips[j].Order })

	var total float64
	for i, clip := range clips {
		if clip.Order != i {
			errs = append(errs, fmt.Sprintf(
				"output_clips orders must form a contiguous 0..%d sequence, got %d at position %d",
				len(clips)-1, clip.Order, i))
		}

		switch {
		case clip.SynthesisCallID != "":
			if !callIDs[clip.SynthesisCallID] {
				errs = append(errs, fmt.Sprintf(
					"output clip %d references unknown call %q", clip.Order, clip.SynthesisCallID))
			}
		case clip.ExistingClipID != "":
			if !existing[clip.ExistingClipID] {
				errs = append(errs, fmt.Sprintf(
					"output clip %d references unknown existing clip %q", clip.Order, clip.ExistingClipID))
			}
		default:
			errs = append(errs, fmt.Sprintf(
				"output clip %d names neither a call nor an existing clip", clip.Order))
		}

		if clip.StartTime < 0 || clip.EndTime > ClipLengthSeconds || clip.StartTime >= clip.EndTime {
			errs = append(errs, fmt.Sprintf(
				"output clip %d window [%.2f, %.2f) must satisfy 0 <= start < end <= %.0f",
				clip.Order, clip.StartTime, clip.EndTime, ClipLengthSeconds))
			continue
		}
		total += clip.EndTime - clip.StartTime
	}

	if diff := total - float64(p.TotalDurationSeconds); diff > durationEpsilon || diff < -durationEpsilon {
		errs = append(errs, fmt.Sprintf(
			"output clip durations sum to %.2fs, plan requires %ds",
			total, p.TotalDurationSeconds))
	}

	return errs
}

func isAllowedDuration(seconds int) bool {
	for _, d := range AllowedTotalDurations {
		if seconds == d {
			return true
		}
	}
	return false
}
