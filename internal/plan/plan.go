package plan

// The plan is the structured document produced by the director (LLM planning
// step). It is parsed at the boundary and validated before any paid synthesis
// call is made — nothing downstream trusts a field that Validate hasn't checked.

// ClipLengthSeconds is the nominal length of one synthesis call's output.
// Veo produces fixed 8-second clips; the director hits 16/20/24s totals by
// cutting sub-ranges out of those clips, never by bridging between them.
const ClipLengthSeconds = 8.0

// AllowedTotalDurations are the only target lengths the director may plan for.
var AllowedTotalDurations = []int{16, 20, 24}

type SegmentType string

const (
	SegmentTalkingHead  SegmentType = "talking_head"
	SegmentDemoFootage  SegmentType = "demo_footage"
	SegmentProductBroll SegmentType = "product_broll"
	SegmentVirtualBroll SegmentType = "virtual_broll"
)

type SourceImageType string

const (
	SourceAvatar    SourceImageType = "avatar"
	SourceComposite SourceImageType = "composite"
	SourceProduct   SourceImageType = "product"
)

// ImageCompositeTask asks the image-synthesis service to combine the avatar
// with one or two product photos into a single source frame for Veo.
type ImageCompositeTask struct {
	CompositeID         string `json:"composite_id"`
	ProductImageIndexes []int  `json:"product_image_indexes"`
	Prompt              string `json:"prompt"`
	Description         string `json:"description"`
}

// Segment is one narrative unit of the final video. It is sourced either from
// a synthesis call in this plan or from an existing clip (uploaded demo
// footage or a previously indexed reusable clip), with a [start, end) window
// local to that source.
type Segment struct {
	Type            SegmentType `json:"type"`
	SynthesisCallID string      `json:"synthesis_call_id,omitempty"`
	ExistingClipID  string      `json:"existing_clip_id,omitempty"`
	StartTime       float64     `json:"start_time"`
	EndTime         float64     `json:"end_time"`
}

// SynthesisCall is one request to the video-synthesis service: a single source
// image plus a generation prompt, nominally producing an 8-second clip.
//
// SourceImageRef resolves within SourceImageType: a composite_id for
// "composite", a zero-based product image index (decimal string) for
// "product", and is ignored for "avatar".
type SynthesisCall struct {
	CallID          string          `json:"call_id"`
	SourceImageType SourceImageType `json:"source_image_type"`
	SourceImageRef  string          `json:"source_image_ref"`
	Prompt          string          `json:"prompt"`
	Script          string          `json:"script,omitempty"`
}

// OutputClip is one entry of the authoritative cut list: an ordered sub-range
// of a synthesis call's (or existing clip's) output. Entries sorted by Order
// are concatenated with hard cuts into the final video.
type OutputClip struct {
	SynthesisCallID string  `json:"synthesis_call_id,omitempty"`
	ExistingClipID  string  `json:"existing_clip_id,omitempty"`
	StartTime       float64 `json:"start_time"`
	EndTime         float64 `json:"end_time"`
	Order           int     `json:"order"`
}

// Plan is the complete generation plan for one video job. Immutable once
// validated; stored verbatim on the job record.
type Plan struct {
	TotalDurationSeconds int                  `json:"total_duration_seconds"`
	ImageCompositeTasks  []ImageCompositeTask `json:"image_composite_tasks"`
	Segments             []Segment            `json:"segments"`
	SynthesisCalls       []SynthesisCall      `json:"synthesis_calls"`
	OutputClips          []OutputClip         `json:"output_clips"`
}

// ExpectedCallCount returns the number of synthesis calls a plan of the given
// total duration must contain: ceil(totalSeconds / 8).
func ExpectedCallCount(totalSeconds int) int {
	return (totalSeconds + int(ClipLengthSeconds) - 1) / int(ClipLengthSeconds)
}

// Call returns the synthesis call with the given id, or nil.
func (p *Plan) Call(callID string) *SynthesisCall {
	for i := range p.SynthesisCalls {
		if p.SynthesisCalls[i].CallID == callID {
			return &p.SynthesisCalls[i]
		}
	}
	return nil
}

// CompositeTask returns the composite task with the given id, or nil.
func (p *Plan) CompositeTask(compositeID string) *ImageCompositeTask {
	for i := range p.ImageCompositeTasks {
		if p.ImageCompositeTasks[i].CompositeID == compositeID {
			return &p.ImageCompositeTasks[i]
		}
	}
	return nil
}

// RequiredCompositeIDs returns the composite ids referenced by any synthesis
// call, in plan order without duplicates. Composites not referenced by a call
// are not required for video generation to start.
func (p *Plan) RequiredCompositeIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, call := range p.SynthesisCalls {
		if call.SourceImageType != SourceComposite {
			continue
		}
		if !seen[call.SourceImageRef] {
			seen[call.SourceImageRef] = true
			ids = append(ids, call.SourceImageRef)
		}
	}
	return ids
}
