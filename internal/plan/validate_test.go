package plan

import (
	"strings"
	"testing"
)

// validPlan24 builds a well-formed 24-second plan: one composite task and
// three synthesis calls (one composite-sourced, two product-sourced).
func validPlan24() *Plan {
	return &Plan{
		TotalDurationSeconds: 24,
		ImageCompositeTasks: []ImageCompositeTask{
			{
				CompositeID:         "comp_1",
				ProductImageIndexes: []int{0},
				Prompt:              "avatar holding the bottle at a sunny kitchen counter",
				Description:         "avatar with product",
			},
		},
		SynthesisCalls: []SynthesisCall{
			{CallID: "veo_1", SourceImageType: SourceComposite, SourceImageRef: "comp_1", Prompt: "she lifts the bottle and smiles", Script: "This changed my mornings."},
			{CallID: "veo_2", SourceImageType: SourceProduct, SourceImageRef: "0", Prompt: "slow orbit around the bottle", Script: "Cold-pressed, nothing added."},
			{CallID: "veo_3", SourceImageType: SourceProduct, SourceImageRef: "1", Prompt: "pour shot with splash", Script: "Try it once."},
		},
		Segments: []Segment{
			{Type: SegmentTalkingHead, SynthesisCallID: "veo_1", StartTime: 0, EndTime: 8},
			{Type: SegmentProductBroll, SynthesisCallID: "veo_2", StartTime: 0, EndTime: 8},
			{Type: SegmentVirtualBroll, SynthesisCallID: "veo_3", StartTime: 0, EndTime: 8},
		},
		OutputClips: []OutputClip{
			{SynthesisCallID: "veo_1", StartTime: 0, EndTime: 8, Order: 0},
			{SynthesisCallID: "veo_2", StartTime: 0, EndTime: 8, Order: 1},
			{SynthesisCallID: "veo_3", StartTime: 0, EndTime: 8, Order: 2},
		},
	}
}

func testInputs() Inputs {
	return Inputs{ProductImageCount: 2}
}

func TestValidateAcceptsWellFormedPlan(t *testing.T) {
	result := Validate(validPlan24(), testInputs())
	if !result.Valid {
		t.Fatalf("expected valid plan, got errors: %v", result.Errors)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", result.Warnings)
	}
}

func TestExpectedCallCount(t *testing.T) {
	cases := []struct {
		seconds int
		want    int
	}{
		{16, 2},
		{20, 3},
		{24, 3},
	}
	for _, tc := range cases {
		if got := ExpectedCallCount(tc.seconds); got != tc.want {
			t.Errorf("ExpectedCallCount(%d) = %d, want %d", tc.seconds, got, tc.want)
		}
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(p *Plan)
		wantErr string
	}{
		{
			name:    "duration not in allowed set",
			mutate:  func(p *Plan) { p.TotalDurationSeconds = 18 },
			wantErr: "total_duration_seconds",
		},
		{
			name: "wrong call count for duration",
			mutate: func(p *Plan) {
				p.SynthesisCalls = p.SynthesisCalls[:2]
			},
			wantErr: "needs 3 synthesis calls",
		},
		{
			name: "output clip window past nominal clip end",
			mutate: func(p *Plan) {
				p.OutputClips[1].EndTime = 9
			},
			wantErr: "0 <= start < end <= 8",
		},
		{
			name: "segment references unknown call",
			mutate: func(p *Plan) {
				p.Segments[0].SynthesisCallID = "veo_99"
			},
			wantErr: `unknown call "veo_99"`,
		},
		{
			name: "segment references unknown existing clip",
			mutate: func(p *Plan) {
				p.Segments[0].SynthesisCallID = ""
				p.Segments[0].ExistingClipID = "demo_missing"
			},
			wantErr: "unknown existing clip",
		},
		{
			name: "call references unknown composite",
			mutate: func(p *Plan) {
				p.SynthesisCalls[0].SourceImageRef = "comp_9"
			},
			wantErr: `unknown composite "comp_9"`,
		},
		{
			name: "call references out-of-range product image",
			mutate: func(p *Plan) {
				p.SynthesisCalls[1].SourceImageRef = "5"
			},
			wantErr: "product image",
		},
		{
			name: "cut list order has a gap",
			mutate: func(p *Plan) {
				p.OutputClips[2].Order = 3
			},
			wantErr: "contiguous",
		},
		{
			name: "cut list durations do not sum to total",
			mutate: func(p *Plan) {
				p.OutputClips[2].EndTime = 6
			},
			wantErr: "sum to",
		},
		{
			name: "inverted window",
			mutate: func(p *Plan) {
				p.OutputClips[0].StartTime = 5
				p.OutputClips[0].EndTime = 5
			},
			wantErr: "0 <= start < end",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validPlan24()
			tc.mutate(p)
			result := Validate(p, testInputs())
			if result.Valid {
				t.Fatal("expected plan to be rejected")
			}
			if !containsSubstring(result.Errors, tc.wantErr) {
				t.Errorf("expected an error containing %q, got %v", tc.wantErr, result.Errors)
			}
		})
	}
}

func TestValidateNilPlan(t *testing.T) {
	result := Validate(nil, testInputs())
	if result.Valid {
		t.Fatal("nil plan must be invalid")
	}
}

func TestValidateAllowsExistingClipSources(t *testing.T) {
	p := validPlan24()
	p.Segments = append(p.Segments, Segment{
		Type: SegmentDemoFootage, ExistingClipID: "demo_1", StartTime: 0, EndTime: 4,
	})
	result := Validate(p, Inputs{ProductImageCount: 2, DemoClipIDs: []string{"demo_1"}})
	if !result.Valid {
		t.Fatalf("expected valid plan with demo segment, got %v", result.Errors)
	}
}

func TestValidateWarnings(t *testing.T) {
	p := validPlan24()
	// All three calls on one composite, one missing script.
	for i := range p.SynthesisCalls {
		p.SynthesisCalls[i].SourceImageType = SourceComposite
		p.SynthesisCalls[i].SourceImageRef = "comp_1"
	}
	p.SynthesisCalls[2].Script = ""

	result := Validate(p, testInputs())
	if !result.Valid {
		t.Fatalf("warnings must not invalidate the plan: %v", result.Errors)
	}
	if !containsSubstring(result.Warnings, "reused by 3 calls") {
		t.Errorf("expected composite reuse warning, got %v", result.Warnings)
	}
	if !containsSubstring(result.Warnings, "no script text") {
		t.Errorf("expected missing script warning, got %v", result.Warnings)
	}
}

func TestValidateCutListSumInvariant(t *testing.T) {
	// 20s plan mixing sub-ranges from different calls, exactly per design:
	// three 8s clips cut down to 20s total.
	p := validPlan24()
	p.TotalDurationSeconds = 20
	p.OutputClips = []OutputClip{
		{SynthesisCallID: "veo_1", StartTime: 0, EndTime: 6, Order: 0},
		{SynthesisCallID: "veo_2", StartTime: 1, EndTime: 8, Order: 1},
		{SynthesisCallID: "veo_3", StartTime: 0.5, EndTime: 7.5, Order: 2},
	}
	result := Validate(p, testInputs())
	if !result.Valid {
		t.Fatalf("expected valid 20s plan, got %v", result.Errors)
	}
}

func containsSubstring(list []string, substr string) bool {
	for _, s := range list {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
