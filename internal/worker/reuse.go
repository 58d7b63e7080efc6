package worker

import (
	"strings"

	"github.com/shopreel/shopreel/internal/models"
)

// moodVocabulary maps prompt/tone keywords to the mood tags stored on
// reusable clips. First match wins, so more specific words come first.
var moodVocabulary = []struct {
	keyword string
	mood    string
}{
	{"luxur", "luxurious"},
	{"elegant", "luxurious"},
	{"premium", "luxurious"},
	{"energetic", "energetic"},
	{"dynamic", "energetic"},
	{"vibrant", "energetic"},
	{"fast", "energetic"},
	{"calm", "calm"},
	{"serene", "calm"},
	{"soft", "calm"},
	{"gentle", "calm"},
	{"cozy", "cozy"},
	{"warm", "cozy"},
	{"playful", "playful"},
	{"fun", "playful"},
	{"quirky", "playful"},
	{"minimal", "minimal"},
	{"clean", "minimal"},
	{"professional", "professional"},
	{"sleek", "professional"},
}

// inferMood derives a mood tag for an indexed clip from its generation
// prompt, falling back to the job's tone, then to "neutral".
func inferMood(prompt string, tone *string) string {
	lower := strings.ToLower(prompt)
	for _, entry := range moodVocabulary {
		if strings.Contains(lower, entry.keyword) {
			return entry.mood
		}
	}
	if tone != nil && *tone != "" {
		lowerTone := strings.ToLower(*tone)
		for _, entry := range moodVocabulary {
			if strings.Contains(lowerTone, entry.keyword) {
				return entry.mood
			}
		}
		return lowerTone
	}
	return "neutral"
}

// FilterClipsByMood narrows a usage-ranked clip list to those whose mood tag
// contains the query (case-insensitive substring). The input is already
// ordered most-used first, so the output keeps that ranking. An empty query
// matches everything.
func FilterClipsByMood(clips []models.ReusableClip, mood string) []models.ReusableClip {
	if mood == "" {
		return clips
	}
	query := strings.ToLower(mood)
	var matched []models.ReusableClip
	for _, clip := range clips {
		if strings.Contains(strings.ToLower(clip.Mood), query) {
			matched = append(matched, clip)
		}
	}
	return matched
}
