package router

import "strings"

// Tone tags the query's register. It is used only to pick a response style
// and never affects tier routing.
type Tone string

// Recognized tones.
const (
	TonePlayful Tone = "playful"
	ToneUrgent  Tone = "urgent"
	ToneNeutral Tone = "neutral"
)

var (
	urgentMarkers  = []string{"ด่วน", "เร่งด่วน", "ตอนนี้เลย", "urgent", "asap", "!!!"}
	playfulMarkers = []string{"555", "ฮ่าๆ", "haha", "lol", "😄", "😂"}
)

// DetectTone classifies the query as playful, urgent, or neutral.
// Urgency wins over playfulness when both appear.
func DetectTone(query string) Tone {
	q := strings.ToLower(query)
	switch {
	case matchesAny(q, urgentMarkers):
		return ToneUrgent
	case matchesAny(q, playfulMarkers):
		return TonePlayful
	default:
		return ToneNeutral
	}
}
