// Package router implements coarse query-complexity routing: a cheap,
// pattern-based classifier that maps an incoming query (plus light context
// signals) to a model tier and generation parameters, and an independent
// tone tagger used only for response styling.
package router

import (
	"strings"
)

// Tier is a coarse cost/capability bucket.
type Tier string

// Model tiers, cheapest first.
const (
	TierMini      Tier = "mini"
	TierStandard  Tier = "standard"
	TierReasoning Tier = "reasoning"
)

// ModelConfig is the generation configuration bound to a tier.
type ModelConfig struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Decision is the routing outcome for one query.
type Decision struct {
	Tier   Tier
	Config ModelConfig
	Reason string
}

// Router maps queries to tiers. Tier configs are injected at construction;
// the reasoning tier currently aliases the standard config until a dedicated
// reasoning model is available.
type Router struct {
	mini     ModelConfig
	standard ModelConfig
}

// New creates a router with the given per-tier configurations.
func New(mini, standard ModelConfig) *Router {
	return &Router{mini: mini, standard: standard}
}

// Patterns are substring matches, checked in order of decreasing
// complexity. Thai first: the platform's field technicians work in Thai,
// with English mixed in.
var (
	reasoningPatterns = []string{
		"วิเคราะห์", "เปรียบเทียบ", "ทำไม", "วางแผนเส้นทาง", "เส้นทางที่ดีที่สุด",
		"คำนวณ", "ประเมิน",
		"analyze", "compare", "why", "explain", "optimize", "best route",
	}
	standardPatterns = []string{
		"สรุป", "รายงาน", "สร้างงาน", "เปิดงาน", "แก้ไขงาน", "มอบหมาย", "ทั้งหมด",
		"summarize", "summary", "report", "create", "update", "assign",
	}
	simplePatterns = []string{
		"สวัสดี", "ขอบคุณ", "โอเค", "ครับ", "ค่ะ",
		"hello", "hi", "hey", "thanks", "thank you", "ok", "bye",
	}

	// summaryKeywords force the standard tier regardless of other
	// heuristics: summarization over tracked work needs the full model.
	summaryKeywords = []string{"สรุป", "summarize", "summary"}

	// entitySignals mark a conversation context that already tracks
	// domain objects, which a mini-tier answer tends to lose.
	entitySignals = []string{
		"ticket", "ใบงาน", "งาน", "site", "หน่วยงาน", "สาขา",
		"company", "บริษัท", "entity",
	}
)

func matchesAny(query string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(query, p) {
			return true
		}
	}
	return false
}

// ClassifyTaskFast performs the base pattern classification.
//
// Order: reasoning patterns, then standard, then simple, then a length
// heuristic (short queries are small talk, long ones carry real work).
func ClassifyTaskFast(query string) Tier {
	q := strings.ToLower(strings.TrimSpace(query))

	switch {
	case matchesAny(q, reasoningPatterns):
		return TierReasoning
	case matchesAny(q, standardPatterns):
		return TierStandard
	case matchesAny(q, simplePatterns):
		return TierMini
	}

	switch n := len([]rune(q)); {
	case n < 20:
		return TierMini
	case n > 100:
		return TierStandard
	default:
		return TierMini
	}
}

// Route classifies the query and applies two context overrides on top of the
// base classification:
//
//   - a mini-tier result is upgraded to standard when the conversation
//     context already mentions tracked entities or tickets
//   - summary-intent queries force the standard tier outright
func (r *Router) Route(query, contextText string) Decision {
	base := ClassifyTaskFast(query)

	d := Decision{Tier: base, Reason: baseReason(base)}

	if d.Tier == TierMini && contextText != "" &&
		matchesAny(strings.ToLower(contextText), entitySignals) {
		d.Tier = TierStandard
		d.Reason = "context-upgrade"
	}

	if matchesAny(strings.ToLower(query), summaryKeywords) {
		d.Tier = TierStandard
		d.Reason = "summary-task"
	}

	d.Config = r.configFor(d.Tier)
	return d
}

func baseReason(t Tier) string {
	switch t {
	case TierReasoning:
		return "pattern-reasoning"
	case TierStandard:
		return "pattern-standard"
	default:
		return "pattern-simple"
	}
}

func (r *Router) configFor(t Tier) ModelConfig {
	switch t {
	case TierMini:
		return r.mini
	case TierStandard:
		return r.standard
	case TierReasoning:
		// No dedicated reasoning model yet; alias to standard.
		return r.standard
	default:
		return r.standard
	}
}
