// Package tone renders a response strategy into a compact instruction block
// for the downstream reply generator. Strategies are first reduced to a
// fixed whitelist of tone tags, then each tag contributes one guide line.
package tone

import (
	"slices"
	"strings"

	"github.com/BTreeMap/ConvoFlow/internal/models"
)

// ---- Whitelist ----

// AllTags is the hard-coded set of tone tags a guide may contain.
var AllTags = map[string]bool{
	// Length / detail
	"concise":  true,
	"detailed": true,
	// Register
	"formal": true,
	"casual": true,
	// Stance
	"warm_supportive":      true,
	"neutral_professional": true,
	"encouraging":          true,
	"playful":              true,
	"urgent":               true,
	"energetic":            true,
	// Content
	"step_by_step":    true,
	"technical_depth": true,
	"plain_language":  true,
	"crisis_support":  true,
}

// mutuallyExclusivePairs defines tags where at most one may be active. The
// first tag of each pair wins.
var mutuallyExclusivePairs = [][2]string{
	{"concise", "detailed"},
	{"formal", "casual"},
	{"technical_depth", "plain_language"},
	{"urgent", "playful"},
}

// guideLines maps every tag to its instruction, in output order.
var guideLines = []struct {
	tag  string
	line string
}{
	{"crisis_support", "- The user may be in crisis. Respond with calm, direct care, share crisis resources, and encourage contacting a trusted person or emergency services."},
	{"urgent", "- The user needs this quickly: lead with the answer."},
	{"concise", "- Be concise: short sentences, minimal filler."},
	{"detailed", "- Be detailed: give thorough explanation without rambling."},
	{"formal", "- Use formal diction and a professional register."},
	{"casual", "- Use casual, friendly language."},
	{"warm_supportive", "- Adopt a warm, supportive stance. Acknowledge feelings before content."},
	{"neutral_professional", "- Keep a neutral, professional stance."},
	{"encouraging", "- Be encouraging and invite the user to share more."},
	{"playful", "- A light, playful touch is welcome."},
	{"energetic", "- Match the user's energy and keep the pace up."},
	{"step_by_step", "- Work through the topic step by step."},
	{"technical_depth", "- Technical depth is welcome; use precise terminology."},
	{"plain_language", "- Avoid jargon; use plain language."},
}

// Tags reduces a strategy to whitelisted tone tags with mutual exclusion
// applied. The result is sorted.
func Tags(st models.ResponseStrategy) []string {
	set := map[string]bool{}

	switch st.PreferredResponseLength {
	case "short":
		set["concise"] = true
	case "long":
		set["detailed"] = true
	}
	switch st.DetailLevel {
	case "concise":
		set["concise"] = true
	case "detailed", "comprehensive":
		set["detailed"] = true
	}

	switch st.Tone {
	case "professional":
		set["formal"] = true
		set["neutral_professional"] = true
	case "friendly":
		set["casual"] = true
	case "warm", "calm":
		set["warm_supportive"] = true
	case "encouraging":
		set["encouraging"] = true
	case "playful":
		set["playful"] = true
		set["casual"] = true
	case "urgent":
		set["urgent"] = true
	}

	switch st.InteractionStyle {
	case "energetic":
		set["energetic"] = true
	case "step_by_step", "educational":
		set["step_by_step"] = true
	case "formal", "structured":
		set["formal"] = true
	case "crisis_support":
		set["crisis_support"] = true
	}

	switch st.TechnicalLevel {
	case "advanced", "expert":
		set["technical_depth"] = true
	case "none", "basic":
		set["plain_language"] = true
	}

	switch st.EmotionalSupportLevel {
	case "high":
		set["warm_supportive"] = true
	case "maximum":
		set["warm_supportive"] = true
		set["crisis_support"] = true
	}

	for _, pair := range mutuallyExclusivePairs {
		if set[pair[0]] {
			delete(set, pair[1])
		}
	}

	tags := make([]string, 0, len(set))
	for t := range set {
		if AllTags[t] {
			tags = append(tags, t)
		}
	}
	slices.Sort(tags)
	return tags
}

// BuildGuide produces a compact instruction snippet for injection into the
// reply generator's system prompt.
func BuildGuide(st models.ResponseStrategy) string {
	tags := Tags(st)
	if len(tags) == 0 && len(st.FollowUpSuggestions) == 0 && len(st.TransitionHints) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n<RESPONSE STRATEGY>\nShape your reply as follows:\n")
	for _, g := range guideLines {
		if slices.Contains(tags, g.tag) {
			b.WriteString(g.line)
			b.WriteString("\n")
		}
	}
	if len(st.FollowUpSuggestions) > 0 {
		b.WriteString("- Consider a follow-up such as: ")
		b.WriteString(strings.Join(quoteAll(st.FollowUpSuggestions), " or "))
		b.WriteString("\n")
	}
	for _, hint := range st.TransitionHints {
		b.WriteString("- ")
		b.WriteString(hint)
		b.WriteString("\n")
	}
	b.WriteString("- NEVER mirror hostility, sarcasm, insults, or unsafe language.\n")
	b.WriteString("</RESPONSE STRATEGY>\n")
	return b.String()
}

func quoteAll(items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = `"` + s + `"`
	}
	return out
}
