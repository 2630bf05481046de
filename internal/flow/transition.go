package flow

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ConvoFlow/internal/models"
)

// Rule names reported in a Decision.
const (
	RuleEmergency    = "emergency"
	RuleDistress     = "distress"
	RuleWrapUp       = "wrap_up"
	RuleDecay        = "decay"
	RuleTechnical    = "technical"
	RuleDeepAnalysis = "deep_analysis"
	RuleTable        = "table"
	RuleStay         = "stay"
)

// Decision is the outcome of one transition evaluation.
type Decision struct {
	Next models.ConversationState
	Rule string
	// Detail names the matching table entry when Rule is RuleTable.
	Detail string
}

// signals is everything a table predicate may look at.
type signals struct {
	f      models.MessageFeatures
	emo    models.EmotionData
	wrapUp bool
}

func (s signals) negativeDominant() bool {
	return s.f.Sentiment.Negative > s.f.Sentiment.Positive
}

type rule struct {
	name string
	when func(signals) bool
	to   models.ConversationState
}

func always(signals) bool { return true }

// TransitionPolicy decides the next conversational state.
type TransitionPolicy struct {
	cfg       Config
	emergency *EmergencyDetector
	distress  map[string]bool
	table     map[models.ConversationState][]rule
}

// NewTransitionPolicy builds the policy and its per-state rule table. It
// panics if any table entry targets a state outside its source state's
// allowed successors, which is a programming error.
func NewTransitionPolicy(cfg Config) *TransitionPolicy {
	distress := make(map[string]bool, len(cfg.DistressEmotions))
	for _, e := range cfg.DistressEmotions {
		distress[strings.ToLower(strings.TrimSpace(e))] = true
	}
	table := make(map[models.ConversationState][]rule, len(models.AllStates))
	for _, s := range models.AllStates {
		rules := rulesFor(s)
		for _, r := range rules {
			if !models.IsValidTransition(s, r.to) {
				panic(fmt.Sprintf("flow: rule %q maps %s to disallowed state %s", r.name, s, r.to))
			}
		}
		table[s] = rules
	}
	return &TransitionPolicy{
		cfg:       cfg,
		emergency: NewEmergencyDetector(cfg.Lexicon.Emergency),
		distress:  distress,
		table:     table,
	}
}

// Decide returns the next state for flow given the current message. Rules
// are tried in priority order: emergency, distress, wrap-up, decay,
// technical, deep analysis, then the per-state table. A candidate outside
// the current state's successor set falls through to the next rule.
func (p *TransitionPolicy) Decide(flow *models.ConversationFlow, f models.MessageFeatures, emo models.EmotionData, rawText string, now time.Time) Decision {
	cur := flow.CurrentState
	if p.emergency.Matches(rawText) {
		return Decision{Next: models.StateEmergencySupport, Rule: RuleEmergency}
	}

	s := signals{f: f, emo: emo, wrapUp: normalize(rawText).has(p.cfg.Lexicon.WrapUp)}

	candidates := []struct {
		rule string
		ok   bool
		to   models.ConversationState
	}{
		{RuleDistress, p.isDistress(emo), models.StateEmotionalSupport},
		{RuleWrapUp, s.wrapUp && cur != models.StateWrappingUp, models.StateWrappingUp},
		{RuleDecay, p.isDecayed(flow, now), models.StateWrappingUp},
		{RuleTechnical, f.StrongTechnical() && f.ComplexityScore > p.cfg.TechnicalComplexityThreshold, models.StateTechnicalDiscussion},
		{RuleDeepAnalysis, f.WordCount > p.cfg.DeepAnalysisMinWords && f.ComplexityScore > p.cfg.DeepAnalysisComplexity, models.StateDeepAnalysis},
	}
	for _, c := range candidates {
		if !c.ok {
			continue
		}
		if models.IsValidTransition(cur, c.to) {
			return Decision{Next: c.to, Rule: c.rule}
		}
		slog.Debug("TransitionPolicy.Decide: candidate outside successor set", "rule", c.rule, "from", cur, "to", c.to)
	}

	for _, r := range p.table[cur] {
		if !r.when(s) {
			continue
		}
		if !models.IsValidTransition(cur, r.to) {
			reportInvariant("transition_legality", "from", cur, "to", r.to, "rule", r.name)
			return Decision{Next: cur, Rule: RuleStay}
		}
		return Decision{Next: r.to, Rule: RuleTable, Detail: r.name}
	}
	return Decision{Next: cur, Rule: RuleStay}
}

func (p *TransitionPolicy) isDistress(emo models.EmotionData) bool {
	return p.distress[strings.ToLower(emo.PrimaryEmotion)] && emo.Intensity > p.cfg.EmotionalIntensityThreshold
}

func (p *TransitionPolicy) isDecayed(flow *models.ConversationFlow, now time.Time) bool {
	return flow.CurrentState != models.StateWrappingUp &&
		flow.FlowMomentum < p.cfg.DecayMomentumBelow &&
		flow.EngagementLevel < p.cfg.DecayEngagementBelow &&
		now.Sub(flow.LastTransition) > p.cfg.DecayAfter
}

// rulesFor returns the ordered dispatch table for one state. The switch is
// exhaustive over models.AllStates.
func rulesFor(s models.ConversationState) []rule {
	switch s {
	case models.StateGreeting:
		return []rule{
			{"emotional_opening", func(s signals) bool { return s.f.HasEmotionalContent }, models.StateEmotionalSupport},
			{"question", func(s signals) bool { return s.f.QuestionCount > 0 }, models.StateQuestionAnswering},
			{"small_talk", func(s signals) bool { return s.f.HasCasualMarkers || s.f.HasGreeting }, models.StateCasualChat},
			{"default", always, models.StateActive},
		}
	case models.StateActive:
		return []rule{
			{"problem", func(s signals) bool { return s.f.HasProblem }, models.StateProblemSolving},
			{"creative", func(s signals) bool { return s.f.HasCreativeRequest }, models.StateCreativeCollaboration},
			{"learning", func(s signals) bool { return s.f.HasLearningIntent }, models.StateLearningSession},
			{"technical", func(s signals) bool { return s.f.HasTechnicalContent }, models.StateTechnicalDiscussion},
			{"question", func(s signals) bool { return s.f.QuestionCount > 0 }, models.StateQuestionAnswering},
			{"negative_emotion", func(s signals) bool { return s.f.HasEmotionalContent && s.negativeDominant() }, models.StateEmotionalSupport},
			{"small_talk", func(s signals) bool { return s.f.HasCasualMarkers && !s.f.Substantive() }, models.StateCasualChat},
		}
	case models.StateQuestionAnswering:
		return []rule{
			{"problem", func(s signals) bool { return s.f.HasProblem }, models.StateProblemSolving},
			{"learning", func(s signals) bool { return s.f.HasLearningIntent }, models.StateLearningSession},
			{"technical", func(s signals) bool { return s.f.StrongTechnical() }, models.StateTechnicalDiscussion},
			{"negative_emotion", func(s signals) bool { return s.f.HasEmotionalContent && s.negativeDominant() }, models.StateEmotionalSupport},
			{"small_talk", func(s signals) bool { return s.f.QuestionCount == 0 && s.f.HasCasualMarkers }, models.StateCasualChat},
			{"statement", func(s signals) bool { return s.f.QuestionCount == 0 && s.f.WordCount >= 5 }, models.StateActive},
		}
	case models.StateProblemSolving:
		return []rule{
			{"creative", func(s signals) bool { return s.f.HasCreativeRequest }, models.StateCreativeCollaboration},
			{"learning", func(s signals) bool { return s.f.HasLearningIntent && !s.f.HasProblem }, models.StateLearningSession},
			{"technical", func(s signals) bool { return s.f.StrongTechnical() }, models.StateTechnicalDiscussion},
			{"negative_emotion", func(s signals) bool { return s.f.HasEmotionalContent && s.negativeDominant() }, models.StateEmotionalSupport},
			{"question", func(s signals) bool { return s.f.QuestionCount > 0 && !s.f.HasProblem }, models.StateQuestionAnswering},
		}
	case models.StateLearningSession:
		return []rule{
			{"problem", func(s signals) bool { return s.f.HasProblem }, models.StateProblemSolving},
			{"technical", func(s signals) bool { return s.f.StrongTechnical() }, models.StateTechnicalDiscussion},
			{"question", func(s signals) bool { return s.f.QuestionCount > 0 && !s.f.HasLearningIntent }, models.StateQuestionAnswering},
			{"negative_emotion", func(s signals) bool { return s.f.HasEmotionalContent && s.negativeDominant() }, models.StateEmotionalSupport},
			{"off_topic", func(s signals) bool { return !s.f.Substantive() && s.f.WordCount >= 5 }, models.StateActive},
		}
	case models.StateTechnicalDiscussion:
		return []rule{
			{"problem", func(s signals) bool { return s.f.HasProblem }, models.StateProblemSolving},
			{"learning", func(s signals) bool { return s.f.HasLearningIntent }, models.StateLearningSession},
			{"question", func(s signals) bool { return s.f.QuestionCount > 0 && !s.f.HasTechnicalContent }, models.StateQuestionAnswering},
			{"negative_emotion", func(s signals) bool { return s.f.HasEmotionalContent && s.negativeDominant() }, models.StateEmotionalSupport},
			{"off_topic", func(s signals) bool { return !s.f.Substantive() && s.f.WordCount >= 5 }, models.StateActive},
		}
	case models.StateDeepAnalysis:
		return []rule{
			{"problem", func(s signals) bool { return s.f.HasProblem }, models.StateProblemSolving},
			{"learning", func(s signals) bool { return s.f.HasLearningIntent }, models.StateLearningSession},
			{"technical", func(s signals) bool { return s.f.StrongTechnical() }, models.StateTechnicalDiscussion},
			{"short_question", func(s signals) bool { return s.f.QuestionCount > 0 && s.f.WordCount < 20 }, models.StateQuestionAnswering},
			{"negative_emotion", func(s signals) bool { return s.f.HasEmotionalContent && s.negativeDominant() }, models.StateEmotionalSupport},
			{"off_topic", func(s signals) bool { return !s.f.Substantive() && s.f.WordCount >= 5 }, models.StateActive},
		}
	case models.StateCreativeCollaboration:
		return []rule{
			{"problem", func(s signals) bool { return s.f.HasProblem && !s.f.HasCreativeRequest }, models.StateProblemSolving},
			{"small_talk", func(s signals) bool { return s.f.HasCasualMarkers && !s.f.HasCreativeRequest }, models.StateCasualChat},
			{"question", func(s signals) bool { return s.f.QuestionCount > 0 && !s.f.HasCreativeRequest }, models.StateActive},
		}
	case models.StateEmotionalSupport:
		return []rule{
			{"still_emotional", func(s signals) bool { return s.f.HasEmotionalContent || s.negativeDominant() }, models.StateEmotionalSupport},
			{"small_talk", func(s signals) bool { return s.f.HasCasualMarkers && !s.f.Substantive() }, models.StateCasualChat},
			{"substantive", func(s signals) bool { return s.f.Substantive() }, models.StateActive},
		}
	case models.StateCasualChat:
		return []rule{
			{"creative", func(s signals) bool { return s.f.HasCreativeRequest }, models.StateCreativeCollaboration},
			{"emotional", func(s signals) bool { return s.f.HasEmotionalContent }, models.StateEmotionalSupport},
			{"substantive", func(s signals) bool { return s.f.Substantive() }, models.StateActive},
		}
	case models.StateWrappingUp:
		return []rule{
			{"farewell", func(s signals) bool { return s.wrapUp }, models.StateIdle},
			{"substantive", func(s signals) bool { return s.f.Substantive() }, models.StateActive},
			{"small_talk", func(s signals) bool { return s.f.HasCasualMarkers || s.f.HasGreeting }, models.StateCasualChat},
		}
	case models.StateIdle:
		return []rule{
			{"greeting", func(s signals) bool { return s.f.HasGreeting }, models.StateGreeting},
			{"substantive", func(s signals) bool { return s.f.Substantive() }, models.StateActive},
			{"small_talk", func(s signals) bool { return s.f.HasCasualMarkers }, models.StateCasualChat},
			{"default", always, models.StateActive},
		}
	case models.StateEmergencySupport:
		return []rule{
			{"step_down", always, models.StateEmotionalSupport},
		}
	default:
		panic(fmt.Sprintf("flow: no transition rules for state %q", s))
	}
}
