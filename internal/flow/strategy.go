package flow

import (
	"slices"

	"github.com/BTreeMap/ConvoFlow/internal/models"
)

// Strategy vocabulary.
const (
	ToneFriendly     = "friendly"
	ToneWarm         = "warm"
	ToneProfessional = "professional"
	ToneEncouraging  = "encouraging"
	ToneCalm         = "calm"
	TonePlayful      = "playful"
	ToneUrgent       = "urgent"

	DetailConcise       = "concise"
	DetailModerate      = "moderate"
	DetailDetailed      = "detailed"
	DetailComprehensive = "comprehensive"

	LengthShort  = "short"
	LengthMedium = "medium"
	LengthLong   = "long"

	TechnicalNone         = "none"
	TechnicalBasic        = "basic"
	TechnicalIntermediate = "intermediate"
	TechnicalAdvanced     = "advanced"
	TechnicalExpert       = "expert"

	SupportLow      = "low"
	SupportModerate = "moderate"
	SupportHigh     = "high"
	SupportMaximum  = "maximum"

	StyleEnergetic = "energetic"
)

const (
	followUpLowEngagement = "Is there something specific you'd like to focus on?"
	hintLowMomentum       = "Would you like to explore something new?"
)

var technicalLevels = []string{TechnicalNone, TechnicalBasic, TechnicalIntermediate, TechnicalAdvanced, TechnicalExpert}

var personalityBase = map[models.PersonalityMode]models.ResponseStrategy{
	models.PersonalityAnalytical: {
		Tone: ToneProfessional, DetailLevel: DetailDetailed, InteractionStyle: "structured",
		TechnicalLevel: TechnicalAdvanced, EmotionalSupportLevel: SupportLow, PreferredResponseLength: LengthMedium,
	},
	models.PersonalityCreative: {
		Tone: TonePlayful, DetailLevel: DetailModerate, InteractionStyle: "exploratory",
		TechnicalLevel: TechnicalBasic, EmotionalSupportLevel: SupportModerate, PreferredResponseLength: LengthMedium,
	},
	models.PersonalitySupportive: {
		Tone: ToneWarm, DetailLevel: DetailModerate, InteractionStyle: "empathetic",
		TechnicalLevel: TechnicalBasic, EmotionalSupportLevel: SupportHigh, PreferredResponseLength: LengthMedium,
	},
	models.PersonalityCasual: {
		Tone: ToneFriendly, DetailLevel: DetailModerate, InteractionStyle: "conversational",
		TechnicalLevel: TechnicalBasic, EmotionalSupportLevel: SupportModerate, PreferredResponseLength: LengthShort,
	},
	models.PersonalityProfessional: {
		Tone: ToneProfessional, DetailLevel: DetailDetailed, InteractionStyle: "formal",
		TechnicalLevel: TechnicalIntermediate, EmotionalSupportLevel: SupportLow, PreferredResponseLength: LengthMedium,
	},
	models.PersonalityHumorous: {
		Tone: TonePlayful, DetailLevel: DetailConcise, InteractionStyle: "witty",
		TechnicalLevel: TechnicalBasic, EmotionalSupportLevel: SupportModerate, PreferredResponseLength: LengthShort,
	},
}

// stateOverride returns the per-state adjustments layered over the
// personality base. Empty string fields leave the base value in place.
func stateOverride(s models.ConversationState) models.ResponseStrategy {
	switch s {
	case models.StateGreeting:
		return models.ResponseStrategy{
			Tone: ToneWarm, InteractionStyle: "welcoming", PreferredResponseLength: LengthShort,
			FollowUpSuggestions: []string{"What would you like to talk about today?"},
		}
	case models.StateActive:
		return models.ResponseStrategy{}
	case models.StateQuestionAnswering:
		return models.ResponseStrategy{
			DetailLevel: DetailDetailed, InteractionStyle: "informative",
			FollowUpSuggestions: []string{"Does that answer your question?"},
		}
	case models.StateProblemSolving:
		return models.ResponseStrategy{
			DetailLevel: DetailDetailed, InteractionStyle: "step_by_step", PreferredResponseLength: LengthMedium,
			FollowUpSuggestions: []string{"Did that solve the problem?", "What happens when you try that?"},
		}
	case models.StateCreativeCollaboration:
		return models.ResponseStrategy{
			Tone: TonePlayful, InteractionStyle: "collaborative",
			FollowUpSuggestions: []string{"Want to build on that idea?"},
		}
	case models.StateEmotionalSupport:
		return models.ResponseStrategy{
			Tone: ToneWarm, InteractionStyle: "empathetic", TechnicalLevel: TechnicalNone,
			EmotionalSupportLevel: SupportHigh, PreferredResponseLength: LengthMedium,
			FollowUpSuggestions: []string{"How are you feeling right now?"},
		}
	case models.StateLearningSession:
		return models.ResponseStrategy{
			Tone: ToneEncouraging, DetailLevel: DetailDetailed, InteractionStyle: "educational",
			FollowUpSuggestions: []string{"Would you like an example?", "Shall we check your understanding?"},
		}
	case models.StateTechnicalDiscussion:
		return models.ResponseStrategy{
			DetailLevel: DetailDetailed, InteractionStyle: "precise", TechnicalLevel: TechnicalAdvanced,
			FollowUpSuggestions: []string{"Want me to walk through the implementation?"},
		}
	case models.StateCasualChat:
		return models.ResponseStrategy{
			Tone: ToneFriendly, DetailLevel: DetailConcise, InteractionStyle: "conversational",
			PreferredResponseLength: LengthShort,
		}
	case models.StateDeepAnalysis:
		return models.ResponseStrategy{
			DetailLevel: DetailComprehensive, InteractionStyle: "analytical", PreferredResponseLength: LengthLong,
			FollowUpSuggestions: []string{"Which aspect should we dig into further?"},
		}
	case models.StateWrappingUp:
		return models.ResponseStrategy{
			Tone: ToneWarm, DetailLevel: DetailConcise, InteractionStyle: "closing", PreferredResponseLength: LengthShort,
			TransitionHints: []string{"Offer a brief recap and an open door to return."},
		}
	case models.StateIdle:
		return models.ResponseStrategy{
			DetailLevel: DetailConcise, PreferredResponseLength: LengthShort,
			TransitionHints: []string{"Welcome the user back and invite a new topic."},
		}
	case models.StateEmergencySupport:
		return CrisisStrategy()
	default:
		panic("flow: no strategy override for state " + string(s))
	}
}

// CrisisStrategy is the fixed strategy returned for emergency messages.
func CrisisStrategy() models.ResponseStrategy {
	return models.ResponseStrategy{
		Tone:             ToneCalm,
		DetailLevel:      DetailConcise,
		InteractionStyle: "crisis_support",
		FollowUpSuggestions: []string{
			"Are you safe right now?",
			"Would you like information about crisis support lines near you?",
		},
		TransitionHints:         []string{"Stay with the user and encourage contacting emergency services or a crisis line."},
		TechnicalLevel:          TechnicalNone,
		EmotionalSupportLevel:   SupportMaximum,
		PreferredResponseLength: LengthShort,
	}
}

// StrategyGenerator derives a response strategy from the flow. It is pure:
// identical inputs always produce identical output.
type StrategyGenerator struct {
	defaultMode models.PersonalityMode
}

// NewStrategyGenerator creates a generator that falls back to the
// configured default personality for unknown modes.
func NewStrategyGenerator(cfg Config) *StrategyGenerator {
	return &StrategyGenerator{defaultMode: cfg.DefaultPersonality}
}

// Generate builds the strategy for flow's current state after a message
// with features f.
func (g *StrategyGenerator) Generate(flow *models.ConversationFlow, f models.MessageFeatures) models.ResponseStrategy {
	if flow.CurrentState == models.StateEmergencySupport {
		return CrisisStrategy()
	}

	base, ok := personalityBase[flow.PersonalityMode]
	if !ok {
		base = personalityBase[g.defaultMode]
	}
	st := overlay(base, stateOverride(flow.CurrentState))

	if flow.EngagementLevel > 0.8 {
		st.DetailLevel = DetailComprehensive
		st.PreferredResponseLength = LengthLong
	}
	if flow.EngagementLevel < 0.3 {
		st.Tone = ToneEncouraging
		st.FollowUpSuggestions = append(st.FollowUpSuggestions, followUpLowEngagement)
	}
	if flow.FlowMomentum > 0.8 {
		st.InteractionStyle = StyleEnergetic
	}
	if flow.FlowMomentum < 0.3 {
		st.TransitionHints = append(st.TransitionHints, hintLowMomentum)
	}
	if f.ComplexityScore > 0.7 {
		st.TechnicalLevel = raiseTechnical(st.TechnicalLevel)
	}
	if f.UrgencyLevel > 0.7 {
		st.Tone = ToneUrgent
		st.DetailLevel = DetailConcise
		st.PreferredResponseLength = LengthShort
	}
	return st
}

// overlay returns base with every non-empty field of o applied. Slices are
// always freshly allocated.
func overlay(base, o models.ResponseStrategy) models.ResponseStrategy {
	st := base
	if o.Tone != "" {
		st.Tone = o.Tone
	}
	if o.DetailLevel != "" {
		st.DetailLevel = o.DetailLevel
	}
	if o.InteractionStyle != "" {
		st.InteractionStyle = o.InteractionStyle
	}
	if o.TechnicalLevel != "" {
		st.TechnicalLevel = o.TechnicalLevel
	}
	if o.EmotionalSupportLevel != "" {
		st.EmotionalSupportLevel = o.EmotionalSupportLevel
	}
	if o.PreferredResponseLength != "" {
		st.PreferredResponseLength = o.PreferredResponseLength
	}
	st.FollowUpSuggestions = slices.Concat([]string{}, base.FollowUpSuggestions, o.FollowUpSuggestions)
	st.TransitionHints = slices.Concat([]string{}, base.TransitionHints, o.TransitionHints)
	return st
}

func raiseTechnical(level string) string {
	i := slices.Index(technicalLevels, level)
	if i < 0 {
		return TechnicalIntermediate
	}
	return technicalLevels[min(i+1, len(technicalLevels)-1)]
}
