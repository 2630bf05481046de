package flow

import (
	"time"

	"github.com/BTreeMap/ConvoFlow/internal/models"
)

// PersonalityClassifier infers an interaction style from recent turns.
type PersonalityClassifier struct {
	window    int
	threshold int
	minTurns  int
}

// NewPersonalityClassifier creates a classifier from cfg.
func NewPersonalityClassifier(cfg Config) *PersonalityClassifier {
	return &PersonalityClassifier{
		window:    cfg.PersonalityWindow,
		threshold: cfg.PersonalityThreshold,
		minTurns:  cfg.PersonalityMinTurns,
	}
}

// Classify returns the mode implied by the last turns of the flow's history,
// or the flow's current mode when history is too short or no marker count
// reaches the threshold. Ties resolve technical > creative > emotional >
// casual > formal > humor.
func (c *PersonalityClassifier) Classify(flow *models.ConversationFlow) models.PersonalityMode {
	if flow.ConversationHistory == nil || flow.ConversationHistory.Len() < c.minTurns {
		return flow.PersonalityMode
	}

	var technical, creative, emotional, casual, formal, humor int
	for _, turn := range flow.ConversationHistory.Last(c.window) {
		if turn.Technical {
			technical++
		}
		if turn.Creative {
			creative++
		}
		if turn.Emotional {
			emotional++
		}
		if turn.Casual {
			casual++
		}
		if turn.Formal {
			formal++
		}
		if turn.Humorous {
			humor++
		}
	}

	switch {
	case technical >= c.threshold:
		return models.PersonalityAnalytical
	case creative >= c.threshold:
		return models.PersonalityCreative
	case emotional >= c.threshold:
		return models.PersonalitySupportive
	case casual >= c.threshold:
		return models.PersonalityCasual
	case formal >= c.threshold:
		return models.PersonalityProfessional
	case humor >= c.threshold:
		return models.PersonalityHumorous
	}
	return flow.PersonalityMode
}

// turnFromFeatures builds the history residue for one message.
func turnFromFeatures(f models.MessageFeatures, state models.ConversationState, at time.Time) models.Turn {
	return models.Turn{
		At:         at,
		State:      state,
		WordCount:  f.WordCount,
		Complexity: f.ComplexityScore,
		Technical:  f.HasTechnicalContent,
		Creative:   f.HasCreativeRequest,
		Emotional:  f.HasEmotionalContent,
		Casual:     f.HasCasualMarkers,
		Formal:     f.HasFormalMarkers,
		Humorous:   f.HasHumorMarkers,
	}
}
