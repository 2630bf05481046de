package flow

import "github.com/BTreeMap/ConvoFlow/internal/models"

// Engagement delta weights. The totals are scaled by the configured
// smoothing factor before being applied.
const (
	engagementLongBonus      = 0.1
	engagementShortPenalty   = 0.1
	engagementLongWords      = 20
	engagementShortWords     = 5
	engagementPerQuestion    = 0.15
	engagementPerExclamation = 0.05
	engagementMaxMarks       = 3
	engagementDisclosure     = 0.2
	engagementTechnical      = 0.1
	engagementCreative       = 0.1
	engagementComplexity     = 0.1
	engagementIntensity      = 0.1
	engagementSentimentSkew  = 0.1
)

// EngagementScorer updates the engagement scalar from message features and
// emotion data.
type EngagementScorer struct {
	smoothing float64
	baseline  float64
	reversion float64
}

// NewEngagementScorer creates a scorer from cfg.
func NewEngagementScorer(cfg Config) *EngagementScorer {
	return &EngagementScorer{
		smoothing: cfg.EngagementSmoothing,
		baseline:  cfg.EngagementBaseline,
		reversion: cfg.EngagementReversion,
	}
}

// Update returns the new engagement level in [0,1]. A small pull toward the
// baseline keeps repeated identical input converging instead of drifting.
func (s *EngagementScorer) Update(current float64, f models.MessageFeatures, emo models.EmotionData) float64 {
	return clamp01(clamp01(current) + s.Delta(current, f, emo)*s.smoothing)
}

// Delta returns the unsmoothed engagement change for one message.
func (s *EngagementScorer) Delta(current float64, f models.MessageFeatures, emo models.EmotionData) float64 {
	delta := 0.0

	switch {
	case f.WordCount > engagementLongWords:
		delta += engagementLongBonus
	case f.WordCount < engagementShortWords:
		delta -= engagementShortPenalty
	}

	delta += float64(min(f.QuestionCount, engagementMaxMarks)) * engagementPerQuestion
	delta += float64(min(f.ExclamationCount, engagementMaxMarks)) * engagementPerExclamation

	if f.HasPersonalInfo {
		delta += engagementDisclosure
	}
	if f.HasTechnicalContent {
		delta += engagementTechnical
	}
	if f.HasCreativeRequest {
		delta += engagementCreative
	}

	delta += clamp01(f.ComplexityScore) * engagementComplexity
	delta += clamp01(emo.Intensity) * engagementIntensity
	delta += (f.Sentiment.Positive - f.Sentiment.Negative) * engagementSentimentSkew

	delta -= (clamp01(current) - s.baseline) * s.reversion
	return delta
}
