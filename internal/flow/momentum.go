package flow

import (
	"time"

	"github.com/BTreeMap/ConvoFlow/internal/models"
)

const (
	momentumPerQuestion    = 0.05
	momentumPerExclamation = 0.03
	momentumDisclosure     = 0.05
	momentumRichnessCap    = 0.15
)

// personalityMomentum biases momentum by interaction style.
var personalityMomentum = map[models.PersonalityMode]float64{
	models.PersonalityAnalytical:   0.05,
	models.PersonalityCreative:     0.1,
	models.PersonalitySupportive:   0.05,
	models.PersonalityCasual:       0,
	models.PersonalityProfessional: 0.05,
	models.PersonalityHumorous:     0.1,
}

// MomentumCalculator estimates how likely the conversation is to continue
// productively without intervention.
type MomentumCalculator struct {
	base             float64
	engagementWeight float64
	contextCap       float64
	maxDepth         int
	recencyBonus     float64
	recencyFull      time.Duration
	recencyDecay     time.Duration
}

// NewMomentumCalculator creates a calculator from cfg.
func NewMomentumCalculator(cfg Config) *MomentumCalculator {
	return &MomentumCalculator{
		base:             cfg.MomentumBase,
		engagementWeight: cfg.MomentumEngagementWeight,
		contextCap:       cfg.MomentumContextCap,
		maxDepth:         cfg.MaxContextDepth,
		recencyBonus:     cfg.RecencyBonus,
		recencyFull:      cfg.RecencyFullWindow,
		recencyDecay:     cfg.RecencyDecayWindow,
	}
}

// Update returns the momentum for flow after a message with features f,
// evaluated at now.
func (m *MomentumCalculator) Update(flow *models.ConversationFlow, f models.MessageFeatures, now time.Time) float64 {
	total := m.base
	total += clamp01(flow.EngagementLevel) * m.engagementWeight
	total += m.contextBonus(flow.ContextDepth)
	total += richness(f)
	total += m.Recency(now.Sub(flow.LastTransition))
	total += personalityMomentum[flow.PersonalityMode]
	return clamp01(total)
}

func (m *MomentumCalculator) contextBonus(depth int) float64 {
	if m.maxDepth <= 0 || depth <= 0 {
		return 0
	}
	return min(float64(depth)/float64(m.maxDepth)*m.contextCap, m.contextCap)
}

// Recency is the full bonus inside the full window, then decays linearly
// to zero over the decay window. It never increases with elapsed time.
func (m *MomentumCalculator) Recency(elapsed time.Duration) float64 {
	if elapsed <= m.recencyFull {
		return m.recencyBonus
	}
	if m.recencyDecay <= 0 {
		return 0
	}
	past := elapsed - m.recencyFull
	if past >= m.recencyDecay {
		return 0
	}
	return m.recencyBonus * (1 - float64(past)/float64(m.recencyDecay))
}

func richness(f models.MessageFeatures) float64 {
	r := float64(f.QuestionCount)*momentumPerQuestion + float64(f.ExclamationCount)*momentumPerExclamation
	if f.HasPersonalInfo {
		r += momentumDisclosure
	}
	return min(r, momentumRichnessCap)
}
