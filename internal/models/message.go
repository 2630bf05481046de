package models

import (
	"math"
	"strings"
)

// EmotionData is supplied per message by an external emotion classifier.
type EmotionData struct {
	PrimaryEmotion    string   `json:"primary_emotion"`
	Intensity         float64  `json:"intensity"`
	Confidence        float64  `json:"confidence"`
	SecondaryEmotions []string `json:"secondary_emotions,omitempty"`
}

// NeutralEmotion is used whenever emotion data is absent or unusable.
func NeutralEmotion() EmotionData {
	return EmotionData{PrimaryEmotion: "neutral"}
}

// Reasons reported when emotion input had to be repaired.
const (
	DegradedEmotionMissingPrimary = "emotion_missing_primary"
	DegradedEmotionIntensity      = "emotion_invalid_intensity"
	DegradedEmotionConfidence     = "emotion_invalid_confidence"
)

// Sanitized returns e with its label normalised and its scalars forced into
// [0,1], plus the reasons for any repair. A nil receiver yields the neutral
// emotion with no reasons.
func (e *EmotionData) Sanitized() (EmotionData, []string) {
	if e == nil {
		return NeutralEmotion(), nil
	}
	out := *e
	out.SecondaryEmotions = append([]string(nil), e.SecondaryEmotions...)
	var reasons []string

	out.PrimaryEmotion = strings.ToLower(strings.TrimSpace(out.PrimaryEmotion))
	if out.PrimaryEmotion == "" {
		out.PrimaryEmotion = "neutral"
		reasons = append(reasons, DegradedEmotionMissingPrimary)
	}
	if v, ok := unit(out.Intensity); !ok {
		out.Intensity = v
		reasons = append(reasons, DegradedEmotionIntensity)
	}
	if v, ok := unit(out.Confidence); !ok {
		out.Confidence = v
		reasons = append(reasons, DegradedEmotionConfidence)
	}
	return out, reasons
}

// unit clamps v into [0,1]; NaN becomes 0. ok is false when v was repaired.
func unit(v float64) (float64, bool) {
	switch {
	case math.IsNaN(v):
		return 0, false
	case v < 0:
		return 0, false
	case v > 1:
		return 1, false
	}
	return v, true
}

// SentimentIndicators are keyword-derived sentiment fractions summing to 1.
type SentimentIndicators struct {
	Positive float64 `json:"positive"`
	Negative float64 `json:"negative"`
	Neutral  float64 `json:"neutral"`
}

// MessageFeatures is the structured feature bag extracted from raw text.
type MessageFeatures struct {
	CharCount           int                 `json:"char_count"`
	WordCount           int                 `json:"word_count"`
	QuestionCount       int                 `json:"question_count"`
	ExclamationCount    int                 `json:"exclamation_count"`
	TechnicalTermCount  int                 `json:"technical_term_count"`
	HasCode             bool                `json:"has_code"`
	HasPersonalInfo     bool                `json:"has_personal_info"`
	HasProblem          bool                `json:"has_problem"`
	HasCreativeRequest  bool                `json:"has_creative_request"`
	HasLearningIntent   bool                `json:"has_learning_intent"`
	HasEmotionalContent bool                `json:"has_emotional_content"`
	HasTechnicalContent bool                `json:"has_technical_content"`
	HasCasualMarkers    bool                `json:"has_casual_markers"`
	HasFormalMarkers    bool                `json:"has_formal_markers"`
	HasHumorMarkers     bool                `json:"has_humor_markers"`
	HasGreeting         bool                `json:"has_greeting"`
	ComplexityScore     float64             `json:"complexity_score"`
	Sentiment           SentimentIndicators `json:"sentiment_indicators"`
	UrgencyLevel        float64             `json:"urgency_level"`
	CreativityLevel     float64             `json:"creativity_level"`
	LearningSubjects    []string            `json:"learning_subjects,omitempty"`
}

// StrongTechnical reports whether the message carries enough technical
// signal to justify a technical discussion on its own.
func (m MessageFeatures) StrongTechnical() bool {
	return m.HasCode || m.TechnicalTermCount >= 2
}

// Substantive reports whether the message asks for or offers actual content.
func (m MessageFeatures) Substantive() bool {
	return m.HasProblem || m.HasLearningIntent || m.HasCreativeRequest ||
		m.HasTechnicalContent || m.QuestionCount > 0
}
