package flow

import (
	"math"
	"math/rand"
	"testing"

	"github.com/BTreeMap/ConvoFlow/internal/models"
)

func TestEngagement_ShortMessageLowers(t *testing.T) {
	s := NewEngagementScorer(DefaultConfig())
	e := NewFeatureExtractor(DefaultLexicon())
	for _, start := range []float64{0, 0.3, 0.5, 0.9, 1} {
		got := s.Update(start, e.Extract("ok fine then"), models.NeutralEmotion())
		if start > 0 && got >= start {
			t.Errorf("from %v: expected a decrease, got %v", start, got)
		}
		if got < 0 {
			t.Errorf("from %v: went negative: %v", start, got)
		}
	}
}

func TestEngagement_RichMessageRaises(t *testing.T) {
	s := NewEngagementScorer(DefaultConfig())
	e := NewFeatureExtractor(DefaultLexicon())
	f := e.Extract("I personally love this idea! Could we design a story about a database that feels happy? " +
		"What if the server could imagine things too? I am excited to explore it with you.")
	if got := s.Update(0.5, f, models.EmotionData{PrimaryEmotion: "joy", Intensity: 0.8}); got <= 0.5 {
		t.Errorf("expected engagement above 0.5, got %v", got)
	}
}

func TestEngagement_Bounded(t *testing.T) {
	s := NewEngagementScorer(DefaultConfig())
	rng := rand.New(rand.NewSource(42))
	level := 0.5
	for i := 0; i < 2000; i++ {
		f := models.MessageFeatures{
			WordCount:           rng.Intn(120),
			QuestionCount:       rng.Intn(10),
			ExclamationCount:    rng.Intn(10),
			HasPersonalInfo:     rng.Intn(2) == 0,
			HasTechnicalContent: rng.Intn(2) == 0,
			HasCreativeRequest:  rng.Intn(2) == 0,
			ComplexityScore:     rng.Float64(),
			Sentiment:           models.SentimentIndicators{Positive: rng.Float64() / 2, Negative: rng.Float64() / 2},
		}
		level = s.Update(level, f, models.EmotionData{Intensity: rng.Float64()})
		if level < 0 || level > 1 || math.IsNaN(level) {
			t.Fatalf("iteration %d: engagement out of range: %v", i, level)
		}
	}
}

func TestEngagement_ConvergesOnRepeatedInput(t *testing.T) {
	s := NewEngagementScorer(DefaultConfig())
	e := NewFeatureExtractor(DefaultLexicon())
	inputs := []string{
		"ok",
		"tell me more about how the cache works?",
		"I love it! This is amazing! Let's brainstorm more ideas!",
	}
	for _, in := range inputs {
		f := e.Extract(in)
		level, prev := 0.5, -1.0
		for i := 0; i < 1000; i++ {
			prev, level = level, s.Update(level, f, models.NeutralEmotion())
		}
		if math.Abs(level-prev) > 1e-6 {
			t.Errorf("%q: engagement still moving after 1000 steps: %v -> %v", in, prev, level)
		}
	}
}
