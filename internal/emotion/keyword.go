package emotion

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/BTreeMap/ConvoFlow/internal/models"
)

// Keyword classifier defaults for messages with no emotional vocabulary.
const (
	NeutralIntensity  = 0.5
	KeywordConfidence = 0.8
)

// Rule assigns Label with base Intensity when any of Words appears.
type Rule struct {
	Label     string   `yaml:"label"`
	Intensity float64  `yaml:"intensity"`
	Words     []string `yaml:"words"`
}

// DefaultRules returns the built-in vocabulary. Earlier rules win ties.
func DefaultRules() []Rule {
	return []Rule{
		{Label: "sadness", Intensity: 0.7, Words: []string{"sad", "upset", "disappointed", "lonely", "depressed", "miserable", "heartbroken", "crying", "hopeless"}},
		{Label: "anger", Intensity: 0.7, Words: []string{"angry", "furious", "mad", "hate", "annoyed", "pissed"}},
		{Label: "fear", Intensity: 0.7, Words: []string{"scared", "afraid", "terrified", "frightened"}},
		{Label: "anxiety", Intensity: 0.7, Words: []string{"anxious", "worried", "nervous", "stressed", "panicking", "overwhelmed"}},
		{Label: "frustration", Intensity: 0.6, Words: []string{"frustrated", "frustrating", "stuck", "ugh"}},
		{Label: "excitement", Intensity: 0.9, Words: []string{"excited", "thrilled", "amazing", "incredible"}},
		{Label: "joy", Intensity: 0.8, Words: []string{"happy", "great", "awesome", "wonderful", "glad", "love", "delighted"}},
	}
}

var intensifiers = map[string]bool{
	"very": true, "really": true, "so": true, "extremely": true, "totally": true, "incredibly": true,
}

// KeywordClassifier labels messages from a fixed vocabulary. Extra hits for
// the winning label, intensifiers and exclamation marks raise intensity.
type KeywordClassifier struct {
	rules []Rule
	index map[string][]int
}

// NewKeywordClassifier builds a classifier; nil rules selects DefaultRules.
func NewKeywordClassifier(rules []Rule) *KeywordClassifier {
	if rules == nil {
		rules = DefaultRules()
	}
	k := &KeywordClassifier{rules: rules, index: make(map[string][]int)}
	for i, r := range rules {
		for _, w := range r.Words {
			w = strings.ToLower(w)
			k.index[w] = append(k.index[w], i)
		}
	}
	return k
}

// Classify never fails.
func (k *KeywordClassifier) Classify(ctx context.Context, message string) (*models.EmotionData, error) {
	e := k.classify(message)
	return &e, nil
}

func (k *KeywordClassifier) classify(message string) models.EmotionData {
	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	hits := make([]int, len(k.rules))
	boost := 0
	for _, w := range words {
		for _, i := range k.index[w] {
			hits[i]++
		}
		if intensifiers[w] {
			boost++
		}
	}

	best := -1
	for i, n := range hits {
		if n > 0 && (best < 0 || n > hits[best]) {
			best = i
		}
	}
	if best < 0 {
		return models.EmotionData{PrimaryEmotion: "neutral", Intensity: NeutralIntensity, Confidence: KeywordConfidence}
	}

	if strings.Contains(message, "!") {
		boost++
	}
	intensity := k.rules[best].Intensity + 0.1*float64(hits[best]-1) + 0.1*float64(min(boost, 2))
	e := models.EmotionData{
		PrimaryEmotion: k.rules[best].Label,
		Intensity:      min(intensity, 1),
		Confidence:     KeywordConfidence,
	}
	for i, n := range hits {
		if n > 0 && i != best {
			e.SecondaryEmotions = append(e.SecondaryEmotions, k.rules[i].Label)
		}
	}
	slog.Debug("KeywordClassifier.Classify", "emotion", e.PrimaryEmotion, "intensity", e.Intensity)
	return e
}
