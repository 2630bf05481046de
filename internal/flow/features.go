package flow

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/BTreeMap/ConvoFlow/internal/models"
)

const (
	longWordRunes       = 8
	punctuationSet      = ".,;:!?()[]{}-\"'`"
	maxLearningSubjects = 3
)

// learningStopwords never count as a learning subject.
var learningStopwords = map[string]bool{
	"the": true, "about": true, "this": true, "that": true, "what": true, "with": true,
	"more": true, "some": true, "does": true, "work": true, "works": true, "from": true,
	"into": true, "your": true, "please": true, "how": true, "why": true, "when": true,
	"there": true, "these": true, "those": true, "them": true, "something": true, "things": true,
}

// FeatureExtractor turns raw message text into a MessageFeatures bag. It
// holds no per-message state and is safe for concurrent use.
type FeatureExtractor struct {
	lex Lexicon
}

// NewFeatureExtractor creates an extractor over the given lexicon.
func NewFeatureExtractor(lex Lexicon) *FeatureExtractor {
	return &FeatureExtractor{lex: lex}
}

// Extract computes the feature bag for text.
func (e *FeatureExtractor) Extract(text string) models.MessageFeatures {
	t := normalize(text)
	f := models.MessageFeatures{
		CharCount:        utf8.RuneCountInString(text),
		WordCount:        len(t.tokens),
		QuestionCount:    strings.Count(text, "?"),
		ExclamationCount: strings.Count(text, "!"),
	}

	f.HasCode = e.hasCode(text)
	f.TechnicalTermCount = t.hits(e.lex.Technical)
	f.HasTechnicalContent = f.TechnicalTermCount > 0 || f.HasCode
	f.HasPersonalInfo = t.has(e.lex.Disclosure)
	f.HasProblem = t.has(e.lex.Problem)
	f.HasLearningIntent = t.has(e.lex.Learning)
	f.HasEmotionalContent = t.has(e.lex.Emotional)
	f.HasCasualMarkers = t.has(e.lex.Casual)
	f.HasFormalMarkers = t.has(e.lex.Formal)
	f.HasHumorMarkers = t.has(e.lex.Humor)
	f.HasGreeting = t.has(e.lex.Greeting)

	creativeHits := t.hits(e.lex.Creative)
	f.HasCreativeRequest = creativeHits > 0

	f.ComplexityScore = complexity(t, f.TechnicalTermCount)
	f.Sentiment = sentiment(t.hits(e.lex.Positive), t.hits(e.lex.Negative))
	f.UrgencyLevel = urgency(t.hits(e.lex.Urgency), f.ExclamationCount, uppercaseRatio(text))
	f.CreativityLevel = creativity(creativeHits, t.hits(e.lex.Metaphor))

	if f.HasLearningIntent {
		f.LearningSubjects = e.learningSubjects(t)
	}
	return f
}

func (e *FeatureExtractor) hasCode(text string) bool {
	for _, marker := range e.lex.CodeMarkers {
		if marker != "" && strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// learningSubjects returns the first meaningful word after each learning
// trigger, e.g. "explain recursion" -> "recursion".
func (e *FeatureExtractor) learningSubjects(t normalizedText) []string {
	triggers := make(map[string]bool, len(e.lex.LearningTriggers))
	for _, tr := range e.lex.LearningTriggers {
		triggers[strings.ToLower(tr)] = true
	}
	var subjects []string
	for i := 0; i < len(t.tokens) && len(subjects) < maxLearningSubjects; i++ {
		if !triggers[t.tokens[i]] {
			continue
		}
		for j := i + 1; j < len(t.tokens); j++ {
			w := t.tokens[j]
			if triggers[w] {
				break
			}
			if utf8.RuneCountInString(w) >= 4 && !learningStopwords[w] {
				if !slices.Contains(subjects, w) {
					subjects = append(subjects, w)
				}
				i = j
				break
			}
		}
	}
	return subjects
}

// complexity blends average word length, message length, the share of long
// or technical words and punctuation variety. Each term is clamped first.
func complexity(t normalizedText, technicalHits int) float64 {
	words := len(t.tokens)
	if words == 0 {
		return 0
	}
	totalRunes, long := 0, 0
	for _, w := range t.tokens {
		n := utf8.RuneCountInString(w)
		totalRunes += n
		if n > longWordRunes {
			long++
		}
	}
	avg := float64(totalRunes) / float64(words)
	ratio := float64(long+technicalHits) / float64(words)

	variety := 0
	for _, p := range punctuationSet {
		if strings.ContainsRune(t.raw, p) {
			variety++
		}
	}

	score := 0.5*clamp01((avg-3)/5) +
		0.3*clamp01(float64(words)/60) +
		0.4*clamp01(2*ratio) +
		0.1*clamp01(float64(variety)/4)
	return clamp01(score)
}

// sentiment normalises keyword hits against a neutral baseline of one, so
// the three fractions always sum to 1.
func sentiment(pos, neg int) models.SentimentIndicators {
	total := float64(pos + neg + 1)
	return models.SentimentIndicators{
		Positive: float64(pos) / total,
		Negative: float64(neg) / total,
		Neutral:  1 / total,
	}
}

func urgency(keywordHits, exclamations int, upper float64) float64 {
	return clamp01(0.5*clamp01(float64(keywordHits)/2) +
		0.3*clamp01(float64(exclamations)/3) +
		0.2*clamp01(upper*2))
}

func creativity(creativeHits, metaphorHits int) float64 {
	return clamp01(0.7*clamp01(float64(creativeHits)/3) + 0.3*clamp01(float64(metaphorHits)/2))
}

// uppercaseRatio is the share of uppercase letters; short texts score 0 so
// "OK" or "I" do not read as shouting.
func uppercaseRatio(text string) float64 {
	letters, upper := 0, 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters < 4 {
		return 0
	}
	return float64(upper) / float64(letters)
}
