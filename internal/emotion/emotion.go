// Package emotion turns raw emotion input into models.EmotionData.
//
// The flow tracker consumes emotion data but never classifies it. This
// package holds the collaborators that produce it: normalisation of
// externally supplied maps, a keyword classifier and an LLM-backed
// classifier that falls back to keywords.
package emotion

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/BTreeMap/ConvoFlow/internal/models"
)

// DegradedMalformed is reported when a field has an unusable type.
const DegradedMalformed = "emotion_malformed_field"

// Classifier produces emotion data for a message.
type Classifier interface {
	Classify(ctx context.Context, message string) (*models.EmotionData, error)
}

// aliases maps common adjectives to the canonical labels used by the
// distress list.
var aliases = map[string]string{
	"sad":        "sadness",
	"unhappy":    "sadness",
	"depressed":  "sadness",
	"angry":      "anger",
	"mad":        "anger",
	"furious":    "anger",
	"scared":     "fear",
	"afraid":     "fear",
	"terrified":  "fear",
	"anxious":    "anxiety",
	"worried":    "anxiety",
	"nervous":    "anxiety",
	"happy":      "joy",
	"happiness":  "joy",
	"excited":    "excitement",
	"frustrated": "frustration",
}

// Canonical returns the canonical label for an emotion name.
func Canonical(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	if c, ok := aliases[label]; ok {
		return c
	}
	return label
}

// Normalize sanitizes e and maps its labels to canonical names. A nil e
// yields neutral data.
func Normalize(e *models.EmotionData) (models.EmotionData, []string) {
	out, reasons := e.Sanitized()
	out.PrimaryEmotion = Canonical(out.PrimaryEmotion)
	for i, s := range out.SecondaryEmotions {
		out.SecondaryEmotions[i] = Canonical(s)
	}
	return out, reasons
}

// FromMap decodes the loosely typed emotion dictionary supplied alongside
// a message. A nil or empty map yields nil, which the tracker treats as
// neutral. Fields of the wrong type are dropped and reported.
func FromMap(m map[string]any) (*models.EmotionData, []string) {
	if len(m) == 0 {
		return nil, nil
	}
	var (
		e       models.EmotionData
		reasons []string
	)
	if v, ok := m["primary_emotion"]; ok {
		s, isString := v.(string)
		if !isString {
			reasons = append(reasons, DegradedMalformed+":primary_emotion")
		}
		e.PrimaryEmotion = s
	}
	for key, dst := range map[string]*float64{"intensity": &e.Intensity, "confidence": &e.Confidence} {
		v, ok := m[key]
		if !ok {
			continue
		}
		f, err := toFloat(v)
		if err != nil {
			reasons = append(reasons, DegradedMalformed+":"+key)
			continue
		}
		*dst = f
	}
	switch v := m["secondary_emotions"].(type) {
	case nil:
	case []string:
		e.SecondaryEmotions = append(e.SecondaryEmotions, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				e.SecondaryEmotions = append(e.SecondaryEmotions, s)
			}
		}
	default:
		reasons = append(reasons, DegradedMalformed+":secondary_emotions")
	}
	// Map iteration above is unordered.
	slices.Sort(reasons)
	return &e, reasons
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	}
	return math.NaN(), fmt.Errorf("unsupported type %T", v)
}
