package emotion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ConvoFlow/internal/genai"
	"github.com/BTreeMap/ConvoFlow/internal/models"
)

const llmSystemPrompt = `You label the emotion of a single chat message.
Reply with one JSON object and nothing else:
{"primary_emotion": "<one lowercase word>", "intensity": <0..1>, "confidence": <0..1>, "secondary_emotions": ["<word>", ...]}
Use "neutral" with low intensity when no emotion is expressed.`

// LLMClassifier asks a chat model for emotion data and falls back to
// another classifier when the request or the reply is unusable.
type LLMClassifier struct {
	client   genai.ClientInterface
	fallback Classifier
}

// NewLLMClassifier wires client with fallback; a nil fallback selects the
// default keyword classifier.
func NewLLMClassifier(client genai.ClientInterface, fallback Classifier) *LLMClassifier {
	if fallback == nil {
		fallback = NewKeywordClassifier(nil)
	}
	return &LLMClassifier{client: client, fallback: fallback}
}

// Classify returns the model's labelling, or the fallback's on failure.
func (c *LLMClassifier) Classify(ctx context.Context, message string) (*models.EmotionData, error) {
	reply, err := c.client.GeneratePromptWithContext(ctx, llmSystemPrompt, message)
	if err != nil {
		slog.Warn("LLMClassifier.Classify: request failed, using fallback", "error", err)
		return c.fallback.Classify(ctx, message)
	}
	e, err := parseReply(reply)
	if err != nil {
		slog.Warn("LLMClassifier.Classify: unusable reply, using fallback", "error", err)
		return c.fallback.Classify(ctx, message)
	}
	norm, reasons := Normalize(e)
	if len(reasons) > 0 {
		slog.Debug("LLMClassifier.Classify: reply repaired", "reasons", reasons)
	}
	return &norm, nil
}

// parseReply extracts the JSON object from a model reply, tolerating code
// fences and surrounding prose.
func parseReply(reply string) (*models.EmotionData, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in reply")
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(reply[start:end+1]), &m); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	e, reasons := FromMap(m)
	if e == nil || e.PrimaryEmotion == "" {
		return nil, fmt.Errorf("reply has no primary_emotion")
	}
	if len(reasons) > 0 {
		return nil, fmt.Errorf("malformed reply: %s", strings.Join(reasons, ", "))
	}
	return e, nil
}
