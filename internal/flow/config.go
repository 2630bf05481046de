// Package flow implements the per-user conversation flow tracker: message
// feature extraction, scoring, the state transition policy, response
// strategy generation and the concurrency-safe flow store.
package flow

import (
	"errors"
	"fmt"
	"time"

	"github.com/BTreeMap/ConvoFlow/internal/models"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid flow config")

// Lexicon holds the closed keyword lists used for feature extraction and
// phrase matching. Entries are matched case-insensitively on word
// boundaries; entries without letters or digits (emoji) match as substrings.
type Lexicon struct {
	Emergency        []string `yaml:"emergency"`
	WrapUp           []string `yaml:"wrap_up"`
	Greeting         []string `yaml:"greeting"`
	Disclosure       []string `yaml:"disclosure"`
	Problem          []string `yaml:"problem"`
	Creative         []string `yaml:"creative"`
	Learning         []string `yaml:"learning"`
	LearningTriggers []string `yaml:"learning_triggers"`
	Emotional        []string `yaml:"emotional"`
	Technical        []string `yaml:"technical"`
	Casual           []string `yaml:"casual"`
	Formal           []string `yaml:"formal"`
	Humor            []string `yaml:"humor"`
	Positive         []string `yaml:"positive"`
	Negative         []string `yaml:"negative"`
	Urgency          []string `yaml:"urgency"`
	Metaphor         []string `yaml:"metaphor"`
	CodeMarkers      []string `yaml:"code_markers"`
}

// Config holds every threshold, weight and capacity used by the tracker.
type Config struct {
	// Transition policy
	EmotionalIntensityThreshold  float64       `yaml:"emotional_intensity_threshold"`
	DistressEmotions             []string      `yaml:"distress_emotions"`
	TechnicalComplexityThreshold float64       `yaml:"technical_complexity_threshold"`
	DeepAnalysisMinWords         int           `yaml:"deep_analysis_min_words"`
	DeepAnalysisComplexity       float64       `yaml:"deep_analysis_complexity"`
	DecayMomentumBelow           float64       `yaml:"decay_momentum_below"`
	DecayEngagementBelow         float64       `yaml:"decay_engagement_below"`
	DecayAfter                   time.Duration `yaml:"decay_after"`

	// Scoring
	EngagementSmoothing      float64       `yaml:"engagement_smoothing"`
	EngagementBaseline       float64       `yaml:"engagement_baseline"`
	EngagementReversion      float64       `yaml:"engagement_reversion"`
	MetricsSmoothing         float64       `yaml:"metrics_smoothing"`
	MomentumBase             float64       `yaml:"momentum_base"`
	MomentumEngagementWeight float64       `yaml:"momentum_engagement_weight"`
	MomentumContextCap       float64       `yaml:"momentum_context_cap"`
	RecencyBonus             float64       `yaml:"recency_bonus"`
	RecencyFullWindow        time.Duration `yaml:"recency_full_window"`
	RecencyDecayWindow       time.Duration `yaml:"recency_decay_window"`

	// Context tracking
	MaxContextDepth       int     `yaml:"max_context_depth"`
	ContextDepthStep      int     `yaml:"context_depth_step"`
	ContextDeepComplexity float64 `yaml:"context_deep_complexity"`
	ContextDeepWords      int     `yaml:"context_deep_words"`
	// Messages shorter than this lower the depth whatever their complexity.
	ContextShallowWords   int     `yaml:"context_shallow_words"`
	TopicThreadCap        int     `yaml:"topic_thread_cap"`
	TopicDedupWindow      int     `yaml:"topic_dedup_window"`
	PendingTopicsCap      int     `yaml:"pending_topics_cap"`

	// History and personality
	HistoryCap           int                    `yaml:"history_cap"`
	PersonalityWindow    int                    `yaml:"personality_window"`
	PersonalityThreshold int                    `yaml:"personality_threshold"`
	PersonalityMinTurns  int                    `yaml:"personality_min_turns"`
	DefaultPersonality   models.PersonalityMode `yaml:"default_personality"`

	// Learning
	LearningTopicsCap    int     `yaml:"learning_topics_cap"`
	LearningProgressStep float64 `yaml:"learning_progress_step"`

	// IdleTTL evicts flows not updated for this long. Zero disables eviction.
	IdleTTL time.Duration `yaml:"idle_ttl"`

	Lexicon Lexicon `yaml:"lexicon"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		EmotionalIntensityThreshold:  0.7,
		DistressEmotions:             []string{"sadness", "sad", "anger", "angry", "fear", "scared", "anxiety", "anxious"},
		TechnicalComplexityThreshold: 0.7,
		DeepAnalysisMinWords:         50,
		DeepAnalysisComplexity:       0.8,
		DecayMomentumBelow:           0.2,
		DecayEngagementBelow:         0.3,
		DecayAfter:                   5 * time.Minute,

		EngagementSmoothing:      0.6,
		EngagementBaseline:       0.5,
		EngagementReversion:      0.05,
		MetricsSmoothing:         0.7,
		MomentumBase:             0.2,
		MomentumEngagementWeight: 0.3,
		MomentumContextCap:       0.2,
		RecencyBonus:             0.2,
		RecencyFullWindow:        2 * time.Minute,
		RecencyDecayWindow:       10 * time.Minute,

		MaxContextDepth:       10,
		ContextDepthStep:      1,
		ContextDeepComplexity: 0.5,
		ContextDeepWords:      30,
		ContextShallowWords:   10,
		TopicThreadCap:        10,
		TopicDedupWindow:      3,
		PendingTopicsCap:      5,

		HistoryCap:           20,
		PersonalityWindow:    10,
		PersonalityThreshold: 3,
		PersonalityMinTurns:  3,
		DefaultPersonality:   models.PersonalityCasual,

		LearningTopicsCap:    20,
		LearningProgressStep: 0.05,

		Lexicon: DefaultLexicon(),
	}
}

// DefaultLexicon returns the built-in keyword lists.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Emergency: []string{
			"kill myself", "killing myself", "suicide", "suicidal", "end my life", "want to die",
			"wanna die", "self-harm", "self harm", "hurt myself", "harm myself", "cut myself",
			"overdose", "no reason to live", "better off dead",
		},
		WrapUp: []string{
			"thanks", "thank you", "that's all", "goodbye", "bye", "see you", "good night",
			"talk later", "ttyl", "cya",
		},
		Greeting:   []string{"hello", "hi", "hey", "hiya", "howdy", "greetings", "good morning", "good afternoon", "good evening"},
		Disclosure: []string{"i am", "i'm", "my", "me", "myself", "personally", "i feel", "i've", "i was"},
		Problem: []string{
			"problem", "issue", "help", "stuck", "error", "broken", "fix", "bug", "crash", "fails",
			"failing", "trouble", "not working", "doesn't work", "wrong",
		},
		Creative: []string{
			"create", "design", "brainstorm", "idea", "ideas", "imagine", "story", "poem", "invent",
			"compose", "draw", "creative", "write a",
		},
		Learning: []string{
			"learn", "learning", "teach", "explain", "understand", "tutorial", "study", "lesson",
			"concept", "how does", "how do", "what is",
		},
		LearningTriggers: []string{"learn", "learning", "explain", "about", "teach", "understand", "study"},
		Emotional: []string{
			"feel", "feeling", "felt", "sad", "happy", "worried", "excited", "anxious", "lonely",
			"scared", "afraid", "angry", "upset", "depressed", "stressed", "hurt", "cry", "overwhelmed",
			"frustrated",
		},
		Technical: []string{
			"code", "api", "database", "server", "algorithm", "compile", "compiler", "deploy", "docker",
			"kubernetes", "python", "golang", "javascript", "sql", "query", "memory", "thread", "segfault",
			"segmentation", "stack", "exception", "variable", "framework", "library", "http", "json",
			"regex", "git", "linux", "cpu", "latency", "cache", "allocator", "runtime", "debug", "syntax",
			"repository", "backend", "frontend", "function", "pointer",
		},
		Casual:   []string{"hey", "hi", "hello", "lol", "haha", "yeah", "yep", "cool", "gonna", "wanna", "sup", "btw", "dude", "nah", "ok", "okay"},
		Formal:   []string{"please", "kindly", "regards", "sincerely", "would you", "could you", "furthermore", "therefore", "however", "dear", "appreciate"},
		Humor:    []string{"lol", "haha", "hahaha", "lmao", "rofl", "joke", "funny", "jk", "😂", "🤣"},
		Positive: []string{"good", "great", "awesome", "happy", "love", "excellent", "wonderful", "thanks", "thank", "nice", "amazing", "glad", "perfect"},
		Negative: []string{"bad", "terrible", "sad", "hate", "awful", "angry", "upset", "worse", "worst", "horrible", "disappointed", "annoyed", "frustrated"},
		Urgency:  []string{"urgent", "asap", "immediately", "now", "quickly", "emergency", "hurry", "right away", "critical", "deadline"},
		Metaphor: []string{"like a", "as if", "as though", "imagine", "what if", "picture this", "metaphor"},
		CodeMarkers: []string{
			"```", "def ", "func ", "function ", "#include", "console.log", "=>", "();", "</",
		},
	}
}

// Validate rejects configurations that would break the tracker's invariants.
func (c Config) Validate() error {
	unit := map[string]float64{
		"emotional_intensity_threshold":  c.EmotionalIntensityThreshold,
		"technical_complexity_threshold": c.TechnicalComplexityThreshold,
		"deep_analysis_complexity":       c.DeepAnalysisComplexity,
		"decay_momentum_below":           c.DecayMomentumBelow,
		"decay_engagement_below":         c.DecayEngagementBelow,
		"engagement_smoothing":           c.EngagementSmoothing,
		"engagement_baseline":            c.EngagementBaseline,
		"engagement_reversion":           c.EngagementReversion,
		"metrics_smoothing":              c.MetricsSmoothing,
		"momentum_base":                  c.MomentumBase,
		"momentum_engagement_weight":     c.MomentumEngagementWeight,
		"momentum_context_cap":           c.MomentumContextCap,
		"recency_bonus":                  c.RecencyBonus,
		"context_deep_complexity":        c.ContextDeepComplexity,
		"learning_progress_step":         c.LearningProgressStep,
	}
	for name, v := range unit {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be within [0,1], got %v", ErrInvalidConfig, name, v)
		}
	}

	positive := map[string]int{
		"max_context_depth":     c.MaxContextDepth,
		"context_depth_step":    c.ContextDepthStep,
		"topic_thread_cap":      c.TopicThreadCap,
		"topic_dedup_window":    c.TopicDedupWindow,
		"pending_topics_cap":    c.PendingTopicsCap,
		"history_cap":           c.HistoryCap,
		"personality_window":    c.PersonalityWindow,
		"personality_threshold": c.PersonalityThreshold,
		"learning_topics_cap":   c.LearningTopicsCap,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, name, v)
		}
	}

	if c.PersonalityWindow > c.HistoryCap {
		return fmt.Errorf("%w: personality_window (%d) exceeds history_cap (%d)", ErrInvalidConfig, c.PersonalityWindow, c.HistoryCap)
	}
	if c.PersonalityMinTurns < 0 || c.DeepAnalysisMinWords < 0 || c.ContextDeepWords < 0 || c.ContextShallowWords < 0 {
		return fmt.Errorf("%w: word and turn thresholds must not be negative", ErrInvalidConfig)
	}
	if c.DecayAfter < 0 || c.RecencyFullWindow < 0 || c.RecencyDecayWindow < 0 || c.IdleTTL < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	if !c.DefaultPersonality.IsValid() {
		return fmt.Errorf("%w: unknown default_personality %q", ErrInvalidConfig, c.DefaultPersonality)
	}
	if len(c.Lexicon.Emergency) == 0 {
		return fmt.Errorf("%w: emergency lexicon must not be empty", ErrInvalidConfig)
	}
	return nil
}
