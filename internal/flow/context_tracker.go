package flow

import (
	"slices"

	"github.com/BTreeMap/ConvoFlow/internal/models"
)

// Topic tags recorded in a flow's topic thread.
const (
	TopicProblemSolving = "problem_solving"
	TopicCreativity     = "creativity"
	TopicLearning       = "learning"
	TopicProgramming    = "programming"
	TopicTechnical      = "technical"
	TopicEmotional      = "emotional"
)

// topicStates maps a topic tag to the state that serves it.
var topicStates = map[string]models.ConversationState{
	TopicProblemSolving: models.StateProblemSolving,
	TopicCreativity:     models.StateCreativeCollaboration,
	TopicLearning:       models.StateLearningSession,
	TopicProgramming:    models.StateTechnicalDiscussion,
	TopicTechnical:      models.StateTechnicalDiscussion,
	TopicEmotional:      models.StateEmotionalSupport,
}

// ContextTracker maintains context depth, the topic thread and the pending
// topic queue.
type ContextTracker struct {
	maxDepth       int
	step           int
	deepComplexity float64
	deepWords      int
	shallowWords   int
	dedupWindow    int
}

// NewContextTracker creates a tracker from cfg.
func NewContextTracker(cfg Config) *ContextTracker {
	return &ContextTracker{
		maxDepth:       cfg.MaxContextDepth,
		step:           cfg.ContextDepthStep,
		deepComplexity: cfg.ContextDeepComplexity,
		deepWords:      cfg.ContextDeepWords,
		shallowWords:   cfg.ContextShallowWords,
		dedupWindow:    cfg.TopicDedupWindow,
	}
}

// Update applies one message to flow's context fields. It must run after
// the transition decision so pending topics are judged against the new
// current state.
func (c *ContextTracker) Update(flow *models.ConversationFlow, f models.MessageFeatures) {
	flow.ContextDepth = c.nextDepth(flow.ContextDepth, f)

	for _, tag := range TopicTags(f) {
		recent := flow.TopicThread.Last(c.dedupWindow)
		if !slices.Contains(recent, tag) {
			flow.TopicThread.Push(tag)
		}
		if topicStates[tag] != flow.CurrentState && !slices.Contains(flow.PendingTopics.Items(), tag) {
			flow.PendingTopics.Push(tag)
		}
	}

	flow.PendingTopics.RemoveFunc(func(tag string) bool {
		return topicStates[tag] == flow.CurrentState
	})

	flow.Metrics.TopicDiversity = distinct(flow.TopicThread.Items())
}

func (c *ContextTracker) nextDepth(depth int, f models.MessageFeatures) int {
	switch {
	case f.WordCount < c.shallowWords:
		depth -= c.step
	case f.ComplexityScore > c.deepComplexity || f.WordCount > c.deepWords:
		depth += c.step
	}
	return max(0, min(depth, c.maxDepth))
}

// TopicTags returns the topic tags a message carries, in a fixed order.
func TopicTags(f models.MessageFeatures) []string {
	var tags []string
	if f.HasProblem {
		tags = append(tags, TopicProblemSolving)
	}
	if f.HasCreativeRequest {
		tags = append(tags, TopicCreativity)
	}
	if f.HasLearningIntent {
		tags = append(tags, TopicLearning)
	}
	if f.HasCode {
		tags = append(tags, TopicProgramming)
	}
	if f.HasTechnicalContent {
		tags = append(tags, TopicTechnical)
	}
	if f.HasEmotionalContent {
		tags = append(tags, TopicEmotional)
	}
	return tags
}

func distinct(items []string) int {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		seen[it] = struct{}{}
	}
	return len(seen)
}
