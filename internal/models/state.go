// Package models defines the per-user conversation flow record.
package models

import (
	"maps"
	"time"

	"github.com/BTreeMap/ConvoFlow/internal/ringbuf"
)

// Turn is the per-message residue kept in the bounded conversation history.
// It holds marker flags only, never raw message text.
type Turn struct {
	At         time.Time         `json:"at"`
	State      ConversationState `json:"state"`
	WordCount  int               `json:"word_count"`
	Complexity float64           `json:"complexity"`
	Technical  bool              `json:"technical,omitempty"`
	Creative   bool              `json:"creative,omitempty"`
	Emotional  bool              `json:"emotional,omitempty"`
	Casual     bool              `json:"casual,omitempty"`
	Formal     bool              `json:"formal,omitempty"`
	Humorous   bool              `json:"humorous,omitempty"`
}

// FlowMetrics are aggregate counters and smoothed averages for a flow.
type FlowMetrics struct {
	TotalMessages         int     `json:"total_messages"`
	Transitions           int     `json:"transitions"`
	EmergencyCount        int     `json:"emergency_count"`
	AvgEngagement         float64 `json:"avg_engagement"`
	AvgComplexity         float64 `json:"avg_complexity"`
	AvgEmotionalIntensity float64 `json:"avg_emotional_intensity"`
	TopicDiversity        int     `json:"topic_diversity"`
	LearningProgress      float64 `json:"learning_progress"`
}

// ConversationFlow is the mutable per-user record tracking conversational
// state and scores. Bounded sequences are ring buffers; the owner is
// responsible for sizing them.
type ConversationFlow struct {
	UserID              string                `json:"user_id"`
	SessionID           string                `json:"session_id"`
	CurrentState        ConversationState     `json:"current_state"`
	PreviousState       ConversationState     `json:"previous_state"`
	ContextDepth        int                   `json:"context_depth"`
	TopicThread         *ringbuf.Ring[string] `json:"topic_thread"`
	EngagementLevel     float64               `json:"engagement_level"`
	FlowMomentum        float64               `json:"flow_momentum"`
	LastTransition      time.Time             `json:"last_transition"`
	PendingTopics       *ringbuf.Ring[string] `json:"pending_topics"`
	PersonalityMode     PersonalityMode       `json:"personality_mode"`
	Metrics             FlowMetrics           `json:"metrics"`
	ConversationHistory *ringbuf.Ring[Turn]   `json:"conversation_history"`
	LearningTopics      *ringbuf.Ring[string] `json:"learning_topics"`
	UserPreferences     map[string]string     `json:"user_preferences,omitempty"`
	CreatedAt           time.Time             `json:"created_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
	Revision            int64                 `json:"revision"`
}

// Clone returns a deep copy that shares no mutable state with f.
func (f *ConversationFlow) Clone() *ConversationFlow {
	if f == nil {
		return nil
	}
	c := *f
	c.TopicThread = cloneRing(f.TopicThread)
	c.PendingTopics = cloneRing(f.PendingTopics)
	c.ConversationHistory = cloneRing(f.ConversationHistory)
	c.LearningTopics = cloneRing(f.LearningTopics)
	c.UserPreferences = maps.Clone(f.UserPreferences)
	return &c
}

func cloneRing[T any](r *ringbuf.Ring[T]) *ringbuf.Ring[T] {
	if r == nil {
		return nil
	}
	return r.Clone()
}
