package models

import (
	"slices"
	"time"
)

// ResponseStrategy is a declarative description of how the downstream
// generator should shape its reply.
type ResponseStrategy struct {
	Tone                    string   `json:"tone"`
	DetailLevel             string   `json:"detail_level"`
	InteractionStyle        string   `json:"interaction_style"`
	FollowUpSuggestions     []string `json:"follow_up_suggestions"`
	TransitionHints         []string `json:"transition_hints"`
	TechnicalLevel          string   `json:"technical_level"`
	EmotionalSupportLevel   string   `json:"emotional_support_level"`
	PreferredResponseLength string   `json:"preferred_response_length"`
}

// FlowUpdateResult is the snapshot returned after processing one message.
type FlowUpdateResult struct {
	UserID             string            `json:"user_id"`
	SessionID          string            `json:"session_id"`
	CurrentState       ConversationState `json:"current_state"`
	PreviousState      ConversationState `json:"previous_state"`
	Transitioned       bool              `json:"transitioned"`
	Emergency          bool              `json:"emergency"`
	EngagementLevel    float64           `json:"engagement_level"`
	FlowMomentum       float64           `json:"flow_momentum"`
	ContextDepth       int               `json:"context_depth"`
	PersonalityMode    PersonalityMode   `json:"personality_mode"`
	ResponseStrategy   ResponseStrategy  `json:"response_strategy"`
	ResponseGuide      string            `json:"response_guide,omitempty"`
	TopicThread        []string          `json:"topic_thread"`
	PendingTopics      []string          `json:"pending_topics"`
	Metrics            FlowMetrics       `json:"metrics"`
	RecommendedActions []string          `json:"recommended_actions"`
	Degraded           bool              `json:"degraded"`
	DegradedReasons    []string          `json:"degraded_reasons,omitempty"`
	Persisted          bool              `json:"persisted"`
	Revision           int64             `json:"revision"`
}

// AddDegraded records input repairs made outside the tracker, such as
// decoding a caller's emotion payload. Reasons already present are skipped.
func (r *FlowUpdateResult) AddDegraded(reasons ...string) {
	for _, reason := range reasons {
		if !slices.Contains(r.DegradedReasons, reason) {
			r.DegradedReasons = append(r.DegradedReasons, reason)
		}
	}
	if len(r.DegradedReasons) > 0 {
		r.Degraded = true
	}
}

// Flow health labels reported in summaries.
const (
	FlowHealthExcellent      = "excellent"
	FlowHealthGood           = "good"
	FlowHealthModerate       = "moderate"
	FlowHealthNeedsAttention = "needs_attention"
)

// FlowSummary is a compact diagnostic view of a flow.
type FlowSummary struct {
	UserID               string            `json:"user_id"`
	CurrentState         ConversationState `json:"current_state"`
	PersonalityMode      PersonalityMode   `json:"personality_mode"`
	EngagementLevel      float64           `json:"engagement_level"`
	FlowMomentum         float64           `json:"flow_momentum"`
	ContextDepth         int               `json:"context_depth"`
	ActiveTopics         []string          `json:"active_topics"`
	ConversationDuration time.Duration     `json:"conversation_duration"`
	FlowHealth           string            `json:"flow_health"`
}
