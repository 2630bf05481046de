// Package models defines flow type definitions shared by the tracker, the
// stores and the CLI without creating import cycles.
package models

import "fmt"

// ConversationState is the conversational mode a user's flow is in.
type ConversationState string

// Conversation states. The set is closed; AllStates lists every member.
const (
	StateGreeting              ConversationState = "greeting"
	StateActive                ConversationState = "active"
	StateQuestionAnswering     ConversationState = "question_answering"
	StateProblemSolving        ConversationState = "problem_solving"
	StateCreativeCollaboration ConversationState = "creative_collaboration"
	StateEmotionalSupport      ConversationState = "emotional_support"
	StateLearningSession       ConversationState = "learning_session"
	StateTechnicalDiscussion   ConversationState = "technical_discussion"
	StateCasualChat            ConversationState = "casual_chat"
	StateDeepAnalysis          ConversationState = "deep_analysis"
	StateWrappingUp            ConversationState = "wrapping_up"
	StateIdle                  ConversationState = "idle"
	StateEmergencySupport      ConversationState = "emergency_support"
)

// AllStates lists every ConversationState in declaration order.
var AllStates = []ConversationState{
	StateGreeting,
	StateActive,
	StateQuestionAnswering,
	StateProblemSolving,
	StateCreativeCollaboration,
	StateEmotionalSupport,
	StateLearningSession,
	StateTechnicalDiscussion,
	StateCasualChat,
	StateDeepAnalysis,
	StateWrappingUp,
	StateIdle,
	StateEmergencySupport,
}

// IsValid reports whether s is a member of the closed state set.
func (s ConversationState) IsValid() bool {
	switch s {
	case StateGreeting, StateActive, StateQuestionAnswering, StateProblemSolving,
		StateCreativeCollaboration, StateEmotionalSupport, StateLearningSession,
		StateTechnicalDiscussion, StateCasualChat, StateDeepAnalysis,
		StateWrappingUp, StateIdle, StateEmergencySupport:
		return true
	}
	return false
}

// PersonalityMode is a coarse interaction-style label inferred from recent turns.
type PersonalityMode string

// Personality modes.
const (
	PersonalityAnalytical   PersonalityMode = "analytical"
	PersonalityCreative     PersonalityMode = "creative"
	PersonalitySupportive   PersonalityMode = "supportive"
	PersonalityCasual       PersonalityMode = "casual"
	PersonalityProfessional PersonalityMode = "professional"
	PersonalityHumorous     PersonalityMode = "humorous"
)

// AllPersonalities lists every PersonalityMode.
var AllPersonalities = []PersonalityMode{
	PersonalityAnalytical,
	PersonalityCreative,
	PersonalitySupportive,
	PersonalityCasual,
	PersonalityProfessional,
	PersonalityHumorous,
}

// IsValid reports whether p is a member of the closed personality set.
func (p PersonalityMode) IsValid() bool {
	switch p {
	case PersonalityAnalytical, PersonalityCreative, PersonalitySupportive,
		PersonalityCasual, PersonalityProfessional, PersonalityHumorous:
		return true
	}
	return false
}

// AllowedSuccessors returns the states a flow may move to from s. The
// emergency override is reachable from every state and is not listed
// unless the graph names it explicitly.
func AllowedSuccessors(s ConversationState) []ConversationState {
	switch s {
	case StateGreeting:
		return []ConversationState{StateActive, StateQuestionAnswering, StateEmotionalSupport, StateCasualChat, StateEmergencySupport}
	case StateActive:
		return []ConversationState{StateQuestionAnswering, StateProblemSolving, StateCreativeCollaboration, StateEmotionalSupport,
			StateLearningSession, StateTechnicalDiscussion, StateCasualChat, StateDeepAnalysis, StateWrappingUp}
	case StateQuestionAnswering:
		return []ConversationState{StateActive, StateProblemSolving, StateLearningSession, StateTechnicalDiscussion,
			StateDeepAnalysis, StateEmotionalSupport, StateCasualChat, StateWrappingUp}
	case StateProblemSolving:
		return []ConversationState{StateActive, StateQuestionAnswering, StateCreativeCollaboration, StateLearningSession,
			StateTechnicalDiscussion, StateDeepAnalysis, StateEmotionalSupport, StateWrappingUp}
	case StateLearningSession:
		return []ConversationState{StateActive, StateQuestionAnswering, StateProblemSolving, StateTechnicalDiscussion,
			StateDeepAnalysis, StateEmotionalSupport, StateWrappingUp}
	case StateTechnicalDiscussion:
		return []ConversationState{StateActive, StateQuestionAnswering, StateProblemSolving, StateLearningSession,
			StateDeepAnalysis, StateEmotionalSupport, StateWrappingUp}
	case StateDeepAnalysis:
		return []ConversationState{StateActive, StateQuestionAnswering, StateProblemSolving, StateLearningSession,
			StateTechnicalDiscussion, StateEmotionalSupport, StateWrappingUp}
	case StateCreativeCollaboration:
		return []ConversationState{StateActive, StateProblemSolving, StateCasualChat, StateWrappingUp}
	case StateEmotionalSupport:
		return []ConversationState{StateActive, StateCasualChat, StateWrappingUp, StateEmergencySupport, StateIdle}
	case StateCasualChat:
		return []ConversationState{StateActive, StateCreativeCollaboration, StateEmotionalSupport, StateWrappingUp}
	case StateWrappingUp:
		return []ConversationState{StateIdle, StateActive, StateCasualChat}
	case StateIdle:
		return []ConversationState{StateGreeting, StateActive, StateCasualChat}
	case StateEmergencySupport:
		return []ConversationState{StateEmotionalSupport, StateIdle, StateWrappingUp}
	default:
		panic(fmt.Sprintf("models: unhandled conversation state %q", s))
	}
}

// IsValidTransition reports whether moving from -> to is legal: staying
// put, an allowed successor, or the emergency override.
func IsValidTransition(from, to ConversationState) bool {
	if from == to || to == StateEmergencySupport {
		return true
	}
	for _, s := range AllowedSuccessors(from) {
		if s == to {
			return true
		}
	}
	return false
}
