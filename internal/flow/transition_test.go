package flow

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/ConvoFlow/internal/models"
)

var testNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func flowIn(state models.ConversationState) *models.ConversationFlow {
	return &models.ConversationFlow{
		UserID:          "u1",
		CurrentState:    state,
		PreviousState:   models.StateIdle,
		EngagementLevel: 0.5,
		FlowMomentum:    0.5,
		LastTransition:  testNow,
		PersonalityMode: models.PersonalityCasual,
	}
}

func decide(p *TransitionPolicy, flow *models.ConversationFlow, text string, emo models.EmotionData) Decision {
	f := NewFeatureExtractor(DefaultLexicon()).Extract(text)
	return p.Decide(flow, f, emo, text, testNow)
}

func TestTransitionTable_Exhaustive(t *testing.T) {
	for _, s := range models.AllStates {
		for _, r := range rulesFor(s) {
			if !models.IsValidTransition(s, r.to) {
				t.Errorf("%s rule %q targets disallowed state %s", s, r.name, r.to)
			}
		}
	}
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown state")
		}
	}()
	rulesFor(models.ConversationState("bogus"))
}

func TestDecide_Hello(t *testing.T) {
	p := NewTransitionPolicy(DefaultConfig())
	d := decide(p, flowIn(models.StateGreeting), "Hello!", models.NeutralEmotion())
	if d.Next == models.StateWrappingUp || d.Next == models.StateEmergencySupport {
		t.Fatalf("greeting moved to %s", d.Next)
	}
	if d.Next != models.StateCasualChat {
		t.Errorf("expected casual chat, got %s (%s/%s)", d.Next, d.Rule, d.Detail)
	}
}

func TestDecide_EmergencyOverridesEverything(t *testing.T) {
	p := NewTransitionPolicy(DefaultConfig())
	for _, s := range models.AllStates {
		d := decide(p, flowIn(s), "I want to kill myself", models.EmotionData{PrimaryEmotion: "sadness", Intensity: 0.95})
		if d.Next != models.StateEmergencySupport || d.Rule != RuleEmergency {
			t.Errorf("from %s: expected emergency, got %s (%s)", s, d.Next, d.Rule)
		}
	}
}

func TestDecide_WrapUpFromProblemSolving(t *testing.T) {
	p := NewTransitionPolicy(DefaultConfig())
	d := decide(p, flowIn(models.StateProblemSolving), "thanks, bye!", models.NeutralEmotion())
	if d.Next != models.StateWrappingUp || d.Rule != RuleWrapUp {
		t.Errorf("expected wrap-up, got %s (%s)", d.Next, d.Rule)
	}
}

func TestDecide_WrapUpWithQuestion(t *testing.T) {
	p := NewTransitionPolicy(DefaultConfig())
	for _, msg := range []string{"thanks, bye?", "Thanks so much! See you tomorrow?", "thanks! how do I reset it?"} {
		d := decide(p, flowIn(models.StateProblemSolving), msg, models.NeutralEmotion())
		if d.Next != models.StateWrappingUp || d.Rule != RuleWrapUp {
			t.Errorf("%q: expected wrapping_up via %s, got %s via %s", msg, RuleWrapUp, d.Next, d.Rule)
		}
	}
}

func TestDecide_WrappingUpToIdle(t *testing.T) {
	p := NewTransitionPolicy(DefaultConfig())
	d := decide(p, flowIn(models.StateWrappingUp), "bye", models.NeutralEmotion())
	if d.Next != models.StateIdle {
		t.Errorf("expected idle, got %s", d.Next)
	}
}

func TestDecide_Distress(t *testing.T) {
	p := NewTransitionPolicy(DefaultConfig())
	tests := []struct {
		name string
		from models.ConversationState
		emo  models.EmotionData
		want models.ConversationState
	}{
		{"intense sadness", models.StateActive, models.EmotionData{PrimaryEmotion: "sadness", Intensity: 0.9}, models.StateEmotionalSupport},
		{"label case insensitive", models.StateActive, models.EmotionData{PrimaryEmotion: "Fear", Intensity: 0.8}, models.StateEmotionalSupport},
		{"threshold is strict", models.StateActive, models.EmotionData{PrimaryEmotion: "anger", Intensity: 0.7}, models.StateActive},
		{"non-distress emotion", models.StateActive, models.EmotionData{PrimaryEmotion: "joy", Intensity: 0.99}, models.StateActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := decide(p, flowIn(tt.from), "the weather is mild today", tt.emo)
			if d.Next != tt.want {
				t.Errorf("expected %s, got %s (%s)", tt.want, d.Next, d.Rule)
			}
		})
	}
}

func TestDecide_DistressOutsideSuccessorsFallsThrough(t *testing.T) {
	p := NewTransitionPolicy(DefaultConfig())
	d := decide(p, flowIn(models.StateCreativeCollaboration), "the weather is mild today",
		models.EmotionData{PrimaryEmotion: "sadness", Intensity: 0.9})
	if d.Next == models.StateEmotionalSupport {
		t.Fatal("creative collaboration cannot move to emotional support directly")
	}
	if !models.IsValidTransition(models.StateCreativeCollaboration, d.Next) {
		t.Errorf("illegal transition to %s", d.Next)
	}
}

func TestDecide_Decay(t *testing.T) {
	p := NewTransitionPolicy(DefaultConfig())
	flow := flowIn(models.StateActive)
	flow.FlowMomentum = 0.1
	flow.EngagementLevel = 0.2
	flow.LastTransition = testNow.Add(-10 * time.Minute)
	d := decide(p, flow, "ok", models.NeutralEmotion())
	if d.Next != models.StateWrappingUp || d.Rule != RuleDecay {
		t.Errorf("expected decay to wrapping up, got %s (%s)", d.Next, d.Rule)
	}

	flow.LastTransition = testNow.Add(-time.Minute)
	if d := decide(p, flow, "ok", models.NeutralEmotion()); d.Rule == RuleDecay {
		t.Error("decay must wait for the configured interval")
	}
}

func TestDecide_Technical(t *testing.T) {
	p := NewTransitionPolicy(DefaultConfig())
	d := decide(p, flowIn(models.StateActive), "kubernetes deployment segmentation allocator exception", models.NeutralEmotion())
	if d.Next != models.StateTechnicalDiscussion || d.Rule != RuleTechnical {
		t.Errorf("expected technical discussion, got %s (%s)", d.Next, d.Rule)
	}
}

func TestDecide_DeepAnalysis(t *testing.T) {
	p := NewTransitionPolicy(DefaultConfig())
	text := strings.Repeat("extraordinarily comprehensive philosophical considerations regarding epistemological uncertainty ", 8)
	d := decide(p, flowIn(models.StateActive), text, models.NeutralEmotion())
	if d.Next != models.StateDeepAnalysis || d.Rule != RuleDeepAnalysis {
		t.Errorf("expected deep analysis, got %s (%s)", d.Next, d.Rule)
	}
}

func TestDecide_TableRules(t *testing.T) {
	p := NewTransitionPolicy(DefaultConfig())
	tests := []struct {
		from models.ConversationState
		text string
		want models.ConversationState
	}{
		{models.StateActive, "I have a problem with my printer", models.StateProblemSolving},
		{models.StateActive, "let's brainstorm a story", models.StateCreativeCollaboration},
		{models.StateActive, "where should I travel this summer?", models.StateQuestionAnswering},
		{models.StateQuestionAnswering, "I see, that sounds reasonable enough", models.StateActive},
		{models.StateCasualChat, "can you help me fix my bike?", models.StateActive},
		{models.StateEmotionalSupport, "I still feel so lonely", models.StateEmotionalSupport},
		{models.StateEmergencySupport, "I'm here", models.StateEmotionalSupport},
		{models.StateIdle, "hey there", models.StateGreeting},
		{models.StateIdle, "random words", models.StateActive},
		{models.StateProblemSolving, "the printer jams on every page", models.StateProblemSolving},
	}
	for _, tt := range tests {
		d := decide(p, flowIn(tt.from), tt.text, models.NeutralEmotion())
		if d.Next != tt.want {
			t.Errorf("%s + %q: expected %s, got %s (%s/%s)", tt.from, tt.text, tt.want, d.Next, d.Rule, d.Detail)
		}
	}
}

func TestDecide_AlwaysLegal(t *testing.T) {
	p := NewTransitionPolicy(DefaultConfig())
	rng := rand.New(rand.NewSource(99))
	corpus := []string{
		"Hello!", "thanks, bye!", "I want to kill myself", "I have a bug in my code",
		"let's brainstorm ideas", "explain recursion to me", "I feel sad and lonely",
		"lol that's funny", "Could you kindly review this?", "ok", "",
		"kubernetes deployment segmentation allocator exception",
		strings.Repeat("extraordinarily comprehensive philosophical considerations ", 15),
		"why does the database query time out?", "URGENT!!! fix it now",
	}
	emotions := []string{"neutral", "joy", "sadness", "anger", "fear", "anxiety", ""}
	for i := 0; i < 3000; i++ {
		from := models.AllStates[rng.Intn(len(models.AllStates))]
		flow := flowIn(from)
		flow.FlowMomentum = rng.Float64()
		flow.EngagementLevel = rng.Float64()
		flow.LastTransition = testNow.Add(-time.Duration(rng.Intn(1200)) * time.Second)
		text := corpus[rng.Intn(len(corpus))]
		emo := models.EmotionData{PrimaryEmotion: emotions[rng.Intn(len(emotions))], Intensity: rng.Float64()}
		d := decide(p, flow, text, emo)
		if !models.IsValidTransition(from, d.Next) {
			t.Fatalf("illegal transition %s -> %s for %q (%s/%s)", from, d.Next, text, d.Rule, d.Detail)
		}
	}
}
