package flow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/ConvoFlow/internal/models"
	"github.com/BTreeMap/ConvoFlow/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: testNow} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	st, err := NewStore(append([]Option{WithClock(clock.Now)}, opts...)...)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return st, clock
}

func process(t *testing.T, st *Store, user, msg string) models.FlowUpdateResult {
	t.Helper()
	res, err := st.Process(context.Background(), user, msg, nil, nil)
	if err != nil {
		t.Fatalf("Process(%q, %q): %v", user, msg, err)
	}
	return res
}

// seed places a flow for user in the given state.
func seed(t *testing.T, st *Store, user string, state models.ConversationState) {
	t.Helper()
	f := st.NewFlow(user)
	f.CurrentState = state
	if ok, err := st.Restore(f); err != nil || !ok {
		t.Fatalf("Restore: ok=%v err=%v", ok, err)
	}
}

func TestNewStore_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EngagementSmoothing = 1.5
	if _, err := NewStore(WithConfig(cfg)); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestProcess_EmptyUserID(t *testing.T) {
	st, _ := newTestStore(t)
	if _, err := st.Process(context.Background(), "", "hi", nil, nil); !errors.Is(err, ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
}

func TestProcess_FirstContact(t *testing.T) {
	st, _ := newTestStore(t)
	res := process(t, st, "alice", "Hello!")
	if res.SessionID == "" || res.UserID != "alice" {
		t.Errorf("unexpected identity: %+v", res)
	}
	if res.CurrentState != models.StateCasualChat || res.PreviousState != models.StateGreeting || !res.Transitioned {
		t.Errorf("expected greeting -> casual chat, got %s -> %s", res.PreviousState, res.CurrentState)
	}
	if res.Metrics.TotalMessages != 1 || res.Metrics.Transitions != 1 {
		t.Errorf("unexpected metrics: %+v", res.Metrics)
	}
	if res.ResponseGuide == "" {
		t.Error("expected a response guide")
	}
	if res.Degraded {
		t.Errorf("unexpected degraded result: %v", res.DegradedReasons)
	}
}

func TestProcess_EmergencyShortCircuit(t *testing.T) {
	st, _ := newTestStore(t)
	seed(t, st, "bob", models.StateCasualChat)

	res := process(t, st, "bob", "I want to kill myself")
	if res.CurrentState != models.StateEmergencySupport || !res.Emergency {
		t.Fatalf("expected emergency support, got %s", res.CurrentState)
	}
	if res.ResponseStrategy.EmotionalSupportLevel != "maximum" {
		t.Errorf("expected maximum support, got %q", res.ResponseStrategy.EmotionalSupportLevel)
	}
	want := []string{ActionProvideCrisisResources, ActionEscalateToHuman, ActionMaintainSupportivePresence}
	if !slices.Equal(res.RecommendedActions, want) {
		t.Errorf("expected crisis actions %v, got %v", want, res.RecommendedActions)
	}
	if res.Metrics.EmergencyCount != 1 || res.Metrics.TotalMessages != 1 {
		t.Errorf("unexpected metrics: %+v", res.Metrics)
	}

	next := process(t, st, "bob", "I'm still here")
	if next.CurrentState != models.StateEmotionalSupport {
		t.Errorf("expected step down to emotional support, got %s", next.CurrentState)
	}
}

func TestProcess_EmergencyFromRawContext(t *testing.T) {
	st, _ := newTestStore(t)
	raw := map[string]any{"message": "I want to end my life", "chat_id": 12345}
	res, err := st.Process(context.Background(), "carol", "[redacted]", nil, raw)
	if err != nil {
		t.Fatal(err)
	}
	if res.CurrentState != models.StateEmergencySupport {
		t.Errorf("expected raw message text to trigger emergency, got %s", res.CurrentState)
	}
}

func TestProcess_WrapUpFromProblemSolving(t *testing.T) {
	st, _ := newTestStore(t)
	seed(t, st, "dave", models.StateProblemSolving)
	res := process(t, st, "dave", "thanks, bye!")
	if res.CurrentState != models.StateWrappingUp {
		t.Errorf("expected wrapping up, got %s", res.CurrentState)
	}
	if !slices.Contains(res.RecommendedActions, ActionSummarizeConversation) {
		t.Errorf("expected summarize action, got %v", res.RecommendedActions)
	}
}

func TestProcess_ShortReplyAfterDeepExchange(t *testing.T) {
	long := "my database migration keeps failing with a constraint error whenever the scheduler " +
		"restarts the worker pool during deployment and I cannot figure out which transaction " +
		"holds the lock or why the retry logic does not recover cleanly afterwards"
	tests := []struct {
		name  string
		reply string
	}{
		{"plain words", "ok fine then"},
		{"long words", "Interesting architectural considerations"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, _ := newTestStore(t)
			user := fmt.Sprintf("erin-%d", i)
			seed(t, st, user, models.StateProblemSolving)
			var before models.FlowUpdateResult
			for j := 0; j < 5; j++ {
				before = process(t, st, user, long)
			}
			if before.ContextDepth != 5 {
				t.Fatalf("expected depth 5 after five deep messages, got %d", before.ContextDepth)
			}

			after := process(t, st, user, tt.reply)
			if want := before.ContextDepth - DefaultConfig().ContextDepthStep; after.ContextDepth != want {
				t.Errorf("expected depth %d, got %d", want, after.ContextDepth)
			}
			if after.EngagementLevel >= before.EngagementLevel {
				t.Errorf("expected engagement to drop: %v -> %v", before.EngagementLevel, after.EngagementLevel)
			}
		})
	}
}

func TestProcess_Degraded(t *testing.T) {
	st, _ := newTestStore(t)
	tests := []struct {
		name   string
		msg    string
		emo    *models.EmotionData
		reason string
	}{
		{"empty message", "", nil, DegradedEmptyMessage},
		{"nan intensity", "hi there", &models.EmotionData{PrimaryEmotion: "joy", Intensity: math.NaN()}, models.DegradedEmotionIntensity},
		{"intensity above one", "hi there", &models.EmotionData{PrimaryEmotion: "joy", Intensity: 4}, models.DegradedEmotionIntensity},
		{"missing label", "hi there", &models.EmotionData{Intensity: 0.4}, models.DegradedEmotionMissingPrimary},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := st.Process(context.Background(), fmt.Sprintf("deg-%d", i), tt.msg, tt.emo, nil)
			if err != nil {
				t.Fatalf("degraded input must not fail: %v", err)
			}
			if !res.Degraded || !slices.Contains(res.DegradedReasons, tt.reason) {
				t.Errorf("expected degraded reason %q, got %v", tt.reason, res.DegradedReasons)
			}
			if res.EngagementLevel < 0 || res.EngagementLevel > 1 || math.IsNaN(res.EngagementLevel) {
				t.Errorf("engagement out of range: %v", res.EngagementLevel)
			}
		})
	}
}

func TestProcess_RepairedEmotionKeepsSignal(t *testing.T) {
	st, _ := newTestStore(t)
	emo := &models.EmotionData{PrimaryEmotion: "Sadness", Intensity: 0.9, Confidence: 1.5}
	res, err := st.Process(context.Background(), "gail", "I feel awful today", emo, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Degraded || !slices.Contains(res.DegradedReasons, models.DegradedEmotionConfidence) {
		t.Errorf("expected confidence repair to be reported, got %v", res.DegradedReasons)
	}
	if res.CurrentState != models.StateEmotionalSupport {
		t.Errorf("clamped emotion should still signal distress, got %s", res.CurrentState)
	}
}

func TestProcess_MetricsAverages(t *testing.T) {
	st, _ := newTestStore(t)
	first := process(t, st, "fay", "kubernetes deployment segmentation allocator exception")
	if first.Metrics.AvgEngagement != first.EngagementLevel {
		t.Errorf("first message must seed the average: %v vs %v", first.Metrics.AvgEngagement, first.EngagementLevel)
	}
	second := process(t, st, "fay", "ok")
	want := 0.7*first.Metrics.AvgEngagement + 0.3*second.EngagementLevel
	if math.Abs(second.Metrics.AvgEngagement-want) > 1e-9 {
		t.Errorf("expected EMA %v, got %v", want, second.Metrics.AvgEngagement)
	}
}

func TestProcess_LearningProgress(t *testing.T) {
	st, _ := newTestStore(t)
	process(t, st, "gus", "can you explain recursion to me")
	flow, ok := st.Export("gus")
	if !ok {
		t.Fatal("expected flow")
	}
	if math.Abs(flow.Metrics.LearningProgress-0.05) > 1e-9 {
		t.Errorf("expected learning progress 0.05, got %v", flow.Metrics.LearningProgress)
	}
	if !slices.Contains(flow.LearningTopics.Items(), "recursion") {
		t.Errorf("expected recursion in learning topics, got %v", flow.LearningTopics.Items())
	}
}

func TestProcess_InvariantsUnderRandomTraffic(t *testing.T) {
	st, clock := newTestStore(t)
	rng := rand.New(rand.NewSource(2024))
	corpus := []string{
		"Hello!", "thanks, bye!", "I have a bug in my code", "let's brainstorm ideas", "explain recursion",
		"I feel sad and lonely", "lol that's funny", "Could you kindly review this?", "ok", "",
		"why does the database query time out?", "URGENT!!! fix it now", "hey", "I want to die",
	}
	prev := map[string]models.ConversationState{}
	for i := 0; i < 2000; i++ {
		user := fmt.Sprintf("user-%d", rng.Intn(5))
		clock.Advance(time.Duration(rng.Intn(600)) * time.Second)
		emo := &models.EmotionData{PrimaryEmotion: "sadness", Intensity: rng.Float64()}
		res, err := st.Process(context.Background(), user, corpus[rng.Intn(len(corpus))], emo, nil)
		if err != nil {
			t.Fatal(err)
		}
		for name, v := range map[string]float64{"engagement": res.EngagementLevel, "momentum": res.FlowMomentum} {
			if v < 0 || v > 1 {
				t.Fatalf("%s out of range: %v", name, v)
			}
		}
		if from, ok := prev[user]; ok && !models.IsValidTransition(from, res.CurrentState) {
			t.Fatalf("illegal transition %s -> %s", from, res.CurrentState)
		}
		if res.ContextDepth < 0 || res.ContextDepth > DefaultConfig().MaxContextDepth {
			t.Fatalf("context depth out of range: %d", res.ContextDepth)
		}
		prev[user] = res.CurrentState
	}
}

func TestStore_ConcurrentUsers(t *testing.T) {
	st, _ := newTestStore(t)
	const users, perUser = 16, 40

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for m := 0; m < perUser; m++ {
			wg.Add(1)
			go func(u, m int) {
				defer wg.Done()
				msg := []string{"hello", "I have a problem", "explain closures", "thanks"}[m%4]
				if _, err := st.Process(context.Background(), fmt.Sprintf("u%d", u), msg, nil, nil); err != nil {
					t.Error(err)
				}
			}(u, m)
		}
	}
	wg.Wait()

	if st.Len() != users {
		t.Fatalf("expected %d flows, got %d", users, st.Len())
	}
	for u := 0; u < users; u++ {
		flow, _ := st.Export(fmt.Sprintf("u%d", u))
		if flow.Metrics.TotalMessages != perUser || flow.Revision != perUser {
			t.Errorf("u%d: expected %d messages, got %d (revision %d)", u, perUser, flow.Metrics.TotalMessages, flow.Revision)
		}
	}
}

func TestStore_ExportIsDeepCopy(t *testing.T) {
	st, _ := newTestStore(t)
	process(t, st, "hal", "I have a problem with my code")

	exported, ok := st.Export("hal")
	if !ok {
		t.Fatal("expected flow")
	}
	before := exported.TopicThread.Len()
	exported.TopicThread.Push("tampered")
	exported.UserPreferences["x"] = "y"
	exported.CurrentState = models.StateIdle

	again, _ := st.Export("hal")
	if again.TopicThread.Len() != before || again.UserPreferences["x"] != "" || again.CurrentState == models.StateIdle {
		t.Error("mutating an export changed the live flow")
	}
	if _, ok := st.Export("nobody"); ok {
		t.Error("expected no flow for unknown user")
	}
}

func TestStore_Reset(t *testing.T) {
	st, _ := newTestStore(t)
	first := process(t, st, "ivy", "I have a problem")
	if err := st.Reset("ivy"); err != nil {
		t.Fatal(err)
	}
	flow, _ := st.Export("ivy")
	if flow.SessionID == first.SessionID {
		t.Error("expected a new session id")
	}
	if flow.CurrentState != models.StateGreeting || flow.Metrics.TotalMessages != 0 {
		t.Errorf("expected fresh flow, got %s with %d messages", flow.CurrentState, flow.Metrics.TotalMessages)
	}
	if flow.Revision <= first.Revision {
		t.Errorf("revision must keep increasing across a reset: %d -> %d", first.Revision, flow.Revision)
	}
	if err := st.Reset(""); !errors.Is(err, ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
}

func TestStore_ResetThenSaveSupersedesSnapshot(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	repo := store.NewInMemoryStore()
	p := NewPersister(st, repo)
	for _, msg := range []string{"Hello!", "I have a bug in my code"} {
		if _, err := p.Process(ctx, "kim", msg, nil, nil); err != nil {
			t.Fatal(err)
		}
	}

	// A live-only reset leaves the old snapshot in the repository.
	if err := st.Reset("kim"); err != nil {
		t.Fatal(err)
	}
	res, err := p.Process(ctx, "kim", "hey there", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := repo.LoadFlow(ctx, "kim")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Revision != res.Revision || snap.Metrics.TotalMessages != 1 {
		t.Errorf("post-reset save was dropped: snapshot revision %d messages %d, live revision %d",
			snap.Revision, snap.Metrics.TotalMessages, res.Revision)
	}
}

func TestStore_Restore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopicThreadCap = 3
	st, _ := newTestStore(t, WithConfig(cfg))

	other, _ := newTestStore(t)
	snap := other.NewFlow("jay")
	for _, tag := range []string{"a", "b", "c", "d", "e"} {
		snap.TopicThread.Push(tag)
	}
	ok, err := st.Restore(snap)
	if err != nil || !ok {
		t.Fatalf("Restore: ok=%v err=%v", ok, err)
	}
	flow, _ := st.Export("jay")
	if got := flow.TopicThread.Items(); !slices.Equal(got, []string{"c", "d", "e"}) {
		t.Errorf("expected ring resized to newest 3, got %v", got)
	}
	if snap.TopicThread.Len() != 5 {
		t.Error("restore must not modify the caller's snapshot")
	}

	if ok, _ := st.Restore(snap); ok {
		t.Error("restore must not overwrite a live flow")
	}
	bad := other.NewFlow("kim")
	bad.CurrentState = "nonsense"
	if _, err := st.Restore(bad); err == nil {
		t.Error("expected error for unknown state")
	}
}

func TestStore_Summary(t *testing.T) {
	st, clock := newTestStore(t)
	if _, ok := st.Summary("nobody"); ok {
		t.Error("expected no summary for unknown user")
	}
	process(t, st, "lee", "I have a problem with my database")
	clock.Advance(90 * time.Second)
	sum, ok := st.Summary("lee")
	if !ok {
		t.Fatal("expected summary")
	}
	if sum.ConversationDuration != 90*time.Second {
		t.Errorf("expected 90s duration, got %v", sum.ConversationDuration)
	}
	if len(sum.ActiveTopics) == 0 {
		t.Error("expected active topics")
	}
}

func TestFlowHealth(t *testing.T) {
	tests := []struct {
		eng, mom float64
		want     string
	}{
		{0.8, 0.7, models.FlowHealthExcellent},
		{0.8, 0.5, models.FlowHealthGood},
		{0.6, 0.45, models.FlowHealthGood},
		{0.4, 0.1, models.FlowHealthModerate},
		{0.1, 0.35, models.FlowHealthModerate},
		{0.2, 0.2, models.FlowHealthNeedsAttention},
	}
	for _, tt := range tests {
		if got := flowHealth(tt.eng, tt.mom); got != tt.want {
			t.Errorf("flowHealth(%v, %v) = %s, want %s", tt.eng, tt.mom, got, tt.want)
		}
	}
}

func TestStore_EvictIdle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTTL = time.Hour
	st, clock := newTestStore(t, WithConfig(cfg))

	process(t, st, "old", "hello")
	clock.Advance(50 * time.Minute)
	process(t, st, "new", "hello")
	clock.Advance(20 * time.Minute)

	evicted := st.EvictIdle(clock.Now())
	if !slices.Equal(evicted, []string{"old"}) {
		t.Errorf("expected only old evicted, got %v", evicted)
	}
	if st.Has("old") || !st.Has("new") {
		t.Error("unexpected store contents after eviction")
	}

	res := process(t, st, "old", "hello again")
	if res.Metrics.TotalMessages != 1 {
		t.Errorf("evicted user should start fresh, got %d messages", res.Metrics.TotalMessages)
	}

	disabled, _ := newTestStore(t)
	process(t, disabled, "x", "hi")
	if got := disabled.EvictIdle(clock.Now().Add(1000 * time.Hour)); got != nil {
		t.Errorf("eviction disabled by default, got %v", got)
	}
}
