package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/ConvoFlow/internal/models"
	"github.com/BTreeMap/ConvoFlow/internal/ringbuf"
	"github.com/BTreeMap/ConvoFlow/internal/tone"
)

// ErrEmptyUserID is returned when a call names no user.
var ErrEmptyUserID = errors.New("user id must not be empty")

// DegradedEmptyMessage is reported when a message carries no text.
const DegradedEmptyMessage = "empty_message"

// Recommended actions reported in FlowUpdateResult.
const (
	ActionProvideCrisisResources     = "provide_crisis_resources"
	ActionEscalateToHuman            = "escalate_to_human"
	ActionMaintainSupportivePresence = "maintain_supportive_presence"
	ActionAcknowledgeFeelings        = "acknowledge_feelings"
	ActionSummarizeConversation      = "summarize_conversation"
	ActionAskFollowUpQuestion        = "ask_follow_up_question"
	ActionSuggestTopicChange         = "suggest_topic_change"
	ActionRevisitPendingTopic        = "revisit_pending_topic"
	ActionBreakDownProblem           = "break_down_problem"
	ActionCheckUnderstanding         = "check_understanding"
)

// resultTopics is how many of the newest topic tags a result carries.
const resultTopics = 5

// Opts holds configuration options for the Store.
type Opts struct {
	Config Config
	Now    func() time.Time
}

// Option defines a configuration option for the Store.
type Option func(*Opts)

// WithConfig replaces the default tracker configuration.
func WithConfig(cfg Config) Option {
	return func(o *Opts) { o.Config = cfg }
}

// WithClock sets the time source used for every timestamp and recency
// computation.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

type entry struct {
	mu      sync.Mutex
	flow    *models.ConversationFlow
	evicted bool
}

// Store owns every user's ConversationFlow and serialises access per user.
// Calls for different users proceed in parallel; calls for the same user
// are applied one at a time in lock acquisition order.
type Store struct {
	cfg Config
	now func() time.Time

	extractor   *FeatureExtractor
	emergency   *EmergencyDetector
	engagement  *EngagementScorer
	momentum    *MomentumCalculator
	personality *PersonalityClassifier
	policy      *TransitionPolicy
	tracker     *ContextTracker
	strategy    *StrategyGenerator

	mu    sync.Mutex
	flows map[string]*entry
}

// NewStore creates an empty store.
func NewStore(opts ...Option) (*Store, error) {
	cfg := Opts{Config: DefaultConfig(), Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Config.Validate(); err != nil {
		slog.Error("NewStore: invalid configuration", "error", err)
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := cfg.Config
	slog.Debug("NewStore: tracker configured", "topicThreadCap", c.TopicThreadCap, "historyCap", c.HistoryCap, "idleTTL", c.IdleTTL)
	return &Store{
		cfg:         c,
		now:         cfg.Now,
		extractor:   NewFeatureExtractor(c.Lexicon),
		emergency:   NewEmergencyDetector(c.Lexicon.Emergency),
		engagement:  NewEngagementScorer(c),
		momentum:    NewMomentumCalculator(c),
		personality: NewPersonalityClassifier(c),
		policy:      NewTransitionPolicy(c),
		tracker:     NewContextTracker(c),
		strategy:    NewStrategyGenerator(c),
		flows:       make(map[string]*entry),
	}, nil
}

// Config returns the store's tracker configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// NewFlow returns a fresh default flow for userID, sized by the store's
// configuration.
func (s *Store) NewFlow(userID string) *models.ConversationFlow {
	now := s.now()
	return &models.ConversationFlow{
		UserID:              userID,
		SessionID:           uuid.NewString(),
		CurrentState:        models.StateGreeting,
		PreviousState:       models.StateIdle,
		TopicThread:         ringbuf.New[string](s.cfg.TopicThreadCap),
		EngagementLevel:     s.cfg.EngagementBaseline,
		LastTransition:      now,
		PendingTopics:       ringbuf.New[string](s.cfg.PendingTopicsCap),
		PersonalityMode:     s.cfg.DefaultPersonality,
		ConversationHistory: ringbuf.New[models.Turn](s.cfg.HistoryCap),
		LearningTopics:      ringbuf.New[string](s.cfg.LearningTopicsCap),
		UserPreferences:     map[string]string{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// acquire returns the locked entry for userID, creating it when create is
// set. It returns nil if the user is unknown and create is false.
func (s *Store) acquire(userID string, create bool) *entry {
	for {
		s.mu.Lock()
		e, ok := s.flows[userID]
		if !ok {
			if !create {
				s.mu.Unlock()
				return nil
			}
			e = &entry{flow: s.NewFlow(userID)}
			s.flows[userID] = e
			activeFlows.Set(float64(len(s.flows)))
			slog.Debug("Store.acquire: created flow", "userID", userID, "sessionID", e.flow.SessionID)
		}
		s.mu.Unlock()

		e.mu.Lock()
		if !e.evicted {
			return e
		}
		// Evicted between lookup and lock; look again.
		e.mu.Unlock()
	}
}

// Has reports whether the store holds a flow for userID.
func (s *Store) Has(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.flows[userID]
	return ok
}

// Len returns the number of flows held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flows)
}

// Process runs one message through the tracker for userID. Unknown users
// are initialised transparently. emo may be nil. raw may carry the literal
// user text under "message", which is then used for phrase matching. The
// only error is ErrEmptyUserID; bad input degrades to neutral defaults and
// is reported in the result.
func (s *Store) Process(ctx context.Context, userID, message string, emo *models.EmotionData, raw map[string]any) (models.FlowUpdateResult, error) {
	if userID == "" {
		return models.FlowUpdateResult{}, ErrEmptyUserID
	}
	start := time.Now()
	defer func() { processDuration.Observe(time.Since(start).Seconds()) }()

	e := s.acquire(userID, true)
	defer e.mu.Unlock()

	result := s.apply(e.flow, message, emo, raw)
	if result.Degraded {
		slog.Warn("Store.Process: degraded input", "userID", userID, "reasons", result.DegradedReasons)
	}
	return result, nil
}

// apply mutates flow for one message. The caller holds the entry lock.
func (s *Store) apply(flow *models.ConversationFlow, message string, emoIn *models.EmotionData, raw map[string]any) models.FlowUpdateResult {
	now := s.now()
	emo, reasons := emoIn.Sanitized()
	if message == "" {
		reasons = append(reasons, DegradedEmptyMessage)
	}

	phrase := message
	if rawMsg, ok := raw["message"].(string); ok && rawMsg != "" {
		phrase = rawMsg
	}

	f := s.extractor.Extract(message)

	if s.emergency.Matches(phrase) || s.emergency.Matches(message) {
		return s.applyEmergency(flow, f, now, reasons)
	}

	flow.ConversationHistory.Push(turnFromFeatures(f, flow.CurrentState, now))
	flow.PersonalityMode = s.personality.Classify(flow)
	flow.EngagementLevel = checkUnit("engagement_level", s.engagement.Update(flow.EngagementLevel, f, emo))
	s.updateMetrics(flow, f, emo)

	decision := s.policy.Decide(flow, f, emo, phrase, now)
	transitioned := s.transition(flow, decision, now)

	s.tracker.Update(flow, f)
	flow.FlowMomentum = checkUnit("flow_momentum", s.momentum.Update(flow, f, now))
	strategy := s.strategy.Generate(flow, f)

	if f.HasLearningIntent {
		flow.Metrics.LearningProgress = clamp01(flow.Metrics.LearningProgress + s.cfg.LearningProgressStep)
		for _, subject := range f.LearningSubjects {
			if !slices.Contains(flow.LearningTopics.Items(), subject) {
				flow.LearningTopics.Push(subject)
			}
		}
	}

	flow.UpdatedAt = now
	flow.Revision++

	slog.Debug("Store.apply: processed", "userID", flow.UserID, "state", flow.CurrentState, "rule", decision.Rule,
		"engagement", flow.EngagementLevel, "momentum", flow.FlowMomentum, "depth", flow.ContextDepth)

	res := snapshot(flow, transitioned, strategy, reasons)
	res.RecommendedActions = recommendedActions(flow, emo, s.policy)
	return res
}

func (s *Store) applyEmergency(flow *models.ConversationFlow, f models.MessageFeatures, now time.Time, reasons []string) models.FlowUpdateResult {
	emergencyOverrides.Inc()
	slog.Warn("Store.apply: emergency override", "userID", flow.UserID, "from", flow.CurrentState)

	flow.ConversationHistory.Push(turnFromFeatures(f, flow.CurrentState, now))
	transitioned := s.transition(flow, Decision{Next: models.StateEmergencySupport, Rule: RuleEmergency}, now)
	flow.Metrics.TotalMessages++
	flow.Metrics.EmergencyCount++
	flow.UpdatedAt = now
	flow.Revision++

	res := snapshot(flow, transitioned, CrisisStrategy(), reasons)
	res.Emergency = true
	res.RecommendedActions = []string{ActionProvideCrisisResources, ActionEscalateToHuman, ActionMaintainSupportivePresence}
	return res
}

// transition applies d to flow and reports whether the state changed.
func (s *Store) transition(flow *models.ConversationFlow, d Decision, now time.Time) bool {
	from := flow.CurrentState
	if d.Next == from {
		return false
	}
	if !models.IsValidTransition(from, d.Next) {
		reportInvariant("transition_legality", "userID", flow.UserID, "from", from, "to", d.Next, "rule", d.Rule)
		return false
	}
	flow.PreviousState = from
	flow.CurrentState = d.Next
	flow.LastTransition = now
	flow.Metrics.Transitions++
	stateTransitions.WithLabelValues(string(from), string(d.Next)).Inc()
	slog.Info("Store.transition: state changed", "userID", flow.UserID, "from", from, "to", d.Next, "rule", d.Rule, "detail", d.Detail)
	return true
}

func (s *Store) updateMetrics(flow *models.ConversationFlow, f models.MessageFeatures, emo models.EmotionData) {
	m := &flow.Metrics
	m.TotalMessages++
	if m.TotalMessages == 1 {
		m.AvgEngagement = flow.EngagementLevel
		m.AvgComplexity = f.ComplexityScore
		m.AvgEmotionalIntensity = emo.Intensity
		return
	}
	a := s.cfg.MetricsSmoothing
	m.AvgEngagement = checkUnit("avg_engagement", a*m.AvgEngagement+(1-a)*flow.EngagementLevel)
	m.AvgComplexity = checkUnit("avg_complexity", a*m.AvgComplexity+(1-a)*f.ComplexityScore)
	m.AvgEmotionalIntensity = checkUnit("avg_emotional_intensity", a*m.AvgEmotionalIntensity+(1-a)*emo.Intensity)
}

func snapshot(flow *models.ConversationFlow, transitioned bool, strategy models.ResponseStrategy, reasons []string) models.FlowUpdateResult {
	return models.FlowUpdateResult{
		UserID:           flow.UserID,
		SessionID:        flow.SessionID,
		CurrentState:     flow.CurrentState,
		PreviousState:    flow.PreviousState,
		Transitioned:     transitioned,
		EngagementLevel:  flow.EngagementLevel,
		FlowMomentum:     flow.FlowMomentum,
		ContextDepth:     flow.ContextDepth,
		PersonalityMode:  flow.PersonalityMode,
		ResponseStrategy: strategy,
		ResponseGuide:    tone.BuildGuide(strategy),
		TopicThread:      flow.TopicThread.Last(resultTopics),
		PendingTopics:    flow.PendingTopics.Items(),
		Metrics:          flow.Metrics,
		Degraded:         len(reasons) > 0,
		DegradedReasons:  reasons,
		Revision:         flow.Revision,
	}
}

func recommendedActions(flow *models.ConversationFlow, emo models.EmotionData, p *TransitionPolicy) []string {
	actions := []string{}
	if flow.CurrentState == models.StateEmotionalSupport || p.isDistress(emo) {
		actions = append(actions, ActionAcknowledgeFeelings)
	}
	switch flow.CurrentState {
	case models.StateWrappingUp:
		actions = append(actions, ActionSummarizeConversation)
	case models.StateProblemSolving:
		actions = append(actions, ActionBreakDownProblem)
	case models.StateLearningSession:
		actions = append(actions, ActionCheckUnderstanding)
	}
	if flow.EngagementLevel < 0.3 {
		actions = append(actions, ActionAskFollowUpQuestion)
	}
	if flow.FlowMomentum < 0.3 {
		actions = append(actions, ActionSuggestTopicChange)
	}
	if flow.PendingTopics.Len() > 0 {
		actions = append(actions, ActionRevisitPendingTopic)
	}
	return actions
}

// Export returns a deep copy of userID's flow, or false if none exists.
func (s *Store) Export(userID string) (*models.ConversationFlow, bool) {
	e := s.acquire(userID, false)
	if e == nil {
		return nil, false
	}
	defer e.mu.Unlock()
	return e.flow.Clone(), true
}

// Reset replaces userID's flow with a fresh default one. The revision keeps
// counting up from the replaced flow so later snapshots still supersede
// the ones saved before the reset.
func (s *Store) Reset(userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	e := s.acquire(userID, true)
	defer e.mu.Unlock()
	revision := e.flow.Revision
	e.flow = s.NewFlow(userID)
	e.flow.Revision = revision + 1
	slog.Info("Store.Reset: flow reset", "userID", userID, "sessionID", e.flow.SessionID)
	return nil
}

// Restore seeds the store with a previously exported flow. It does nothing
// and returns false if the user already has a live flow. Ring capacities
// are resized to the store's configuration.
func (s *Store) Restore(flow *models.ConversationFlow) (bool, error) {
	if flow == nil || flow.UserID == "" {
		return false, ErrEmptyUserID
	}
	if !flow.CurrentState.IsValid() {
		return false, fmt.Errorf("restore %s: unknown state %q", flow.UserID, flow.CurrentState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[flow.UserID]; ok {
		return false, nil
	}

	c := flow.Clone()
	c.TopicThread = resized(c.TopicThread, s.cfg.TopicThreadCap)
	c.PendingTopics = resized(c.PendingTopics, s.cfg.PendingTopicsCap)
	c.ConversationHistory = resized(c.ConversationHistory, s.cfg.HistoryCap)
	c.LearningTopics = resized(c.LearningTopics, s.cfg.LearningTopicsCap)
	if c.UserPreferences == nil {
		c.UserPreferences = map[string]string{}
	}
	if !c.PersonalityMode.IsValid() {
		c.PersonalityMode = s.cfg.DefaultPersonality
	}
	s.flows[flow.UserID] = &entry{flow: c}
	activeFlows.Set(float64(len(s.flows)))
	slog.Debug("Store.Restore: flow restored", "userID", flow.UserID, "revision", flow.Revision)
	return true, nil
}

func resized[T any](r *ringbuf.Ring[T], capacity int) *ringbuf.Ring[T] {
	if r == nil {
		return ringbuf.New[T](capacity)
	}
	r.SetCap(capacity)
	return r
}

// Summary returns a compact diagnostic view of userID's flow, or false if
// the user has no active flow.
func (s *Store) Summary(userID string) (models.FlowSummary, bool) {
	e := s.acquire(userID, false)
	if e == nil {
		return models.FlowSummary{}, false
	}
	defer e.mu.Unlock()

	f := e.flow
	return models.FlowSummary{
		UserID:               f.UserID,
		CurrentState:         f.CurrentState,
		PersonalityMode:      f.PersonalityMode,
		EngagementLevel:      round2(f.EngagementLevel),
		FlowMomentum:         round2(f.FlowMomentum),
		ContextDepth:         f.ContextDepth,
		ActiveTopics:         f.TopicThread.Last(3),
		ConversationDuration: s.now().Sub(f.CreatedAt),
		FlowHealth:           flowHealth(f.EngagementLevel, f.FlowMomentum),
	}, true
}

func flowHealth(engagement, momentum float64) string {
	switch {
	case engagement > 0.7 && momentum > 0.6:
		return models.FlowHealthExcellent
	case engagement > 0.5 && momentum > 0.4:
		return models.FlowHealthGood
	case engagement > 0.3 || momentum > 0.3:
		return models.FlowHealthModerate
	default:
		return models.FlowHealthNeedsAttention
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// EvictIdle removes flows whose last update is older than the configured
// IdleTTL relative to now and returns the evicted user ids. Flows being
// processed are skipped. It is a no-op when IdleTTL is zero.
func (s *Store) EvictIdle(now time.Time) []string {
	if s.cfg.IdleTTL <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for id, e := range s.flows {
		if !e.mu.TryLock() {
			continue
		}
		if now.Sub(e.flow.UpdatedAt) > s.cfg.IdleTTL {
			e.evicted = true
			delete(s.flows, id)
			evicted = append(evicted, id)
		}
		e.mu.Unlock()
	}
	activeFlows.Set(float64(len(s.flows)))
	if len(evicted) > 0 {
		slices.Sort(evicted)
		slog.Info("Store.EvictIdle: evicted idle flows", "count", len(evicted))
	}
	return evicted
}
