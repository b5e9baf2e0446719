package agent

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mrlecko/hcc/core"
	"github.com/mrlecko/hcc/geometry"
	"github.com/mrlecko/hcc/internal/tokenset"
	"github.com/mrlecko/hcc/kernel"
	"github.com/mrlecko/hcc/memory"
	"github.com/mrlecko/hcc/monitor"
	"github.com/mrlecko/hcc/planner"
	"github.com/mrlecko/hcc/quest"
	"github.com/mrlecko/hcc/resilience"
)

// Environment is the per-step contract the agent core drives, per spec §6.
type Environment interface {
	Reset(ctx context.Context) (StepInput, error)
	Step(ctx context.Context, action string) (StepInput, error)
}

// Option configures a Core at construction, following the same
// functional-options shape as core.Config.
type Option func(*Core)

func WithSkillLookup(f SkillLookup) Option {
	return func(c *Core) { c.skills = f }
}

func WithBeliefUpdater(f BeliefUpdater) Option {
	return func(c *Core) { c.updateBelief = f }
}

func WithProceduralStore(s memory.ProceduralStore) Option {
	return func(c *Core) { c.procedural = s }
}

func WithEpisodicStore(s memory.EpisodicStore) Option {
	return func(c *Core) { c.episodic = s }
}

func WithPlanner(p planner.Planner) Option {
	return func(c *Core) { c.plannerClient = p }
}

func WithLogger(l core.Logger) Option {
	return func(c *Core) { c.logger = l }
}

// defaultSkillLookup returns a flat unit cost for any action never
// registered by the caller, so an agent embedded without a skill table still
// runs (just without cost differentiation between actions).
func defaultSkillLookup(action string) kernel.Skill {
	sensing := false
	for _, t := range tokenset.Tokenize(action) {
		switch t {
		case "look", "examine", "inventory", "sense", "listen", "search":
			sensing = true
		}
	}
	return kernel.Skill{ID: action, Cost: 1.0, Sensing: sensing}
}

// defaultBeliefUpdater is a no-op passthrough: it preserves the prior belief
// verbatim. Domains almost always supply their own via WithBeliefUpdater.
func defaultBeliefUpdater(prior Belief, observation interface{}, reward float64, info map[string]interface{}) Belief {
	return prior
}

// Core is the agent core (C8): the only component that owns Belief, the
// active Quest, the current episode's histories, and the persistent
// failed-path set (spec §3 "Ownership and lifecycle").
type Core struct {
	cfg    *core.Config
	logger core.Logger

	skills       SkillLookup
	updateBelief BeliefUpdater

	procedural    memory.ProceduralStore
	episodic      memory.EpisodicStore
	plannerClient planner.Planner
	plannerBreaker *resilience.CircuitBreaker

	monitorM    *monitor.Monitor
	failedPaths *monitor.FailedPathSet

	belief  Belief
	quest   *quest.Quest
	tracker *quest.Tracker

	activePlan *planner.Plan

	episodeID string
	stepIndex int
	lastAction string
	actionHistory   []string
	locationHistory []string
	rewardHistory   []float64
	trajectory      []monitor.StatePair
	steps           []memory.StepRecord
	criticalStates  []string
	totalReward     float64
	questComplete   bool
	terminated      bool
}

// NewCore constructs a Core against cfg, applying opts in order. Any
// dependency left unset falls back to an in-memory default so the core is
// always runnable without external services (spec §4.2/§4.3 advisory
// failure modes extend naturally to "never configured").
func NewCore(cfg *core.Config, opts ...Option) *Core {
	c := &Core{
		cfg:         cfg,
		logger:      cfg.Logger(),
		monitorM:    monitor.NewMonitor(cfg.Monitor),
		failedPaths: monitor.NewFailedPathSet(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.procedural == nil {
		c.procedural = memory.NewInMemoryProceduralStore(c.logger)
	}
	if c.episodic == nil {
		retrievalCfg := memory.RetrievalConfig{DecayWindow: cfg.Memory.RecencyDecay, TopK: cfg.Memory.RetrievalTopK}
		c.episodic = memory.NewInMemoryEpisodicStore(retrievalCfg, c.logger)
	}
	if c.skills == nil {
		c.skills = defaultSkillLookup
	}
	if c.updateBelief == nil {
		c.updateBelief = defaultBeliefUpdater
	}
	if c.plannerClient != nil {
		if breaker, err := resilience.CreateCircuitBreaker("planner", resilience.Dependencies{Logger: c.logger}); err == nil {
			c.plannerBreaker = breaker
		}
	}
	return c
}

// Reset starts a new episode, per spec §4.8 "Reset": belief returns to its
// domain prior, histories and the active plan clear, the failed-path set is
// deliberately left untouched, and quest (if any) is re-decomposed.
func (c *Core) Reset(questText string) {
	c.belief = Belief{}
	c.activePlan = nil
	c.actionHistory = nil
	c.locationHistory = nil
	c.rewardHistory = nil
	c.trajectory = nil
	c.steps = nil
	c.criticalStates = nil
	c.totalReward = 0
	c.questComplete = false
	c.terminated = false
	c.stepIndex = 0
	c.lastAction = ""
	c.episodeID = uuid.NewString()
	c.monitorM.Reset()

	if strings.TrimSpace(questText) != "" {
		c.quest = quest.NewQuest(questText)
		c.tracker = quest.NewTracker(c.quest, quest.ProgressConfig{
			JaccardThreshold: c.cfg.Memory.JaccardThreshold,
			AdvanceThreshold: 1.5,
			WindowSize:       3,
		})
	} else {
		c.quest = nil
		c.tracker = nil
	}
}

// EpisodeID returns the current episode's identifier, stamped by Reset.
func (c *Core) EpisodeID() string { return c.episodeID }

// fallbackAction is returned whenever the candidate list is unusable.
func (c *Core) fallbackAction() string {
	if c.cfg.Monitor.FallbackAction != "" {
		return c.cfg.Monitor.FallbackAction
	}
	return "look"
}

// Step runs one full pass of the per-step sequence in spec §4.8 and returns
// the committed action plus its step-record metadata.
func (c *Core) Step(ctx context.Context, input StepInput) (StepResult, error) {
	// 2. Update belief.
	c.belief = c.updateBelief(c.belief, input.Observation, input.Reward, input.Info)

	// 3. Refresh quest state.
	if strings.TrimSpace(input.Quest) != "" && (c.quest == nil || c.quest.Text != input.Quest) {
		c.quest = quest.NewQuest(input.Quest)
		c.tracker = quest.NewTracker(c.quest, quest.ProgressConfig{
			JaccardThreshold: c.cfg.Memory.JaccardThreshold,
			AdvanceThreshold: 1.5,
			WindowSize:       3,
		})
	}

	// 4. Update progress tracker using the previous action and this reward.
	if c.tracker != nil && c.lastAction != "" {
		_, complete := c.tracker.Update(c.lastAction, input.Reward, c.belief.ObservationDigest)
		if complete {
			c.questComplete = true
		}
		c.advancePlanOnProgress(input.Reward)
	}

	// The environment attributes reward to the action that produced this
	// observation, i.e. c.lastAction's step record, not the one about to be
	// chosen below — backfill it now that it is known.
	if c.lastAction != "" {
		c.backfillReward(input.Reward)
	}

	c.rewardHistory = append(c.rewardHistory, input.Reward)
	c.totalReward += input.Reward
	if input.Reward < 0 {
		monitor.BlameLastN(c.failedPaths, c.trajectory, c.cfg.Monitor.CreditAssignmentDepth)
	}

	// 5. Maybe plan.
	c.maybePlan(ctx)

	// 6. Filter candidates.
	filtered := filterCandidates(input.Candidates)
	if len(filtered) == 0 {
		return c.commit(c.fallbackAction(), kernel.Result{}, monitor.FLOW, "", false)
	}

	// 7. Score each remaining candidate with C1.
	results := make([]kernel.Result, len(filtered))
	for i, action := range filtered {
		results[i] = c.score(ctx, action)
	}

	candidates := make([]monitor.Candidate, len(filtered))
	for i, action := range filtered {
		skill := c.skills(action)
		candidates[i] = monitor.Candidate{
			Action:    action,
			Score:     results[i].Efe,
			GoalValue: results[i].GoalValue,
			Sensing:   skill.Sensing,
		}
	}

	// Failed-path bias is consulted at action selection (spec §4.6), applied
	// here so both the tactical argmax and any monitor override see it.
	stateToken := c.stateToken()
	candidates = monitor.ApplyFailedPathBias(c.failedPaths, stateToken, candidates)

	tacticalIdx := argmaxByScore(candidates)
	tactical := candidates[tacticalIdx].Action

	// 8. Monitor.
	signal := c.buildSignal(input)
	verdict := c.monitorM.Evaluate(signal, candidates)

	chosen := tactical
	if verdict.HasOverride {
		chosen = verdict.Action
	}

	// 9. Memory veto, if not already overridden by the monitor.
	if !verdict.HasOverride && verdict.State == monitor.FLOW {
		contextKey := memory.ContextKey(c.belief.PUnlocked, c.activeSubgoalDescription())
		rate, uses, _ := c.procedural.SuccessRate(ctx, c.skills(chosen).ID, contextKey)
		if monitor.MemoryVeto(c.cfg.Monitor, rate, uses) {
			if safe, ok := monitor.SelectPanicSafe(candidates, c.fallbackAction()); ok {
				chosen = safe
			}
		}
	}

	chosenResult := resultFor(results, filtered, chosen)
	return c.commit(chosen, chosenResult, verdict.State, verdict.Cause, verdict.Terminate)
}

// score runs the full kernel evaluation for one candidate action, pulling in
// memory bonuses and the active plan.
func (c *Core) score(ctx context.Context, action string) kernel.Result {
	skill := c.skills(action)
	tried := containsFold(c.actionHistory, action)
	var subgoal *quest.Subgoal
	questText := ""
	if c.quest != nil {
		subgoal = c.quest.Active()
		questText = c.quest.Text
	}

	memories, _ := c.episodic.Retrieve(ctx, c.belief.Room, action, c.activeSubgoalDescription(), c.cfg.Memory.RetrievalTopK)

	return kernel.Score(c.cfg.EFE, kernel.Candidate{
		Action:         action,
		Skill:          skill,
		Subgoal:        subgoal,
		QuestText:      questText,
		TriedInContext: tried,
		History:        c.actionHistory,
		Memories:       memories,
		Plan:           c.activePlan,
	})
}

func containsFold(history []string, action string) bool {
	for _, h := range history {
		if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(action)) {
			return true
		}
	}
	return false
}

func (c *Core) activeSubgoalDescription() string {
	if c.quest == nil {
		return ""
	}
	if sg := c.quest.Active(); sg != nil {
		return sg.Description
	}
	return ""
}

// stateToken is the key the failed-path set and the step trajectory use: the
// belief's room when one is set, otherwise the active subgoal description.
func (c *Core) stateToken() string {
	if c.belief.Room != "" {
		return c.belief.Room
	}
	return c.activeSubgoalDescription()
}

func (c *Core) buildSignal(input StepInput) monitor.Signal {
	stepsRemaining, stepsLimited := extractStepsRemaining(input.Info)
	return monitor.Signal{
		Entropy:                  c.belief.Entropy,
		NoveltyScore:             c.belief.NoveltyScore,
		Locations:                c.locationHistory,
		Actions:                  c.actionHistory,
		StepsLimited:             stepsLimited,
		StepsRemaining:           stepsRemaining,
		ConsecutiveSuccesses:     c.belief.ConsecutiveSuccesses,
		RewardPositiveLast3:      lastNPositive(c.rewardHistory, 3),
		DistanceToGoal:           c.belief.DistanceToGoal,
		UnfinishedSubgoals:       c.unfinishedSubgoals(),
		QuestActive:              c.quest != nil && !c.quest.Complete(),
		ActiveSubgoalDescription: c.activeSubgoalDescription(),
	}
}

// extractStepsRemaining reads the domain-supplied step budget out of the
// environment's Info map, per spec §4.6's "steps_remaining" signal — the
// agent core has no innate notion of an episode length, so a domain with a
// step budget surfaces it this way rather than through Belief.
func extractStepsRemaining(info map[string]interface{}) (int, bool) {
	if info == nil {
		return 0, false
	}
	switch v := info["steps_remaining"].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func (c *Core) unfinishedSubgoals() int {
	if c.quest == nil {
		return 0
	}
	return len(c.quest.Subgoals) - c.quest.CurrentIndex
}

func lastNPositive(rewards []float64, n int) bool {
	start := 0
	if len(rewards) > n {
		start = len(rewards) - n
	}
	for _, r := range rewards[start:] {
		if r > 0 {
			return true
		}
	}
	return false
}

// maybePlan calls the planner when one is configured and no plan is active.
// activePlan is nil both on the episode's first steps and whenever a prior
// plan was cleared by failure or completion, so this single check covers
// spec §4.8's "plan-ready" condition ("first few steps or upon a plan
// failure") without tracking a separate flag.
func (c *Core) maybePlan(ctx context.Context) {
	if c.plannerClient == nil || c.activePlan != nil {
		return
	}

	goal := ""
	if c.quest != nil {
		goal = c.activeSubgoalDescription()
		if goal == "" {
			goal = c.quest.Text
		}
	}
	if goal == "" {
		return
	}

	timeout := c.cfg.Planner.Timeout
	if timeout <= 0 {
		timeout = core.DefaultPlannerTimeout
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var plan *planner.Plan
	call := func() error {
		p, err := c.plannerClient.Plan(timeoutCtx, goal, c.stateToken(), c.recentFailureActions())
		if err != nil {
			return err
		}
		plan = p
		return nil
	}

	var err error
	if c.plannerBreaker != nil {
		err = c.plannerBreaker.ExecuteWithTimeout(timeoutCtx, timeout, call)
	} else {
		err = call()
	}

	if err != nil {
		c.logger.Warn("planner call failed, proceeding without a plan", map[string]interface{}{
			"error": err.Error(), "goal": goal,
		})
		return
	}
	c.activePlan = plan
}

func (c *Core) recentFailureActions() []string {
	var out []string
	for i, r := range c.rewardHistory {
		if r < 0 && i < len(c.actionHistory) {
			out = append(out, c.actionHistory[i])
		}
	}
	if len(out) > 5 {
		out = out[len(out)-5:]
	}
	return out
}

// advancePlanOnProgress marks the plan's current step attempted (and moves
// the pointer forward on a confirmed positive-reward step) once the
// progress tracker has observed the outcome of c.lastAction.
func (c *Core) advancePlanOnProgress(reward float64) {
	if c.activePlan == nil {
		return
	}
	switch planner.Match(c.activePlan, c.lastAction) {
	case planner.FirstAttemptMatched:
		planner.MarkAttempted(c.activePlan)
	case planner.Matched:
		if reward > 0 {
			planner.Advance(c.activePlan)
		}
	}
	if planner.Complete(c.activePlan) {
		c.activePlan = nil
	}
}

func filterCandidates(candidates []string) []string {
	out := make([]string, 0, len(candidates))
	for _, a := range candidates {
		trimmed := strings.TrimSpace(a)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func argmaxByScore(candidates []monitor.Candidate) int {
	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Score > candidates[best].Score {
			best = i
		}
	}
	return best
}

func resultFor(results []kernel.Result, actions []string, chosen string) kernel.Result {
	for i, a := range actions {
		if a == chosen {
			return results[i]
		}
	}
	return kernel.Result{Action: chosen, Geometry: geometry.Analyze(0, 0, 0)}
}

// backfillReward attributes reward to the most recently committed step
// record, deriving Outcome and Confidence from it so episodic retrieval
// (spec §4.3) has something to score. Confidence is the reward magnitude
// clamped to [0,1]: the spec fixes the memory-bonus weights (+2·c for
// positive, -5·c for negative) but not how confidence is derived from a raw
// reward, so this is a deliberate choice rather than a spec requirement.
func (c *Core) backfillReward(reward float64) {
	if len(c.steps) == 0 {
		return
	}
	last := &c.steps[len(c.steps)-1]
	last.Reward = reward
	last.Outcome, last.Confidence = classifyReward(reward)
}

// BackfillFinalReward attributes the episode's terminal reward to the last
// committed step record. Every non-final reward reaches its step via the
// next Step call's input.Reward (see backfillReward); the last action in an
// episode has no next Step call, so the caller must invoke this with the
// environment's terminal reward before calling End, or that step's Reward,
// Outcome and Confidence stay at their zero values.
func (c *Core) BackfillFinalReward(reward float64) {
	c.backfillReward(reward)
}

func classifyReward(reward float64) (memory.Outcome, float64) {
	switch {
	case reward > 0:
		return memory.OutcomePositive, math.Min(1, reward)
	case reward < 0:
		return memory.OutcomeNegative, math.Min(1, -reward)
	default:
		return memory.OutcomeNeutral, 0
	}
}

// commit appends the step record, updates histories, and returns the final
// StepResult — spec §4.8 step 10.
func (c *Core) commit(action string, result kernel.Result, state monitor.State, cause string, terminate bool) (StepResult, error) {
	c.trajectory = append(c.trajectory, monitor.StatePair{StateToken: c.stateToken(), ActionToken: action})
	c.actionHistory = append(c.actionHistory, action)
	if c.belief.Room != "" {
		c.locationHistory = append(c.locationHistory, c.belief.Room)
	}
	c.criticalStates = append(c.criticalStates, state.String())

	c.steps = append(c.steps, memory.StepRecord{
		StepIndex:         c.stepIndex,
		Room:              c.belief.Room,
		Action:            action,
		ActiveSubgoal:     c.activeSubgoalDescription(),
		ObservationDigest: c.belief.ObservationDigest,
		BeliefEntropy:     c.belief.Entropy,
		EfeComponents: memory.EfeComponents{
			GoalValue:   result.GoalValue,
			InfoGain:    result.InfoGain,
			Cost:        result.Cost,
			MemoryBonus: result.MemoryBonus,
			PlanBonus:   result.PlanBonus,
			Efe:         result.Efe,
		},
		Geometry:      result.Geometry,
		CriticalState: state.String(),
		Timestamp:     time.Now(),
	})

	c.lastAction = action
	c.stepIndex++
	if terminate {
		c.terminated = true
	}

	return StepResult{
		Action:        action,
		CriticalState: state,
		Cause:         cause,
		Escalated:     terminate,
		QuestComplete: c.questComplete,
		Geometry:      result.Geometry,
		Efe:           result.Efe,
		StepIndex:     c.stepIndex - 1,
	}, nil
}

// End finalises the episode on natural done or escalation: seals and
// persists the episode record (C3), then updates procedural memory (C2) per
// spec §4.8 "End of episode" — success is the episode outcome propagated
// uniformly back to every step.
func (c *Core) End(ctx context.Context, success bool) error {
	record := memory.EpisodeRecord{
		ID:                   c.episodeID,
		Steps:                c.steps,
		TotalReward:          c.totalReward,
		Success:              success,
		CriticalStateHistory: c.criticalStates,
	}
	if c.quest != nil {
		record.QuestText = c.quest.Text
		for _, sg := range c.quest.Subgoals {
			record.Subgoals = append(record.Subgoals, sg.Description)
		}
	}

	if _, err := c.episodic.StoreEpisode(ctx, record); err != nil {
		c.logger.Warn("episodic store failed, episode not persisted", map[string]interface{}{"error": err.Error()})
	}

	contextKey := memory.ContextKey(c.belief.PUnlocked, c.activeSubgoalDescription())
	for _, step := range c.steps {
		if err := c.procedural.Record(ctx, step.Action, contextKey, success, len(c.steps)); err != nil {
			c.logger.Warn("procedural memory update failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return nil
}

// Summary projects the current episode state into a RunSummary, per
// SPEC_FULL.md §3.1, for the CLI's exit-code decision.
func (c *Core) Summary(success bool) RunSummary {
	return RunSummary{
		EpisodeID:            c.episodeID,
		Success:              success,
		TotalReward:          c.totalReward,
		Steps:                len(c.steps),
		CriticalStateHistory: c.criticalStates,
		Escalated:            c.terminated,
		FinishedAt:           time.Now(),
	}
}
