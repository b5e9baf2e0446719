// Command hcc drives one episode of the hierarchical decision-making agent
// core against an in-process stub environment, per spec.md §6's CLI
// contract. It is a thin wiring layer: flag parsing, store/planner
// construction from core.Config, and the Reset/Step/End loop — all of the
// actual decision logic lives in agent.Core.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/mrlecko/hcc/agent"
	"github.com/mrlecko/hcc/core"
	"github.com/mrlecko/hcc/memory"
	"github.com/mrlecko/hcc/planner"
	"github.com/mrlecko/hcc/planner/openaiplanner"
	"github.com/mrlecko/hcc/store/arangostore"
	"github.com/mrlecko/hcc/store/memstore"
	"github.com/mrlecko/hcc/store/redisprocedural"
)

// Exit codes per spec.md §6.
const (
	exitSuccess          = 0
	exitFailure          = 1
	exitEscalation       = 2
	exitStoreUnavailable = 3
	exitMalformedInput   = 4
)

func main() {
	os.Exit(runMain(os.Args[1:], os.Stdout, os.Stderr))
}

// runMain is the recoverable entry point. Config errors and invariant
// violations surface as panics at the point they're detected (spec §7); this
// is the RecoveryMiddleware-equivalent boundary that catches them, per
// SPEC_FULL.md §7.1.
func runMain(args []string, stdout, stderr io.Writer) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "hcc: fatal: %v\n", r)
			code = exitMalformedInput
		}
	}()
	return run(args, stdout, stderr)
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "run" {
		fmt.Fprintln(stderr, "usage: hcc run --quest \"<text>\" [--max-steps N] [--no-critical-states] [--no-planner] [--seed S] [--config path.yaml]")
		return exitMalformedInput
	}

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	quest := fs.String("quest", "", "quest text; empty means free exploration")
	maxSteps := fs.Int("max-steps", 50, "maximum steps before the episode is declared a failure")
	noCriticalStates := fs.Bool("no-critical-states", false, "disable the critical-state monitor's entropy/novelty/hubris/scarcity triggers")
	noPlanner := fs.Bool("no-planner", false, "never consult the strategic planner, even if one is configured")
	seed := fs.Int64("seed", time.Now().UnixNano(), "seed controlling the stub environment's hidden state")
	configPath := fs.String("config", "", "optional YAML config overlay")

	if err := fs.Parse(args[1:]); err != nil {
		return exitMalformedInput
	}
	if *maxSteps <= 0 {
		fmt.Fprintln(stderr, "hcc: --max-steps must be positive")
		return exitMalformedInput
	}

	var opts []core.Option
	if *configPath != "" {
		opts = append(opts, core.WithConfigFile(*configPath))
	}

	cfg, err := core.NewConfig(opts...)
	if err != nil {
		fmt.Fprintf(stderr, "hcc: invalid configuration: %v\n", err)
		return exitMalformedInput
	}
	logger := cfg.Logger()

	if *noCriticalStates {
		disableCriticalStates(cfg)
	}

	ctx := context.Background()

	procedural, episodic, storeErr := buildStores(ctx, cfg, logger)
	if storeErr != nil {
		fmt.Fprintf(stderr, "hcc: store unavailable: %v\n", storeErr)
		return exitStoreUnavailable
	}

	agentOpts := []agent.Option{
		agent.WithProceduralStore(procedural),
		agent.WithEpisodicStore(episodic),
		agent.WithBeliefUpdater(beliefUpdater),
		agent.WithLogger(logger),
	}
	if !*noPlanner && cfg.Planner.Enabled {
		if p, err := openaiplanner.New(openaiplanner.Config{APIKey: cfg.Planner.APIKey, Model: cfg.Planner.Model}, logger); err != nil {
			logger.Warn("planner configured but unavailable, proceeding without one", map[string]interface{}{"error": err.Error()})
		} else {
			agentOpts = append(agentOpts, agent.WithPlanner(p))
		}
	}

	core_ := agent.NewCore(cfg, agentOpts...)

	var env agent.Environment
	if strings.TrimSpace(*quest) != "" {
		env = newQuestEnvironment(*quest)
	} else {
		env = newLockedRoomEnvironment(*seed)
	}

	tracer := cfg.Tracer()
	if shutdowner, ok := tracer.(interface{ Shutdown(context.Context) error }); ok {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdowner.Shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	return playEpisode(ctx, core_, env, tracer, *quest, *maxSteps, stdout, stderr)
}

// playEpisode runs Reset/Step/End to completion and writes the final
// RunSummary as JSON to stdout, per SPEC_FULL.md §3.1. Each episode and each
// step gets its own span, and the final reward/step-count are recorded as
// metrics, per SPEC_FULL.md's telemetry section — tracer is a no-op unless
// telemetry is enabled (HCC_OTEL_ENDPOINT or --config), so this costs
// nothing in the common case.
func playEpisode(ctx context.Context, core_ *agent.Core, env agent.Environment, tracer core.Telemetry, quest string, maxSteps int, stdout, stderr io.Writer) int {
	ctx, episodeSpan := tracer.StartSpan(ctx, "hcc.episode")
	episodeSpan.SetAttribute("quest", quest)
	episodeSpan.SetAttribute("max_steps", maxSteps)
	defer episodeSpan.End()

	core_.Reset(quest)

	input, err := env.Reset(ctx)
	if err != nil {
		episodeSpan.RecordError(err)
		fmt.Fprintf(stderr, "hcc: environment reset failed: %v\n", err)
		return exitFailure
	}

	for step := 0; step < maxSteps; step++ {
		input = withStepsRemaining(input, maxSteps-step)

		stepCtx, stepSpan := tracer.StartSpan(ctx, "hcc.step")
		stepSpan.SetAttribute("step_index", step)

		result, err := core_.Step(stepCtx, input)
		if err != nil {
			stepSpan.RecordError(err)
			stepSpan.End()
			episodeSpan.RecordError(err)
			fmt.Fprintf(stderr, "hcc: step failed: %v\n", err)
			return endAndReport(ctx, core_, tracer, false, step+1, stdout, stderr, exitFailure)
		}
		stepSpan.SetAttribute("action", result.Action)
		stepSpan.SetAttribute("critical_state", result.CriticalState.String())
		stepSpan.End()

		if result.Escalated {
			return endAndReport(ctx, core_, tracer, false, step+1, stdout, stderr, exitEscalation)
		}

		next, err := env.Step(ctx, result.Action)
		if err != nil {
			episodeSpan.RecordError(err)
			fmt.Fprintf(stderr, "hcc: environment step failed: %v\n", err)
			return endAndReport(ctx, core_, tracer, false, step+1, stdout, stderr, exitFailure)
		}

		if next.Done {
			core_.BackfillFinalReward(next.Reward)
			success := next.Reward > 0
			code := exitFailure
			if success {
				code = exitSuccess
			}
			return endAndReport(ctx, core_, tracer, success, step+1, stdout, stderr, code)
		}
		input = next
	}

	return endAndReport(ctx, core_, tracer, false, maxSteps, stdout, stderr, exitFailure)
}

func endAndReport(ctx context.Context, core_ *agent.Core, tracer core.Telemetry, success bool, steps int, stdout, stderr io.Writer, code int) int {
	if err := core_.End(ctx, success); err != nil {
		fmt.Fprintf(stderr, "hcc: episode finalisation failed: %v\n", err)
	}
	summary := core_.Summary(success)

	successLabel := "false"
	if success {
		successLabel = "true"
	}
	tracer.RecordMetric("hcc.episode.steps", float64(steps), map[string]string{"success": successLabel})
	tracer.RecordMetric("hcc.episode.total_reward", summary.TotalReward, map[string]string{"success": successLabel})

	data, err := json.Marshal(summary)
	if err == nil {
		fmt.Fprintln(stdout, string(data))
	}
	return code
}

func withStepsRemaining(input agent.StepInput, remaining int) agent.StepInput {
	info := input.Info
	if info == nil {
		info = make(map[string]interface{}, 1)
	}
	info["steps_remaining"] = remaining
	input.Info = info
	return input
}

// disableCriticalStates pushes the monitor's entropy/novelty/hubris/scarcity
// thresholds out of reach, per --no-critical-states. The steps-exhausted
// escalation trigger is left untouched: it reflects the episode's step
// budget, not a critical-state judgement, so spec §4.6's meta-triggers still
// apply to it.
func disableCriticalStates(cfg *core.Config) {
	cfg.Monitor.HighEntropy = math.MaxFloat64
	cfg.Monitor.LowEntropy = -math.MaxFloat64
	cfg.Monitor.NoveltyTh = math.MaxFloat64
	cfg.Monitor.DeadlockWindow = math.MaxInt32
	cfg.Monitor.OscillationWindow = math.MaxInt32
	cfg.Monitor.OscillationMaxTrans = math.MaxInt32
	cfg.Monitor.HubrisStreak = math.MaxInt32
	cfg.Monitor.ScarcityFactor = math.MaxFloat64
}

// buildStores constructs the procedural/episodic store pair named by
// cfg.Store.Provider. "graph" is an in-process stand-in for "arangodb" that
// exercises store/memstore's identical node/edge model without a live
// database, useful for local runs and tests; "memory" is core.Config's
// default provider, and "arangodb" is the one whose connection fields
// core.Config.Validate checks.
func buildStores(ctx context.Context, cfg *core.Config, logger core.Logger) (memory.ProceduralStore, memory.EpisodicStore, error) {
	retrieval := memory.RetrievalConfig{DecayWindow: cfg.Memory.RecencyDecay, TopK: cfg.Memory.RetrievalTopK}

	switch cfg.Store.Provider {
	case "arangodb":
		store, err := arangostore.New(arangostore.Config{
			URL:      cfg.Store.URL,
			Username: cfg.Store.Username,
			Password: cfg.Store.Password,
			Database: cfg.Store.Database,
		}, retrieval, logger)
		if err != nil {
			return nil, nil, err
		}
		deadlineCtx, cancel := context.WithTimeout(ctx, cfg.Store.Deadline)
		defer cancel()
		if err := store.EnsureSchema(deadlineCtx); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
		}
		return store, store, nil

	case "graph":
		store := memstore.New(retrieval, logger)
		return store, store, nil

	case "memory", "":
		procedural, err := buildProceduralStore(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		episodic := memory.NewInMemoryEpisodicStore(retrieval, logger)
		return procedural, episodic, nil

	default:
		return nil, nil, fmt.Errorf("unknown store provider %q", cfg.Store.Provider)
	}
}

// buildProceduralStore prefers Redis as the fast advisory cache for C2 when
// configured, falling back to the in-memory default otherwise (spec §4.2).
func buildProceduralStore(cfg *core.Config, logger core.Logger) (memory.ProceduralStore, error) {
	if cfg.Memory.RedisURL == "" {
		return memory.NewInMemoryProceduralStore(logger), nil
	}
	client, err := core.NewRedisClient(core.RedisClientOptions{
		RedisURL:  cfg.Memory.RedisURL,
		DB:        0,
		Namespace: "hcc:procedural",
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return redisprocedural.New(client, logger), nil
}

var _ planner.Planner = (*openaiplanner.Planner)(nil)
