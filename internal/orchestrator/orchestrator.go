// Package orchestrator drives the adaptive build loop: run the default
// attempt, analyze failures, apply proposed remediation strategies and
// retry until success or exhaustion.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/usenabla-com/nabla-runners/internal/buildsys"
	"github.com/usenabla-com/nabla-runners/internal/fixdb"
	"github.com/usenabla-com/nabla-runners/internal/foundation"
	"github.com/usenabla-com/nabla-runners/internal/logfields"
	"github.com/usenabla-com/nabla-runners/internal/metrics"
	"github.com/usenabla-com/nabla-runners/internal/strategy"
)

// DefaultMaxAttempts bounds the strategy queue walk. Exhausting the
// cap is reported as exhaustion, never as a crash.
const DefaultMaxAttempts = 8

// Executor abstracts the per-system build adapter so tests can script
// attempt outcomes.
type Executor interface {
	Build(ctx context.Context, path string, system buildsys.System) (*buildsys.Result, error)
}

// ExecutorFactory builds an Executor for an attempt, carrying the
// environment overrides accumulated by strategy application so far.
type ExecutorFactory func(env map[string]string) Executor

// Config wires an Orchestrator.
type Config struct {
	ExecOptions buildsys.Options
	ApplierOpts strategy.ApplierOptions
	// Fixes, when non-nil, is consulted for a last-known-good strategy
	// before the default attempt and updated after every success.
	Fixes       *fixdb.DB
	Recorder    metrics.Recorder
	MaxAttempts int
	// NewExecutor overrides executor construction; nil uses the real
	// buildsys executor.
	NewExecutor ExecutorFactory
}

// Orchestrator owns the retry state machine for one runner instance.
// It is stateless between Run calls and safe for concurrent use.
type Orchestrator struct {
	cfg Config
}

// New constructs an Orchestrator, filling in defaults.
func New(cfg Config) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.NoopRecorder{}
	}
	if cfg.NewExecutor == nil {
		base := cfg.ExecOptions
		cfg.NewExecutor = func(env map[string]string) Executor {
			opts := base
			opts.Env = env
			return buildsys.NewExecutor(opts)
		}
	}
	return &Orchestrator{cfg: cfg}
}

// Run executes the build loop for a detected system. The work queue
// starts at [Default] (preceded by the cached last-known-good strategy
// when one exists), failures feed the analyzer, and newly proposed
// strategies append breadth-first. Duplicate strategies are skipped
// and total attempts are capped. On success the winning strategy is
// recorded in the fix database; on exhaustion the last error is
// returned.
func (o *Orchestrator) Run(ctx context.Context, path string, system buildsys.System) (*buildsys.Result, error) {
	start := time.Now()
	queue, seen, fingerprint := o.initialQueue(ctx, path, system)
	applier := strategy.NewApplier(o.cfg.ApplierOpts)

	var lastErr error
	attempts := 0

	for cursor := 0; cursor < len(queue); cursor++ {
		if err := ctx.Err(); err != nil {
			o.cfg.Recorder.IncBuildOutcome(metrics.OutcomeCanceled)
			return nil, foundation.NewError(foundation.ErrorCodeCanceled, "build canceled").
				WithComponent("orchestrator").WithCause(err).Build()
		}
		if attempts >= o.cfg.MaxAttempts {
			slog.Warn("Build attempt cap reached",
				logfields.Path(path),
				logfields.BuildSystem(string(system)),
				logfields.Attempt(attempts))
			break
		}

		current := queue[cursor]
		attempts++
		o.cfg.Recorder.IncStrategyAttempt(string(current.Kind))

		result, err := o.attempt(ctx, applier, current, path, system)
		if err == nil && result != nil && result.Success {
			o.recordSuccess(ctx, fingerprint, system, current)
			o.cfg.Recorder.ObserveBuildDuration(string(system), time.Since(start))
			o.cfg.Recorder.IncBuildOutcome(metrics.OutcomeSuccess)
			slog.Info("Build succeeded",
				logfields.Path(path),
				logfields.BuildSystem(string(system)),
				logfields.Strategy(current.String()),
				logfields.Attempt(attempts),
				logfields.Artifact(result.OutputPath))
			return result, nil
		}

		errText := errorText(result, err)
		lastErr = attemptError(result, err, system)
		if foundation.IsCode(lastErr, foundation.ErrorCodeCanceled) {
			o.cfg.Recorder.IncBuildOutcome(metrics.OutcomeCanceled)
			return nil, lastErr
		}

		proposed := strategy.Analyze(errText, system)
		appended := 0
		for _, s := range proposed {
			if seen[s.Key()] {
				continue
			}
			seen[s.Key()] = true
			queue = append(queue, s)
			appended++
		}
		slog.Warn("Build attempt failed",
			logfields.Path(path),
			logfields.BuildSystem(string(system)),
			logfields.Strategy(current.String()),
			logfields.Attempt(attempts),
			slog.Int("new_strategies", appended),
			logfields.Error(lastErr))
	}

	o.cfg.Recorder.IncRetryExhausted(string(system))
	o.cfg.Recorder.IncBuildOutcome(metrics.OutcomeExhausted)
	if lastErr == nil {
		lastErr = foundation.NewError(foundation.ErrorCodeInternal, "all build strategies failed").
			WithComponent("orchestrator").Build()
	}
	return nil, lastErr
}

// attempt applies the strategy, then runs the executor with whatever
// environment overrides have accumulated.
func (o *Orchestrator) attempt(ctx context.Context, applier *strategy.Applier, s strategy.Strategy, path string, system buildsys.System) (*buildsys.Result, error) {
	attemptStart := time.Now()
	defer func() {
		o.cfg.Recorder.ObserveAttemptDuration(string(system), time.Since(attemptStart))
	}()

	if err := applier.Apply(ctx, s, path, system); err != nil {
		return nil, err
	}
	exec := o.cfg.NewExecutor(applier.Env())
	return exec.Build(ctx, path, system)
}

// initialQueue seeds the work queue, trying the cached last-known-good
// strategy ahead of Default when the fix database knows one.
func (o *Orchestrator) initialQueue(ctx context.Context, path string, system buildsys.System) ([]strategy.Strategy, map[string]bool, string) {
	queue := []strategy.Strategy{strategy.Default()}
	seen := map[string]bool{strategy.Default().Key(): true}

	if o.cfg.Fixes == nil {
		return queue, seen, ""
	}
	fingerprint, err := fixdb.Fingerprint(path, system)
	if err != nil {
		slog.Debug("Project fingerprint unavailable", logfields.Path(path), logfields.Error(err))
		return queue, seen, ""
	}
	cached, ok, err := o.cfg.Fixes.LastGood(ctx, fingerprint, system)
	if err != nil {
		slog.Warn("Fix database lookup failed", logfields.Error(err))
		return queue, seen, fingerprint
	}
	if ok && !seen[cached.Key()] {
		slog.Info("Trying cached strategy first",
			logfields.Path(path),
			logfields.BuildSystem(string(system)),
			logfields.Strategy(cached.String()))
		queue = append([]strategy.Strategy{cached}, queue...)
		seen[cached.Key()] = true
	}
	return queue, seen, fingerprint
}

func (o *Orchestrator) recordSuccess(ctx context.Context, fingerprint string, system buildsys.System, s strategy.Strategy) {
	if o.cfg.Fixes == nil || fingerprint == "" {
		return
	}
	if err := o.cfg.Fixes.RecordSuccess(ctx, fingerprint, system, s); err != nil {
		slog.Warn("Failed to record successful config", logfields.Error(err))
	}
}

func errorText(result *buildsys.Result, err error) string {
	if result != nil && !result.Success && result.ErrorOutput != "" {
		return result.ErrorOutput
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// attemptError normalizes the two failure shapes (executor error, or a
// result with Success=false) into one error value.
func attemptError(result *buildsys.Result, err error, system buildsys.System) error {
	if err != nil {
		return err
	}
	return foundation.NewError(foundation.ErrorCodeToolInvocation, "build failed").
		WithComponent("orchestrator").
		WithContext("build_system", string(system)).
		WithContext("error_output", errorText(result, nil)).Build()
}
