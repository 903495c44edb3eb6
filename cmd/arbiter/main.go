// Arbiter adjudicates static analysis findings with an LLM: it reads an
// analyzer export, extracts the code around each finding, asks the model
// whether the finding is real, and writes an ordered report.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	ac "github.com/linnemanlabs/arbiter/internal/cfg"
	"github.com/linnemanlabs/arbiter/internal/extract"
	"github.com/linnemanlabs/arbiter/internal/finding"
	"github.com/linnemanlabs/arbiter/internal/llm/claude"
	"github.com/linnemanlabs/arbiter/internal/notify/slack"
	"github.com/linnemanlabs/arbiter/internal/postgres"
	"github.com/linnemanlabs/arbiter/internal/report"
	"github.com/linnemanlabs/arbiter/internal/strategy"
	"github.com/linnemanlabs/arbiter/internal/triage"
	"github.com/linnemanlabs/arbiter/internal/triage/memstore"
	"github.com/linnemanlabs/arbiter/internal/triage/pgstore"
)

const appName = "arbiter"
const component = "cli"

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg   ac.Config
		logCfg   log.Config
		opsCfg   opshttp.Config
		traceCfg otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return report.ExitOK, nil
	}

	// Fill in config values from environment variables with prefix ARBITER_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "ARBITER_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return report.ExitConfig, fmt.Errorf("configuration validation failed: %w", err)
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return report.ExitConfig, fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing run",
		"version", vi.Version,
		"commit", vi.Commit,
		"go_version", vi.GoVersion,
		"input", appCfg.Input,
		"source_root", appCfg.SourceRoot,
		"concurrency", appCfg.Concurrency,
		"token_budget", appCfg.TokenBudget,
		"model", appCfg.ClaudeModel,
		"format", appCfg.Format,
		"enable_tracing", traceCfg.EnableTracing,
	)

	// Setup otel so DB and run spans get exported
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// Metrics registry plus the ops listener so long runs can be scraped
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	triageMetrics := triage.NewMetrics(m.Registry())

	liveness := health.Fixed(true, "")
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = liveness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return report.ExitConfig, err
	}
	defer func() {
		if err := opsHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	// Load the per-language strategies, with optional TOML overrides.
	registry, err := strategy.Load(appCfg.Strategies)
	if err != nil {
		return report.ExitConfig, fmt.Errorf("load strategies: %w", err)
	}
	L.Info(ctx, "strategies loaded", "languages", registry.Languages())

	// Initialize the verdict store
	var store triage.Store
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return report.ExitConfig, fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		pgStore, err := pgstore.New(ctx, pool)
		if err != nil {
			return report.ExitConfig, fmt.Errorf("pgstore init: %w", err)
		}
		store = pgStore
		L.Info(ctx, "using postgres verdict store")
	} else {
		store = memstore.New()
		L.Info(ctx, "using in-memory verdict store (no database-url configured)")
	}

	// Read the analyzer export before spending any tokens.
	in, closeIn, err := openInput(appCfg.Input)
	if err != nil {
		return report.ExitConfig, err
	}
	ingest, err := finding.Read(in)
	closeIn()
	if err != nil {
		return report.ExitConfig, fmt.Errorf("ingest findings: %w", err)
	}
	for _, rerr := range ingest.Errors {
		L.Warn(ctx, "skipped malformed row", "error", rerr.Error())
	}
	L.Info(ctx, "findings ingested", "count", len(ingest.Findings), "skipped", ingest.Skipped)

	// Wire the pipeline: provider, budget, cache, classifier, scheduler.
	provider := claude.New(appCfg.ClaudeAPIKey, appCfg.ClaudeModel)
	budget := triage.NewGovernor(appCfg.TokenBudget)
	cache := triage.NewCache(store, L)
	classifier := triage.NewClassifier(provider, budget, triage.ClassifierConfig{
		Model: appCfg.ClaudeModel,
	}, L, triageMetrics)
	scheduler := triage.NewScheduler(triage.SchedulerOptions{
		Registry:    registry,
		Extractor:   extract.New(appCfg.SourceRoot),
		Classifier:  classifier,
		Cache:       cache,
		Budget:      budget,
		Concurrency: appCfg.Concurrency,
		Logger:      L,
		Metrics:     triageMetrics,
	})

	runCtx := ctx
	if appCfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(appCfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	started := time.Now()
	outcomes, err := scheduler.Run(runCtx, ingest.Findings)
	if err != nil {
		return report.ExitFailed, fmt.Errorf("triage run: %w", err)
	}

	rep := report.New(outcomes, budget.Usage(), appName, vi.Version, appCfg.ClaudeModel, started, ingest.Skipped)
	L.Info(ctx, "run complete",
		"run_id", rep.RunID,
		"total", rep.Summary.Total,
		"confirmed", rep.Summary.Confirmed,
		"false_positive", rep.Summary.FalsePositive,
		"needs_more_info", rep.Summary.NeedsMoreInfo,
		"failed", rep.Summary.Failed,
		"skipped_budget", rep.Summary.SkippedBudget,
		"cache_hits", rep.Summary.CacheHits,
		"tokens_spent", rep.Budget.TokensSpent,
		"llm_calls", rep.Budget.Calls,
		"budget_tripped", rep.Budget.Tripped,
	)

	if err := writeReport(&appCfg, rep); err != nil {
		return report.ExitFailed, err
	}

	// Slack summary is best-effort, a webhook failure never fails the run.
	if appCfg.SlackWebhookURL != "" {
		notifier := slack.New(appCfg.SlackWebhookURL)
		if err := notifier.Send(ctx, rep); err != nil {
			L.Error(ctx, err, "slack notification failed")
		}
	}

	return rep.ExitCode(), nil
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func writeReport(c *ac.Config, rep *report.Report) error {
	out := os.Stdout
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	if c.Format == "sarif" {
		return report.WriteSARIF(out, rep)
	}
	return report.WriteJSON(out, rep)
}
