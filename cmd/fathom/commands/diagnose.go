package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fathomlabs/fathom/internal/audit"
	"github.com/fathomlabs/fathom/internal/config"
	"github.com/fathomlabs/fathom/internal/diagnose"
	"github.com/fathomlabs/fathom/internal/issue"
	"github.com/fathomlabs/fathom/internal/knowledge"
	"github.com/fathomlabs/fathom/internal/metrics"
	"github.com/fathomlabs/fathom/internal/preprocess"
	"github.com/fathomlabs/fathom/internal/provider"
	"github.com/fathomlabs/fathom/internal/tools"
	"github.com/fathomlabs/fathom/internal/tracing"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Diagnose a recorded incident",
	Long: `Diagnose runs the investigation loop against one recorded incident, or
against every discovered incident with --all.

Each issue is a directory containing an issue.md description plus artifacts
(logs, traces, source files). The delegate gathers evidence through the tool
gateway, a reviewer checks every draft diagnosis against the evidence ledger,
and the final report is rendered to the terminal.

Examples:
  # Diagnose one issue by ID (prefix match is accepted)
  fathom diagnose --issue checkout-timeout

  # Diagnose every discovered issue, four at a time
  fathom diagnose --all --concurrency 4

  # Replay a scripted scenario and keep the JSON report
  fathom diagnose --issue crash-loop --profile replay --output-dir ./reports
`,
	RunE: runDiagnose,
}

var (
	diagnoseIssue       string
	diagnoseAll         bool
	diagnoseProfile     string
	diagnoseOutputDir   string
	diagnosePlain       bool
	diagnoseConcurrency int
)

func init() {
	rootCmd.AddCommand(diagnoseCmd)

	diagnoseCmd.Flags().StringVarP(&diagnoseIssue, "issue", "i", "",
		"Issue ID to diagnose (unique prefix is enough)")
	diagnoseCmd.Flags().BoolVar(&diagnoseAll, "all", false,
		"Diagnose every discovered issue")
	diagnoseCmd.Flags().StringVar(&diagnoseProfile, "profile", "",
		"Model profile to use (defaults to default_profile from the config)")
	diagnoseCmd.Flags().StringVarP(&diagnoseOutputDir, "output-dir", "o", "",
		"Directory to write JSON reports into. If empty, reports are not persisted.")
	diagnoseCmd.Flags().BoolVar(&diagnosePlain, "plain", false,
		"Print the report as plain markdown without terminal styling")
	diagnoseCmd.Flags().IntVar(&diagnoseConcurrency, "concurrency", 2,
		"Number of issues diagnosed in parallel with --all")
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	if diagnoseIssue == "" && !diagnoseAll {
		return fmt.Errorf("either --issue or --all is required")
	}
	if diagnoseIssue != "" && diagnoseAll {
		return fmt.Errorf("--issue and --all are mutually exclusive")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := setupLog(logLevelFlags, cfg.LogLevel); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	// Signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	deps, cleanup, err := buildRunDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if diagnoseAll {
		return diagnoseAllIssues(ctx, cfg, deps)
	}

	iss, err := issue.Resolve(cfg.IssueDirs, diagnoseIssue)
	if err != nil {
		return err
	}

	report, err := diagnoseOne(ctx, cfg, deps, iss)
	if err != nil {
		return err
	}
	printReport(report)

	if report.BudgetLimited {
		return fmt.Errorf("%w: issue %s", errBudgetLimited, iss.ID)
	}
	return nil
}

func diagnoseAllIssues(ctx context.Context, cfg *config.Config, deps *runDeps) error {
	issues, err := issue.Discover(cfg.IssueDirs)
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		return fmt.Errorf("no issues found under %v", cfg.IssueDirs)
	}

	reports := make([]*diagnose.Report, len(issues))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(diagnoseConcurrency)

	for i := range issues {
		g.Go(func() error {
			iss, err := issue.Resolve(cfg.IssueDirs, issues[i].ID)
			if err != nil {
				return err
			}
			report, err := diagnoseOne(gctx, cfg, deps, iss)
			if err != nil {
				return fmt.Errorf("issue %s: %w", iss.ID, err)
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var limited int
	for _, report := range reports {
		printReport(report)
		if report.BudgetLimited {
			limited++
		}
	}
	if limited > 0 {
		return fmt.Errorf("%w: %d of %d runs", errBudgetLimited, limited, len(reports))
	}
	return nil
}

// diagnoseOne builds the per-issue tool gateway and engine, runs the
// diagnosis, and persists the JSON report when requested.
func diagnoseOne(ctx context.Context, cfg *config.Config, deps *runDeps, iss *issue.Issue) (*diagnose.Report, error) {
	pipeline, err := buildPipeline(cfg)
	if err != nil {
		return nil, err
	}
	registry := buildRegistry(cfg, iss, deps.store, pipeline)

	engine, err := diagnose.NewEngine(diagnose.Options{
		Config:   cfg,
		Provider: deps.provider,
		Registry: registry,
		Store:    deps.store,
		Audit:    deps.audit,
		Metrics:  deps.metrics,
	})
	if err != nil {
		return nil, err
	}

	report, err := engine.Run(ctx, iss)
	if err != nil {
		return nil, err
	}

	if diagnoseOutputDir != "" {
		if err := writeReportFile(report, iss.ID); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// runDeps are the dependencies shared across issue runs in one invocation.
type runDeps struct {
	provider provider.Provider
	store    *knowledge.Store
	audit    *audit.Logger
	metrics  *metrics.Metrics
}

func buildRunDeps(ctx context.Context, cfg *config.Config) (*runDeps, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	store := knowledge.Empty()
	if cfg.Knowledge.Dir != "" {
		loaded, err := knowledge.Load(cfg.Knowledge.Dir)
		if err != nil {
			return nil, cleanup, err
		}
		store = loaded
	}

	prov, err := buildProvider(cfg, diagnoseProfile)
	if err != nil {
		return nil, cleanup, err
	}

	deps := &runDeps{provider: prov, store: store}

	if cfg.AuditLogPath != "" {
		auditLogger, err := audit.NewLogger(cfg.AuditLogPath, uuid.NewString())
		if err != nil {
			return nil, cleanup, err
		}
		deps.audit = auditLogger
		cleanups = append(cleanups, func() { _ = auditLogger.Close() })
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		deps.metrics = metrics.NewMetrics(reg)
		srv := metrics.NewServer(cfg.Metrics.Addr, reg)
		srv.Start()
		cleanups = append(cleanups, func() { _ = srv.Shutdown(context.Background()) })
	}

	if cfg.Tracing.Enabled {
		tp, err := tracing.NewTracingProvider(tracing.Config{
			Enabled:   true,
			Endpoint:  cfg.Tracing.Endpoint,
			TLSCAPath: cfg.Tracing.TLSCAPath,
		})
		if err != nil {
			return nil, cleanup, err
		}
		cleanups = append(cleanups, func() { _ = tp.Shutdown(context.Background()) })
	}

	return deps, cleanup, nil
}

// buildProvider resolves the model profile and wraps the delegate with
// bounded retries.
func buildProvider(cfg *config.Config, profileName string) (provider.Provider, error) {
	name := profileName
	if name == "" {
		name = cfg.DefaultProfile
	}
	profile, ok := cfg.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown model profile %q", name)
	}

	var inner provider.Provider
	switch profile.Provider {
	case "anthropic":
		p, err := provider.NewAnthropicProvider(provider.Config{
			Model:       profile.Model,
			MaxTokens:   profile.MaxTokens,
			Temperature: profile.Temperature,
		})
		if err != nil {
			return nil, err
		}
		inner = p
	case "scripted":
		scenario, err := provider.LoadScenario(profile.ScenarioPath)
		if err != nil {
			return nil, err
		}
		inner = provider.NewScripted(scenario)
	default:
		return nil, fmt.Errorf("profile %q: unknown provider %q", name, profile.Provider)
	}

	return provider.NewRetrying(inner, cfg.Retry.Attempts, cfg.Retry.BaseDelay()), nil
}

// buildPipeline assembles the artifact preprocessing pipeline from the
// masking configuration.
func buildPipeline(cfg *config.Config) (*preprocess.Pipeline, error) {
	if !cfg.Masking.Enabled {
		return preprocess.NewPipeline(preprocess.NoopStage{})
	}

	rules := preprocess.DefaultMaskRules()
	for _, rc := range cfg.Masking.Rules {
		pattern, err := regexp.Compile(rc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("masking rule %q: invalid pattern: %w", rc.Name, err)
		}
		rules = append(rules, preprocess.MaskRule{
			Name:        rc.Name,
			Pattern:     pattern,
			Replacement: rc.Replacement,
		})
	}
	return preprocess.NewPipeline(preprocess.NewRegexMasker(rules))
}

// buildRegistry wires the tool gateway for one issue directory.
func buildRegistry(cfg *config.Config, iss *issue.Issue, store *knowledge.Store, pipeline *preprocess.Pipeline) *tools.Registry {
	registry := tools.NewRegistry()
	registry.Register(tools.NewGlobTool(iss.Dir))
	registry.Register(tools.NewGrepTool(iss.Dir, pipeline))
	registry.Register(tools.NewReadTool(iss.Dir, pipeline))
	if len(cfg.Analyzer.Command) > 0 {
		registry.Register(tools.NewAnalyzeCodeTool(iss.Dir, cfg.Analyzer.Command))
	}
	if cfg.Knowledge.Dir != "" {
		registry.Register(tools.NewLoadKnowledgeTool(store))
	}
	return registry
}

func writeReportFile(report *diagnose.Report, issueID string) error {
	if err := os.MkdirAll(diagnoseOutputDir, 0o750); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	data, err := report.JSON()
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}
	path := filepath.Join(diagnoseOutputDir, issueID+".report.json")
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
