// Package main — cmd/aires/main.go
//
// AIRES entrypoint.
//
// Subcommands:
//
//	aires run                 start the Watchdog and serve until a signal arrives.
//	aires once <file>         run the pipeline once against a single file, print the booklet path.
//	aires status              print the Health Registry diagnostic report and exit.
//	aires config get <section.key>         print one config value.
//	aires config set <section.key> <v>     rewrite the config file in place.
//
// Startup sequence (run):
//  1. Load and validate config.
//  2. Initialise structured logger (zap).
//  3. Build metrics registry.
//  4. Build Alerting Sink, Health Registry.
//  5. Build LLM Gateway/Load Balancer, Stage Executors, Orchestrator.
//  6. Build Persistence Store.
//  7. Register health probes (config, persistence, gateway, error_rate).
//  8. Start the metrics HTTP server, open the Watchdog ledger.
//  9. Start the Watchdog; block on SIGINT/SIGTERM.
//
// Shutdown: cancel the root context, the Watchdog drains in-flight jobs
// (bounded 30s), close the ledger, flush the logger.
//
// Exit codes: 0 success, 2 config error, 3 unhealthy, 4 bad input.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aires-hq/aires/internal/alerting"
	"github.com/aires-hq/aires/internal/balancer"
	"github.com/aires-hq/aires/internal/booklet"
	"github.com/aires-hq/aires/internal/config"
	"github.com/aires-hq/aires/internal/health"
	"github.com/aires-hq/aires/internal/llm"
	"github.com/aires-hq/aires/internal/metrics"
	"github.com/aires-hq/aires/internal/model"
	"github.com/aires-hq/aires/internal/orchestrator"
	"github.com/aires-hq/aires/internal/parsers"
	"github.com/aires-hq/aires/internal/persistence"
	"github.com/aires-hq/aires/internal/stages"
	"github.com/aires-hq/aires/internal/watchdog"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 4
	}

	configPath := "./config/aires.ini"
	if v := os.Getenv("AIRES_CONFIG"); v != "" {
		configPath = v
	}

	switch args[0] {
	case "run":
		return runDaemon(configPath)
	case "once":
		if len(args) < 2 {
			usage()
			return 4
		}
		return runOnce(configPath, args[1])
	case "status":
		return runStatus(configPath)
	case "config":
		return runConfigCmd(configPath, args[1:])
	default:
		usage()
		return 4
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: aires <run|once FILE|status|config get SECTION.KEY|config set SECTION.KEY VALUE>")
}

func buildLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	return cfg.Build()
}

// components bundles every wired dependency shared by run/once/status.
type components struct {
	cfg     config.Config
	store   *config.Store
	log     *zap.Logger
	m       *metrics.Metrics
	sink    *alerting.Sink
	reg     *health.Registry
	bal     *balancer.Balancer
	orch    *orchestrator.Orchestrator
	persist *persistence.Store
}

func wire(configPath string) (*components, error) {
	store, err := config.NewStore(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg := store.Get()

	log, err := buildLogger()
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	m := metrics.NewMetrics()
	sink := alerting.NewSink(alerting.Config{
		Enabled:        cfg.Alerting.Enabled,
		ConsoleAlerts:  cfg.Alerting.ConsoleAlerts,
		FileAlerts:     cfg.Alerting.FileAlerts,
		WindowsEventLog: cfg.Alerting.WindowsEventLog,
		AlertDirectory: cfg.Directories.AlertDirectory,
	}, log, m)
	go sink.Run(nil)

	reg := health.NewRegistry(5*time.Second, sink)

	var bal *balancer.Balancer
	endpointCfg := balancer.EndpointConfig{
		ID: "default", BaseURL: cfg.AIServices.OllamaBaseUrl, Weight: 1,
		MaxConcurrent: 4, Timeout: cfg.AIServices.OllamaTimeout, MaxRetries: cfg.Pipeline.MaxRetries,
	}
	if cfg.AIServices.EnableGpuLoadBalancing {
		bal = balancer.New([]balancer.EndpointConfig{endpointCfg}, 30*time.Second, log, m)
	} else {
		bal = balancer.NewSingleEndpoint(endpointCfg, 30*time.Second, log, m)
	}

	params := llm.GenerateParams{
		Temperature: cfg.AIServices.ModelTemperature,
		TopP:        cfg.AIServices.ModelTopP,
		NumPredict:  cfg.AIServices.ModelMaxTokens,
	}

	orch := orchestrator.New(
		parsers.NewGenericParser(),
		&stages.DocAnalyzer{Gen: bal, Model: cfg.AIServices.MistralModel, Params: params},
		&stages.ContextAnalyzer{Gen: bal, Model: cfg.AIServices.DeepSeekModel, Params: params},
		&stages.PatternValidator{Gen: bal, Model: cfg.AIServices.CodeGemmaModel, Params: params},
		&stages.Synthesizer{Gen: bal, Model: cfg.AIServices.Gemma2Model, Params: params},
		cfg.Pipeline.EnableParallelProcessing,
		cfg.AIServices.OllamaTimeout,
		log, m,
	)

	persist := persistence.NewStore(cfg.Directories.OutputDirectory, log, m)

	reg.Register("config", func(ctx context.Context) model.HealthStatus {
		return healthFromViolations(store.LastViolations())
	})
	reg.Register("persistence", func(ctx context.Context) model.HealthStatus {
		return persist.HealthCheck()
	})
	reg.Register("gateway", func(ctx context.Context) model.HealthStatus {
		timeout := 5 * time.Second
		gw := llm.NewGateway(cfg.AIServices.OllamaBaseUrl, timeout, 0, log, m)
		return gw.HealthCheckService(ctx, timeout)
	})
	reg.Register("error_rate", health.NewErrorRateProbe(m, cfg.Alerting.ErrorRateThresholdPercent, sink).Check)

	return &components{cfg: cfg, store: store, log: log, m: m, sink: sink, reg: reg, bal: bal, orch: orch, persist: persist}, nil
}

func runDaemon(configPath string) int {
	c, err := wire(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 2
	}
	defer c.log.Sync() //nolint:errcheck

	c.log.Info("AIRES starting", zap.String("config", configPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := c.m.ServeMetrics(ctx, ":9090"); err != nil {
			c.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	var ledger *watchdog.Ledger
	ledgerPath := filepath.Join(c.cfg.Directories.TempDirectory, "watchdog.db")
	if err := os.MkdirAll(c.cfg.Directories.TempDirectory, 0o755); err == nil {
		if l, err := watchdog.OpenLedger(ledgerPath); err == nil {
			ledger = l
			defer ledger.Close() //nolint:errcheck
		} else {
			c.log.Warn("watchdog ledger unavailable, dedup-across-restart disabled", zap.Error(err))
		}
	}

	wd := watchdog.New(watchdog.Config{
		InputDirectory:     c.cfg.Directories.InputDirectory,
		ProcessedDirectory: filepath.Join(c.cfg.Directories.InputDirectory, "processed"),
		FailedDirectory:    filepath.Join(c.cfg.Directories.InputDirectory, "failed"),
		PollingInterval:    time.Duration(c.cfg.Watchdog.PollingIntervalSeconds) * time.Second,
		FileAgeThreshold:   time.Duration(c.cfg.Watchdog.FileAgeThresholdMinutes) * time.Minute,
		MaxFileSizeMB:      c.cfg.Processing.MaxFileSizeMB,
		AllowedExtensions:  c.cfg.Processing.AllowedExtensions,
		MaxQueueSize:       c.cfg.Watchdog.MaxQueueSize,
		ProcessingThreads:  c.cfg.Watchdog.ProcessingThreads,
		MaxRetries:         c.cfg.Pipeline.MaxRetries,
		RetryDelay:         c.cfg.Pipeline.RetryDelay,
	}, parsers.NewGenericParser(), c.orch, c.persist, c.sink, ledger, c.log, c.m)

	wdDone := make(chan struct{})
	go func() {
		defer close(wdDone)
		if err := wd.Run(ctx); err != nil {
			c.log.Error("watchdog exited", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	c.log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	<-wdDone // the watchdog's own drain is bounded at 30s.

	c.log.Info("AIRES shutdown complete")
	return 0
}

func runOnce(configPath, inputFile string) int {
	c, err := wire(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 2
	}
	defer c.log.Sync() //nolint:errcheck

	raw, err := os.ReadFile(inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot read %s: %v\n", inputFile, err)
		return 4
	}

	bk, err := c.orch.Run(context.Background(), orchestrator.Request{
		RawCompilerOutput: raw,
		SourceFile:        filepath.Base(inputFile),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipeline failed: %v\n", err)
		return 3
	}

	rendered := booklet.Render(bk)
	relPath := strings.TrimSuffix(filepath.Base(inputFile), filepath.Ext(inputFile)) + ".md"
	path, err := c.persist.Save(relPath, []byte(rendered))
	if err != nil {
		fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
		return 3
	}

	fmt.Println(path)
	return 0
}

func runStatus(configPath string) int {
	c, err := wire(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 2
	}
	defer c.log.Sync() //nolint:errcheck

	report := c.reg.CheckAll(context.Background(), 10*time.Second)
	fmt.Print(report.Diagnostics())

	if report.Aggregate == model.HealthUnhealthy {
		return 3
	}
	return 0
}

func runConfigCmd(configPath string, args []string) int {
	if len(args) == 0 {
		usage()
		return 4
	}

	store, err := config.NewStore(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 2
	}

	switch args[0] {
	case "get":
		if len(args) < 2 {
			usage()
			return 4
		}
		section, key, ok := splitDottedKey(args[1])
		if !ok {
			usage()
			return 4
		}
		value, err := store.GetValue(section, key)
		if err != nil {
			fmt.Fprintf(os.Stderr, "get failed: %v\n", err)
			return 4
		}
		fmt.Println(value)
		return 0
	case "set":
		if len(args) < 3 {
			usage()
			return 4
		}
		section, key, ok := splitDottedKey(args[1])
		if !ok {
			usage()
			return 4
		}
		if err := store.Set(section, key, args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "set failed: %v\n", err)
			return 2
		}
		return 0
	default:
		usage()
		return 4
	}
}

// splitDottedKey splits "section.key" into its two parts.
func splitDottedKey(dotted string) (section, key string, ok bool) {
	i := strings.Index(dotted, ".")
	if i < 0 {
		return "", "", false
	}
	return dotted[:i], dotted[i+1:], true
}

// healthFromViolations maps the config Store's last-known Validate
// result onto a probe status: any critical violation is Unhealthy, a
// non-critical one is Degraded, otherwise Healthy.
func healthFromViolations(v config.Violations) model.HealthStatus {
	status := model.HealthStatus{Component: "config"}
	switch {
	case len(v.Critical) > 0:
		status.Status = model.HealthUnhealthy
		status.FailureReasons = v.Critical
	case len(v.NonCritical) > 0:
		status.Status = model.HealthDegraded
		status.FailureReasons = v.NonCritical
	default:
		status.Status = model.HealthHealthy
	}
	return status
}
