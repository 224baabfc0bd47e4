package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dataprep/internal/engine"
	"github.com/ajitpratap0/dataprep/internal/job"
	"github.com/ajitpratap0/dataprep/pkg/callback"
	"github.com/ajitpratap0/dataprep/pkg/config"
	"github.com/ajitpratap0/dataprep/pkg/logger"
	"github.com/ajitpratap0/dataprep/pkg/metrics"
	"github.com/ajitpratap0/dataprep/pkg/observability"
	"github.com/ajitpratap0/dataprep/pkg/rule"
	"github.com/ajitpratap0/dataprep/pkg/snapshot"
)

var version = "0.1.0"

func main() {
	var settingsFile, metricsFile string
	var trace bool

	root := &cobra.Command{
		Use:   "dataprep",
		Short: "Dataprep - rule based dataset preparation",
		Long: `Dataprep applies a list of declarative rules to a dataset and its upstream
datasets, within row, parallelism and time limits, and persists the result as a snapshot.
The caller is notified of the outcome through an HTTP callback.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&settingsFile, "config", "", "Path to a settings file (optional, DATAPREP_* environment variables also apply)")
	root.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write job metrics to this Prometheus textfile (overrides metrics.textfile_path)")
	root.PersistentFlags().BoolVar(&trace, "trace", false, "Export trace spans to stderr (overrides tracing.enabled)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Dataprep v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			fmt.Printf("Engines: %v\n", engine.Kinds())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "parse <rule>...",
		Short: "Parse rule strings and print them as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printRules(cmd, args)
		},
	})

	var bundleFile string
	runCmd := &cobra.Command{
		Use:   "run [prepProperties datasetInfo snapshotInfo callbackInfo]",
		Short: "Run a preparation job",
		Long: `Run a preparation job described by four JSON payloads, or by a job bundle.

Examples:
  dataprep run '{"polaris.dataprep.etl.timeout": 600}' '{"importType": "FILE", ...}' '{...}' '{"port": 8180}'
  dataprep run --job job.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			payloads, err := loadPayloads(bundleFile, args)
			if err != nil {
				return err
			}
			settings, err := config.LoadSettings(settingsFile)
			if err != nil {
				return err
			}
			if metricsFile != "" {
				settings.Metrics.TextfilePath = metricsFile
			}
			if trace {
				settings.Tracing.Enabled = true
			}
			return runJob(cmd.Context(), settings, payloads)
		},
	}
	runCmd.Flags().StringVar(&bundleFile, "job", "", "Path to a YAML or JSON job bundle holding the four payloads")
	root.AddCommand(runCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadPayloads(bundleFile string, args []string) (*config.Payloads, error) {
	if bundleFile != "" {
		if len(args) != 0 {
			return nil, fmt.Errorf("--job cannot be combined with payload arguments")
		}
		return config.LoadBundle(bundleFile)
	}
	if len(args) != 4 {
		return nil, fmt.Errorf("expected 4 payloads (prepProperties datasetInfo snapshotInfo callbackInfo), got %d", len(args))
	}
	return config.DecodePayloads([]byte(args[0]), []byte(args[1]), []byte(args[2]), []byte(args[3]))
}

func runJob(ctx context.Context, settings *config.Settings, payloads *config.Payloads) error {
	if err := logger.Init(logger.Config{
		Level:       settings.Log.Level,
		Development: settings.Log.Development,
		Encoding:    settings.Log.Encoding,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.Get()
	defer func() { _ = logger.Sync() }()

	shutdown, err := observability.Init(observability.TracingConfig{
		Enabled:        settings.Tracing.Enabled,
		ServiceName:    settings.Tracing.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	notifier, err := callback.NewNotifier(settings.Callback, log)
	if err != nil {
		return err
	}
	runner := job.NewRunner(job.Config{
		Writer:               snapshot.NewWriter(settings.Storage, log),
		Notifier:             notifier,
		CoercionFailureLimit: settings.Engine.CoercionFailureLimit,
		Logger:               log,
	})

	log.Info("starting job",
		zap.String("dataset", payloads.DatasetInfo.OrigTeddyDsID),
		zap.String("snapshot", payloads.SnapshotInfo.SsName),
		zap.Int64("limit_rows", payloads.PrepProperties.LimitRows),
		zap.Int("cores", payloads.PrepProperties.Cores),
		zap.Duration("timeout", payloads.PrepProperties.Timeout()))

	res := runner.Run(ctx, payloads)

	if path := settings.Metrics.TextfilePath; path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			log.Warn("failed to write metrics", zap.String("path", path), zap.Error(err))
		}
	}

	out, err := json.Marshal(map[string]any{
		"status":           res.Status,
		"snapshotId":       res.SnapshotID,
		"snapshot":         res.Snapshot,
		"coercionFailures": res.CoercionFailures,
		"durationMs":       res.Duration.Milliseconds(),
	})
	if err == nil {
		fmt.Println(string(out))
	}
	return res.Err
}

type parsedRule struct {
	Index     int       `json:"index"`
	Verb      rule.Verb `json:"verb"`
	Canonical string    `json:"canonical"`
	Rule      rule.Rule `json:"rule"`
}

func printRules(cmd *cobra.Command, args []string) error {
	rules, err := rule.ParseAll(args)
	if err != nil {
		return err
	}
	out := make([]parsedRule, len(rules))
	for i, r := range rules {
		out[i] = parsedRule{Index: i, Verb: r.Verb(), Canonical: r.String(), Rule: r}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
