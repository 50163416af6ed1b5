package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/viniciushammett/threshold-learner/internal/api"
	"github.com/viniciushammett/threshold-learner/internal/config"
	"github.com/viniciushammett/threshold-learner/internal/ingest"
	"github.com/viniciushammett/threshold-learner/internal/k8s"
	"github.com/viniciushammett/threshold-learner/internal/learner"
	"github.com/viniciushammett/threshold-learner/internal/logger"
	"github.com/viniciushammett/threshold-learner/internal/metrics"
	"github.com/viniciushammett/threshold-learner/internal/scheduler"
	"github.com/viniciushammett/threshold-learner/internal/source"
	"github.com/viniciushammett/threshold-learner/internal/store"
	"github.com/viniciushammett/threshold-learner/internal/tracing"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	log := logger.NewFile(env("LOG_LEVEL", "info"), os.Getenv("LOG_FILE"))

	root := &cobra.Command{
		Use:           "threshold-learner",
		Short:         "Learns alerting thresholds from metric history (MAPE-K analyze/plan)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var cfgPath string
	root.PersistentFlags().StringVar(&cfgPath, "config", env("CONFIG_PATH", "configs/config.yaml"), "YAML config path")

	root.AddCommand(serveCmd(log, &cfgPath), importCmd(log, &cfgPath), exportCmd(&cfgPath), historyCmd(&cfgPath))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("threshold-learner %s (%s) %s\n", version, commit, date)
		},
	})

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	return cfg, nil
}

func serveCmd(log *logger.Logger, cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, optimization scheduler and metric pollers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			log.Info().Str("config", *cfgPath).Str("addr", cfg.Server.Addr).Msg("starting threshold-learner")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			closer, err := tracing.Init(ctx, tracing.Config{
				Enabled:        cfg.Tracing.Enabled,
				ServiceName:    cfg.Tracing.ServiceName,
				ServiceVersion: version,
				Environment:    cfg.Tracing.Environment,
				OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
				SampleRatio:    cfg.Tracing.SampleRatio,
			})
			if err != nil {
				log.Error().Err(err).Msg("tracing init failed")
				closer = func(context.Context) error { return nil }
			}
			defer func() { _ = closer(context.Background()) }()

			metrics.MustRegister()

			db, err := store.Open(cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			opt, err := learner.New(cfg.Learner,
				learner.WithLogger(log.With().Str("component", "learner").Logger()),
				learner.WithObserver(metrics.Observer{}),
			)
			if err != nil {
				return err
			}
			if err := restore(log, db, opt); err != nil {
				return err
			}

			schedCfg := scheduler.Config{
				Optimize:  cfg.Schedule.Optimize,
				Anomalies: cfg.Schedule.Anomalies,
			}
			if k := cfg.Kubernetes; k.Enabled {
				cs, err := k8s.NewClient(k.Kubeconfig, k.Context)
				if err != nil {
					return fmt.Errorf("kubernetes client: %w", err)
				}
				schedCfg.Publisher = k8s.NewPublisher(cs, k.Namespace, k.ConfigMap)
				log.Info().Str("namespace", k.Namespace).Str("configmap", k.ConfigMap).Msg("publishing thresholds to configmap")
			}
			sched := scheduler.New(log, opt, db, schedCfg)
			errc := make(chan error, 2)
			go func() { errc <- sched.Run(ctx) }()

			if p := cfg.Sources.Prometheus; len(p.Queries) > 0 {
				targets := make([]source.Target, len(p.Queries))
				for i, q := range p.Queries {
					targets[i] = source.Target{Parameter: q.Parameter, Query: q.Query}
				}
				go source.NewPrometheus(p.URL, p.Timeout).Poll(ctx, log, p.Interval, targets, opt.AddMetric)
			}
			if dir := cfg.Sources.Spool.Dir; dir != "" {
				go func() {
					if err := source.NewSpool(dir, log, opt.ImportMetrics).Run(ctx); err != nil {
						log.Error().Err(err).Str("dir", dir).Msg("spool watcher failed")
					}
				}()
			}

			srv, err := api.NewServer(api.Deps{
				Log: log, Optimizer: opt, Optimize: sched.OptimizeNow,
			}, api.Config{
				Addr:            cfg.Server.Addr,
				AuthToken:       cfg.Server.AuthToken,
				AuthTokenBcrypt: cfg.Server.AuthTokenBcrypt,
				JWTSecretB64:    cfg.Server.JWTSecretB64,
				CORSOrigins:     cfg.Server.CORSOrigins,
			})
			if err != nil {
				return err
			}
			go func() { errc <- srv.Run(ctx) }()

			select {
			case <-ctx.Done():
				log.Warn().Msg("signal received, shutting down...")
			case err = <-errc:
				if err != nil {
					log.Error().Err(err).Msg("component stopped")
				}
				stop()
			}
			// última fotografia antes de sair
			sched.Snapshot()
			log.Info().Msg("shutdown complete")
			return err
		},
	}
}

// restore replays stored samples and recommendations into opt.
func restore(log *logger.Logger, db *store.Store, opt *learner.Optimizer) error {
	samples, err := db.LoadSamples()
	if err != nil {
		return fmt.Errorf("load samples: %w", err)
	}
	n, err := opt.RestoreMetrics(samples)
	if err != nil {
		log.Warn().Err(err).Msg("some stored samples were rejected")
	}
	recs, err := db.LoadRecommendations()
	if err != nil {
		return fmt.Errorf("load recommendations: %w", err)
	}
	opt.RestoreRecommendations(recs)
	log.Info().Int("samples", n).Int("parameters", len(samples)).Int("recommendations", len(recs)).Msg("state restored")
	return nil
}

func importCmd(log *logger.Logger, cfgPath *string) *cobra.Command {
	var file string
	var optimize bool
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Backfill samples from a CSV file (parameter,value,timestamp) into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			data, err := ingest.ReadCSV(f, time.Now)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}

			db, err := store.Open(cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer db.Close()
			total := 0
			for p, ss := range data {
				if err := db.AppendSamples(p, ss); err != nil {
					return err
				}
				total += len(ss)
			}
			log.Info().Str("file", file).Int("parameters", len(data)).Int("samples", total).Msg("samples imported")
			if !optimize {
				return nil
			}

			opt, err := learner.New(cfg.Learner, learner.WithLogger(log.Logger))
			if err != nil {
				return err
			}
			if err := restore(log, db, opt); err != nil {
				return err
			}
			recs := scheduler.New(log, opt, db, scheduler.Config{}).OptimizeNow(cmd.Context())
			return printJSON(recs)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "CSV file to import")
	cmd.Flags().BoolVar(&optimize, "optimize", false, "run an optimization after importing and print the recommendations")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func exportCmd(cfgPath *string) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the stored thresholds as parameter -> value",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			db, err := store.Open(cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer db.Close()
			recs, err := db.LoadRecommendations()
			if err != nil {
				return err
			}
			thresholds := make(map[string]float64, len(recs))
			for _, r := range recs {
				thresholds[r.Parameter] = r.Value
			}
			switch format {
			case "json":
				return printJSON(thresholds)
			case "yaml":
				return yaml.NewEncoder(os.Stdout).Encode(thresholds)
			default:
				return fmt.Errorf("unknown format %q (json|yaml)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format: json|yaml")
	return cmd
}

func historyCmd(cfgPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print stored optimization runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			db, err := store.Open(cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer db.Close()
			hist, err := db.ListHistory(limit)
			if err != nil {
				return err
			}
			return printJSON(hist)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max entries (0 = all)")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
