// Command segment-train runs the segmentation training pipeline: it
// loads a transaction log, builds per-customer RFM features, fits the
// scaler and the k-means model, and persists the artifact set the web
// server reads.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"segcli/internal/artifacts"
	"segcli/internal/cluster"
	"segcli/internal/config"
	"segcli/internal/infrastructure"
	"segcli/internal/operations"
	"segcli/internal/rfm"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Segmentation training failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	dataPath := flag.String("data", "", "transaction log (.csv or .xlsx); defaults to <data-dir>/transactions.csv")
	artifactsDir := flag.String("artifacts", "", "artifact output directory; defaults to the configured artifacts dir")
	snapshot := flag.String("snapshot", "", "recency snapshot date (YYYY-MM-DD); defaults to one day past the latest invoice")
	k := flag.Int("k", cluster.DefaultK, "number of clusters")
	seed := flag.Int64("seed", cluster.DefaultSeed, "random seed for centroid initialization")
	tuneK := flag.Bool("tune-k", false, "select k by silhouette score instead of using -k")
	kMin := flag.Int("k-min", 2, "smallest k tried when tuning")
	kMax := flag.Int("k-max", 8, "largest k tried when tuning")
	winsorLower := flag.Float64("winsor-lower", 0.01, "lower winsorization quantile")
	winsorUpper := flag.Float64("winsor-upper", 0.99, "upper winsorization quantile")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall run timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer infrastructure.CloseLogFile()

	// Batch run: spans and counters are recorded but nothing is exported.
	otelCfg := infrastructure.DefaultOTelConfig()
	otelCfg.MetricExporter = "none"
	providers, err := infrastructure.InitializeOTel(otelCfg, logger)
	if err != nil {
		return fmt.Errorf("initialize observability: %w", err)
	}
	metrics, err := infrastructure.CreateBusinessMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	pipelineCfg := operations.PipelineConfig{
		DataPath: *dataPath,
		KMeans: cluster.KMeansConfig{
			K:             *k,
			MaxIterations: cluster.DefaultMaxIterations,
			Tolerance:     cluster.DefaultTolerance,
			Seed:          *seed,
		},
		TuneK:        *tuneK,
		KMin:         *kMin,
		KMax:         *kMax,
		WinsorBounds: rfm.WinsorBounds{Lower: *winsorLower, Upper: *winsorUpper},
	}
	if pipelineCfg.DataPath == "" {
		pipelineCfg.DataPath = filepath.Join(cfg.Paths.DataDir, "transactions.csv")
	}
	if *snapshot != "" {
		snap, err := time.Parse("2006-01-02", *snapshot)
		if err != nil {
			return fmt.Errorf("parse snapshot date %q: %w", *snapshot, err)
		}
		pipelineCfg.SnapshotDate = snap
	}

	dir := *artifactsDir
	if dir == "" {
		dir = cfg.Paths.ArtifactsDir
	}
	store := artifacts.NewStore(dir, logger)
	state := operations.NewState(pipelineCfg, store)
	manager := operations.NewManagerWithMetrics(logger, metrics, operations.SegmentationPipeline(logger)...)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	defer providers.Shutdown(context.Background())

	start := time.Now()
	runErr := manager.Run(ctx, "segmentation", state)
	infrastructure.RecordPipelineRun(ctx, metrics, "segmentation", time.Since(start), runErr)
	if runErr != nil {
		return runErr
	}
	metrics.CustomersSegmented.Add(ctx, int64(len(state.Records)))

	logger.Info("segmentation training complete",
		slog.Int("rows_kept", state.CleanStats.KeptRows),
		slog.Int("customers", len(state.Records)),
		slog.Int("k", state.KMeansModel.K),
		slog.Float64("inertia", state.KMeansModel.Inertia),
		slog.String("artifacts_dir", store.Dir()),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}
