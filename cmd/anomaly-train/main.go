// Command anomaly-train runs the anomaly detection pipeline: it rebuilds
// the RFM features, scales them with the scaler persisted by a previous
// segmentation run, fits the DBSCAN model, and rewrites the customer
// table with anomaly flags while keeping the segment columns.
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
		slog.Error("Anomaly training failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	dataPath := flag.String("data", "", "transaction log (.csv or .xlsx); defaults to <data-dir>/transactions.csv")
	artifactsDir := flag.String("artifacts", "", "artifact directory holding the fitted scaler; defaults to the configured artifacts dir")
	snapshot := flag.String("snapshot", "", "recency snapshot date (YYYY-MM-DD); defaults to one day past the latest invoice")
	eps := flag.Float64("eps", cluster.DefaultEps, "DBSCAN neighborhood radius in scaled feature space")
	minPts := flag.Int("min-pts", cluster.DefaultMinPoints, "DBSCAN minimum neighborhood size for a core point")
	tune := flag.Bool("tune", false, "grid-search eps and min-pts instead of using the flags")
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
		DataPath:     *dataPath,
		DBSCAN:       cluster.DBSCANConfig{Eps: *eps, MinPoints: *minPts},
		TuneDBSCAN:   *tune,
		WinsorBounds: rfm.DefaultWinsorBounds(),
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
	manager := operations.NewManagerWithMetrics(logger, metrics, operations.AnomalyPipeline(logger)...)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	defer providers.Shutdown(context.Background())

	start := time.Now()
	runErr := manager.Run(ctx, "anomaly", state)
	infrastructure.RecordPipelineRun(ctx, metrics, "anomaly", time.Since(start), runErr)
	if runErr != nil {
		return runErr
	}
	metrics.AnomaliesFlagged.Add(ctx, int64(state.DBSCANModel.NumNoise))

	logger.Info("anomaly training complete",
		slog.Int("rows_kept", state.CleanStats.KeptRows),
		slog.Int("customers", len(state.Records)),
		slog.Float64("eps", state.DBSCANModel.Eps),
		slog.Int("min_pts", state.DBSCANModel.MinPoints),
		slog.Int("clusters", state.DBSCANModel.NumClusters),
		slog.Int("anomalies", state.DBSCANModel.NumNoise),
		slog.String("artifacts_dir", store.Dir()),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}
