package operations

import (
	"context"
	"fmt"
	"log/slog"

	"segcli/internal/artifacts"
	"segcli/internal/cluster"
	"segcli/internal/dataset"
	"segcli/internal/rfm"
)

// Step IDs, also used as span and log labels.
const (
	StepIDLoadData      = "load_data"
	StepIDBuildFeatures = "build_features"
	StepIDFitScaler     = "fit_scaler"
	StepIDLoadScaler    = "load_scaler"
	StepIDSegment       = "segment"
	StepIDAnomaly       = "anomaly"
	StepIDPersist       = "persist"
)

// SegmentationPipeline returns the steps of the segmentation training run:
// load, aggregate, fit the scaler, fit K-Means and persist everything.
func SegmentationPipeline(logger *slog.Logger) []Step {
	return []Step{
		&LoadDataStep{logger: logger},
		&BuildFeaturesStep{logger: logger},
		&FitScalerStep{logger: logger},
		&SegmentStep{logger: logger},
		&PersistStep{logger: logger, segmentation: true},
	}
}

// AnomalyPipeline returns the steps of the anomaly training run. It reuses
// the scaler fitted by the segmentation run instead of refitting.
func AnomalyPipeline(logger *slog.Logger) []Step {
	return []Step{
		&LoadDataStep{logger: logger},
		&BuildFeaturesStep{logger: logger},
		&LoadScalerStep{logger: logger},
		&AnomalyStep{logger: logger},
		&PersistStep{logger: logger},
	}
}

// LoadDataStep reads and cleans the raw transaction log.
type LoadDataStep struct {
	logger *slog.Logger
}

func (s *LoadDataStep) ID() string   { return StepIDLoadData }
func (s *LoadDataStep) Name() string { return "Load transactions" }

func (s *LoadDataStep) Validate(state *State) error {
	if state.Config.DataPath == "" {
		return fmt.Errorf("no input data path configured")
	}
	return nil
}

func (s *LoadDataStep) Execute(ctx context.Context, state *State) error {
	transactions, stats, err := dataset.LoadClean(state.Config.DataPath, s.logger)
	if err != nil {
		return err
	}
	state.Transactions = transactions
	state.CleanStats = stats
	return nil
}

// BuildFeaturesStep aggregates transactions into the per-customer table.
type BuildFeaturesStep struct {
	logger *slog.Logger
}

func (s *BuildFeaturesStep) ID() string   { return StepIDBuildFeatures }
func (s *BuildFeaturesStep) Name() string { return "Build RFM features" }

func (s *BuildFeaturesStep) Validate(state *State) error {
	if len(state.Transactions) == 0 {
		return fmt.Errorf("no transactions loaded")
	}
	return nil
}

func (s *BuildFeaturesStep) Execute(ctx context.Context, state *State) error {
	table, err := rfm.Build(state.Transactions, state.Config.SnapshotDate, s.logger)
	if err != nil {
		return err
	}
	state.Features = table
	state.Records = artifacts.RecordsFromTable(table)
	return nil
}

// FitScalerStep fits the winsorize+log+standardize transform and scales
// the feature matrix with it.
type FitScalerStep struct {
	logger *slog.Logger
}

func (s *FitScalerStep) ID() string   { return StepIDFitScaler }
func (s *FitScalerStep) Name() string { return "Fit feature scaler" }

func (s *FitScalerStep) Validate(state *State) error {
	if state.Features == nil || state.Features.Len() == 0 {
		return fmt.Errorf("no feature table built")
	}
	if !state.Config.WinsorBounds.IsValid() {
		return fmt.Errorf("invalid winsorization bounds")
	}
	return nil
}

func (s *FitScalerStep) Execute(ctx context.Context, state *State) error {
	scaler := rfm.NewScaler(state.Config.WinsorBounds)
	scaled, err := scaler.FitTransform(state.Features.Matrix())
	if err != nil {
		return err
	}
	state.Scaler = scaler
	state.Scaled = scaled
	s.logger.Info("fitted feature scaler",
		slog.Int("rows", len(scaled)),
		slog.Any("means", scaler.Means))
	return nil
}

// LoadScalerStep restores the persisted scaler and applies it to the
// feature matrix without refitting.
type LoadScalerStep struct {
	logger *slog.Logger
}

func (s *LoadScalerStep) ID() string   { return StepIDLoadScaler }
func (s *LoadScalerStep) Name() string { return "Load fitted scaler" }

func (s *LoadScalerStep) Validate(state *State) error {
	if state.Features == nil || state.Features.Len() == 0 {
		return fmt.Errorf("no feature table built")
	}
	if !state.Store.Status().Scaler {
		return fmt.Errorf("no fitted scaler in %s; run segmentation training first", state.Store.Dir())
	}
	return nil
}

func (s *LoadScalerStep) Execute(ctx context.Context, state *State) error {
	scaler, err := state.Store.LoadScaler()
	if err != nil {
		return err
	}
	scaled, err := scaler.Transform(state.Features.Matrix())
	if err != nil {
		return err
	}
	state.Scaler = scaler
	state.Scaled = scaled
	return nil
}

// SegmentStep fits the K-Means model, optionally sweeping k first, and
// names the resulting segments by monetary rank.
type SegmentStep struct {
	logger *slog.Logger
}

func (s *SegmentStep) ID() string   { return StepIDSegment }
func (s *SegmentStep) Name() string { return "Fit segmentation model" }

func (s *SegmentStep) Validate(state *State) error {
	if len(state.Scaled) == 0 {
		return fmt.Errorf("no scaled feature matrix")
	}
	if !state.Config.KMeans.IsValid() {
		return fmt.Errorf("invalid kmeans parameters")
	}
	return nil
}

func (s *SegmentStep) Execute(ctx context.Context, state *State) error {
	cfg := state.Config.KMeans

	if state.Config.TuneK {
		bestK, candidates, err := cluster.TuneK(ctx, state.Scaled, state.Config.KMin, state.Config.KMax, cfg, s.logger)
		if err != nil {
			return fmt.Errorf("tune k: %w", err)
		}
		s.logger.Info("selected cluster count",
			slog.Int("k", bestK),
			slog.Int("candidates", len(candidates)))
		cfg.K = bestK
	}

	model, labels, err := cluster.FitKMeans(state.Scaled, cfg, s.logger)
	if err != nil {
		return err
	}

	segments, err := cluster.AssignSegmentNames(model, rfm.FeatureMonetary)
	if err != nil {
		return err
	}

	if err := artifacts.ApplySegments(state.Records, labels, segments); err != nil {
		return err
	}

	state.KMeansModel = model
	state.KMeansLabels = labels
	state.SegmentMap = segments
	return nil
}

// AnomalyStep fits the DBSCAN model, optionally grid-searching eps and
// minPts, and flags noise points as anomalies. When a previously written
// customer table exists its segmentation columns carry over.
type AnomalyStep struct {
	logger *slog.Logger
}

func (s *AnomalyStep) ID() string   { return StepIDAnomaly }
func (s *AnomalyStep) Name() string { return "Fit anomaly model" }

func (s *AnomalyStep) Validate(state *State) error {
	if len(state.Scaled) == 0 {
		return fmt.Errorf("no scaled feature matrix")
	}
	if !state.Config.TuneDBSCAN && !state.Config.DBSCAN.IsValid() {
		return fmt.Errorf("invalid dbscan parameters")
	}
	return nil
}

func (s *AnomalyStep) Execute(ctx context.Context, state *State) error {
	cfg := state.Config.DBSCAN

	if state.Config.TuneDBSCAN {
		tuned, candidates, err := cluster.TuneDBSCAN(ctx, state.Scaled, cluster.DefaultEpsGrid(), cluster.DefaultMinPtsGrid(), s.logger)
		if err != nil {
			return fmt.Errorf("tune dbscan: %w", err)
		}
		s.logger.Info("selected density parameters",
			slog.Float64("eps", tuned.Eps),
			slog.Int("min_points", tuned.MinPoints),
			slog.Int("candidates", len(candidates)))
		cfg = tuned
	}

	model, labels, err := cluster.FitDBSCAN(state.Scaled, cfg, s.logger)
	if err != nil {
		return err
	}

	if err := artifacts.ApplyAnomalies(state.Records, labels); err != nil {
		return err
	}

	// Carry over segment columns so the table stays complete when the
	// anomaly run happens after segmentation.
	if state.Store.Status().Customers {
		prior, err := state.Store.LoadCustomers()
		if err != nil {
			return fmt.Errorf("load prior customer table: %w", err)
		}
		artifacts.MergeSegments(state.Records, prior)
	}

	state.DBSCANModel = model
	state.DBSCANLabels = labels
	return nil
}

// PersistStep writes the run's artifacts. Segmentation runs write the
// scaler, the model and the segment map; anomaly runs write the density
// model. Both write the customer table.
type PersistStep struct {
	logger       *slog.Logger
	segmentation bool
}

func (s *PersistStep) ID() string   { return StepIDPersist }
func (s *PersistStep) Name() string { return "Persist artifacts" }

func (s *PersistStep) Validate(state *State) error {
	if state.Store == nil {
		return fmt.Errorf("no artifact store configured")
	}
	if len(state.Records) == 0 {
		return fmt.Errorf("no customer records to persist")
	}
	return nil
}

func (s *PersistStep) Execute(ctx context.Context, state *State) error {
	if s.segmentation {
		if err := state.Store.SaveScaler(state.Scaler); err != nil {
			return err
		}
		if err := state.Store.SaveKMeans(state.KMeansModel); err != nil {
			return err
		}
		if err := state.Store.SaveSegmentMap(state.SegmentMap); err != nil {
			return err
		}
	}
	if state.DBSCANModel != nil {
		if err := state.Store.SaveDBSCAN(state.DBSCANModel); err != nil {
			return err
		}
	}
	return state.Store.SaveCustomers(state.Records)
}
