package cluster

import (
	"fmt"
	"log/slog"
)

// NoiseLabel marks points DBSCAN could not attach to any dense region.
// Noise points are the anomalies of the pipeline.
const NoiseLabel = -1

// Defaults from the reference pipeline: eps in scaled feature space,
// minPts for the core-point neighborhood.
const (
	DefaultEps       = 0.5
	DefaultMinPoints = 5
)

// DBSCANConfig holds the density model parameters.
type DBSCANConfig struct {
	Eps       float64 `json:"eps"`
	MinPoints int     `json:"min_points"`
}

// DefaultDBSCANConfig returns the standard anomaly detection parameters.
func DefaultDBSCANConfig() DBSCANConfig {
	return DBSCANConfig{Eps: DefaultEps, MinPoints: DefaultMinPoints}
}

// IsValid checks the density parameters.
func (c DBSCANConfig) IsValid() bool {
	return c.Eps > 0 && c.MinPoints >= 1
}

// DBSCANModel is a fitted density model. Only core points are retained:
// they are sufficient to decide whether a new vector falls inside a dense
// region or counts as an anomaly.
type DBSCANModel struct {
	Eps         float64     `json:"eps"`
	MinPoints   int         `json:"min_points"`
	NumClusters int         `json:"num_clusters"`
	NumNoise    int         `json:"num_noise"`
	CorePoints  [][]float64 `json:"core_points"`
	CoreLabels  []int       `json:"core_labels"`
}

// FitDBSCAN runs density-based clustering over the scaled feature vectors
// and returns the model plus per-point labels in input order: NoiseLabel
// for anomalies, otherwise a cluster index in [0, NumClusters).
func FitDBSCAN(points [][]float64, cfg DBSCANConfig, logger *slog.Logger) (*DBSCANModel, []int, error) {
	if !cfg.IsValid() {
		return nil, nil, fmt.Errorf("invalid dbscan config: eps=%v min_points=%d", cfg.Eps, cfg.MinPoints)
	}
	if len(points) == 0 {
		return nil, nil, fmt.Errorf("no points to cluster")
	}

	epsSq := cfg.Eps * cfg.Eps
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = NoiseLabel
	}
	visited := make([]bool, len(points))
	isCore := make([]bool, len(points))

	regionQuery := func(i int) []int {
		var neighbors []int
		for j, p := range points {
			if squaredDistance(points[i], p) <= epsSq {
				neighbors = append(neighbors, j)
			}
		}
		return neighbors
	}

	clusterID := 0
	for i := range points {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := regionQuery(i)
		if len(neighbors) < cfg.MinPoints {
			continue // stays noise unless a later expansion claims it as a border point
		}

		isCore[i] = true
		labels[i] = clusterID

		// Expand the cluster breadth-first over density-reachable points.
		queue := append([]int(nil), neighbors...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]

			if labels[j] == NoiseLabel {
				labels[j] = clusterID // border point
			}
			if visited[j] {
				continue
			}
			visited[j] = true

			jNeighbors := regionQuery(j)
			if len(jNeighbors) >= cfg.MinPoints {
				isCore[j] = true
				labels[j] = clusterID
				queue = append(queue, jNeighbors...)
			}
		}
		clusterID++
	}

	model := &DBSCANModel{
		Eps:         cfg.Eps,
		MinPoints:   cfg.MinPoints,
		NumClusters: clusterID,
	}
	for i := range points {
		if labels[i] == NoiseLabel {
			model.NumNoise++
		}
		if isCore[i] {
			model.CorePoints = append(model.CorePoints, cloneVector(points[i]))
			model.CoreLabels = append(model.CoreLabels, labels[i])
		}
	}

	logger.Info("fitted dbscan model",
		slog.Float64("eps", cfg.Eps),
		slog.Int("min_points", cfg.MinPoints),
		slog.Int("points", len(points)),
		slog.Int("clusters", model.NumClusters),
		slog.Int("noise", model.NumNoise))

	return model, labels, nil
}

// IsAnomaly reports whether a scaled vector falls outside every dense
// region: no core point lies within eps of it.
func (m *DBSCANModel) IsAnomaly(vector []float64) bool {
	label := m.PredictLabel(vector)
	return label == NoiseLabel
}

// PredictLabel assigns a scaled vector to the cluster of the nearest core
// point within eps, or NoiseLabel when none is close enough.
func (m *DBSCANModel) PredictLabel(vector []float64) int {
	epsSq := m.Eps * m.Eps
	best := NoiseLabel
	bestDist := epsSq
	for i, core := range m.CorePoints {
		d := squaredDistance(vector, core)
		if d <= bestDist {
			best = m.CoreLabels[i]
			bestDist = d
		}
	}
	return best
}

// NoiseShare returns the fraction of training points labeled as noise.
func (m *DBSCANModel) NoiseShare(totalPoints int) float64 {
	if totalPoints == 0 {
		return 0
	}
	return float64(m.NumNoise) / float64(totalPoints)
}
