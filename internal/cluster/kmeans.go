package cluster

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Defaults for the segmentation model. k=4 matches the four canonical
// customer segments; the seed pins centroid initialization so reruns over
// the same data produce the same labeling.
const (
	DefaultK             = 4
	DefaultSeed          = 42
	DefaultMaxIterations = 300
	DefaultTolerance     = 1e-6
)

// KMeansConfig holds the parameters for fitting the segmentation model.
type KMeansConfig struct {
	K             int     `json:"k"`
	MaxIterations int     `json:"max_iterations"`
	Tolerance     float64 `json:"tolerance"`
	Seed          int64   `json:"seed"`
}

// DefaultKMeansConfig returns the standard segmentation parameters.
func DefaultKMeansConfig() KMeansConfig {
	return KMeansConfig{
		K:             DefaultK,
		MaxIterations: DefaultMaxIterations,
		Tolerance:     DefaultTolerance,
		Seed:          DefaultSeed,
	}
}

// IsValid checks the fitting parameters.
func (c KMeansConfig) IsValid() bool {
	return c.K >= 2 && c.MaxIterations > 0 && c.Tolerance >= 0
}

// KMeansModel is a fitted partitioning model.
type KMeansModel struct {
	K          int         `json:"k"`
	Centroids  [][]float64 `json:"centroids"`
	Inertia    float64     `json:"inertia"` // within-cluster sum of squared distances
	Iterations int         `json:"iterations"`
	Converged  bool        `json:"converged"`
	Seed       int64       `json:"seed"`
}

// FitKMeans fits a K-Means model with k-means++ seeding and Lloyd
// iterations. It returns the model and the per-point cluster labels in
// input order. Labels are in [0, K).
func FitKMeans(points [][]float64, cfg KMeansConfig, logger *slog.Logger) (*KMeansModel, []int, error) {
	if !cfg.IsValid() {
		return nil, nil, fmt.Errorf("invalid kmeans config: k=%d max_iterations=%d", cfg.K, cfg.MaxIterations)
	}
	if len(points) < cfg.K {
		return nil, nil, fmt.Errorf("cannot fit %d clusters on %d points", cfg.K, len(points))
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	centroids := seedCentroids(points, cfg.K, rng)

	labels := make([]int, len(points))
	counts := make([]int, cfg.K)
	sums := make([][]float64, cfg.K)
	for i := range sums {
		sums[i] = make([]float64, len(points[0]))
	}

	model := &KMeansModel{K: cfg.K, Seed: cfg.Seed}
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		model.Iterations = iter + 1

		// Assignment step.
		inertia := 0.0
		for i, p := range points {
			label, dist := nearestCentroid(p, centroids)
			labels[i] = label
			inertia += dist
		}
		model.Inertia = inertia

		// Update step.
		for c := range sums {
			counts[c] = 0
			for j := range sums[c] {
				sums[c][j] = 0
			}
		}
		for i, p := range points {
			counts[labels[i]]++
			floats.Add(sums[labels[i]], p)
		}

		shift := 0.0
		for c := range centroids {
			if counts[c] == 0 {
				// Empty cluster: reseed from the point farthest from its centroid.
				centroids[c] = farthestPoint(points, labels, centroids)
				shift = math.Inf(1)
				continue
			}
			updated := make([]float64, len(sums[c]))
			for j := range updated {
				updated[j] = sums[c][j] / float64(counts[c])
			}
			shift += squaredDistance(centroids[c], updated)
			centroids[c] = updated
		}

		if shift <= cfg.Tolerance {
			model.Converged = true
			break
		}
	}

	// Final assignment against the converged centroids.
	inertia := 0.0
	for i, p := range points {
		label, dist := nearestCentroid(p, centroids)
		labels[i] = label
		inertia += dist
	}
	model.Inertia = inertia
	model.Centroids = centroids

	logger.Info("fitted kmeans model",
		slog.Int("k", cfg.K),
		slog.Int("points", len(points)),
		slog.Int("iterations", model.Iterations),
		slog.Bool("converged", model.Converged),
		slog.Float64("inertia", model.Inertia))

	return model, labels, nil
}

// Predict returns the nearest cluster for a scaled vector.
func (m *KMeansModel) Predict(vector []float64) (int, error) {
	if len(m.Centroids) == 0 {
		return 0, fmt.Errorf("model has no centroids")
	}
	if len(vector) != len(m.Centroids[0]) {
		return 0, fmt.Errorf("vector has %d features, model was fitted on %d", len(vector), len(m.Centroids[0]))
	}
	label, _ := nearestCentroid(vector, m.Centroids)
	return label, nil
}

// seedCentroids implements k-means++ initialization: the first centroid is
// a uniformly random point, each following one is drawn with probability
// proportional to its squared distance to the nearest chosen centroid.
func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := points[rng.Intn(len(points))]
	centroids = append(centroids, cloneVector(first))

	distances := make([]float64, len(points))
	for len(centroids) < k {
		total := 0.0
		for i, p := range points {
			_, d := nearestCentroid(p, centroids)
			distances[i] = d
			total += d
		}

		if total == 0 {
			// All remaining points coincide with a centroid; pick uniformly.
			centroids = append(centroids, cloneVector(points[rng.Intn(len(points))]))
			continue
		}

		target := rng.Float64() * total
		cumulative := 0.0
		chosen := len(points) - 1
		for i, d := range distances {
			cumulative += d
			if cumulative >= target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, cloneVector(points[chosen]))
	}
	return centroids
}

// nearestCentroid returns the index of the closest centroid and the
// squared distance to it.
func nearestCentroid(point []float64, centroids [][]float64) (int, float64) {
	best := 0
	bestDist := math.Inf(1)
	for c, centroid := range centroids {
		d := squaredDistance(point, centroid)
		if d < bestDist {
			best = c
			bestDist = d
		}
	}
	return best, bestDist
}

// farthestPoint picks the point with the largest distance to its assigned
// centroid, used to reseed an empty cluster.
func farthestPoint(points [][]float64, labels []int, centroids [][]float64) []float64 {
	worst := points[0]
	worstDist := -1.0
	for i, p := range points {
		d := squaredDistance(p, centroids[labels[i]])
		if d > worstDist {
			worst = p
			worstDist = d
		}
	}
	return cloneVector(worst)
}

func squaredDistance(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func cloneVector(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
