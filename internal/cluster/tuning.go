package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// SilhouetteSampleCap bounds the number of points used for silhouette
// scoring. The score is O(n²) per candidate, so large tables are scored on
// a seeded random sample.
const SilhouetteSampleCap = 2000

// KCandidate records the quality metrics for one candidate cluster count.
type KCandidate struct {
	K          int     `json:"k"`
	Inertia    float64 `json:"inertia"` // for the elbow curve
	Silhouette float64 `json:"silhouette"`
}

// TuneK sweeps candidate cluster counts in [kMin, kMax], fitting one model
// per k in parallel, and picks the k with the best mean silhouette score.
// The inertia column doubles as the elbow curve for reports.
func TuneK(ctx context.Context, points [][]float64, kMin, kMax int, base KMeansConfig, logger *slog.Logger) (int, []KCandidate, error) {
	if kMin < 2 || kMax < kMin {
		return 0, nil, fmt.Errorf("invalid k range [%d, %d]", kMin, kMax)
	}
	if len(points) <= kMax {
		return 0, nil, fmt.Errorf("k range [%d, %d] needs more than %d points", kMin, kMax, len(points))
	}

	sample := silhouetteSample(points, base.Seed)

	candidates := make([]KCandidate, kMax-kMin+1)
	g, ctx := errgroup.WithContext(ctx)
	for k := kMin; k <= kMax; k++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			cfg := base
			cfg.K = k
			model, _, err := FitKMeans(points, cfg, logger)
			if err != nil {
				return fmt.Errorf("fit k=%d: %w", k, err)
			}

			labels := make([]int, len(sample))
			for i, p := range sample {
				labels[i], _ = nearestCentroid(p, model.Centroids)
			}

			candidates[k-kMin] = KCandidate{
				K:          k,
				Inertia:    model.Inertia,
				Silhouette: meanSilhouette(sample, labels, k),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Silhouette > best.Silhouette {
			best = c
		}
	}

	logger.Info("tuned cluster count",
		slog.Int("k_min", kMin),
		slog.Int("k_max", kMax),
		slog.Int("best_k", best.K),
		slog.Float64("best_silhouette", best.Silhouette))

	return best.K, candidates, nil
}

// EpsCandidate records the outcome of one density parameter combination.
type EpsCandidate struct {
	Eps        float64 `json:"eps"`
	MinPoints  int     `json:"min_points"`
	Clusters   int     `json:"clusters"`
	NoiseShare float64 `json:"noise_share"`
	Score      float64 `json:"score"`
}

// Target band for the share of noise points: an anomaly detector flagging
// nothing is as useless as one flagging a third of the customer base.
const (
	minNoiseShare = 0.005
	maxNoiseShare = 0.10
)

// TuneDBSCAN grid-searches eps and minPts combinations in parallel and
// returns the best scoring configuration. Combinations are scored by how
// close their noise share sits to the target band, with a bonus for
// producing at least one dense cluster.
func TuneDBSCAN(ctx context.Context, points [][]float64, epsGrid []float64, minPtsGrid []int, logger *slog.Logger) (DBSCANConfig, []EpsCandidate, error) {
	if len(epsGrid) == 0 || len(minPtsGrid) == 0 {
		return DBSCANConfig{}, nil, fmt.Errorf("empty parameter grid")
	}

	var mu sync.Mutex
	var candidates []EpsCandidate

	g, ctx := errgroup.WithContext(ctx)
	for _, eps := range epsGrid {
		for _, minPts := range minPtsGrid {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}

				model, _, err := FitDBSCAN(points, DBSCANConfig{Eps: eps, MinPoints: minPts}, logger)
				if err != nil {
					return fmt.Errorf("fit eps=%v min_points=%d: %w", eps, minPts, err)
				}

				noiseShare := model.NoiseShare(len(points))
				candidate := EpsCandidate{
					Eps:        eps,
					MinPoints:  minPts,
					Clusters:   model.NumClusters,
					NoiseShare: noiseShare,
					Score:      scoreDensityCandidate(model.NumClusters, noiseShare),
				}

				mu.Lock()
				candidates = append(candidates, candidate)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return DBSCANConfig{}, nil, err
	}

	// Deterministic ordering regardless of goroutine completion order.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Eps != candidates[j].Eps {
			return candidates[i].Eps < candidates[j].Eps
		}
		return candidates[i].MinPoints < candidates[j].MinPoints
	})

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}

	logger.Info("tuned density parameters",
		slog.Float64("eps", best.Eps),
		slog.Int("min_points", best.MinPoints),
		slog.Float64("noise_share", best.NoiseShare),
		slog.Int("clusters", best.Clusters))

	return DBSCANConfig{Eps: best.Eps, MinPoints: best.MinPoints}, candidates, nil
}

// scoreDensityCandidate favors configurations whose noise share falls
// inside the target band and which find at least one dense cluster.
func scoreDensityCandidate(clusters int, noiseShare float64) float64 {
	score := 0.0
	switch {
	case noiseShare < minNoiseShare:
		score -= (minNoiseShare - noiseShare) * 100
	case noiseShare > maxNoiseShare:
		score -= (noiseShare - maxNoiseShare) * 100
	default:
		score += 1
	}
	if clusters == 0 {
		score -= 10
	}
	return score
}

// silhouetteSample returns the points used for silhouette scoring,
// drawing a seeded random sample when the table exceeds the cap.
func silhouetteSample(points [][]float64, seed int64) [][]float64 {
	if len(points) <= SilhouetteSampleCap {
		return points
	}
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(points))
	sample := make([][]float64, SilhouetteSampleCap)
	for i := 0; i < SilhouetteSampleCap; i++ {
		sample[i] = points[perm[i]]
	}
	return sample
}

// meanSilhouette computes the mean silhouette coefficient over the sample.
// For each point, a is the mean distance to its own cluster and b the
// smallest mean distance to any other cluster; s = (b-a)/max(a,b).
func meanSilhouette(points [][]float64, labels []int, k int) float64 {
	n := len(points)
	if n == 0 || k < 2 {
		return 0
	}

	counts := make([]int, k)
	for _, l := range labels {
		counts[l]++
	}

	total := 0.0
	scored := 0
	sums := make([]float64, k)
	for i := range points {
		if counts[labels[i]] < 2 {
			continue // singleton clusters contribute no silhouette
		}

		for c := range sums {
			sums[c] = 0
		}
		for j := range points {
			if i == j {
				continue
			}
			sums[labels[j]] += math.Sqrt(squaredDistance(points[i], points[j]))
		}

		own := labels[i]
		a := sums[own] / float64(counts[own]-1)
		b := math.Inf(1)
		for c := 0; c < k; c++ {
			if c == own || counts[c] == 0 {
				continue
			}
			if mean := sums[c] / float64(counts[c]); mean < b {
				b = mean
			}
		}
		if math.IsInf(b, 1) {
			continue
		}

		total += (b - a) / math.Max(a, b)
		scored++
	}

	if scored == 0 {
		return 0
	}
	return total / float64(scored)
}

// DefaultEpsGrid returns the eps values searched when tuning is requested.
func DefaultEpsGrid() []float64 {
	return []float64{0.3, 0.4, 0.5, 0.6, 0.8, 1.0}
}

// DefaultMinPtsGrid returns the minPts values searched when tuning is
// requested.
func DefaultMinPtsGrid() []int {
	return []int{3, 5, 10}
}
