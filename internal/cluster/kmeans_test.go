package cluster

import (
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// blobs generates well-separated Gaussian clusters with a seeded RNG.
func blobs(centers [][]float64, perCenter int, spread float64, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	var points [][]float64
	var truth []int
	for c, center := range centers {
		for i := 0; i < perCenter; i++ {
			p := make([]float64, len(center))
			for j := range center {
				p[j] = center[j] + rng.NormFloat64()*spread
			}
			points = append(points, p)
			truth = append(truth, c)
		}
	}
	return points, truth
}

var testCenters = [][]float64{
	{-5, -5, -5},
	{5, 5, 5},
	{-5, 5, 0},
	{5, -5, 0},
}

func TestFitKMeansRecoversBlobs(t *testing.T) {
	points, truth := blobs(testCenters, 50, 0.3, 7)

	model, labels, err := FitKMeans(points, DefaultKMeansConfig(), testLogger())
	require.NoError(t, err)
	require.Len(t, labels, len(points))
	require.Len(t, model.Centroids, 4)
	assert.True(t, model.Converged)

	// All points of one true blob share the same fitted label, and
	// distinct blobs get distinct labels.
	blobLabel := make(map[int]int)
	seen := make(map[int]bool)
	for c := 0; c < len(testCenters); c++ {
		label := labels[c*50]
		for i := c * 50; i < (c+1)*50; i++ {
			assert.Equal(t, label, labels[i], "point %d (true blob %d)", i, truth[i])
		}
		assert.False(t, seen[label], "blob %d shares label %d with another blob", c, label)
		seen[label] = true
		blobLabel[c] = label
	}

	// Labels stay in range.
	for _, l := range labels {
		assert.GreaterOrEqual(t, l, 0)
		assert.Less(t, l, model.K)
	}
}

func TestFitKMeansDeterministic(t *testing.T) {
	points, _ := blobs(testCenters, 30, 0.5, 11)
	cfg := DefaultKMeansConfig()

	m1, l1, err := FitKMeans(points, cfg, testLogger())
	require.NoError(t, err)
	m2, l2, err := FitKMeans(points, cfg, testLogger())
	require.NoError(t, err)

	assert.Equal(t, l1, l2)
	assert.Equal(t, m1.Centroids, m2.Centroids)
	assert.InDelta(t, m1.Inertia, m2.Inertia, 1e-12)
}

func TestFitKMeansErrors(t *testing.T) {
	t.Run("k larger than point count", func(t *testing.T) {
		_, _, err := FitKMeans([][]float64{{1, 2}, {3, 4}}, DefaultKMeansConfig(), testLogger())
		require.Error(t, err)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := DefaultKMeansConfig()
		cfg.K = 1
		_, _, err := FitKMeans([][]float64{{1}, {2}, {3}}, cfg, testLogger())
		require.Error(t, err)
	})
}

func TestKMeansPredict(t *testing.T) {
	points, _ := blobs(testCenters, 40, 0.3, 3)
	model, _, err := FitKMeans(points, DefaultKMeansConfig(), testLogger())
	require.NoError(t, err)

	// A point sitting on a blob center predicts the same label as the
	// blob's training points.
	for c, center := range testCenters {
		want, err := model.Predict(points[c*40])
		require.NoError(t, err)
		got, err := model.Predict(center)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = model.Predict([]float64{1, 2})
	require.Error(t, err)
}

func TestFitKMeansDuplicatePoints(t *testing.T) {
	// More clusters than distinct points exercises the degenerate
	// seeding path; the fit must still terminate and label everything.
	points := [][]float64{{1, 1}, {1, 1}, {1, 1}, {9, 9}, {9, 9}}
	cfg := DefaultKMeansConfig()
	cfg.K = 2

	model, labels, err := FitKMeans(points, cfg, testLogger())
	require.NoError(t, err)
	require.Len(t, labels, 5)
	assert.Equal(t, labels[0], labels[1])
	assert.Equal(t, labels[0], labels[2])
	assert.Equal(t, labels[3], labels[4])
	assert.NotEqual(t, labels[0], labels[3])
	assert.InDelta(t, 0.0, model.Inertia, 1e-12)
}
