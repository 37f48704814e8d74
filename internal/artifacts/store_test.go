package artifacts

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segcli/internal/cluster"
	"segcli/internal/rfm"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(t.TempDir(), logger)
}

func fittedScaler(t *testing.T) *rfm.Scaler {
	t.Helper()
	scaler := rfm.NewScaler(rfm.DefaultWinsorBounds())
	_, err := scaler.FitTransform([][]float64{
		{1, 1, 10},
		{5, 2, 200},
		{30, 8, 1500},
		{90, 1, 25},
	})
	require.NoError(t, err)
	return scaler
}

func TestStoreScalerRoundTrip(t *testing.T) {
	store := testStore(t)
	scaler := fittedScaler(t)

	require.NoError(t, store.SaveScaler(scaler))

	restored, err := store.LoadScaler()
	require.NoError(t, err)
	require.True(t, restored.Fitted())
	assert.Equal(t, scaler.Means, restored.Means)
	assert.Equal(t, scaler.StdDevs, restored.StdDevs)

	// The restored scaler reproduces the fitted transform exactly.
	want, err := scaler.TransformVector([]float64{10, 3, 150})
	require.NoError(t, err)
	got, err := restored.TransformVector([]float64{10, 3, 150})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStoreRejectsUnfittedScaler(t *testing.T) {
	store := testStore(t)
	err := store.SaveScaler(rfm.NewScaler(rfm.DefaultWinsorBounds()))
	require.Error(t, err)
}

func TestStoreKMeansRoundTrip(t *testing.T) {
	store := testStore(t)
	model := &cluster.KMeansModel{
		K:          2,
		Centroids:  [][]float64{{0, 0, 0}, {1, 1, 1}},
		Inertia:    12.5,
		Iterations: 7,
		Converged:  true,
		Seed:       42,
	}

	require.NoError(t, store.SaveKMeans(model))

	restored, err := store.LoadKMeans()
	require.NoError(t, err)
	assert.Equal(t, model, restored)
}

func TestStoreDBSCANRoundTrip(t *testing.T) {
	store := testStore(t)
	model := &cluster.DBSCANModel{
		Eps:         0.5,
		MinPoints:   5,
		NumClusters: 2,
		NumNoise:    3,
		CorePoints:  [][]float64{{0, 0, 0}, {2, 2, 2}},
		CoreLabels:  []int{0, 1},
	}

	require.NoError(t, store.SaveDBSCAN(model))

	restored, err := store.LoadDBSCAN()
	require.NoError(t, err)
	assert.Equal(t, model, restored)
}

func TestStoreSegmentMapRoundTrip(t *testing.T) {
	store := testStore(t)
	segments := cluster.SegmentMap{0: "High Value", 1: "Loyal", 2: "At Risk", 3: "Low Value"}

	require.NoError(t, store.SaveSegmentMap(segments))

	restored, err := store.LoadSegmentMap()
	require.NoError(t, err)
	assert.Equal(t, segments, restored)
}

func TestStoreRejectsWrongKind(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.SaveScaler(fittedScaler(t)))

	// Pretend the scaler file is the kmeans artifact.
	data, err := os.ReadFile(filepath.Join(store.Dir(), ScalerFile))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), KMeansFile), data, 0644))

	_, err = store.LoadKMeans()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kind")
}

func TestStoreRejectsWrongSchemaVersion(t *testing.T) {
	store := testStore(t)

	env := map[string]any{
		"schema_version": SchemaVersion + 1,
		"kind":           "kmeans-model",
		"generated_at":   time.Now().UTC(),
		"payload":        map[string]any{"k": 2},
	}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(store.Dir(), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), KMeansFile), data, 0644))

	_, err = store.LoadKMeans()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema version")
}

func TestStoreLoadMissingArtifact(t *testing.T) {
	store := testStore(t)
	_, err := store.LoadKMeans()
	require.Error(t, err)
}

func TestStoreStatus(t *testing.T) {
	store := testStore(t)

	status := store.Status()
	assert.False(t, status.SegmentationReady())
	assert.False(t, status.Scaler)

	require.NoError(t, store.SaveScaler(fittedScaler(t)))
	require.NoError(t, store.SaveKMeans(&cluster.KMeansModel{K: 2, Centroids: [][]float64{{0}, {1}}}))
	require.NoError(t, store.SaveSegmentMap(cluster.SegmentMap{0: "High Value", 1: "Low Value"}))
	require.NoError(t, store.SaveCustomers([]CustomerRecord{sampleRecord("12345")}))

	status = store.Status()
	assert.True(t, status.SegmentationReady())
	assert.False(t, status.DBSCAN)
}

func sampleRecord(id string) CustomerRecord {
	first := time.Date(2011, 1, 4, 10, 0, 0, 0, time.UTC)
	last := time.Date(2011, 11, 20, 15, 30, 0, 0, time.UTC)
	return CustomerRecord{
		CustomerID: id,
		Recency:    19,
		Frequency:  7,
		Monetary:   1543.20,
		AvgOrder:   220.46,
		TenureDays: 320,
		FirstSeen:  first,
		LastSeen:   last,
	}
}

func TestCustomersRoundTrip(t *testing.T) {
	store := testStore(t)

	records := []CustomerRecord{sampleRecord("17850"), sampleRecord("12345"), sampleRecord("13047")}
	require.NoError(t, ApplySegments(records, []int{0, 1, 0}, cluster.SegmentMap{0: "High Value", 1: "Low Value"}))
	require.NoError(t, ApplyAnomalies(records, []int{0, cluster.NoiseLabel, 1}))

	require.NoError(t, store.SaveCustomers(records))

	restored, err := store.LoadCustomers()
	require.NoError(t, err)
	require.Len(t, restored, 3)

	// Rows come back sorted by customer ID.
	assert.Equal(t, "12345", restored[0].CustomerID)
	assert.Equal(t, "13047", restored[1].CustomerID)
	assert.Equal(t, "17850", restored[2].CustomerID)

	assert.True(t, restored[0].HasSegment)
	assert.Equal(t, "Low Value", restored[0].Segment)
	assert.True(t, restored[0].Anomaly)
	assert.Equal(t, cluster.NoiseLabel, restored[0].AnomalyCluster)

	assert.Equal(t, "High Value", restored[2].Segment)
	assert.False(t, restored[2].Anomaly)
	assert.Equal(t, 1543.20, restored[2].Monetary)
}

func TestCustomersPartialColumns(t *testing.T) {
	store := testStore(t)

	// Feature-only records: neither model has run yet.
	records := []CustomerRecord{sampleRecord("11111")}
	require.NoError(t, store.SaveCustomers(records))

	restored, err := store.LoadCustomers()
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.False(t, restored[0].HasSegment)
	assert.False(t, restored[0].HasAnomaly)
	assert.Empty(t, restored[0].Segment)
}

func TestApplyLabelsLengthMismatch(t *testing.T) {
	records := []CustomerRecord{sampleRecord("1"), sampleRecord("2")}
	require.Error(t, ApplySegments(records, []int{0}, cluster.SegmentMap{0: "High Value"}))
	require.Error(t, ApplyAnomalies(records, []int{0, 1, 2}))
}

func TestMergeSegments(t *testing.T) {
	prior := []CustomerRecord{sampleRecord("A"), sampleRecord("B")}
	require.NoError(t, ApplySegments(prior, []int{2, 0}, cluster.SegmentMap{0: "High Value", 2: "At Risk"}))

	// Fresh records for a superset of customers, no segment columns yet.
	fresh := []CustomerRecord{sampleRecord("A"), sampleRecord("B"), sampleRecord("C")}
	MergeSegments(fresh, prior)

	assert.True(t, fresh[0].HasSegment)
	assert.Equal(t, "At Risk", fresh[0].Segment)
	assert.Equal(t, 2, fresh[0].Cluster)
	assert.Equal(t, "High Value", fresh[1].Segment)
	assert.False(t, fresh[2].HasSegment)
}

func TestSaveCustomersEmpty(t *testing.T) {
	store := testStore(t)
	require.Error(t, store.SaveCustomers(nil))
}
