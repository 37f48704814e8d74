package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segcli/internal/artifacts"
	"segcli/internal/cluster"
	apperrors "segcli/internal/errors"
	"segcli/internal/rfm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedArtifacts trains tiny but real models over six customers, three
// low-spend and three high-spend, and persists the full artifact set.
func seedArtifacts(t *testing.T, withDBSCAN bool) *artifacts.Store {
	t.Helper()
	store := artifacts.NewStore(t.TempDir(), testLogger())

	features := [][]float64{
		{60, 1, 20},
		{75, 2, 35},
		{90, 1, 15},
		{5, 12, 2400},
		{8, 10, 1900},
		{3, 15, 3100},
	}

	scaler := rfm.NewScaler(rfm.DefaultWinsorBounds())
	scaled, err := scaler.FitTransform(features)
	require.NoError(t, err)

	model, labels, err := cluster.FitKMeans(scaled, cluster.KMeansConfig{
		K: 2, MaxIterations: 100, Tolerance: 1e-6, Seed: 42,
	}, testLogger())
	require.NoError(t, err)

	segments, err := cluster.AssignSegmentNames(model, rfm.FeatureMonetary)
	require.NoError(t, err)

	records := make([]artifacts.CustomerRecord, len(features))
	base := time.Date(2011, 1, 10, 0, 0, 0, 0, time.UTC)
	for i, f := range features {
		records[i] = artifacts.CustomerRecord{
			CustomerID: fmt.Sprintf("1000%d", i),
			Recency:    f[0],
			Frequency:  f[1],
			Monetary:   f[2],
			AvgOrder:   f[2] / f[1],
			TenureDays: 100,
			FirstSeen:  base,
			LastSeen:   base.AddDate(0, 6, 0),
		}
	}
	require.NoError(t, artifacts.ApplySegments(records, labels, segments))

	if withDBSCAN {
		dbscan, dbLabels, err := cluster.FitDBSCAN(scaled, cluster.DBSCANConfig{Eps: 2.0, MinPoints: 2}, testLogger())
		require.NoError(t, err)
		require.NoError(t, artifacts.ApplyAnomalies(records, dbLabels))
		require.NoError(t, store.SaveDBSCAN(dbscan))
	}

	require.NoError(t, store.SaveScaler(scaler))
	require.NoError(t, store.SaveKMeans(model))
	require.NoError(t, store.SaveSegmentMap(segments))
	require.NoError(t, store.SaveCustomers(records))
	return store
}

func TestOverview(t *testing.T) {
	svc := NewAnalyticsService(seedArtifacts(t, true), testLogger())

	overview, err := svc.Overview(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, overview.TotalCustomers)
	assert.InDelta(t, 20+35+15+2400+1900+3100, overview.TotalRevenue, 0.01)

	total := 0
	for _, n := range overview.SegmentCounts {
		total += n
	}
	assert.Equal(t, 6, total)
}

func TestSegmentsOrderedByMonetary(t *testing.T) {
	svc := NewAnalyticsService(seedArtifacts(t, false), testLogger())

	profiles, err := svc.Segments(context.Background())
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	// Highest average spend first.
	assert.Greater(t, profiles[0].AvgMonetary, profiles[1].AvgMonetary)
	assert.Equal(t, 3, profiles[0].Customers)
	assert.InDelta(t, 0.5, profiles[0].Share, 0.001)

	// Revenue shares sum to one.
	assert.InDelta(t, 1.0, profiles[0].RevenueShare+profiles[1].RevenueShare, 1e-9)
}

func TestSummaryStatistics(t *testing.T) {
	svc := NewAnalyticsService(seedArtifacts(t, false), testLogger())

	summaries, err := svc.Summary(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, rfm.FeatureCount)

	byFeature := make(map[string]FeatureSummary)
	for _, s := range summaries {
		byFeature[s.Feature] = s
	}

	monetary := byFeature["monetary"]
	assert.Equal(t, 15.0, monetary.Min)
	assert.Equal(t, 3100.0, monetary.Max)
	assert.Greater(t, monetary.Mean, monetary.Median)

	recency := byFeature["recency"]
	assert.Equal(t, 3.0, recency.Min)
	assert.Equal(t, 90.0, recency.Max)
}

func TestCustomerLookup(t *testing.T) {
	svc := NewAnalyticsService(seedArtifacts(t, true), testLogger())

	detail, err := svc.Customer(context.Background(), "10003")
	require.NoError(t, err)

	assert.Equal(t, "10003", detail.CustomerID)
	assert.Equal(t, 2400.0, detail.Monetary)
	require.NotNil(t, detail.Cluster)
	assert.NotEmpty(t, detail.Segment)
	require.NotNil(t, detail.Anomaly)
}

func TestCustomerLookupFloatFormID(t *testing.T) {
	svc := NewAnalyticsService(seedArtifacts(t, false), testLogger())

	// Float-typed exports render numeric IDs as "10003.0".
	detail, err := svc.Customer(context.Background(), "10003.0")
	require.NoError(t, err)
	assert.Equal(t, "10003", detail.CustomerID)
}

func TestCustomerLookupUnknown(t *testing.T) {
	svc := NewAnalyticsService(seedArtifacts(t, false), testLogger())

	_, err := svc.Customer(context.Background(), "99999")
	require.ErrorIs(t, err, apperrors.ErrCustomerNotFound)
}

func TestCustomerLookupNonNumericID(t *testing.T) {
	svc := NewAnalyticsService(seedArtifacts(t, false), testLogger())

	_, err := svc.Customer(context.Background(), "abc")
	var apiErr *apperrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestQueriesWithoutArtifacts(t *testing.T) {
	store := artifacts.NewStore(t.TempDir(), testLogger())
	svc := NewAnalyticsService(store, testLogger())

	_, err := svc.Overview(context.Background())
	require.ErrorIs(t, err, apperrors.ErrModelNotTrained)

	_, err = svc.Customer(context.Background(), "12345")
	require.ErrorIs(t, err, apperrors.ErrModelNotTrained)
}

func TestClassify(t *testing.T) {
	svc := NewAnalyticsService(seedArtifacts(t, true), testLogger())
	ctx := context.Background()

	// A big spender lands in the high-value segment.
	high, err := svc.Classify(ctx, 4, 12, 2500)
	require.NoError(t, err)
	assert.Equal(t, "High Value", high.Segment)
	require.NotNil(t, high.Anomaly)
	require.Len(t, high.Scaled, rfm.FeatureCount)

	// A dormant low spender does not.
	low, err := svc.Classify(ctx, 80, 1, 20)
	require.NoError(t, err)
	assert.NotEqual(t, high.Cluster, low.Cluster)
}

func TestClassifyRejectsOutOfDomainVectors(t *testing.T) {
	svc := NewAnalyticsService(seedArtifacts(t, false), testLogger())
	ctx := context.Background()

	tests := []struct {
		name                         string
		recency, frequency, monetary float64
	}{
		{"negative recency", -1, 2, 100},
		{"zero frequency", 4, 0, 100},
		{"negative monetary", 4, 2, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Classify(ctx, tt.recency, tt.frequency, tt.monetary)
			require.ErrorIs(t, err, apperrors.ErrInvalidParameter)
		})
	}
}

func TestClassifyWithoutAnomalyModel(t *testing.T) {
	svc := NewAnalyticsService(seedArtifacts(t, false), testLogger())

	result, err := svc.Classify(context.Background(), 4, 12, 2500)
	require.NoError(t, err)
	assert.Nil(t, result.Anomaly)
}

func TestReloadPicksUpNewArtifacts(t *testing.T) {
	store := artifacts.NewStore(t.TempDir(), testLogger())
	svc := NewAnalyticsService(store, testLogger())
	ctx := context.Background()

	_, err := svc.Overview(ctx)
	require.ErrorIs(t, err, apperrors.ErrModelNotTrained)

	// Train into the same directory, then reload.
	seeded := seedArtifacts(t, false)
	copyArtifacts(t, seeded.Dir(), store.Dir())
	require.NoError(t, svc.Reload(ctx))

	overview, err := svc.Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, overview.TotalCustomers)
	assert.False(t, svc.LoadedAt().IsZero())
}

func copyArtifacts(t *testing.T, from, to string) {
	t.Helper()
	entries, err := os.ReadDir(from)
	require.NoError(t, err)
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(from, entry.Name()))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(to, entry.Name()), data, 0644))
	}
}

func TestHealthService(t *testing.T) {
	svc := NewHealthService(seedArtifacts(t, false), "1.0.0", testLogger())

	status := svc.Check(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "1.0.0", status.Version)
	assert.True(t, status.ModelReady)
	assert.False(t, status.Artifacts.DBSCAN)
}

func TestHealthServiceUntrained(t *testing.T) {
	store := artifacts.NewStore(t.TempDir(), testLogger())
	svc := NewHealthService(store, "dev", testLogger())

	status := svc.Check(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.False(t, status.ModelReady)
}
