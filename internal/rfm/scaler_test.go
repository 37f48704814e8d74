package rfm

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWinsorize(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 1000}

	capped, err := Winsorize(values, WinsorBounds{Lower: 0.1, Upper: 0.9})
	require.NoError(t, err)
	require.Len(t, capped, len(values))

	// The outlier is pulled down to the 90th percentile cap.
	assert.Less(t, capped[9], 1000.0)
	// Middle values are untouched.
	assert.InDelta(t, 5.0, capped[4], 1e-9)
	// Input slice is not mutated.
	assert.InDelta(t, 1000.0, values[9], 1e-9)
}

func TestWinsorizeInvalidBounds(t *testing.T) {
	tests := []struct {
		name   string
		bounds WinsorBounds
	}{
		{"inverted", WinsorBounds{Lower: 0.9, Upper: 0.1}},
		{"negative lower", WinsorBounds{Lower: -0.1, Upper: 0.9}},
		{"upper above one", WinsorBounds{Lower: 0.1, Upper: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, tt.bounds.IsValid())
			_, err := Winsorize([]float64{1, 2, 3}, tt.bounds)
			assert.Error(t, err)
		})
	}
}

func TestWinsorizeColumnsRaggedMatrix(t *testing.T) {
	_, err := WinsorizeColumns([][]float64{{1, 2, 3}, {1, 2}}, DefaultWinsorBounds())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ragged")
}

func TestScalerFitTransform(t *testing.T) {
	matrix := [][]float64{
		{10, 1, 100},
		{20, 2, 250},
		{30, 5, 900},
		{5, 8, 2400},
		{60, 3, 75},
		{90, 1, 40},
	}

	scaler := NewScaler(DefaultWinsorBounds())
	scaled, err := scaler.FitTransform(matrix)
	require.NoError(t, err)
	require.Len(t, scaled, len(matrix))
	require.True(t, scaler.Fitted())

	// Each feature of the training output has mean 0 and stddev 1.
	for j := 0; j < FeatureCount; j++ {
		var sum, sumSq float64
		for _, row := range scaled {
			sum += row[j]
			sumSq += row[j] * row[j]
		}
		n := float64(len(scaled))
		mean := sum / n
		std := math.Sqrt((sumSq - n*mean*mean) / (n - 1))

		assert.InDelta(t, 0.0, mean, 1e-9, "feature %s mean", FeatureNames[j])
		assert.InDelta(t, 1.0, std, 1e-9, "feature %s stddev", FeatureNames[j])
	}
}

func TestScalerTransformDeterminism(t *testing.T) {
	matrix := [][]float64{
		{10, 1, 100},
		{20, 2, 250},
		{30, 5, 900},
		{5, 8, 2400},
	}

	scaler := NewScaler(DefaultWinsorBounds())
	_, err := scaler.FitTransform(matrix)
	require.NoError(t, err)

	vector := []float64{15, 3, 500}
	first, err := scaler.TransformVector(vector)
	require.NoError(t, err)
	second, err := scaler.TransformVector(vector)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Transform is log1p then standardize against the fitted parameters.
	for j := range vector {
		want := (math.Log1p(vector[j]) - scaler.Means[j]) / scaler.StdDevs[j]
		assert.InDelta(t, want, first[j], 1e-12)
	}
}

func TestScalerRoundTripThroughJSON(t *testing.T) {
	matrix := [][]float64{
		{10, 1, 100},
		{20, 2, 250},
		{30, 5, 900},
	}
	scaler := NewScaler(DefaultWinsorBounds())
	_, err := scaler.FitTransform(matrix)
	require.NoError(t, err)

	data, err := json.Marshal(scaler)
	require.NoError(t, err)

	var restored Scaler
	require.NoError(t, json.Unmarshal(data, &restored))
	require.True(t, restored.Fitted())

	vector := []float64{42, 4, 333}
	want, err := scaler.TransformVector(vector)
	require.NoError(t, err)
	got, err := restored.TransformVector(vector)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestScalerErrors(t *testing.T) {
	t.Run("unfitted transform", func(t *testing.T) {
		scaler := NewScaler(DefaultWinsorBounds())
		_, err := scaler.TransformVector([]float64{1, 2, 3})
		require.Error(t, err)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		scaler := NewScaler(DefaultWinsorBounds())
		_, err := scaler.FitTransform([][]float64{{1, 2, 3}, {4, 5, 6}})
		require.NoError(t, err)
		_, err = scaler.TransformVector([]float64{1, 2})
		require.Error(t, err)
	})

	t.Run("too few rows", func(t *testing.T) {
		scaler := NewScaler(DefaultWinsorBounds())
		_, err := scaler.FitTransform([][]float64{{1, 2, 3}})
		require.Error(t, err)
	})
}

func TestScalerConstantFeature(t *testing.T) {
	matrix := [][]float64{
		{10, 7, 100},
		{20, 7, 250},
		{30, 7, 900},
	}
	scaler := NewScaler(DefaultWinsorBounds())
	scaled, err := scaler.FitTransform(matrix)
	require.NoError(t, err)

	// A constant feature standardizes to zero rather than NaN.
	for _, row := range scaled {
		assert.InDelta(t, 0.0, row[FeatureFrequency], 1e-12)
		assert.False(t, math.IsNaN(row[FeatureFrequency]))
	}
}
