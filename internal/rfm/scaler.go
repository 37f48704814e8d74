package rfm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes log-transformed RFM features to zero mean and unit
// variance. The fitted means and standard deviations are an artifact: the
// serving layer applies the exact transform the models were trained on.
type Scaler struct {
	Means   []float64    `json:"means"`
	StdDevs []float64    `json:"std_devs"`
	Bounds  WinsorBounds `json:"winsor_bounds"`
	fitted  bool
}

// NewScaler creates an unfitted scaler with the given capping bounds.
func NewScaler(bounds WinsorBounds) *Scaler {
	return &Scaler{Bounds: bounds}
}

// Fitted reports whether the scaler has been fitted or restored.
func (s *Scaler) Fitted() bool {
	return s.fitted || (len(s.Means) > 0 && len(s.Means) == len(s.StdDevs))
}

// FitTransform winsorizes, log-transforms and standardizes the raw feature
// matrix, fitting the scaler parameters in the process.
func (s *Scaler) FitTransform(matrix [][]float64) ([][]float64, error) {
	if len(matrix) < 2 {
		return nil, fmt.Errorf("need at least 2 rows to fit scaler, got %d", len(matrix))
	}

	capped, err := WinsorizeColumns(matrix, s.Bounds)
	if err != nil {
		return nil, err
	}

	logged := make([][]float64, len(capped))
	for i, row := range capped {
		logged[i] = logTransform(row)
	}

	nFeatures := len(logged[0])
	s.Means = make([]float64, nFeatures)
	s.StdDevs = make([]float64, nFeatures)

	column := make([]float64, len(logged))
	for j := 0; j < nFeatures; j++ {
		for i, row := range logged {
			column[i] = row[j]
		}
		mean, std := stat.MeanStdDev(column, nil)
		if std == 0 || math.IsNaN(std) {
			// Constant feature; transform maps it to zero.
			std = 1
		}
		s.Means[j] = mean
		s.StdDevs[j] = std
	}
	s.fitted = true

	scaled := make([][]float64, len(logged))
	for i, row := range logged {
		scaled[i] = s.standardize(row)
	}
	return scaled, nil
}

// Transform applies the fitted transform to a raw feature matrix: log1p
// then standardization with the fitted means and stddevs. Winsorization
// is a fit-time treatment only and is not reapplied.
func (s *Scaler) Transform(matrix [][]float64) ([][]float64, error) {
	if !s.Fitted() {
		return nil, fmt.Errorf("scaler is not fitted")
	}

	scaled := make([][]float64, len(matrix))
	for i, row := range matrix {
		v, err := s.TransformVector(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		scaled[i] = v
	}
	return scaled, nil
}

// TransformVector applies the fitted transform to one raw vector.
func (s *Scaler) TransformVector(vector []float64) ([]float64, error) {
	if !s.Fitted() {
		return nil, fmt.Errorf("scaler is not fitted")
	}
	if len(vector) != len(s.Means) {
		return nil, fmt.Errorf("vector has %d features, scaler was fitted on %d", len(vector), len(s.Means))
	}
	return s.standardize(logTransform(vector)), nil
}

func (s *Scaler) standardize(logged []float64) []float64 {
	out := make([]float64, len(logged))
	for j, v := range logged {
		out[j] = (v - s.Means[j]) / s.StdDevs[j]
	}
	return out
}

// logTransform applies log1p feature-wise. Negative inputs clamp to zero
// before the transform; cleaned RFM features are non-negative by invariant.
func logTransform(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		if v < 0 {
			v = 0
		}
		out[j] = math.Log1p(v)
	}
	return out
}
