package rfm

import (
	"fmt"
	"math"
	"sort"
)

// Default winsorization bounds (1st and 99th percentiles). RFM features
// carry a heavy right tail, so capping happens before the log transform.
const (
	DefaultLowerBound = 0.01
	DefaultUpperBound = 0.99
)

// WinsorBounds holds the percentile bounds used for outlier capping.
type WinsorBounds struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// DefaultWinsorBounds returns the standard capping bounds.
func DefaultWinsorBounds() WinsorBounds {
	return WinsorBounds{Lower: DefaultLowerBound, Upper: DefaultUpperBound}
}

// IsValid checks if the bounds describe a proper percentile interval.
func (wb WinsorBounds) IsValid() bool {
	return wb.Lower >= 0 && wb.Upper <= 1 && wb.Lower < wb.Upper
}

// Winsorize caps extreme values at the given percentile bounds and returns
// a new slice. The input is left untouched.
func Winsorize(values []float64, bounds WinsorBounds) ([]float64, error) {
	if !bounds.IsValid() {
		return nil, fmt.Errorf("invalid winsorization bounds [%v, %v]", bounds.Lower, bounds.Upper)
	}
	if len(values) == 0 {
		return nil, nil
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	lowerCap := percentileValue(sorted, bounds.Lower)
	upperCap := percentileValue(sorted, bounds.Upper)

	capped := make([]float64, len(values))
	for i, v := range values {
		switch {
		case v < lowerCap:
			capped[i] = lowerCap
		case v > upperCap:
			capped[i] = upperCap
		default:
			capped[i] = v
		}
	}
	return capped, nil
}

// WinsorizeColumns caps every feature column independently.
func WinsorizeColumns(matrix [][]float64, bounds WinsorBounds) ([][]float64, error) {
	if len(matrix) == 0 {
		return nil, nil
	}

	nFeatures := len(matrix[0])
	columns := make([][]float64, nFeatures)
	for j := 0; j < nFeatures; j++ {
		column := make([]float64, len(matrix))
		for i, row := range matrix {
			if len(row) != nFeatures {
				return nil, fmt.Errorf("ragged feature matrix: row %d has %d features, want %d", i, len(row), nFeatures)
			}
			column[i] = row[j]
		}
		capped, err := Winsorize(column, bounds)
		if err != nil {
			return nil, err
		}
		columns[j] = capped
	}

	result := make([][]float64, len(matrix))
	for i := range matrix {
		result[i] = make([]float64, nFeatures)
		for j := 0; j < nFeatures; j++ {
			result[i][j] = columns[j][i]
		}
	}
	return result, nil
}

// percentileValue interpolates the value at a percentile of a sorted slice.
func percentileValue(sorted []float64, percentile float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if percentile <= 0 {
		return sorted[0]
	}
	if percentile >= 1 {
		return sorted[n-1]
	}

	index := percentile * float64(n-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
