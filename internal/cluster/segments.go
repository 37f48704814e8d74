package cluster

import (
	"fmt"
	"sort"
)

// Canonical segment names for the four-segment model, ordered from the
// highest monetary centroid to the lowest.
var canonicalSegmentNames = []string{"High Value", "Loyal", "At Risk", "Low Value"}

// SegmentMap maps cluster labels to human-readable segment names.
type SegmentMap map[int]string

// Name returns the segment name for a cluster label, or "Unknown" when
// the label has no mapping (never the case for labels the model emitted).
func (m SegmentMap) Name(label int) string {
	if name, ok := m[label]; ok {
		return name
	}
	return "Unknown"
}

// AssignSegmentNames derives segment names from the fitted centroids by
// ranking them on the given feature (Monetary for the customer model).
// Unlike a fixed label-to-name table, the ranking is stable across seeds:
// whichever cluster ends up with the richest centroid is "High Value".
// Ties rank by cluster index to stay deterministic.
func AssignSegmentNames(model *KMeansModel, rankFeature int) (SegmentMap, error) {
	if model == nil || len(model.Centroids) == 0 {
		return nil, fmt.Errorf("model has no centroids")
	}
	if rankFeature < 0 || rankFeature >= len(model.Centroids[0]) {
		return nil, fmt.Errorf("rank feature %d out of range for %d-feature centroids", rankFeature, len(model.Centroids[0]))
	}

	order := make([]int, len(model.Centroids))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a := model.Centroids[order[i]][rankFeature]
		b := model.Centroids[order[j]][rankFeature]
		if a != b {
			return a > b
		}
		return order[i] < order[j]
	})

	segments := make(SegmentMap, len(order))
	for rank, label := range order {
		segments[label] = segmentNameForRank(rank, len(order))
	}
	return segments, nil
}

// segmentNameForRank names the cluster at a given monetary rank. The
// four-segment model uses the canonical names; other cluster counts get
// tier names with the top and bottom still called out.
func segmentNameForRank(rank, k int) string {
	if k == len(canonicalSegmentNames) {
		return canonicalSegmentNames[rank]
	}
	switch rank {
	case 0:
		return "High Value"
	case k - 1:
		return "Low Value"
	default:
		return fmt.Sprintf("Tier %d", rank+1)
	}
}
