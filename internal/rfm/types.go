package rfm

import (
	"time"
)

// FeatureCount is the number of features used for clustering:
// Recency, Frequency, Monetary.
const FeatureCount = 3

// Feature column indices within a clustering vector.
const (
	FeatureRecency = iota
	FeatureFrequency
	FeatureMonetary
)

// FeatureNames lists the clustering features in vector order.
var FeatureNames = [FeatureCount]string{"recency", "frequency", "monetary"}

// CustomerFeatures holds the behavioral features for one customer.
type CustomerFeatures struct {
	CustomerID string    `json:"customer_id"`
	Recency    float64   `json:"recency"`         // days since last purchase at snapshot
	Frequency  float64   `json:"frequency"`       // distinct invoices
	Monetary   float64   `json:"monetary"`        // total spend
	AvgOrder   float64   `json:"avg_order_value"` // Monetary / Frequency
	TenureDays float64   `json:"tenure_days"`     // first purchase to last purchase
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// Vector returns the customer's raw clustering vector [R, F, M].
func (c CustomerFeatures) Vector() []float64 {
	return []float64{c.Recency, c.Frequency, c.Monetary}
}

// IsValid checks the aggregation invariants: every customer in the output
// bought at least once, spent a positive amount, and the snapshot date is
// strictly after the last purchase.
func (c CustomerFeatures) IsValid() bool {
	return c.CustomerID != "" && c.Frequency >= 1 && c.Monetary > 0 && c.Recency >= 1
}

// Table is the RFM feature table, one row per distinct customer, sorted
// by customer ID for deterministic downstream behavior.
type Table struct {
	SnapshotDate time.Time          `json:"snapshot_date"`
	Customers    []CustomerFeatures `json:"customers"`
}

// Len returns the number of customers in the table.
func (t *Table) Len() int {
	return len(t.Customers)
}

// Matrix returns the raw clustering vectors, row i belonging to
// t.Customers[i].
func (t *Table) Matrix() [][]float64 {
	rows := make([][]float64, len(t.Customers))
	for i, c := range t.Customers {
		rows[i] = c.Vector()
	}
	return rows
}
