package artifacts

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"segcli/internal/cluster"
	"segcli/internal/rfm"
)

// CustomerRecord is one row of the augmented customer table: the RFM
// features plus whatever model outputs have been computed so far. The two
// training stages can run in either order, so both the segmentation and
// the anomaly columns are optional.
type CustomerRecord struct {
	CustomerID string    `json:"customer_id"`
	Recency    float64   `json:"recency"`
	Frequency  float64   `json:"frequency"`
	Monetary   float64   `json:"monetary"`
	AvgOrder   float64   `json:"avg_order_value"`
	TenureDays float64   `json:"tenure_days"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`

	HasSegment bool   `json:"has_segment"`
	Cluster    int    `json:"cluster,omitempty"`
	Segment    string `json:"segment,omitempty"`

	HasAnomaly     bool `json:"has_anomaly"`
	AnomalyCluster int  `json:"anomaly_cluster,omitempty"`
	Anomaly        bool `json:"anomaly,omitempty"`
}

// RecordsFromTable converts the RFM feature table into customer records
// without any model columns set.
func RecordsFromTable(table *rfm.Table) []CustomerRecord {
	records := make([]CustomerRecord, len(table.Customers))
	for i, c := range table.Customers {
		records[i] = CustomerRecord{
			CustomerID: c.CustomerID,
			Recency:    c.Recency,
			Frequency:  c.Frequency,
			Monetary:   c.Monetary,
			AvgOrder:   c.AvgOrder,
			TenureDays: c.TenureDays,
			FirstSeen:  c.FirstSeen,
			LastSeen:   c.LastSeen,
		}
	}
	return records
}

// ApplySegments attaches segmentation labels to the records. The label
// slice is index-aligned with the records.
func ApplySegments(records []CustomerRecord, labels []int, segments cluster.SegmentMap) error {
	if len(labels) != len(records) {
		return fmt.Errorf("have %d segment labels for %d records", len(labels), len(records))
	}
	for i := range records {
		records[i].HasSegment = true
		records[i].Cluster = labels[i]
		records[i].Segment = segments.Name(labels[i])
	}
	return nil
}

// ApplyAnomalies attaches density labels to the records. Noise points are
// flagged as anomalies.
func ApplyAnomalies(records []CustomerRecord, labels []int) error {
	if len(labels) != len(records) {
		return fmt.Errorf("have %d anomaly labels for %d records", len(labels), len(records))
	}
	for i := range records {
		records[i].HasAnomaly = true
		records[i].AnomalyCluster = labels[i]
		records[i].Anomaly = labels[i] == cluster.NoiseLabel
	}
	return nil
}

// MergeSegments carries segmentation columns from a previously persisted
// table into freshly built records, matching by customer ID. Customers
// missing from the prior table keep their columns unset.
func MergeSegments(records []CustomerRecord, prior []CustomerRecord) {
	byID := make(map[string]CustomerRecord, len(prior))
	for _, p := range prior {
		if p.HasSegment {
			byID[p.CustomerID] = p
		}
	}
	for i := range records {
		if p, ok := byID[records[i].CustomerID]; ok {
			records[i].HasSegment = true
			records[i].Cluster = p.Cluster
			records[i].Segment = p.Segment
		}
	}
}

var customersHeader = []string{
	"CustomerID",
	"Recency",
	"Frequency",
	"Monetary",
	"AvgOrderValue",
	"TenureDays",
	"FirstSeen",
	"LastSeen",
	"Cluster",
	"Segment",
	"AnomalyCluster",
	"Anomaly",
}

// SaveCustomers writes the augmented customer table, sorted by customer
// ID for stable diffs.
func (s *Store) SaveCustomers(records []CustomerRecord) error {
	if len(records) == 0 {
		return fmt.Errorf("no customer records to save")
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create artifacts directory: %w", err)
	}

	sorted := make([]CustomerRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CustomerID < sorted[j].CustomerID
	})

	path := filepath.Join(s.dir, CustomersFile)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create customer table: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(customersHeader); err != nil {
		return fmt.Errorf("write customer table header: %w", err)
	}
	for _, r := range sorted {
		if err := writer.Write(formatCustomerRecord(r)); err != nil {
			return fmt.Errorf("write customer %s: %w", r.CustomerID, err)
		}
	}

	s.logger.Info("saved customer table",
		slog.String("path", path),
		slog.Int("customers", len(sorted)))
	return nil
}

// LoadCustomers reads the augmented customer table back.
func (s *Store) LoadCustomers() ([]CustomerRecord, error) {
	path := filepath.Join(s.dir, CustomersFile)
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open customer table: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read customer table: %w", err)
	}
	if len(rows) < 1 {
		return nil, fmt.Errorf("customer table %s is empty", path)
	}
	if len(rows[0]) != len(customersHeader) {
		return nil, fmt.Errorf("customer table has %d columns, want %d", len(rows[0]), len(customersHeader))
	}

	records := make([]CustomerRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		record, err := parseCustomerRecord(row)
		if err != nil {
			return nil, fmt.Errorf("customer table row %d: %w", i+2, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func formatCustomerRecord(r CustomerRecord) []string {
	clusterCol, segmentCol := "", ""
	if r.HasSegment {
		clusterCol = strconv.Itoa(r.Cluster)
		segmentCol = r.Segment
	}
	anomalyClusterCol, anomalyCol := "", ""
	if r.HasAnomaly {
		anomalyClusterCol = strconv.Itoa(r.AnomalyCluster)
		anomalyCol = strconv.FormatBool(r.Anomaly)
	}

	return []string{
		r.CustomerID,
		strconv.FormatFloat(r.Recency, 'f', 0, 64),
		strconv.FormatFloat(r.Frequency, 'f', 0, 64),
		strconv.FormatFloat(r.Monetary, 'f', 2, 64),
		strconv.FormatFloat(r.AvgOrder, 'f', 2, 64),
		strconv.FormatFloat(r.TenureDays, 'f', 0, 64),
		r.FirstSeen.Format(time.RFC3339),
		r.LastSeen.Format(time.RFC3339),
		clusterCol,
		segmentCol,
		anomalyClusterCol,
		anomalyCol,
	}
}

func parseCustomerRecord(row []string) (CustomerRecord, error) {
	if len(row) != len(customersHeader) {
		return CustomerRecord{}, fmt.Errorf("have %d columns, want %d", len(row), len(customersHeader))
	}

	var record CustomerRecord
	var err error
	record.CustomerID = row[0]

	parseFloat := func(value, column string) (float64, error) {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s %q: %w", column, value, err)
		}
		return f, nil
	}

	if record.Recency, err = parseFloat(row[1], "Recency"); err != nil {
		return CustomerRecord{}, err
	}
	if record.Frequency, err = parseFloat(row[2], "Frequency"); err != nil {
		return CustomerRecord{}, err
	}
	if record.Monetary, err = parseFloat(row[3], "Monetary"); err != nil {
		return CustomerRecord{}, err
	}
	if record.AvgOrder, err = parseFloat(row[4], "AvgOrderValue"); err != nil {
		return CustomerRecord{}, err
	}
	if record.TenureDays, err = parseFloat(row[5], "TenureDays"); err != nil {
		return CustomerRecord{}, err
	}
	if record.FirstSeen, err = time.Parse(time.RFC3339, row[6]); err != nil {
		return CustomerRecord{}, fmt.Errorf("parse FirstSeen %q: %w", row[6], err)
	}
	if record.LastSeen, err = time.Parse(time.RFC3339, row[7]); err != nil {
		return CustomerRecord{}, fmt.Errorf("parse LastSeen %q: %w", row[7], err)
	}

	if row[8] != "" {
		if record.Cluster, err = strconv.Atoi(row[8]); err != nil {
			return CustomerRecord{}, fmt.Errorf("parse Cluster %q: %w", row[8], err)
		}
		record.Segment = row[9]
		record.HasSegment = true
	}
	if row[10] != "" {
		if record.AnomalyCluster, err = strconv.Atoi(row[10]); err != nil {
			return CustomerRecord{}, fmt.Errorf("parse AnomalyCluster %q: %w", row[10], err)
		}
		if record.Anomaly, err = strconv.ParseBool(row[11]); err != nil {
			return CustomerRecord{}, fmt.Errorf("parse Anomaly %q: %w", row[11], err)
		}
		record.HasAnomaly = true
	}

	return record, nil
}
