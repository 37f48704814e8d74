// Package services implements the read-side business logic over the
// persisted training artifacts: segment analytics, customer lookups and
// on-the-fly classification of new feature vectors.
package services

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"segcli/internal/artifacts"
	"segcli/internal/cluster"
	apperrors "segcli/internal/errors"
	"segcli/internal/rfm"
)

// AnalyticsService answers analytics queries from the persisted
// artifacts. Artifacts load lazily on first use and are cached until
// Reload is called.
type AnalyticsService struct {
	store  *artifacts.Store
	logger *slog.Logger

	mu       sync.RWMutex
	loaded   bool
	loadedAt time.Time
	records  []artifacts.CustomerRecord
	byID     map[string]artifacts.CustomerRecord
	scaler   *rfm.Scaler
	kmeans   *cluster.KMeansModel
	segments cluster.SegmentMap
	dbscan   *cluster.DBSCANModel
}

// NewAnalyticsService creates the service over an artifact store.
func NewAnalyticsService(store *artifacts.Store, logger *slog.Logger) *AnalyticsService {
	return &AnalyticsService{
		store:  store,
		logger: logger.With(slog.String("component", "analytics_service")),
	}
}

// Overview summarizes the whole customer base.
type Overview struct {
	TotalCustomers int            `json:"total_customers"`
	SegmentCounts  map[string]int `json:"segment_counts"`
	AnomalyCount   int            `json:"anomaly_count"`
	AnomalyShare   float64        `json:"anomaly_share"`
	TotalRevenue   float64        `json:"total_revenue"`
	GeneratedAt    time.Time      `json:"generated_at"`
}

// SegmentProfile describes one segment's aggregate behavior.
type SegmentProfile struct {
	Segment      string  `json:"segment"`
	Customers    int     `json:"customers"`
	Share        float64 `json:"share"`
	AvgRecency   float64 `json:"avg_recency"`
	AvgFrequency float64 `json:"avg_frequency"`
	AvgMonetary  float64 `json:"avg_monetary"`
	TotalRevenue float64 `json:"total_revenue"`
	RevenueShare float64 `json:"revenue_share"`
	AnomalyCount int     `json:"anomaly_count"`
}

// FeatureSummary holds distribution statistics for one feature.
type FeatureSummary struct {
	Feature string  `json:"feature"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"std_dev"`
	Min     float64 `json:"min"`
	Median  float64 `json:"median"`
	Max     float64 `json:"max"`
}

// CustomerDetail is the full serving view of one customer.
type CustomerDetail struct {
	CustomerID string    `json:"customer_id"`
	Recency    float64   `json:"recency"`
	Frequency  float64   `json:"frequency"`
	Monetary   float64   `json:"monetary"`
	AvgOrder   float64   `json:"avg_order_value"`
	TenureDays float64   `json:"tenure_days"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	Cluster    *int      `json:"cluster,omitempty"`
	Segment    string    `json:"segment,omitempty"`
	Anomaly    *bool     `json:"anomaly,omitempty"`
}

// Classification is the result of scoring a new feature vector.
type Classification struct {
	Cluster int       `json:"cluster"`
	Segment string    `json:"segment"`
	Anomaly *bool     `json:"anomaly,omitempty"`
	Scaled  []float64 `json:"scaled_features"`
}

// Reload drops the cache so the next query reads fresh artifacts.
func (s *AnalyticsService) Reload(ctx context.Context) error {
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
	return s.ensureLoaded(ctx)
}

// LoadedAt reports when the cached artifacts were read, zero when the
// cache is cold.
func (s *AnalyticsService) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return time.Time{}
	}
	return s.loadedAt
}

// ensureLoaded populates the cache from disk. Missing stage-one
// artifacts surface as a model-not-trained error so the transport layer
// can answer 503.
func (s *AnalyticsService) ensureLoaded(ctx context.Context) error {
	s.mu.RLock()
	if s.loaded {
		s.mu.RUnlock()
		return nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}

	if !s.store.Status().SegmentationReady() {
		return apperrors.ErrModelNotTrained
	}

	records, err := s.store.LoadCustomers()
	if err != nil {
		return err
	}
	scaler, err := s.store.LoadScaler()
	if err != nil {
		return err
	}
	kmeans, err := s.store.LoadKMeans()
	if err != nil {
		return err
	}
	segments, err := s.store.LoadSegmentMap()
	if err != nil {
		return err
	}

	// The density model is optional; classification answers without the
	// anomaly verdict when it has not been trained.
	var dbscan *cluster.DBSCANModel
	if s.store.Status().DBSCAN {
		dbscan, err = s.store.LoadDBSCAN()
		if err != nil {
			return err
		}
	}

	byID := make(map[string]artifacts.CustomerRecord, len(records))
	for _, r := range records {
		byID[r.CustomerID] = r
	}

	s.records = records
	s.byID = byID
	s.scaler = scaler
	s.kmeans = kmeans
	s.segments = segments
	s.dbscan = dbscan
	s.loaded = true
	s.loadedAt = time.Now()

	s.logger.InfoContext(ctx, "loaded analytics artifacts",
		slog.Int("customers", len(records)),
		slog.Bool("anomaly_model", dbscan != nil))
	return nil
}

// Overview returns base-wide totals and segment counts.
func (s *AnalyticsService) Overview(ctx context.Context) (*Overview, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	overview := &Overview{
		TotalCustomers: len(s.records),
		SegmentCounts:  make(map[string]int),
		GeneratedAt:    s.loadedAt,
	}
	for _, r := range s.records {
		if r.HasSegment {
			overview.SegmentCounts[r.Segment]++
		}
		if r.HasAnomaly && r.Anomaly {
			overview.AnomalyCount++
		}
		overview.TotalRevenue += r.Monetary
	}
	if len(s.records) > 0 {
		overview.AnomalyShare = float64(overview.AnomalyCount) / float64(len(s.records))
	}
	return overview, nil
}

// Segments returns per-segment profiles ordered by average monetary
// value, highest first.
func (s *AnalyticsService) Segments(ctx context.Context) ([]SegmentProfile, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	type agg struct {
		count     int
		recency   float64
		frequency float64
		monetary  float64
		anomalies int
	}
	bySegment := make(map[string]*agg)
	totalRevenue := 0.0
	for _, r := range s.records {
		if !r.HasSegment {
			continue
		}
		a, ok := bySegment[r.Segment]
		if !ok {
			a = &agg{}
			bySegment[r.Segment] = a
		}
		a.count++
		a.recency += r.Recency
		a.frequency += r.Frequency
		a.monetary += r.Monetary
		if r.HasAnomaly && r.Anomaly {
			a.anomalies++
		}
		totalRevenue += r.Monetary
	}

	profiles := make([]SegmentProfile, 0, len(bySegment))
	for segment, a := range bySegment {
		n := float64(a.count)
		profile := SegmentProfile{
			Segment:      segment,
			Customers:    a.count,
			AvgRecency:   a.recency / n,
			AvgFrequency: a.frequency / n,
			AvgMonetary:  a.monetary / n,
			TotalRevenue: a.monetary,
			AnomalyCount: a.anomalies,
		}
		if len(s.records) > 0 {
			profile.Share = n / float64(len(s.records))
		}
		if totalRevenue > 0 {
			profile.RevenueShare = a.monetary / totalRevenue
		}
		profiles = append(profiles, profile)
	}

	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].AvgMonetary != profiles[j].AvgMonetary {
			return profiles[i].AvgMonetary > profiles[j].AvgMonetary
		}
		return profiles[i].Segment < profiles[j].Segment
	})
	return profiles, nil
}

// Summary returns distribution statistics for each RFM feature.
func (s *AnalyticsService) Summary(ctx context.Context) ([]FeatureSummary, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	columns := map[string][]float64{
		"recency":   make([]float64, 0, len(s.records)),
		"frequency": make([]float64, 0, len(s.records)),
		"monetary":  make([]float64, 0, len(s.records)),
	}
	for _, r := range s.records {
		columns["recency"] = append(columns["recency"], r.Recency)
		columns["frequency"] = append(columns["frequency"], r.Frequency)
		columns["monetary"] = append(columns["monetary"], r.Monetary)
	}

	summaries := make([]FeatureSummary, 0, rfm.FeatureCount)
	for _, feature := range rfm.FeatureNames {
		summaries = append(summaries, summarizeColumn(feature, columns[feature]))
	}
	return summaries, nil
}

func summarizeColumn(feature string, values []float64) FeatureSummary {
	if len(values) == 0 {
		return FeatureSummary{Feature: feature}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	return FeatureSummary{
		Feature: feature,
		Mean:    mean,
		StdDev:  std,
		Min:     sorted[0],
		Median:  stat.Quantile(0.5, stat.Empirical, sorted, nil),
		Max:     sorted[len(sorted)-1],
	}
}

// Customer returns the serving view of one customer. IDs may carry the
// ".0" suffix float-typed exports add; other non-numeric IDs are
// rejected before the lookup.
func (s *AnalyticsService) Customer(ctx context.Context, customerID string) (*CustomerDetail, error) {
	customerID = strings.TrimSuffix(customerID, ".0")
	if _, err := strconv.Atoi(customerID); err != nil {
		return nil, apperrors.ErrValidation("customer_id", "must be numeric")
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.byID[customerID]
	if !ok {
		return nil, apperrors.ErrCustomerNotFound
	}

	detail := &CustomerDetail{
		CustomerID: record.CustomerID,
		Recency:    record.Recency,
		Frequency:  record.Frequency,
		Monetary:   record.Monetary,
		AvgOrder:   record.AvgOrder,
		TenureDays: record.TenureDays,
		FirstSeen:  record.FirstSeen,
		LastSeen:   record.LastSeen,
	}
	if record.HasSegment {
		c := record.Cluster
		detail.Cluster = &c
		detail.Segment = record.Segment
	}
	if record.HasAnomaly {
		a := record.Anomaly
		detail.Anomaly = &a
	}
	return detail, nil
}

// Classify scores a raw RFM vector against the fitted models.
func (s *AnalyticsService) Classify(ctx context.Context, recency, frequency, monetary float64) (*Classification, error) {
	// log1p is undefined below -1; the features are non-negative by
	// construction, so reject out-of-domain vectors before scaling.
	if recency < 0 || frequency <= 0 || monetary <= 0 {
		return nil, apperrors.ErrInvalidParameter
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	scaled, err := s.scaler.TransformVector([]float64{recency, frequency, monetary})
	if err != nil {
		return nil, err
	}
	label, err := s.kmeans.Predict(scaled)
	if err != nil {
		return nil, err
	}

	result := &Classification{
		Cluster: label,
		Segment: s.segments.Name(label),
		Scaled:  scaled,
	}
	if s.dbscan != nil {
		anomaly := s.dbscan.IsAnomaly(scaled)
		result.Anomaly = &anomaly
	}
	return result, nil
}
