package artifacts

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"segcli/internal/cluster"
	"segcli/internal/rfm"
)

// SchemaVersion guards artifact compatibility. Bump it when a stored
// model's shape changes in a way old readers cannot handle.
const SchemaVersion = 1

// Artifact file names inside the artifacts directory.
const (
	ScalerFile     = "scaler.json"
	KMeansFile     = "kmeans.json"
	DBSCANFile     = "dbscan.json"
	SegmentMapFile = "segment_map.json"
	CustomersFile  = "customers.csv"
)

// Artifact kinds written into the envelope.
const (
	kindScaler     = "rfm-scaler"
	kindKMeans     = "kmeans-model"
	kindDBSCAN     = "dbscan-model"
	kindSegmentMap = "segment-map"
)

// envelope wraps every JSON artifact with enough metadata to validate it
// at load time.
type envelope struct {
	SchemaVersion int             `json:"schema_version"`
	Kind          string          `json:"kind"`
	GeneratedAt   time.Time       `json:"generated_at"`
	Payload       json.RawMessage `json:"payload"`
}

// Store reads and writes pipeline artifacts in a single directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a store rooted at dir. The directory is created on the
// first write.
func NewStore(dir string, logger *slog.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

// Dir returns the artifacts directory.
func (s *Store) Dir() string {
	return s.dir
}

// Status reports which artifacts are present on disk.
type Status struct {
	Scaler     bool `json:"scaler"`
	KMeans     bool `json:"kmeans"`
	DBSCAN     bool `json:"dbscan"`
	SegmentMap bool `json:"segment_map"`
	Customers  bool `json:"customers"`
}

// SegmentationReady reports whether the stage-1 artifacts are all present.
func (st Status) SegmentationReady() bool {
	return st.Scaler && st.KMeans && st.SegmentMap && st.Customers
}

// Status checks the artifacts directory for each known artifact.
func (s *Store) Status() Status {
	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(s.dir, name))
		return err == nil
	}
	return Status{
		Scaler:     exists(ScalerFile),
		KMeans:     exists(KMeansFile),
		DBSCAN:     exists(DBSCANFile),
		SegmentMap: exists(SegmentMapFile),
		Customers:  exists(CustomersFile),
	}
}

// SaveScaler persists the fitted feature scaler.
func (s *Store) SaveScaler(scaler *rfm.Scaler) error {
	if scaler == nil || !scaler.Fitted() {
		return fmt.Errorf("refusing to save unfitted scaler")
	}
	return s.saveJSON(ScalerFile, kindScaler, scaler)
}

// LoadScaler restores the fitted feature scaler.
func (s *Store) LoadScaler() (*rfm.Scaler, error) {
	var scaler rfm.Scaler
	if err := s.loadJSON(ScalerFile, kindScaler, &scaler); err != nil {
		return nil, err
	}
	if !scaler.Fitted() {
		return nil, fmt.Errorf("scaler artifact %s holds no fitted parameters", ScalerFile)
	}
	return &scaler, nil
}

// SaveKMeans persists the fitted segmentation model.
func (s *Store) SaveKMeans(model *cluster.KMeansModel) error {
	if model == nil || len(model.Centroids) == 0 {
		return fmt.Errorf("refusing to save kmeans model without centroids")
	}
	return s.saveJSON(KMeansFile, kindKMeans, model)
}

// LoadKMeans restores the fitted segmentation model.
func (s *Store) LoadKMeans() (*cluster.KMeansModel, error) {
	var model cluster.KMeansModel
	if err := s.loadJSON(KMeansFile, kindKMeans, &model); err != nil {
		return nil, err
	}
	return &model, nil
}

// SaveDBSCAN persists the fitted anomaly model.
func (s *Store) SaveDBSCAN(model *cluster.DBSCANModel) error {
	if model == nil {
		return fmt.Errorf("refusing to save nil dbscan model")
	}
	return s.saveJSON(DBSCANFile, kindDBSCAN, model)
}

// LoadDBSCAN restores the fitted anomaly model.
func (s *Store) LoadDBSCAN() (*cluster.DBSCANModel, error) {
	var model cluster.DBSCANModel
	if err := s.loadJSON(DBSCANFile, kindDBSCAN, &model); err != nil {
		return nil, err
	}
	return &model, nil
}

// SaveSegmentMap persists the cluster-to-segment name mapping.
func (s *Store) SaveSegmentMap(segments cluster.SegmentMap) error {
	if len(segments) == 0 {
		return fmt.Errorf("refusing to save empty segment map")
	}
	return s.saveJSON(SegmentMapFile, kindSegmentMap, segments)
}

// LoadSegmentMap restores the cluster-to-segment name mapping.
func (s *Store) LoadSegmentMap() (cluster.SegmentMap, error) {
	var segments cluster.SegmentMap
	if err := s.loadJSON(SegmentMapFile, kindSegmentMap, &segments); err != nil {
		return nil, err
	}
	return segments, nil
}

func (s *Store) saveJSON(name, kind string, payload any) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create artifacts directory: %w", err)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}

	env := envelope{
		SchemaVersion: SchemaVersion,
		Kind:          kind,
		GeneratedAt:   time.Now().UTC(),
		Payload:       raw,
	}

	path := filepath.Join(s.dir, name)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create artifact %s: %w", name, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(env); err != nil {
		return fmt.Errorf("write artifact %s: %w", name, err)
	}

	s.logger.Info("saved artifact",
		slog.String("kind", kind),
		slog.String("path", path))
	return nil
}

func (s *Store) loadJSON(name, kind string, out any) error {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact %s: %w", name, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode artifact %s: %w", name, err)
	}
	if env.SchemaVersion != SchemaVersion {
		return fmt.Errorf("artifact %s has schema version %d, want %d", name, env.SchemaVersion, SchemaVersion)
	}
	if env.Kind != kind {
		return fmt.Errorf("artifact %s holds kind %q, want %q", name, env.Kind, kind)
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return nil
}
