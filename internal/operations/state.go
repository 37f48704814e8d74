package operations

import (
	"sync"
	"time"

	"segcli/internal/artifacts"
	"segcli/internal/cluster"
	"segcli/internal/dataset"
	"segcli/internal/rfm"
)

// PipelineConfig carries the knobs for one pipeline run.
type PipelineConfig struct {
	DataPath     string
	SnapshotDate time.Time

	KMeans     cluster.KMeansConfig
	TuneK      bool
	KMin, KMax int

	DBSCAN     cluster.DBSCANConfig
	TuneDBSCAN bool

	WinsorBounds rfm.WinsorBounds
}

// State is the shared pipeline state the steps read and write. Steps run
// sequentially, so the data fields need no locking; the step records are
// guarded because status endpoints may read them while a run is active.
type State struct {
	Config PipelineConfig
	Store  *artifacts.Store

	// Data produced by the steps, in pipeline order.
	Transactions []dataset.Transaction
	CleanStats   dataset.CleanStats
	Features     *rfm.Table
	Scaler       *rfm.Scaler
	Scaled       [][]float64
	Records      []artifacts.CustomerRecord

	KMeansModel  *cluster.KMeansModel
	KMeansLabels []int
	SegmentMap   cluster.SegmentMap

	DBSCANModel  *cluster.DBSCANModel
	DBSCANLabels []int

	mu    sync.RWMutex
	steps []*StepState
}

// NewState creates a pipeline state for one run.
func NewState(cfg PipelineConfig, store *artifacts.Store) *State {
	return &State{Config: cfg, Store: store}
}

// TrackStep registers a step record for this run.
func (s *State) TrackStep(step *StepState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

// Steps returns the step records in execution order.
func (s *State) Steps() []*StepState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*StepState, len(s.steps))
	copy(out, s.steps)
	return out
}
