package operations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"segcli/internal/infrastructure"
)

// TracerName identifies pipeline spans in trace exports.
const TracerName = "segcli.pipeline"

// Manager runs a pipeline's steps in order, failing fast on the first
// error. Every run gets an ID so log lines and spans correlate.
type Manager struct {
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *infrastructure.BusinessMetrics
	steps   []Step
}

// NewManager creates a manager for the given ordered steps.
func NewManager(logger *slog.Logger, steps ...Step) *Manager {
	return &Manager{
		logger: logger,
		tracer: otel.Tracer(TracerName),
		steps:  steps,
	}
}

// NewManagerWithMetrics additionally records per-step counters on the
// given business metrics.
func NewManagerWithMetrics(logger *slog.Logger, metrics *infrastructure.BusinessMetrics, steps ...Step) *Manager {
	m := NewManager(logger, steps...)
	m.metrics = metrics
	return m
}

// Run executes the pipeline against the state. All step records are
// tracked on the state, including the failing one.
func (m *Manager) Run(ctx context.Context, name string, state *State) error {
	runID := uuid.New().String()
	logger := m.logger.With(
		slog.String("pipeline", name),
		slog.String("run_id", runID))

	ctx, span := m.tracer.Start(ctx, fmt.Sprintf("pipeline.%s", name),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.name", name),
			attribute.String("pipeline.run_id", runID),
			attribute.Int("pipeline.steps", len(m.steps)),
		))
	defer span.End()

	started := time.Now()
	logger.Info("pipeline started", slog.Int("steps", len(m.steps)))

	for i, step := range m.steps {
		record := NewStepState(step.ID(), step.Name())
		state.TrackStep(record)

		if err := ctx.Err(); err != nil {
			record.Fail(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("pipeline %s cancelled before step %s: %w", name, step.ID(), err)
		}

		if err := m.runStep(ctx, logger, name, step, record, state); err != nil {
			span.SetStatus(codes.Error, err.Error())
			logger.Error("pipeline failed",
				slog.String("step", step.ID()),
				slog.Int("step_index", i),
				slog.Duration("elapsed", time.Since(started)),
				slog.String("error", err.Error()))
			return fmt.Errorf("step %s: %w", step.ID(), err)
		}
	}

	span.SetStatus(codes.Ok, "")
	logger.Info("pipeline completed", slog.Duration("elapsed", time.Since(started)))
	return nil
}

func (m *Manager) runStep(ctx context.Context, logger *slog.Logger, pipeline string, step Step, record *StepState, state *State) (err error) {
	ctx, span := m.tracer.Start(ctx, fmt.Sprintf("pipeline.step.%s", step.ID()),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("step.id", step.ID())))
	defer span.End()
	defer func() {
		infrastructure.RecordPipelineStep(ctx, m.metrics, pipeline, step.ID(), err)
	}()

	stepLogger := logger.With(slog.String("step", step.ID()))

	if verr := step.Validate(state); verr != nil {
		record.Fail(verr)
		span.SetStatus(codes.Error, verr.Error())
		err = fmt.Errorf("validate: %w", verr)
		return err
	}

	record.Start()
	stepLogger.Info("step started", slog.String("name", step.Name()))

	if err = step.Execute(ctx, state); err != nil {
		record.Fail(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	record.Complete("ok")
	stepLogger.Info("step completed", slog.Duration("duration", record.Duration()))
	return nil
}
