// Package pipeline orchestrates a production run: ingest, validate,
// transform, train, evaluate, publish.
//
// Stages run strictly in order and each stage's output is persisted to the
// artifact store before the next stage starts, so a failed run leaves every
// completed stage inspectable. The orchestrator holds no model logic itself;
// it wires sources, the schema gate, the transformer, a trainer, the
// evaluator, and the registry together and maps their failures onto run
// statuses.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/traind/internal/artifact"
	"github.com/fyrsmithlabs/traind/internal/config"
	"github.com/fyrsmithlabs/traind/internal/dataset"
	"github.com/fyrsmithlabs/traind/internal/evaluate"
	"github.com/fyrsmithlabs/traind/internal/registry"
	"github.com/fyrsmithlabs/traind/internal/schema"
	"github.com/fyrsmithlabs/traind/internal/train"
	"github.com/fyrsmithlabs/traind/internal/transform"
)

const instrumentationName = "github.com/fyrsmithlabs/traind/internal/pipeline"

// Stage names, in execution order. They double as artifact store key
// segments.
const (
	StageIngest    = "ingest"
	StageValidate  = "validate"
	StageTransform = "transform"
	StageTrain     = "train"
	StageEvaluate  = "evaluate"
	StagePublish   = "publish"
)

// Run statuses. The failure statuses identify which class of gate stopped
// the run.
const (
	StatusPending          = "pending"
	StatusRunning          = "running"
	StatusSucceeded        = "succeeded"
	StatusFailed           = "failed"
	StatusFailedConfig     = "failed_config"
	StatusFailedValidation = "failed_validation"
	StatusFailedTraining   = "failed_training"
	StatusFailedRegistry   = "failed_registry"
)

// Run is the record of one pipeline execution.
type Run struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	// TrainMetrics are the trainer's own measurements (loss and friends).
	TrainMetrics train.Metrics `json:"train_metrics,omitempty"`

	// Report is the evaluation outcome, present once the evaluate stage
	// completed.
	Report *evaluate.Report `json:"report,omitempty"`

	// Promoted and PromotedVersion record the publish decision.
	Promoted        bool  `json:"promoted"`
	PromotedVersion int64 `json:"promoted_version,omitempty"`
}

// publishRecord is the publish stage's persisted artifact.
type publishRecord struct {
	Eligible bool  `json:"eligible"`
	Promoted bool  `json:"promoted"`
	Version  int64 `json:"version,omitempty"`
}

// Orchestrator executes pipeline runs against a shared artifact store and
// registry.
type Orchestrator struct {
	cfg      config.Pipeline
	store    *artifact.Store
	registry *registry.Registry
	logger   *zap.Logger

	tracer         trace.Tracer
	meter          metric.Meter
	runCounter     metric.Int64Counter
	promoteCounter metric.Int64Counter
}

// New creates an orchestrator. The pipeline configuration is copied by value
// and treated as immutable for every run this orchestrator executes.
func New(cfg config.Pipeline, store *artifact.Store, reg *registry.Registry, logger *zap.Logger) (*Orchestrator, error) {
	if store == nil || reg == nil {
		return nil, fmt.Errorf("artifact store and registry are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		cfg:      cfg,
		store:    store,
		registry: reg,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}
	o.initMetrics()
	return o, nil
}

func (o *Orchestrator) initMetrics() {
	var err error

	o.runCounter, err = o.meter.Int64Counter(
		"traind.pipeline.runs_total",
		metric.WithDescription("Total number of pipeline runs by status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		o.logger.Warn("failed to create run counter", zap.Error(err))
	}

	o.promoteCounter, err = o.meter.Int64Counter(
		"traind.pipeline.promotions_total",
		metric.WithDescription("Total number of model promotions"),
		metric.WithUnit("{promotion}"),
	)
	if err != nil {
		o.logger.Warn("failed to create promotion counter", zap.Error(err))
	}
}

// NewRun allocates a pending run record. The record is inert until handed
// to Run; callers that need the id before execution starts (async
// submission) use this.
func (o *Orchestrator) NewRun() *Run {
	return &Run{ID: uuid.NewString(), Status: StatusPending}
}

// Execute runs the full pipeline once and returns the completed run record.
// The record is returned even on failure; the error describes the stage that
// stopped the run.
func (o *Orchestrator) Execute(ctx context.Context) (*Run, error) {
	run := o.NewRun()
	err := o.Run(ctx, run)
	return run, err
}

// Run executes the pipeline into an existing run record. Only the executing
// goroutine may touch the record until Run returns.
func (o *Orchestrator) Run(ctx context.Context, run *Run) error {
	ctx, span := o.tracer.Start(ctx, "pipeline.execute")
	defer span.End()

	run.Status = StatusRunning
	run.StartedAt = time.Now().UTC()
	span.SetAttributes(attribute.String("run_id", run.ID))
	logger := o.logger.With(zap.String("run_id", run.ID))

	if err := o.cfg.Validate(); err != nil {
		o.finish(run, "", err, logger)
		return err
	}

	// The schema declaration is configuration: a malformed one is fatal
	// before any stage runs. Loading it once here also pins every stage to
	// the same declaration for the whole run.
	s, err := schema.Load(o.cfg.SchemaPath)
	if err != nil {
		o.finish(run, "", err, logger)
		return err
	}

	err = o.executeStages(ctx, run, s, logger)
	o.finish(run, run.Stage, err, logger)
	return err
}

func (o *Orchestrator) executeStages(ctx context.Context, run *Run, s *schema.Schema, logger *zap.Logger) error {
	// Ingest.
	run.Stage = StageIngest
	raw, err := o.ingest(ctx, run.ID)
	if err != nil {
		return err
	}
	logger.Info("ingested dataset", zap.Int("rows", raw.Len()), zap.Int("columns", len(raw.Columns)))

	// Validate.
	run.Stage = StageValidate
	validated, err := o.validate(ctx, run.ID, raw, s)
	if err != nil {
		return err
	}

	// Transform.
	run.Stage = StageTransform
	trainSet, holdout, err := dataset.Split(validated, o.cfg.HoldoutRatio, o.cfg.Seed)
	if err != nil {
		return fmt.Errorf("holdout split failed: %w", err)
	}
	trainBatch, holdoutBatch, err := o.transform(ctx, run.ID, trainSet, holdout, s)
	if err != nil {
		return err
	}
	logger.Info("transformed dataset",
		zap.Int("features", len(trainBatch.Params.Names)),
		zap.Int("train_rows", len(trainBatch.X)),
		zap.Int("holdout_rows", len(holdoutBatch.X)))

	// Train.
	run.Stage = StageTrain
	estimator, metrics, err := o.train(ctx, run.ID, trainBatch)
	if err != nil {
		return err
	}
	run.TrainMetrics = metrics
	logger.Info("trained estimator", zap.String("kind", estimator.Kind), zap.Any("metrics", metrics))

	// Evaluate.
	run.Stage = StageEvaluate
	report, err := o.evaluate(ctx, run.ID, estimator, holdoutBatch, holdout)
	if err != nil {
		return err
	}
	run.Report = report
	logger.Info("evaluated candidate",
		zap.String("metric", string(report.Metric)),
		zap.Float64("candidate", report.Candidate),
		zap.Float64("baseline", report.Baseline),
		zap.Float64("delta", report.Delta),
		zap.Bool("meets_threshold", report.MeetsThreshold))

	// Publish.
	run.Stage = StagePublish
	return o.publish(ctx, run, estimator, report, logger)
}

func (o *Orchestrator) ingest(ctx context.Context, runID string) (*dataset.Dataset, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.ingest")
	defer span.End()

	src, err := dataset.Open(o.cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("ingest failed: %w", err)
	}
	ds, err := src.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingest failed: %w", err)
	}
	if _, err := o.store.PutJSON(artifact.StageKey(runID, StageIngest), ds); err != nil {
		return nil, fmt.Errorf("failed to persist ingest artifact: %w", err)
	}
	span.SetAttributes(attribute.Int("rows", ds.Len()))
	return ds, nil
}

func (o *Orchestrator) validate(ctx context.Context, runID string, raw *dataset.Dataset, s *schema.Schema) (*dataset.Dataset, error) {
	_, span := o.tracer.Start(ctx, "pipeline.validate")
	defer span.End()

	validated, err := schema.Validate(raw, s)
	if err != nil {
		return nil, err
	}
	if _, err := o.store.PutJSON(artifact.StageKey(runID, StageValidate), validated); err != nil {
		return nil, fmt.Errorf("failed to persist validate artifact: %w", err)
	}
	return validated, nil
}

func (o *Orchestrator) transform(ctx context.Context, runID string, trainSet, holdout *dataset.Dataset, s *schema.Schema) (*transform.Batch, *transform.Batch, error) {
	_, span := o.tracer.Start(ctx, "pipeline.transform")
	defer span.End()

	// Fit on the training slice only; the holdout sees frozen parameters.
	params, err := transform.Fit(trainSet, s, o.cfg.Target, o.cfg.Scale)
	if err != nil {
		return nil, nil, fmt.Errorf("transform fit failed: %w", err)
	}
	trainBatch, err := transform.Apply(trainSet, params)
	if err != nil {
		return nil, nil, fmt.Errorf("transform apply failed: %w", err)
	}
	holdoutBatch, err := transform.Apply(holdout, params)
	if err != nil {
		return nil, nil, fmt.Errorf("transform apply failed on holdout: %w", err)
	}
	if _, err := o.store.PutJSON(artifact.StageKey(runID, StageTransform), params); err != nil {
		return nil, nil, fmt.Errorf("failed to persist transform artifact: %w", err)
	}
	span.SetAttributes(attribute.Int("features", len(params.Names)))
	return trainBatch, holdoutBatch, nil
}

func (o *Orchestrator) train(ctx context.Context, runID string, batch *transform.Batch) (*train.Estimator, train.Metrics, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.train")
	defer span.End()

	trainer, err := train.New(o.cfg.TrainerKind)
	if err != nil {
		return nil, nil, err
	}
	hyper := train.Hyperparams{
		LearningRate: o.cfg.LearningRate,
		Epochs:       o.cfg.Epochs,
		BatchSize:    o.cfg.BatchSize,
		L2:           o.cfg.L2,
		Seed:         o.cfg.Seed,
	}
	estimator, metrics, err := trainer.Fit(ctx, batch, hyper)
	if err != nil {
		return nil, nil, err
	}

	encoded, err := estimator.Encode()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode estimator: %w", err)
	}
	if _, err := o.store.Put(artifact.StageKey(runID, StageTrain), encoded); err != nil {
		return nil, nil, fmt.Errorf("failed to persist train artifact: %w", err)
	}
	return estimator, metrics, nil
}

func (o *Orchestrator) evaluate(ctx context.Context, runID string, candidate *train.Estimator, holdoutBatch *transform.Batch, holdout *dataset.Dataset) (*evaluate.Report, error) {
	_, span := o.tracer.Start(ctx, "pipeline.evaluate")
	defer span.End()

	var baseline *train.Estimator
	var baselineVersion int64
	current, err := o.registry.Current()
	switch {
	case err == nil:
		baseline, err = o.registry.GetEstimator(current.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to load baseline: %w", err)
		}
		baselineVersion = current.Version
	case errors.Is(err, registry.ErrEmpty):
		// First-ever run: the candidate is unconditionally eligible.
	default:
		return nil, fmt.Errorf("failed to read current model: %w", err)
	}

	report, err := evaluate.Compare(candidate, holdoutBatch, holdout, baseline, baselineVersion, evaluate.Metric(o.cfg.Metric), o.cfg.Threshold)
	if err != nil {
		return nil, err
	}
	if _, err := o.store.PutJSON(artifact.StageKey(runID, StageEvaluate), report); err != nil {
		return nil, fmt.Errorf("failed to persist evaluate artifact: %w", err)
	}
	span.SetAttributes(
		attribute.Float64("candidate", report.Candidate),
		attribute.Bool("meets_threshold", report.MeetsThreshold),
	)
	return report, nil
}

func (o *Orchestrator) publish(ctx context.Context, run *Run, estimator *train.Estimator, report *evaluate.Report, logger *zap.Logger) error {
	_, span := o.tracer.Start(ctx, "pipeline.publish")
	defer span.End()

	record := publishRecord{Eligible: report.MeetsThreshold}

	if report.MeetsThreshold {
		version, err := o.registry.Put(estimator, report.Candidate)
		if err != nil {
			return fmt.Errorf("failed to register candidate: %w", err)
		}
		record.Version = version

		// Compare-and-set against the baseline the decision was computed
		// on. A concurrent promotion in between makes this decision stale
		// and the run fails rather than overwrite it.
		if err := o.registry.PromoteFrom(report.BaselineVersion, version); err != nil {
			return fmt.Errorf("promotion failed: %w", err)
		}
		record.Promoted = true
		run.Promoted = true
		run.PromotedVersion = version
		if o.promoteCounter != nil {
			o.promoteCounter.Add(ctx, 1)
		}
		logger.Info("promoted candidate", zap.Int64("version", version))
	} else {
		logger.Info("candidate below threshold, keeping current model",
			zap.Float64("delta", report.Delta),
			zap.Float64("threshold", report.Threshold))
	}

	if _, err := o.store.PutJSON(artifact.StageKey(run.ID, StagePublish), record); err != nil {
		return fmt.Errorf("failed to persist publish artifact: %w", err)
	}
	return nil
}

// finish stamps terminal status and emits the run counter.
func (o *Orchestrator) finish(run *Run, stage string, err error, logger *zap.Logger) {
	run.FinishedAt = time.Now().UTC()
	if err == nil {
		run.Status = StatusSucceeded
	} else {
		run.Status = classify(stage, err)
		run.Error = err.Error()
		logger.Error("run failed",
			zap.String("stage", stage),
			zap.String("status", run.Status),
			zap.Error(err))
	}
	if o.runCounter != nil {
		o.runCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", run.Status)))
	}
}

// classify maps a stage failure onto its run status: known sentinels first,
// then the stage the error surfaced in.
func classify(stage string, err error) string {
	var vErr *schema.ValidationError
	switch {
	// A malformed schema declaration is a configuration fault, not data
	// nonconformance.
	case errors.Is(err, config.ErrInvalidConfig), errors.Is(err, schema.ErrInvalidSchema):
		return StatusFailedConfig
	case errors.As(err, &vErr):
		return StatusFailedValidation
	case errors.Is(err, train.ErrInvalidHyperparams), errors.Is(err, train.ErrDiverged):
		return StatusFailedTraining
	case errors.Is(err, registry.ErrConflict), errors.Is(err, registry.ErrVersionNotFound):
		return StatusFailedRegistry
	}
	switch stage {
	case StageValidate:
		return StatusFailedValidation
	case StageTrain:
		return StatusFailedTraining
	case StagePublish:
		return StatusFailedRegistry
	default:
		return StatusFailed
	}
}
