package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/traind/internal/artifact"
	"github.com/fyrsmithlabs/traind/internal/config"
	"github.com/fyrsmithlabs/traind/internal/registry"
)

const pointsCSV = `x1,x2,label
1.8,2.2,1
2.1,1.9,1
2.4,2.3,1
1.7,2.0,1
2.2,2.5,1
1.9,1.7,1
2.6,2.1,1
2.0,2.4,1
-1.8,-2.2,0
-2.1,-1.9,0
-2.4,-2.3,0
-1.7,-2.0,0
-2.2,-2.5,0
-1.9,-1.7,0
-2.6,-2.1,0
-2.0,-2.4,0
`

const pointsSchema = `id: points-v1
columns:
  - name: x1
    type: numeric
    required: true
  - name: x2
    type: numeric
    required: true
  - name: label
    type: numeric
    required: true
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func testConfig(t *testing.T, csv, schema string) config.Pipeline {
	t.Helper()
	return config.Pipeline{
		Source:       csv,
		SchemaPath:   schema,
		Target:       "label",
		HoldoutRatio: 0.25,
		Seed:         7,
		Scale:        true,
		TrainerKind:  "logistic",
		LearningRate: 0.5,
		Epochs:       300,
		BatchSize:    4,
		Metric:       "accuracy",
		Threshold:    0,
	}
}

func newHarness(t *testing.T, cfg config.Pipeline) (*Orchestrator, *artifact.Store, *registry.Registry) {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	reg := registry.New(store)
	o, err := New(cfg, store, reg, zap.NewNop())
	require.NoError(t, err)
	return o, store, reg
}

func TestOrchestrator_FirstRunPromotes(t *testing.T) {
	dir := t.TempDir()
	csv := writeFile(t, dir, "points.csv", pointsCSV)
	schemaPath := writeFile(t, dir, "schema.yaml", pointsSchema)

	o, store, reg := newHarness(t, testConfig(t, csv, schemaPath))

	run, err := o.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, run.Status)
	assert.True(t, run.Promoted)
	assert.Equal(t, int64(1), run.PromotedVersion)
	require.NotNil(t, run.Report)
	assert.True(t, run.Report.MeetsThreshold)
	assert.Equal(t, int64(0), run.Report.BaselineVersion)
	assert.InDelta(t, 1.0, run.Report.Candidate, 1e-9)

	for _, stage := range []string{StageIngest, StageValidate, StageTransform, StageTrain, StageEvaluate, StagePublish} {
		assert.True(t, store.Exists(artifact.StageKey(run.ID, stage)), "missing %s artifact", stage)
	}

	cur, err := reg.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(1), cur.Version)
}

func TestOrchestrator_SecondRunComparesAgainstBaseline(t *testing.T) {
	dir := t.TempDir()
	csv := writeFile(t, dir, "points.csv", pointsCSV)
	schemaPath := writeFile(t, dir, "schema.yaml", pointsSchema)

	o, _, reg := newHarness(t, testConfig(t, csv, schemaPath))

	first, err := o.Execute(context.Background())
	require.NoError(t, err)
	require.True(t, first.Promoted)

	// Identical data and seed: the candidate ties the baseline, and a zero
	// threshold promotes on a tie.
	second, err := o.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, second.Status)
	assert.Equal(t, int64(1), second.Report.BaselineVersion)
	assert.InDelta(t, 0.0, second.Report.Delta, 1e-9)
	assert.True(t, second.Promoted)
	assert.Equal(t, int64(2), second.PromotedVersion)

	cur, err := reg.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(2), cur.Version)
}

func TestOrchestrator_BelowThresholdKeepsCurrent(t *testing.T) {
	dir := t.TempDir()
	csv := writeFile(t, dir, "points.csv", pointsCSV)
	schemaPath := writeFile(t, dir, "schema.yaml", pointsSchema)

	cfg := testConfig(t, csv, schemaPath)
	o, _, reg := newHarness(t, cfg)

	_, err := o.Execute(context.Background())
	require.NoError(t, err)

	// A tie cannot clear a positive threshold.
	strict := cfg
	strict.Threshold = 0.05
	o2, err := New(strict, o.store, reg, zap.NewNop())
	require.NoError(t, err)

	run, err := o2.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, run.Status)
	assert.False(t, run.Promoted)
	assert.False(t, run.Report.MeetsThreshold)

	cur, err := reg.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(1), cur.Version)

	// Ineligible candidates are never registered.
	entries, err := reg.List()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOrchestrator_ValidationFailureStopsRun(t *testing.T) {
	dir := t.TempDir()
	bad := "x1,x2,label\n1.0,oops,1\n2.0,2.0,0\n-1.0,-1.0,1\n-2.0,-2.0,0\n"
	csv := writeFile(t, dir, "points.csv", bad)
	schemaPath := writeFile(t, dir, "schema.yaml", pointsSchema)

	o, store, reg := newHarness(t, testConfig(t, csv, schemaPath))

	run, err := o.Execute(context.Background())
	require.Error(t, err)

	assert.Equal(t, StatusFailedValidation, run.Status)
	assert.Contains(t, run.Error, "x2")

	// The ingest artifact survives; nothing past the gate exists.
	assert.True(t, store.Exists(artifact.StageKey(run.ID, StageIngest)))
	assert.False(t, store.Exists(artifact.StageKey(run.ID, StageValidate)))
	assert.False(t, store.Exists(artifact.StageKey(run.ID, StageTrain)))

	_, err = reg.Current()
	assert.ErrorIs(t, err, registry.ErrEmpty)
}

func TestOrchestrator_TrainFailureLeavesEarlierArtifacts(t *testing.T) {
	dir := t.TempDir()
	// Continuous labels break the logistic trainer after transform
	// succeeded.
	regression := `x1,x2,label
1.0,2.0,3.1
2.0,1.0,4.2
3.0,2.0,5.5
4.0,1.0,6.1
1.5,2.5,3.8
2.5,1.5,4.9
3.5,2.5,5.9
4.5,1.5,6.8
`
	csv := writeFile(t, dir, "points.csv", regression)
	schemaPath := writeFile(t, dir, "schema.yaml", pointsSchema)

	o, store, reg := newHarness(t, testConfig(t, csv, schemaPath))

	run, err := o.Execute(context.Background())
	require.Error(t, err)

	assert.Equal(t, StatusFailedTraining, run.Status)

	assert.True(t, store.Exists(artifact.StageKey(run.ID, StageIngest)))
	assert.True(t, store.Exists(artifact.StageKey(run.ID, StageValidate)))
	assert.True(t, store.Exists(artifact.StageKey(run.ID, StageTransform)))
	assert.False(t, store.Exists(artifact.StageKey(run.ID, StageTrain)))
	assert.False(t, store.Exists(artifact.StageKey(run.ID, StageEvaluate)))

	_, err = reg.Current()
	assert.ErrorIs(t, err, registry.ErrEmpty)
}

func TestOrchestrator_MalformedSchemaFailsBeforeIngest(t *testing.T) {
	dir := t.TempDir()
	csv := writeFile(t, dir, "points.csv", pointsCSV)
	// An undeclared column type is a configuration fault, not bad data.
	bad := "id: points-v1\ncolumns:\n  - name: x1\n    type: decimal\n"
	schemaPath := writeFile(t, dir, "schema.yaml", bad)

	o, store, reg := newHarness(t, testConfig(t, csv, schemaPath))

	run, err := o.Execute(context.Background())
	require.Error(t, err)

	assert.Equal(t, StatusFailedConfig, run.Status)
	assert.False(t, store.Exists(artifact.StageKey(run.ID, StageIngest)))

	_, err = reg.Current()
	assert.ErrorIs(t, err, registry.ErrEmpty)
}

func TestOrchestrator_InvalidConfigFailsBeforeIngest(t *testing.T) {
	cfg := config.Pipeline{}
	o, store, _ := newHarness(t, cfg)

	run, err := o.Execute(context.Background())
	require.Error(t, err)

	assert.Equal(t, StatusFailedConfig, run.Status)
	assert.False(t, store.Exists(artifact.StageKey(run.ID, StageIngest)))
}

func TestOrchestrator_MissingSourceFails(t *testing.T) {
	dir := t.TempDir()
	schemaPath := writeFile(t, dir, "schema.yaml", pointsSchema)

	cfg := testConfig(t, filepath.Join(dir, "absent.csv"), schemaPath)
	o, _, _ := newHarness(t, cfg)

	run, err := o.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, StageIngest, run.Stage)
}

func TestOrchestrator_LinearRegressionRun(t *testing.T) {
	dir := t.TempDir()
	regression := `x1,x2,label
1.0,0.5,3.0
2.0,1.0,5.0
3.0,1.5,7.0
4.0,2.0,9.0
1.5,0.75,4.0
2.5,1.25,6.0
3.5,1.75,8.0
4.5,2.25,10.0
`
	csv := writeFile(t, dir, "points.csv", regression)
	schemaPath := writeFile(t, dir, "schema.yaml", pointsSchema)

	cfg := testConfig(t, csv, schemaPath)
	cfg.TrainerKind = "linear"
	cfg.Metric = "rmse"
	cfg.LearningRate = 0.1
	cfg.Epochs = 500

	o, _, reg := newHarness(t, cfg)

	run, err := o.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, run.Status)
	assert.True(t, run.Promoted)

	cur, err := reg.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(1), cur.Version)
}
