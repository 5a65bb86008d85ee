// Package evaluate scores candidate estimators against the production
// baseline on a shared held-out set and decides promotion eligibility.
//
// The evaluator never mutates the registry; it only reports.
package evaluate

import (
	"fmt"

	"github.com/fyrsmithlabs/traind/internal/dataset"
	"github.com/fyrsmithlabs/traind/internal/train"
	"github.com/fyrsmithlabs/traind/internal/transform"
)

// Report is the evaluation outcome handed to the publish stage.
type Report struct {
	Metric    Metric  `json:"metric"`
	Candidate float64 `json:"candidate"`
	Baseline  float64 `json:"baseline"`
	Delta     float64 `json:"delta"`
	Threshold float64 `json:"threshold"`

	// MeetsThreshold is true iff candidate - baseline >= threshold, or
	// unconditionally on the first-ever run (no baseline).
	MeetsThreshold bool `json:"meets_threshold"`

	// BaselineVersion is the registry version the comparison was computed
	// against, 0 when the registry was empty. The publish stage uses it as
	// the expected value of its compare-and-set promotion.
	BaselineVersion int64 `json:"baseline_version"`
}

// Compare evaluates the candidate and the baseline on the same held-out
// rows.
//
// The candidate is scored on candBatch, the transformed holdout produced by
// the run's own transformer. The baseline carries its own fitted transform
// parameters, so it is scored by applying those to the raw validated
// holdout: both models see identical rows, each through the preprocessing it
// was trained with. A nil baseline means the registry is empty and the
// candidate is eligible regardless of its metric value.
func Compare(candidate *train.Estimator, candBatch *transform.Batch, holdout *dataset.Dataset, baseline *train.Estimator, baselineVersion int64, metric Metric, threshold float64) (*Report, error) {
	candScore, err := scoreBatch(candidate, candBatch, metric)
	if err != nil {
		return nil, fmt.Errorf("failed to score candidate: %w", err)
	}

	report := &Report{
		Metric:    metric,
		Candidate: candScore,
		Threshold: threshold,
	}

	if baseline == nil {
		report.Delta = candScore
		report.MeetsThreshold = true
		return report, nil
	}

	baseBatch, err := transform.Apply(holdout, &baseline.Transform)
	if err != nil {
		return nil, fmt.Errorf("failed to transform holdout for baseline: %w", err)
	}
	baseScore, err := scoreBatch(baseline, baseBatch, metric)
	if err != nil {
		return nil, fmt.Errorf("failed to score baseline: %w", err)
	}

	report.Baseline = baseScore
	report.BaselineVersion = baselineVersion
	report.Delta = candScore - baseScore
	report.MeetsThreshold = report.Delta >= threshold
	return report, nil
}

// scoreBatch runs an estimator over a batch and computes the metric.
func scoreBatch(est *train.Estimator, batch *transform.Batch, metric Metric) (float64, error) {
	preds := make([]float64, len(batch.X))
	for i, x := range batch.X {
		preds[i] = est.Score(x)
	}
	return score(metric, batch.Y, preds)
}
