package evaluate

import (
	"fmt"
	"math"
)

// Metric is a scalar scoring function over predictions and truth. Higher is
// better for every metric exposed here; RMSE is negated to keep the
// promotion rule uniform.
type Metric string

const (
	MetricAccuracy Metric = "accuracy"
	MetricF1       Metric = "f1"
	MetricRMSE     Metric = "rmse"
	MetricR2       Metric = "r2"
)

// score computes the named metric. Classification metrics threshold
// predictions at 0.5.
func score(metric Metric, yTrue, yPred []float64) (float64, error) {
	if len(yTrue) == 0 || len(yTrue) != len(yPred) {
		return 0, fmt.Errorf("mismatched or empty evaluation vectors (%d truth, %d predicted)", len(yTrue), len(yPred))
	}

	switch metric {
	case MetricAccuracy:
		return accuracy(yTrue, yPred), nil
	case MetricF1:
		_, _, f1 := precisionRecallF1(yTrue, yPred)
		return f1, nil
	case MetricRMSE:
		// Negated so that "candidate - baseline >= threshold" means
		// improvement for error metrics too.
		return -rmse(yTrue, yPred), nil
	case MetricR2:
		return r2(yTrue, yPred), nil
	default:
		return 0, fmt.Errorf("unknown metric %q", metric)
	}
}

func accuracy(yTrue, yPred []float64) float64 {
	correct := 0
	for i := range yTrue {
		if label(yPred[i]) == label(yTrue[i]) {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue))
}

func precisionRecallF1(yTrue, yPred []float64) (prec, rec, f1 float64) {
	tp, fp, fn := 0, 0, 0
	for i := range yTrue {
		p, y := label(yPred[i]), label(yTrue[i])
		switch {
		case p == 1 && y == 1:
			tp++
		case p == 1 && y == 0:
			fp++
		case p == 0 && y == 1:
			fn++
		}
	}
	if tp+fp > 0 {
		prec = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		rec = float64(tp) / float64(tp+fn)
	}
	if prec+rec > 0 {
		f1 = 2 * prec * rec / (prec + rec)
	}
	return prec, rec, f1
}

func rmse(yTrue, yPred []float64) float64 {
	s := 0.0
	for i := range yTrue {
		d := yPred[i] - yTrue[i]
		s += d * d
	}
	return math.Sqrt(s / float64(len(yTrue)))
}

func r2(yTrue, yPred []float64) float64 {
	mean := 0.0
	for _, v := range yTrue {
		mean += v
	}
	mean /= float64(len(yTrue))

	ssTot, ssRes := 0.0, 0.0
	for i := range yTrue {
		d := yTrue[i] - mean
		ssTot += d * d
		r := yTrue[i] - yPred[i]
		ssRes += r * r
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}

func label(v float64) int {
	if v >= 0.5 {
		return 1
	}
	return 0
}
