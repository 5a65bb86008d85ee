package train

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fyrsmithlabs/traind/internal/transform"
)

// logisticTrainer fits a binary logistic regression with mini-batch
// gradient descent.
type logisticTrainer struct{}

func (t *logisticTrainer) Kind() string { return "logistic" }

func (t *logisticTrainer) Fit(ctx context.Context, batch *transform.Batch, hyper Hyperparams) (*Estimator, Metrics, error) {
	if err := hyper.Validate(); err != nil {
		return nil, nil, err
	}
	if len(batch.X) == 0 {
		return nil, nil, fmt.Errorf("%w: empty training batch", ErrInvalidHyperparams)
	}
	for i, y := range batch.Y {
		if y != 0 && y != 1 {
			return nil, nil, fmt.Errorf("logistic trainer requires 0/1 targets, row %d has %v", i, y)
		}
	}

	nFeatures := len(batch.X[0])
	w := initWeights(nFeatures, hyper.Seed)
	b := 0.0

	var loss float64
	for epoch := 0; epoch < hyper.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		loss = 0
		for _, span := range batches(len(batch.X), hyper.BatchSize) {
			start, end := span[0], span[1]
			bs := float64(end - start)

			gW := make([]float64, nFeatures)
			gB := 0.0
			for i := start; i < end; i++ {
				p := sigmoid(b + dot(w, batch.X[i]))
				loss += bceLoss(batch.Y[i], p)

				d := (p - batch.Y[i]) / bs
				for j, xij := range batch.X[i] {
					gW[j] += d * xij
				}
				gB += d
			}

			for j := range w {
				w[j] -= hyper.LearningRate * (gW[j] + hyper.L2*w[j])
			}
			b -= hyper.LearningRate * gB
		}
		loss /= float64(len(batch.X))

		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return nil, nil, fmt.Errorf("%w: loss is %v at epoch %d", ErrDiverged, loss, epoch)
		}
	}

	est := &Estimator{
		Kind:      t.Kind(),
		Weights:   w,
		Bias:      b,
		Transform: *batch.Params,
		Hyper:     hyper,
		TrainedAt: time.Now().UTC(),
	}

	metrics := Metrics{
		"loss":     loss,
		"accuracy": trainAccuracy(est, batch),
	}
	return est, metrics, nil
}

// bceLoss is the binary cross-entropy for a single prediction, clamped away
// from log(0).
func bceLoss(y, p float64) float64 {
	const eps = 1e-12
	if p < eps {
		p = eps
	}
	if p > 1-eps {
		p = 1 - eps
	}
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}

// trainAccuracy scores the fitted estimator on its own training batch at a
// 0.5 decision threshold.
func trainAccuracy(est *Estimator, batch *transform.Batch) float64 {
	correct := 0
	for i, x := range batch.X {
		pred := 0.0
		if est.Score(x) >= 0.5 {
			pred = 1
		}
		if pred == batch.Y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(batch.X))
}
