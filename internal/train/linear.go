package train

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fyrsmithlabs/traind/internal/transform"
)

// linearTrainer fits a linear regression with mini-batch gradient descent
// on squared error.
type linearTrainer struct{}

func (t *linearTrainer) Kind() string { return "linear" }

func (t *linearTrainer) Fit(ctx context.Context, batch *transform.Batch, hyper Hyperparams) (*Estimator, Metrics, error) {
	if err := hyper.Validate(); err != nil {
		return nil, nil, err
	}
	if len(batch.X) == 0 {
		return nil, nil, fmt.Errorf("%w: empty training batch", ErrInvalidHyperparams)
	}

	nFeatures := len(batch.X[0])
	w := initWeights(nFeatures, hyper.Seed)
	b := 0.0

	var mse float64
	for epoch := 0; epoch < hyper.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		mse = 0
		for _, span := range batches(len(batch.X), hyper.BatchSize) {
			start, end := span[0], span[1]
			bs := float64(end - start)

			gW := make([]float64, nFeatures)
			gB := 0.0
			for i := start; i < end; i++ {
				p := b + dot(w, batch.X[i])
				d := p - batch.Y[i]
				mse += d * d

				scaled := 2 * d / bs
				for j, xij := range batch.X[i] {
					gW[j] += scaled * xij
				}
				gB += scaled
			}

			for j := range w {
				w[j] -= hyper.LearningRate * (gW[j] + hyper.L2*w[j])
			}
			b -= hyper.LearningRate * gB
		}
		mse /= float64(len(batch.X))

		if math.IsNaN(mse) || math.IsInf(mse, 0) {
			return nil, nil, fmt.Errorf("%w: mse is %v at epoch %d", ErrDiverged, mse, epoch)
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
		"mse":  mse,
		"rmse": math.Sqrt(mse),
	}
	return est, metrics, nil
}
