// Package train fits scoring models on transformed batches.
//
// Trainers are capability interfaces selected by configuration; the
// orchestrator never depends on a concrete algorithm. A training run always
// produces a new Estimator, never mutates an existing one, and training
// failures abort the run without internal retries.
package train

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/fyrsmithlabs/traind/internal/transform"
)

// Training failure sentinels. Both are fatal for the run.
var (
	ErrInvalidHyperparams = errors.New("invalid hyperparameters")
	ErrDiverged           = errors.New("training diverged")
)

// Hyperparams carries the tunable training configuration. Values come from
// the pipeline configuration, never from code.
type Hyperparams struct {
	LearningRate float64 `json:"learning_rate"`
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	L2           float64 `json:"l2"`
	Seed         int64   `json:"seed"`
}

// Validate rejects hyperparameter combinations no trainer can use.
func (h Hyperparams) Validate() error {
	if h.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate %v", ErrInvalidHyperparams, h.LearningRate)
	}
	if h.Epochs <= 0 {
		return fmt.Errorf("%w: epochs %d", ErrInvalidHyperparams, h.Epochs)
	}
	if h.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size %d", ErrInvalidHyperparams, h.BatchSize)
	}
	if h.L2 < 0 {
		return fmt.Errorf("%w: l2 %v", ErrInvalidHyperparams, h.L2)
	}
	return nil
}

// Metrics are training-time measurements reported alongside the estimator.
type Metrics map[string]float64

// Trainer fits model parameters from a transformed batch.
type Trainer interface {
	// Kind identifies the model variant.
	Kind() string

	// Fit trains a new estimator. The batch's transform parameters are
	// embedded in the result so inference reproduces preprocessing.
	Fit(ctx context.Context, batch *transform.Batch, hyper Hyperparams) (*Estimator, Metrics, error)
}

// New returns the trainer variant named by configuration.
func New(kind string) (Trainer, error) {
	switch kind {
	case "logistic":
		return &logisticTrainer{}, nil
	case "linear":
		return &linearTrainer{}, nil
	default:
		return nil, fmt.Errorf("unknown trainer kind %q", kind)
	}
}

// initWeights draws small seeded initial weights so identical configuration
// and data reproduce identical models.
func initWeights(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	w := make([]float64, n)
	for i := range w {
		w[i] = rng.NormFloat64() * 0.01
	}
	return w
}

// batches yields [start, end) index pairs over n rows.
func batches(n, size int) [][2]int {
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func dot(w, x []float64) float64 {
	s := 0.0
	for i, v := range x {
		s += w[i] * v
	}
	return s
}
