package train

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/traind/internal/transform"
)

// Estimator is the deployable unit: fitted transform parameters paired with
// fitted model parameters. It is immutable once produced; the registry
// versions whole estimators, never deltas.
type Estimator struct {
	Kind      string           `json:"kind"`
	Weights   []float64        `json:"weights"`
	Bias      float64          `json:"bias"`
	Transform transform.Params `json:"transform"`
	Hyper     Hyperparams      `json:"hyperparams"`
	TrainedAt time.Time        `json:"trained_at"`
}

// Score returns the model output for an encoded feature vector: a
// probability for logistic models, a raw value for linear ones.
func (e *Estimator) Score(x []float64) float64 {
	z := e.Bias + dot(e.Weights, x)
	if e.Kind == "logistic" {
		return sigmoid(z)
	}
	return z
}

// PredictRow scores a raw record by applying the embedded transform
// parameters first. This is the serving path: preprocessing is identical to
// training by construction.
func (e *Estimator) PredictRow(row map[string]string) (float64, error) {
	x, err := transform.ApplyRow(row, &e.Transform)
	if err != nil {
		return 0, err
	}
	return e.Score(x), nil
}

// Encode serializes the estimator for the artifact store.
func (e *Estimator) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode estimator: %w", err)
	}
	return data, nil
}

// Decode restores an estimator from its stored form.
func Decode(data []byte) (*Estimator, error) {
	var e Estimator
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode estimator: %w", err)
	}
	return &e, nil
}
