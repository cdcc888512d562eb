package trial

import (
	"encoding/json"
	"math"
)

// Reserved result keys.
const (
	KeyTrainingIteration = "training_iteration"
	KeyTrialID           = "trial_id"
	KeyExperiment        = "experiment"
	KeyTimestamp         = "timestamp"
	KeyTimeTotal         = "time_total_s"
	KeyDone              = "done"
	KeyCheckpoint        = "checkpoint"
)

// Result is one training result reported by a trainable.
type Result map[string]any

// Float returns the numeric value stored under key.
func (r Result) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, !math.IsNaN(v)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func (r Result) Done() bool {
	done, _ := r[KeyDone].(bool)
	return done
}

// Iteration returns the training iteration of the result, or 0 when absent.
func (r Result) Iteration() int {
	f, _ := r.Float(KeyTrainingIteration)
	return int(f)
}

func (r Result) Checkpoint() string {
	checkpoint, _ := r[KeyCheckpoint].(string)
	return checkpoint
}

// Clone returns a shallow copy of r.
func (r Result) Clone() Result {
	clone := make(Result, len(r))
	for key, value := range r {
		clone[key] = value
	}
	return clone
}
