package trial

import (
	"fmt"
	"time"

	"github.com/gammadia/tune/experiment"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusRunning    Status = "RUNNING"
	StatusTerminated Status = "TERMINATED"
	StatusError      Status = "ERROR"
)

// Request is everything an executor needs to launch a trial. It is also the
// message sent to cluster workers.
type Request struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	Experiment     string               `json:"experiment"`
	Run            string               `json:"run"`
	Config         map[string]any       `json:"config"`
	Dir            string               `json:"dir"`
	Restore        string               `json:"restore,omitempty"`
	CheckpointFreq int                  `json:"checkpoint_freq"`
	Resources      experiment.Resources `json:"resources"`
}

// Trial is a request along with its runtime state. Trials are owned by the
// runner loop and must not be shared with executors.
type Trial struct {
	Request

	Status     Status
	Stop       map[string]float64
	UploadDir  string
	LastResult Result
	Checkpoint string
	Err        error

	Started time.Time
	Ended   time.Time
}

func (t *Trial) String() string {
	return t.Name
}

// FQN is the trial name qualified with its experiment.
func (t *Trial) FQN() string {
	return fmt.Sprintf("%s/%s", t.Experiment, t.Name)
}

// ShouldStop reports whether result satisfies one of the trial's stopping
// conditions, or whether the trainable declared itself done.
func (t *Trial) ShouldStop(result Result) bool {
	if result.Done() {
		return true
	}
	for key, threshold := range t.Stop {
		if value, ok := result.Float(key); ok && value >= threshold {
			return true
		}
	}
	return false
}

// Finished reports whether the trial reached a final status.
func (t *Trial) Finished() bool {
	return t.Status == StatusTerminated || t.Status == StatusError
}
