package cluster

import (
	"time"

	"github.com/gammadia/tune/runtime"
	"github.com/gammadia/tune/trial"
)

// Redis layout shared by drivers and workers
const (
	// Hash of registered workers, field is the worker name, value a JSON WorkerInfo
	WorkersKey = "tune:workers"
	// List of pending JSON trial.Request, pushed by drivers, popped by workers
	TrialsKey = "tune:trials"
)

// How long result lists and cancel markers survive a crashed peer
const keyTTL = 24 * time.Hour

// ResultsKey is the list a worker pushes the messages of a trial to.
func ResultsKey(trialID string) string {
	return "tune:results:" + trialID
}

// CancelKey is set by the driver when a trial must stop.
func CancelKey(trialID string) string {
	return "tune:cancel:" + trialID
}

type WorkerInfo struct {
	Name     string           `json:"name"`
	Capacity runtime.Capacity `json:"capacity"`
	Slots    int              `json:"slots"`
	Started  time.Time        `json:"started"`
}

// Message is sent by workers on the results list of a trial: any number of
// results followed by exactly one done message.
type Message struct {
	Result   trial.Result `json:"result,omitempty"`
	Done     bool         `json:"done,omitempty"`
	Error    string       `json:"error,omitempty"`
	ExitCode int          `json:"exit_code,omitempty"`
}
