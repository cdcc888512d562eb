package runner

import (
	"github.com/gammadia/tune/trial"
)

// Events sent by trial goroutines to the runner loop

type event interface {
	trialID() string
}

type eventTrialResult struct {
	id     string
	result trial.Result
}

type eventTrialFinished struct {
	id  string
	err error
}

func (e eventTrialResult) trialID() string   { return e.id }
func (e eventTrialFinished) trialID() string { return e.id }
