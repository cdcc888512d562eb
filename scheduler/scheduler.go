package scheduler

import (
	"log/slog"

	"github.com/gammadia/tune/trial"
	"github.com/samber/lo"
)

type Decision string

const (
	Continue Decision = "CONTINUE"
	Stop     Decision = "STOP"
)

// TrialScheduler decides which running trials are stopped early. All
// methods are called from the runner loop, one at a time.
type TrialScheduler interface {
	OnTrialAdd(t *trial.Trial)
	OnTrialResult(t *trial.Trial, result trial.Result) Decision
	OnTrialComplete(t *trial.Trial, result trial.Result)
	OnTrialError(t *trial.Trial)
	OnTrialRemove(t *trial.Trial)

	// Config returns the policy parameters the scheduler was built with.
	Config() Config
	String() string
}

// NewDefault builds the async hyperband scheduler with the fixed policy of
// the train command: grace period 3 and reduction factor 4.
func NewDefault(logger *slog.Logger) *AsyncHyperBand {
	config := DefaultConfig()
	config.Logger = logger
	return lo.Must(NewAsyncHyperBand(config))
}
