package runner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gammadia/tune/runtime"
)

var ErrInsufficientResources = errors.New("insufficient resources")

// InsufficientResourcesError is returned when a trial requests more than the
// runtime will ever have and trials are not queued.
type InsufficientResourcesError struct {
	Trial     string
	Requested runtime.Capacity
	Available runtime.Capacity
}

func (e *InsufficientResourcesError) Error() string {
	return fmt.Sprintf(
		"%s to launch trial '%s': it requests %s but the runtime has %s (use --queue-trials to wait for more resources)",
		ErrInsufficientResources, e.Trial, e.Requested, e.Available,
	)
}

func (e *InsufficientResourcesError) Unwrap() error {
	return ErrInsufficientResources
}

// TrialsError lists the trials that ended in error.
type TrialsError struct {
	Trials []string
}

func (e *TrialsError) Error() string {
	return fmt.Sprintf("%d trial(s) did not complete: %s", len(e.Trials), strings.Join(e.Trials, ", "))
}
