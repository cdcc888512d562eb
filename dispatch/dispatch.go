package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gammadia/tune/experiment"
	"github.com/gammadia/tune/runtime"
	"github.com/gammadia/tune/runtime/cluster"
	"github.com/gammadia/tune/runtime/local"
	"github.com/gammadia/tune/scheduler"
	"github.com/samber/lo"
)

type State string

const (
	StateUninitialized State = "uninitialized"
	StateRunning       State = "running"
)

var ErrAlreadyRunning = errors.New("runtime is already initialized")

// InitFunc establishes the execution context trials run in.
type InitFunc func(ctx context.Context, opts runtime.Options) (runtime.Runtime, error)

// RunFunc runs the experiments to completion. queueTrials tells whether
// trials that cannot be resourced yet wait instead of failing the run.
type RunFunc func(ctx context.Context, rt runtime.Runtime, experiments experiment.Experiments, sched scheduler.TrialScheduler, queueTrials bool) error

// Dispatcher initializes the runtime once per process and hands the
// experiments over to the runner.
type Dispatcher struct {
	Init   InitFunc
	Run    RunFunc
	Logger *slog.Logger

	mu      sync.Mutex
	state   State
	runtime runtime.Runtime
}

// New returns an uninitialized dispatcher that starts runtimes with InitRuntime.
func New(run RunFunc, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{Init: InitRuntime, Run: run, Logger: logger}
}

func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lo.Ternary(d.state == "", StateUninitialized, d.state)
}

// Runtime returns the initialized runtime, nil before initialization.
func (d *Dispatcher) Runtime() runtime.Runtime {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runtime
}

// Dispatch initializes the runtime and runs the experiments. An
// initialization failure is returned as is and leaves the dispatcher
// uninitialized; so is the runner's error.
func (d *Dispatcher) Dispatch(ctx context.Context, opts runtime.Options, experiments experiment.Experiments, sched scheduler.TrialScheduler, queueTrials bool) error {
	rt, err := d.initialize(ctx, opts)
	if err != nil {
		return err
	}
	return d.Run(ctx, rt, experiments, sched, queueTrials)
}

func (d *Dispatcher) initialize(ctx context.Context, opts runtime.Options) (runtime.Runtime, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateRunning {
		return nil, ErrAlreadyRunning
	}

	rt, err := d.Init(ctx, opts)
	if err != nil {
		return nil, err
	}

	d.state = StateRunning
	d.runtime = rt
	d.logger().Info("Runtime initialized", "runtime", rt.Name(), "mode", opts.Mode)
	return rt, nil
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return d.Logger
}

// InitRuntime starts the runtime selected by opts.Mode.
func InitRuntime(ctx context.Context, opts runtime.Options) (runtime.Runtime, error) {
	switch opts.Mode {
	case runtime.ModeCluster:
		return cluster.New(ctx, opts)
	case runtime.ModeLocal, "":
		return local.New(opts)
	default:
		return nil, fmt.Errorf("unknown runtime mode '%s'", opts.Mode)
	}
}
