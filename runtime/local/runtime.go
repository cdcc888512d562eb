package local

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	goruntime "runtime"

	"github.com/gammadia/tune/runtime"
)

// Runtime runs trials on this machine.
type Runtime struct {
	log      *slog.Logger
	capacity runtime.Capacity
	executor runtime.Executor
	close    func() error
}

// Runtime implements runtime.Runtime
var _ runtime.Runtime = (*Runtime)(nil)

// New starts a local runtime. Resource caps left unset default to the
// number of CPUs of the machine and no GPU.
func New(opts runtime.Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	capacity := runtime.Capacity{CPU: goruntime.NumCPU(), GPU: 0}
	if opts.NumCPUs != nil {
		if *opts.NumCPUs < 0 {
			return nil, fmt.Errorf("num-cpus must not be negative")
		}
		capacity.CPU = *opts.NumCPUs
	}
	if opts.NumGPUs != nil {
		if *opts.NumGPUs < 0 {
			return nil, fmt.Errorf("num-gpus must not be negative")
		}
		capacity.GPU = *opts.NumGPUs
	}

	executor, closer, err := NewExecutor(opts.Executor, opts.TrainableDir, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Local runtime started", "capacity", capacity.String(), "executor", opts.Executor)
	return &Runtime{
		log:      logger,
		capacity: capacity,
		executor: executor,
		close:    closer,
	}, nil
}

func (r *Runtime) Name() string {
	return "local"
}

func (r *Runtime) Capacity(context.Context) (runtime.Capacity, error) {
	return r.capacity, nil
}

func (r *Runtime) Executor() runtime.Executor {
	return r.executor
}

func (r *Runtime) Close() error {
	return r.close()
}
