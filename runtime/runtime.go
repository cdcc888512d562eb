package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gammadia/tune/experiment"
	"github.com/gammadia/tune/trial"
)

type Mode string

const (
	// ModeLocal starts an in-process runtime on this machine.
	ModeLocal Mode = "local"
	// ModeCluster joins an already running cluster through its coordination endpoint.
	ModeCluster Mode = "cluster"
)

// DefaultClusterAddress is the well-known address of the cluster coordination service.
const DefaultClusterAddress = "localhost:6379"

// Executor kinds
const (
	ExecutorProcess = "process"
	ExecutorDocker  = "docker"
)

type Options struct {
	Logger *slog.Logger `json:"-"`
	Mode   Mode         `json:"mode"`
	// Coordination endpoint, cluster mode only
	ClusterAddress string `json:"cluster-address,omitempty"`
	// Reach the coordination endpoint through ssh (user@host), cluster mode only
	SSHTunnel string `json:"ssh-tunnel,omitempty"`
	// Resource caps, local mode only; nil means "use what the machine has"
	NumCPUs *int `json:"num-cpus,omitempty"`
	NumGPUs *int `json:"num-gpus,omitempty"`
	// How trainables are launched (process, docker)
	Executor string `json:"executor"`
	// Directory searched for trainable executables before PATH
	TrainableDir string `json:"trainable-dir,omitempty"`
}

// Capacity is an amount of CPUs and GPUs.
type Capacity struct {
	CPU int `json:"cpu"`
	GPU int `json:"gpu"`
}

// CapacityOf returns the capacity a resource request holds.
func CapacityOf(r experiment.Resources) Capacity {
	return Capacity{CPU: r.TotalCPU(), GPU: r.TotalGPU()}
}

// Fits reports whether other fits within c.
func (c Capacity) Fits(other Capacity) bool {
	return other.CPU <= c.CPU && other.GPU <= c.GPU
}

func (c Capacity) Add(other Capacity) Capacity {
	return Capacity{CPU: c.CPU + other.CPU, GPU: c.GPU + other.GPU}
}

func (c Capacity) Sub(other Capacity) Capacity {
	return Capacity{CPU: c.CPU - other.CPU, GPU: c.GPU - other.GPU}
}

func (c Capacity) String() string {
	return fmt.Sprintf("%d CPUs, %d GPUs", c.CPU, c.GPU)
}

// Executor launches trainables.
type Executor interface {
	// Execute runs the trial until the trainable exits or ctx is cancelled,
	// calling report for every result the trainable emits. Results are
	// reported from a single goroutine, in order.
	Execute(ctx context.Context, req trial.Request, report func(trial.Result)) error
}

// Runtime is an initialized execution context.
type Runtime interface {
	Name() string
	// Capacity returns the total resources trials can use.
	Capacity(ctx context.Context) (Capacity, error)
	Executor() Executor
	Close() error
}

// ExitError is returned when a trainable exits with a non-zero status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("trainable exited with status %d", e.Code)
}
