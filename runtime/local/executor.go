package local

import (
	"fmt"
	"log/slog"

	"github.com/docker/docker/client"
	"github.com/gammadia/tune/runtime"
	"github.com/gammadia/tune/runtime/internal"
)

// NewExecutor creates an executor of the given kind. The returned closer
// releases the resources it holds.
func NewExecutor(kind, trainableDir string, logger *slog.Logger) (runtime.Executor, func() error, error) {
	switch kind {
	case "", runtime.ExecutorProcess:
		return internal.NewProcessExecutor(trainableDir, logger), func() error { return nil }, nil
	case runtime.ExecutorDocker:
		docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init docker client: %w", err)
		}
		return internal.NewDockerExecutor(docker, logger), docker.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown executor '%s'", kind)
	}
}
