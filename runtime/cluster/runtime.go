package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/gammadia/tune/runtime"
	"github.com/redis/go-redis/v9"
)

// Runtime dispatches trials to the workers of an existing cluster.
type Runtime struct {
	log      *slog.Logger
	client   *redis.Client
	executor *Executor
}

// Runtime implements runtime.Runtime
var _ runtime.Runtime = (*Runtime)(nil)

// New joins the cluster at the configured address.
func New(ctx context.Context, opts runtime.Options) (*Runtime, error) {
	client, err := Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, opts.Logger), nil
}

func NewWithClient(client *redis.Client, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger.Info("Joined cluster", "address", client.Options().Addr)

	return &Runtime{
		log:      logger,
		client:   client,
		executor: NewExecutor(client, logger),
	}
}

func (r *Runtime) Name() string {
	return "cluster"
}

// Capacity is the sum of the capacities of the registered workers.
func (r *Runtime) Capacity(ctx context.Context) (runtime.Capacity, error) {
	workers, err := Workers(ctx, r.client)
	if err != nil {
		return runtime.Capacity{}, err
	}

	var capacity runtime.Capacity
	for _, worker := range workers {
		capacity = capacity.Add(worker.Capacity)
	}
	return capacity, nil
}

func (r *Runtime) Executor() runtime.Executor {
	return r.executor
}

func (r *Runtime) Close() error {
	return r.client.Close()
}

// Workers lists the workers registered in the cluster.
func Workers(ctx context.Context, client *redis.Client) ([]WorkerInfo, error) {
	fields, err := client.HGetAll(ctx, WorkersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cluster workers: %w", err)
	}

	workers := make([]WorkerInfo, 0, len(fields))
	for name, value := range fields {
		var info WorkerInfo
		if err := json.Unmarshal([]byte(value), &info); err != nil {
			return nil, fmt.Errorf("invalid registration of worker '%s': %w", name, err)
		}
		workers = append(workers, info)
	}
	return workers, nil
}
