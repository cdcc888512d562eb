package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/gammadia/tune/runtime"
	"github.com/gammadia/tune/runtime/internal"
	"github.com/gammadia/tune/trial"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultSlots               = 1
	DefaultCancelCheckInterval = 2 * time.Second
)

type WorkerConfig struct {
	Logger *slog.Logger
	// Name under which the worker registers, must be unique in the cluster
	Name string
	// Maximum number of trials run at the same time
	Slots    int
	Capacity runtime.Capacity
	Executor runtime.Executor
	// When set, trial directories are relocated under this directory
	LocalDir string
	// How often running trials check whether they were cancelled
	CancelCheckInterval time.Duration
}

// Worker runs the trials queued on the cluster.
type Worker struct {
	log    *slog.Logger
	client *redis.Client
	config WorkerConfig
}

func NewWorker(client *redis.Client, config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Executor == nil {
		return nil, fmt.Errorf("worker executor is required")
	}
	if config.Slots <= 0 {
		config.Slots = DefaultSlots
	}
	if config.CancelCheckInterval <= 0 {
		config.CancelCheckInterval = DefaultCancelCheckInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Worker{
		log:    logger.With("worker", config.Name),
		client: client,
		config: config,
	}, nil
}

// Run registers the worker and executes trials until ctx is cancelled. Trials
// still running at that point are stopped before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.register(ctx); err != nil {
		return err
	}
	defer w.deregister()

	w.log.Info("Worker ready", "capacity", w.config.Capacity.String(), "slots", w.config.Slots)

	slots := make(chan struct{}, w.config.Slots)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		req, err := w.next(ctx)
		if err != nil || req == nil {
			<-slots
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				w.log.Error("Failed to fetch next trial", "error", err)
				time.Sleep(pollTimeout)
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			w.runTrial(ctx, *req)
		}()
	}
}

func (w *Worker) register(ctx context.Context) error {
	info, err := json.Marshal(WorkerInfo{
		Name:     w.config.Name,
		Capacity: w.config.Capacity,
		Slots:    w.config.Slots,
		Started:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode worker registration: %w", err)
	}
	if err := w.client.HSet(ctx, WorkersKey, w.config.Name, info).Err(); err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}
	return nil
}

func (w *Worker) deregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.client.HDel(ctx, WorkersKey, w.config.Name).Err(); err != nil {
		w.log.Error("Failed to deregister worker", "error", err)
	}
}

// next pops the next queued trial, nil if none arrived within the poll timeout.
func (w *Worker) next(ctx context.Context) (*trial.Request, error) {
	values, err := w.client.BLPop(ctx, pollTimeout, TrialsKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var req trial.Request
	if err := json.Unmarshal([]byte(values[1]), &req); err != nil {
		return nil, fmt.Errorf("invalid trial request: %w", err)
	}
	if w.config.LocalDir != "" {
		req.Dir = filepath.Join(w.config.LocalDir, req.Experiment, filepath.Base(req.Dir))
	}
	return &req, nil
}

func (w *Worker) runTrial(ctx context.Context, req trial.Request) {
	log := w.log.With("trial", req.Name)
	// Messages must be delivered even while the worker shuts down.
	sendCtx := context.WithoutCancel(ctx)

	if cancelled, _ := w.cancelled(ctx, req.ID); cancelled {
		log.Debug("Trial cancelled before it started")
		w.send(sendCtx, req, Message{Done: true})
		return
	}

	trialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.watchCancel(trialCtx, cancel, req.ID)

	log.Info("Trial started")
	err := w.config.Executor.Execute(trialCtx, req, func(result trial.Result) {
		w.send(sendCtx, req, Message{Result: result})
	})

	done := Message{Done: true}
	var exitErr *runtime.ExitError
	switch {
	case errors.As(err, &exitErr):
		done.ExitCode = exitErr.Code
	case ctx.Err() != nil:
		done.Error = "worker is shutting down"
	case err != nil && trialCtx.Err() == nil:
		done.Error = err.Error()
	}
	log.Info("Trial ended", "error", err)
	w.send(sendCtx, req, done)
}

func (w *Worker) watchCancel(ctx context.Context, cancel context.CancelFunc, trialID string) {
	ticker := time.NewTicker(w.config.CancelCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cancelled, err := w.cancelled(ctx, trialID); err == nil && cancelled {
				cancel()
				return
			}
		}
	}
}

func (w *Worker) cancelled(ctx context.Context, trialID string) (bool, error) {
	n, err := w.client.Exists(ctx, CancelKey(trialID)).Result()
	return n > 0, err
}

func (w *Worker) send(ctx context.Context, req trial.Request, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		w.log.Error("Failed to encode message", "trial", req.Name, "error", err)
		return
	}

	key := ResultsKey(req.ID)
	if err := internal.Retry(ctx, 3, func() error {
		_, err := w.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, payload)
			pipe.Expire(ctx, key, keyTTL)
			return nil
		})
		return err
	}); err != nil {
		w.log.Error("Failed to send message", "trial", req.Name, "error", err)
	}
}
