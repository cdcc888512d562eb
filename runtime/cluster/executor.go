package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gammadia/tune/runtime"
	"github.com/gammadia/tune/runtime/internal"
	"github.com/gammadia/tune/trial"
	"github.com/redis/go-redis/v9"
)

const pollTimeout = time.Second

// Executor queues trials for the cluster workers and relays their results.
type Executor struct {
	log    *slog.Logger
	client *redis.Client
}

// Executor implements runtime.Executor
var _ runtime.Executor = (*Executor)(nil)

func NewExecutor(client *redis.Client, logger *slog.Logger) *Executor {
	return &Executor{log: logger, client: client}
}

func (e *Executor) Execute(ctx context.Context, req trial.Request, report func(trial.Result)) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode trial request: %w", err)
	}

	resultsKey := ResultsKey(req.ID)
	if err := e.client.Del(ctx, resultsKey, CancelKey(req.ID)).Err(); err != nil {
		return fmt.Errorf("failed to reset trial keys: %w", err)
	}
	if err := internal.Retry(ctx, 3, func() error {
		return e.client.RPush(ctx, TrialsKey, payload).Err()
	}); err != nil {
		return fmt.Errorf("failed to queue trial: %w", err)
	}
	e.log.Debug("Trial queued on cluster", "trial", req.Name)

	for {
		if ctx.Err() != nil {
			e.cancel(req)
			return ctx.Err()
		}

		values, err := e.client.BLPop(ctx, pollTimeout, resultsKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return fmt.Errorf("failed to read trial results: %w", err)
		}

		var msg Message
		if err := json.Unmarshal([]byte(values[1]), &msg); err != nil {
			return fmt.Errorf("invalid message from worker: %w", err)
		}

		if msg.Result != nil {
			report(msg.Result)
		}
		if msg.Done {
			e.client.Del(context.WithoutCancel(ctx), resultsKey)
			switch {
			case msg.ExitCode != 0:
				return &runtime.ExitError{Code: msg.ExitCode}
			case msg.Error != "":
				return errors.New(msg.Error)
			default:
				return nil
			}
		}
	}
}

// cancel asks the worker running req to stop it.
func (e *Executor) cancel(req trial.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.client.Set(ctx, CancelKey(req.ID), "1", keyTTL).Err(); err != nil {
		e.log.Error("Failed to cancel trial on cluster", "trial", req.Name, "error", err)
	}
}
